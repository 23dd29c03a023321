// Package synchronize refreshes the stored payload of every enabled
// configuration row from the live state of its resources.
package synchronize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

// RowStore reads and writes configuration rows.
type RowStore interface {
	ListConfigurationRows(ctx context.Context, componentID, configID string) ([]storageapi.ConfigurationRow, error)
	UpdateConfigurationRow(ctx context.Context, componentID, configID, rowID string, upd storageapi.RowUpdate) (*storageapi.ConfigurationRow, error)
}

var _ RowStore = (*storageapi.Client)(nil)

// SnapshotReader produces the replay payload for a row.
type SnapshotReader interface {
	Read(ctx context.Context, action domain.Action, resourceID string, values []string) (json.RawMessage, error)
}

const changeDescription = "Synchronize resources"

// Summary counts what one run did.
type Summary struct {
	Updated  int
	Disabled int
}

// Orchestrator walks the rows of one component configuration.
type Orchestrator struct {
	rows        RowStore
	reader      SnapshotReader
	componentID string
	logger      zerolog.Logger
}

// New creates an Orchestrator for rows owned by componentID.
func New(rows RowStore, reader SnapshotReader, componentID string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		rows:        rows,
		reader:      reader,
		componentID: componentID,
		logger:      logger.With().Str("component", "synchronize").Logger(),
	}
}

// Run refreshes rawResourceJson of every enabled row of configID, in list
// order. The first failing row aborts the run; rows already written stay
// written.
func (o *Orchestrator) Run(ctx context.Context, configID string) (Summary, error) {
	var sum Summary

	rows, err := o.rows.ListConfigurationRows(ctx, o.componentID, configID)
	if err != nil {
		return sum, domain.WrapUser(err, "Failed listing config rows of configuration %s with error message: %s.", configID, messageOf(err))
	}

	for _, row := range rows {
		logger := o.logger.With().Str("row_id", row.ID).Str("row_name", row.Name).Logger()
		if row.IsDisabled {
			sum.Disabled++
			logger.Debug().Msg("row disabled, skipping")
			continue
		}

		if err := o.syncRow(ctx, configID, row, logger); err != nil {
			logger.Error().Err(err).Msg("row synchronization failed")
			return sum, domain.WrapUser(err, "Failed synchronizing config row %q (%s) with error message: %s.", row.Name, row.ID, messageOf(err))
		}
		sum.Updated++
		logger.Info().Msg("row synchronized")
	}
	return sum, nil
}

func (o *Orchestrator) syncRow(ctx context.Context, configID string, row storageapi.ConfigurationRow, logger zerolog.Logger) error {
	config, err := decodeObject(row.Configuration)
	if err != nil {
		return fmt.Errorf("configuration is not an object: %w", err)
	}
	params, err := decodeObject(config["parameters"])
	if err != nil {
		return fmt.Errorf("parameters are not an object: %w", err)
	}

	var p domain.Parameters
	if raw, ok := config["parameters"]; ok {
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("read parameters: %w", err)
		}
	}
	// A row whose action is not recognized has nothing to snapshot; it is
	// reset to an empty payload like any action without shaping.
	var payload json.RawMessage
	if action, err := domain.ParseAction(p.Action); err != nil {
		logger.Warn().Err(err).Msg("clearing payload")
	} else if payload, err = o.reader.Read(ctx, action, p.ResourceID, p.Values); err != nil {
		return err
	}
	if payload == nil {
		payload = json.RawMessage(`[]`)
	}
	params["rawResourceJson"] = payload

	if config["parameters"], err = json.Marshal(params); err != nil {
		return err
	}
	body, err := json.Marshal(config)
	if err != nil {
		return err
	}

	_, err = o.rows.UpdateConfigurationRow(ctx, o.componentID, configID, row.ID, storageapi.RowUpdate{
		Configuration:     body,
		ChangeDescription: changeDescription,
	})
	return err
}

// decodeObject reads a JSON object keeping unknown keys verbatim. Missing
// or null input yields an empty object.
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(raw) == 0 || string(raw) == "null" {
		return obj, nil
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj, nil
}

// messageOf extracts the human message of an error for row reports.
func messageOf(err error) string {
	var apiErr *storageapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var userErr *domain.UserError
	if errors.As(err, &userErr) {
		return userErr.Message
	}
	return err.Error()
}
