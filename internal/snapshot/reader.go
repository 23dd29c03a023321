// Package snapshot reads the current state of storage resources and shapes
// it into the rawResourceJson payload a configuration row replays.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

// StorageReader is the read-only part of the Storage API used for snapshots.
type StorageReader interface {
	GetBucket(ctx context.Context, id string) (*storageapi.Bucket, error)
	GetTable(ctx context.Context, id string) (*storageapi.Table, error)
}

var _ StorageReader = (*storageapi.Client)(nil)

var (
	bucketKeys = []string{"id", "name", "stage", "displayName", "description", "backend"}
	tableKeys  = []string{
		"isTyped", "name", "definition", "distributionType", "distributionKey", "indexType", "indexKey",
		"bucket", "primaryKey", "transactional", "columns", "syntheticPrimaryKeyEnabled", "columnMetadata",
	}
)

// Reader builds replay payloads from live resources.
type Reader struct {
	client StorageReader
	logger zerolog.Logger
}

// NewReader creates a Reader.
func NewReader(client StorageReader, logger zerolog.Logger) *Reader {
	return &Reader{client: client, logger: logger.With().Str("component", "snapshot").Logger()}
}

// Read returns the payload for action. A nil result means the action has
// no snapshot shaping and the row payload should be left empty.
func (r *Reader) Read(ctx context.Context, action domain.Action, resourceID string, values []string) (json.RawMessage, error) {
	r.logger.Debug().
		Str("action", string(action)).
		Str("resource_id", resourceID).
		Strs("values", values).
		Msg("reading snapshot")

	switch action {
	case domain.ActionAddBucket:
		return r.buckets(ctx, values)
	case domain.ActionAddTable:
		return r.tables(ctx, values)
	case domain.ActionAddColumn:
		if resourceID == "" {
			return nil, domain.ErrUser("Missing resourceId.")
		}
		return r.columns(ctx, resourceID, values)
	default:
		return nil, nil
	}
}

func (r *Reader) buckets(ctx context.Context, ids []string) (json.RawMessage, error) {
	out := make([]map[string]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		b, err := r.client.GetBucket(ctx, id)
		if err != nil {
			return nil, err
		}
		obj, err := project(b.Raw, bucketKeys)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", id, err)
		}
		out = append(out, obj)
	}
	return json.Marshal(out)
}

func (r *Reader) tables(ctx context.Context, ids []string) (json.RawMessage, error) {
	out := make([]map[string]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		t, err := r.client.GetTable(ctx, id)
		if err != nil {
			return nil, err
		}
		obj, err := project(t.Raw, tableKeys)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", id, err)
		}
		if _, ok := obj["bucket"]; ok {
			ref, err := json.Marshal(domain.BucketRef{ID: t.Bucket.ID})
			if err != nil {
				return nil, err
			}
			obj["bucket"] = ref
		}
		out = append(out, obj)
	}
	return json.Marshal(out)
}

// columns returns the requested names as-is for untyped tables, and the
// matching typed column definitions in schema order for typed tables.
func (r *Reader) columns(ctx context.Context, tableID string, names []string) (json.RawMessage, error) {
	t, err := r.client.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !t.IsTyped {
		if names == nil {
			names = []string{}
		}
		return json.Marshal(names)
	}

	var schema struct {
		Definition struct {
			Columns []json.RawMessage `json:"columns"`
		} `json:"definition"`
	}
	if err := json.Unmarshal(t.Raw, &schema); err != nil {
		return nil, fmt.Errorf("table %s: parse definition: %w", tableID, err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]json.RawMessage, 0, len(names))
	for _, col := range schema.Definition.Columns {
		var head struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(col, &head); err != nil {
			return nil, fmt.Errorf("table %s: parse column: %w", tableID, err)
		}
		if wanted[head.Name] {
			out = append(out, col)
		}
	}
	return json.Marshal(out)
}

// project keeps only keys of a raw object. Keys missing from raw stay missing.
func project(raw json.RawMessage, keys []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	obj := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			obj[k] = v
		}
	}
	return obj, nil
}
