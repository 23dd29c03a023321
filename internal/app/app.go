// Package app wires configuration, the Storage API client and the domain
// components into the two invocation modes: run and synchronize.
package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"merge-branch-storage/internal/config"
	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/executor"
	"merge-branch-storage/internal/snapshot"
	"merge-branch-storage/internal/storageapi"
	"merge-branch-storage/internal/synchronize"
	"merge-branch-storage/internal/telemetry"
)

// Storage is everything the app needs from the Storage API.
type Storage interface {
	executor.StorageClient
	snapshot.StorageReader
	synchronize.RowStore
}

// Compile-time checks.
var (
	_ Storage                    = (*storageapi.Client)(nil)
	_ executor.Recorder          = (*telemetry.Metrics)(nil)
	_ storageapi.RequestObserver = (*telemetry.Metrics)(nil)
)

const disableDescription = "Disabled after merge"

// Deps holds what main must provide.
type Deps struct {
	Storage Storage
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics // optional
}

// RunOptions tunes a run.
type RunOptions struct {
	FailFast bool
	DryRun   bool
}

// App executes one invocation.
type App struct {
	storage Storage
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates an App.
func New(deps Deps) *App {
	return &App{storage: deps.Storage, logger: deps.Logger, metrics: deps.Metrics}
}

// Run decodes the row parameters, replays them and disables the originating
// row. Parameter problems are reported before any API call. Backend
// failures come back as *domain.UserError carrying the backend message.
func (a *App) Run(ctx context.Context, cfg *config.Config, opts RunOptions) (executor.Report, error) {
	logger := a.logger.With().Str("run_id", cfg.RunID).Logger()

	op, err := domain.Decode(cfg.Parameters)
	if err != nil {
		return executor.Report{}, err
	}

	if opts.DryRun {
		logger.Info().
			Str("action", string(op.Action())).
			Interface("operation", op).
			Msg("dry run, nothing applied")
		return executor.Report{Action: op.Action()}, nil
	}

	policy := executor.TolerateItem
	if opts.FailFast {
		policy = executor.FailFast
	}
	logger.Info().Str("action", string(op.Action())).Str("policy", policy.String()).Msg("applying")

	var rec executor.Recorder
	if a.metrics != nil {
		rec = a.metrics
	}
	report, err := executor.New(a.storage, cfg.DataDir, logger, rec).Apply(ctx, op, policy)
	if err != nil {
		return report, asUserError(err)
	}

	if !cfg.CanDisableRow() {
		logger.Warn().Msg("configuration row unknown, leaving it enabled")
		return report, nil
	}
	if err := a.disableRow(ctx, cfg, logger); err != nil {
		return report, asUserError(err)
	}
	return report, nil
}

func (a *App) disableRow(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("row_id", cfg.ConfigRowID).Msg("disabling configuration row")
	disabled := true
	_, err := a.storage.UpdateConfigurationRow(ctx, cfg.ComponentID, cfg.ConfigID, cfg.ConfigRowID, storageapi.RowUpdate{
		IsDisabled:        &disabled,
		ChangeDescription: disableDescription,
	})
	if err != nil {
		return err
	}
	logger.Info().Str("row_id", cfg.ConfigRowID).Msg("configuration row disabled")
	return nil
}

// Synchronize refreshes the payload of every enabled row of the configuration.
func (a *App) Synchronize(ctx context.Context, cfg *config.Config) (synchronize.Summary, error) {
	logger := a.logger.With().Str("run_id", cfg.RunID).Logger()
	reader := snapshot.NewReader(a.storage, logger)
	sum, err := synchronize.New(a.storage, reader, cfg.ComponentID, logger).Run(ctx, cfg.ConfigID)
	if err != nil {
		return sum, err
	}
	logger.Info().Int("updated", sum.Updated).Int("disabled", sum.Disabled).Msg("synchronized")
	return sum, nil
}

// asUserError turns Storage API failures into user errors, keeping the
// chain intact for errors.As.
func asUserError(err error) error {
	if domain.IsUserError(err) {
		return err
	}
	var apiErr *storageapi.Error
	if errors.As(err, &apiErr) {
		return domain.WrapUser(err, "%s", err.Error())
	}
	return err
}
