package cli

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"merge-branch-storage/internal/app"
	"merge-branch-storage/internal/config"
	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/executor"
	"merge-branch-storage/internal/storageapi"
	"merge-branch-storage/internal/telemetry"
)

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Replay the configuration row against storage and disable the row",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.runMode(cmd, config.Overrides{Mode: config.ModeRun})
		},
	}
}

func newSynchronizeCmd(g *globals) *cobra.Command {
	var configID string

	cmd := &cobra.Command{
		Use:   "synchronize",
		Short: "Refresh the payload of every enabled row from live resources",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.runMode(cmd, config.Overrides{Mode: config.ModeSynchronize, ConfigID: configID})
		},
	}
	cmd.Flags().StringVar(&configID, "config-id", "", "Configuration whose rows are synchronized (defaults to configId or KBC_CONFIGID)")
	return cmd
}

// session bundles what one invocation talks to the Storage API with.
type session struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	client  *storageapi.Client
}

// open builds the logger, optional metrics and the Storage API client.
func (g *globals) open(cmd *cobra.Command, runID string) (*session, error) {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  g.logLevel,
		Format: g.logFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, domain.WrapUser(err, "%v", err)
	}
	if g.url == "" {
		return nil, domain.ErrUser("Storage API URL is not set (--url or KBC_URL).")
	}
	if g.token == "" {
		return nil, domain.ErrUser("Storage API token is not set (--token or KBC_TOKEN).")
	}

	s := &session{logger: logger}
	opts := storageapi.DefaultOptions()
	opts.BranchID = g.branchID
	opts.RunID = runID
	opts.Logger = &s.logger
	if g.metricsFile != "" {
		s.metrics = telemetry.NewMetrics()
		opts.Observer = s.metrics
	}
	s.client = storageapi.NewClient(g.url, g.token, opts)
	if branch := s.client.BranchID(); branch != "" {
		s.logger = s.logger.With().Str("branch_id", branch).Logger()
	}
	return s, nil
}

// finish records the run outcome and flushes metrics when enabled.
func (s *session) finish(mode string, err error, elapsed time.Duration, metricsFile string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RunFinished(mode, err, elapsed)
	if werr := s.metrics.WriteTextfile(metricsFile); werr != nil {
		s.logger.Warn().Err(werr).Str("path", metricsFile).Msg("writing metrics failed")
	}
}

// runMode loads config.json and executes the selected mode.
func (g *globals) runMode(cmd *cobra.Command, ov config.Overrides) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(g.dataDir, ov)
	if err != nil {
		if ov.Mode == config.ModeSynchronize {
			_ = writeStatus(out, err)
		}
		return err
	}

	s, err := g.open(cmd, cfg.RunID)
	if err != nil {
		if cfg.Mode == config.ModeSynchronize {
			_ = writeStatus(out, err)
		}
		return err
	}

	a := app.New(app.Deps{Storage: s.client, Logger: s.logger, Metrics: s.metrics})
	start := time.Now()

	switch cfg.Mode {
	case config.ModeSynchronize:
		_, err = a.Synchronize(cmd.Context(), cfg)
		if werr := writeStatus(out, err); werr != nil && err == nil {
			err = werr
		}
	default:
		var report executor.Report
		report, err = a.Run(cmd.Context(), cfg, app.RunOptions{FailFast: g.failFast, DryRun: g.dryRun})
		if err == nil {
			s.logger.Info().
				Str("action", string(report.Action)).
				Int("applied", report.Applied).
				Int("skipped", report.Skipped).
				Msg("run finished")
		}
	}

	s.finish(cfg.Mode, err, time.Since(start), g.metricsFile)
	return err
}

// syncStatus is the payload synchronize mode prints on stdout.
type syncStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeStatus(w io.Writer, err error) error {
	if err != nil {
		return printJSON(w, syncStatus{Status: "error", Message: err.Error()})
	}
	return printJSON(w, syncStatus{Status: "success", Message: "Synchronized"})
}
