// Package cli implements the merge-branch-storage command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"merge-branch-storage/internal/config"
	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

var (
	version = "dev"
	commit  = "none"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitUser     = 1
	ExitInternal = 2
)

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the in-flight request.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps an error to the process exit status: user errors are 1,
// anything else is an internal failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case domain.IsUserError(err):
		return ExitUser
	default:
		return ExitInternal
	}
}

// userFacing reports Storage API failures as user errors so the backend
// message reaches the operator with exit status 1.
func userFacing(err error) error {
	var apiErr *storageapi.Error
	if err != nil && !domain.IsUserError(err) && errors.As(err, &apiErr) {
		return domain.WrapUser(err, "%s", err.Error())
	}
	return err
}

// globals are the resolved persistent flags.
type globals struct {
	dataDir     string
	url         string
	token       string
	branchID    string
	profile     string
	logLevel    string
	logFormat   string
	output      string
	metricsFile string
	failFast    bool
	dryRun      bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "merge-branch-storage",
		Short: "Replay development branch storage changes",
		Long: "Replays bucket, table, column, primary key and column metadata changes recorded in " +
			"configuration rows against the Storage API, or refreshes those rows from live resources.\n\n" +
			"Without a subcommand the mode is taken from the root \"action\" key of <data-dir>/config.json.",
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.runMode(cmd, config.Overrides{})
		},
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return domain.WrapUser(err, "%v", err)
	})
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.dataDir, "data-dir", "/data", "Component data directory holding config.json")
	pf.StringVar(&g.url, "url", "", "Storage API URL")
	pf.StringVar(&g.token, "token", "", "Storage API token")
	pf.StringVar(&g.branchID, "branch-id", "", "Development branch to scope requests to")
	pf.StringVarP(&g.profile, "profile", "p", "", "Config profile to use")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "auto", "Log format (auto, json, console)")
	pf.StringVarP(&g.output, "output", "o", "json", "Output format (table, json)")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "Write run metrics to this Prometheus textfile")
	pf.BoolVar(&g.failFast, "fail-fast", false, "Abort on the first failing item instead of skipping conflicts")
	pf.BoolVar(&g.dryRun, "dry-run", false, "Decode and validate the configuration without applying it")

	rootCmd.AddCommand(newRunCmd(g))
	rootCmd.AddCommand(newSynchronizeCmd(g))
	rootCmd.AddCommand(newResourcesCmd(g))
	rootCmd.AddCommand(newConfigCmd(g))
	rootCmd.AddCommand(newVersionCmd(g))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve applies precedence flag > env > profile > default to the
// connection and logging settings.
func (g *globals) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return domain.WrapUser(err, "Cannot read .env: %v", err)
	}

	cfg, err := LoadUserConfig()
	if err != nil {
		// Config file is optional
		cfg = emptyUserConfig()
	}
	p, err := cfg.ActiveProfile(g.profile)
	if err != nil {
		return domain.WrapUser(err, "%v", err)
	}

	settings := []struct {
		flag, env, profile string
		target             *string
	}{
		{"data-dir", "KBC_DATADIR", p.DataDir, &g.dataDir},
		{"url", "KBC_URL", p.URL, &g.url},
		{"token", "KBC_TOKEN", p.Token, &g.token},
		{"branch-id", "KBC_BRANCHID", p.BranchID, &g.branchID},
		{"log-level", "LOG_LEVEL", p.LogLevel, &g.logLevel},
		{"log-format", "LOG_FORMAT", p.LogFormat, &g.logFormat},
	}
	for _, s := range settings {
		if cmd.Flags().Changed(s.flag) {
			continue
		}
		if v := os.Getenv(s.env); v != "" {
			*s.target = v
		} else if s.profile != "" {
			*s.target = s.profile
		}
	}

	return validateOutputFormat(g.output)
}

// normalizeFlagName accepts underscores in flag names (--data_dir).
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return domain.WrapUser(err, "%v", err)
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return domain.WrapUser(err, "%v", err)
		}
		return nil
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return domain.ErrUser("unsupported shell: %s", args[0])
			}
		},
	}
}
