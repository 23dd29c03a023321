package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"merge-branch-storage/internal/domain"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigSetProfileCmd(g))
	cmd.AddCommand(newConfigUseProfileCmd(g))

	return cmd
}

func newConfigShowCmd(g *globals) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return domain.WrapUser(err, "No configuration found at %s", ConfigPath())
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show sensitive values unmasked")

	return cmd
}

// maskConfig returns a copy of the config with tokens masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		p.Token = maskSecret(p.Token)
		masked.Profiles[name] = p
	}
	return masked
}

// maskSecret masks a sensitive string, showing first 4 and last 4 chars.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newConfigSetProfileCmd(g *globals) *cobra.Command {
	var (
		name string
		p    Profile
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return domain.ErrUser("--name is required")
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = emptyUserConfig()
			}

			cur := cfg.Profiles[name]
			set := func(flag, v string, target *string) {
				if cmd.Flags().Changed(flag) {
					*target = v
				}
			}
			set("url", p.URL, &cur.URL)
			set("token", p.Token, &cur.Token)
			set("branch-id", p.BranchID, &cur.BranchID)
			set("data-dir", p.DataDir, &cur.DataDir)
			set("log-level", p.LogLevel, &cur.LogLevel)
			set("log-format", p.LogFormat, &cur.LogFormat)
			cfg.Profiles[name] = cur

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&p.URL, "url", "", "Storage API URL")
	cmd.Flags().StringVar(&p.Token, "token", "", "Storage API token")
	cmd.Flags().StringVar(&p.BranchID, "branch-id", "", "Development branch id")
	cmd.Flags().StringVar(&p.DataDir, "data-dir", "", "Component data directory")
	cmd.Flags().StringVar(&p.LogLevel, "log-level", "", "Default log level")
	cmd.Flags().StringVar(&p.LogFormat, "log-format", "", "Default log format")

	return cmd
}

func newConfigUseProfileCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return domain.WrapUser(err, "no config found: %v", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return domain.ErrUser("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Active profile set to %q\n", name)
			return nil
		},
	}
}
