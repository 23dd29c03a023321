// Package config loads the component configuration from the data directory
// and the KBC_* environment.
package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"merge-branch-storage/internal/domain"
)

// Modes selected by the root "action" key of config.json.
const (
	ModeRun         = "run"
	ModeSynchronize = "synchronize_resources"
)

// DefaultComponentID owns the configuration rows this connector reads and disables.
const DefaultComponentID = "keboola.app-merge-branch-storage"

// FileName is the configuration document inside the data directory.
const FileName = "config.json"

// document is the part of config.json the connector reads.
type document struct {
	Action     string          `json:"action"`
	ConfigID   string          `json:"configId"`
	Parameters json.RawMessage `json:"parameters"`
}

// Config is the resolved configuration of one invocation.
type Config struct {
	DataDir     string `validate:"required"`
	Mode        string `validate:"oneof=run synchronize_resources"`
	ComponentID string `validate:"required"`
	ConfigID    string `validate:"required_if=Mode synchronize_resources"`
	ConfigRowID string
	RunID       string `validate:"required"`

	// Parameters holds the row parameters; only meaningful in run mode.
	Parameters domain.Parameters
}

// Overrides replace values read from the file and environment, typically
// from CLI flags. Empty fields are ignored.
type Overrides struct {
	Mode     string
	ConfigID string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads <dataDir>/config.json, merges KBC_CONFIGID, KBC_CONFIGROWID,
// KBC_RUNID and KBC_COMPONENTID, applies overrides and validates the result.
// Every failure is a *domain.UserError.
func Load(dataDir string, ov Overrides) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapUser(err, "Configuration file %s not found.", path)
		}
		return nil, domain.WrapUser(err, "Cannot read configuration file %s: %v", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapUser(err, "Configuration file %s is not valid JSON: %v", path, err)
	}

	cfg := &Config{
		DataDir:     dataDir,
		Mode:        doc.Action,
		ComponentID: os.Getenv("KBC_COMPONENTID"),
		ConfigID:    doc.ConfigID,
		ConfigRowID: os.Getenv("KBC_CONFIGROWID"),
		RunID:       os.Getenv("KBC_RUNID"),
	}
	if len(doc.Parameters) > 0 && string(doc.Parameters) != "null" {
		if err := json.Unmarshal(doc.Parameters, &cfg.Parameters); err != nil {
			return nil, domain.WrapUser(err, "Configuration parameters are malformed: %v", err)
		}
	}

	// configId in the file wins over the environment.
	if cfg.ConfigID == "" {
		cfg.ConfigID = os.Getenv("KBC_CONFIGID")
	}
	if ov.Mode != "" {
		cfg.Mode = ov.Mode
	}
	if ov.ConfigID != "" {
		cfg.ConfigID = ov.ConfigID
	}

	// Defaults
	if cfg.Mode == "" {
		cfg.Mode = ModeRun
	}
	if cfg.ComponentID == "" {
		cfg.ComponentID = DefaultComponentID
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is complete for its mode.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.WrapUser(err, "Invalid configuration: %s", describe(verrs))
		}
		return domain.WrapUser(err, "Invalid configuration: %v", err)
	}
	if c.Mode == ModeRun && strings.TrimSpace(c.Parameters.Action) == "" {
		return domain.ErrUser("Invalid configuration: parameters.action is required.")
	}
	return nil
}

// CanDisableRow reports whether the originating row is known.
func (c *Config) CanDisableRow() bool {
	return c.ConfigID != "" && c.ConfigRowID != ""
}

var fieldNames = map[string]string{
	"DataDir":     "data dir",
	"Mode":        "action",
	"ComponentID": "KBC_COMPONENTID",
	"ConfigID":    "configId (or KBC_CONFIGID)",
	"RunID":       "KBC_RUNID",
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fieldNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Tag() {
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value()))
		default:
			parts = append(parts, fmt.Sprintf("%s is required", name))
		}
	}
	return strings.Join(parts, "; ")
}

// LoadDotEnv reads KEY=VALUE lines from path and sets variables not already
// present in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(key), "export "))
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
