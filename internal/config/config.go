// Package config handles YAML configuration loading, environment variable
// expansion, and validation for parley.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/notify"
	"github.com/parleyhq/parley/internal/sweep"
	"github.com/parleyhq/parley/internal/trigger"
)

// Config is the top-level configuration structure.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// StorePath is the SQLite snapshot database path.
	StorePath string `yaml:"store_path"`

	Gateway gateway.Config       `yaml:"gateway"`
	LLM     llm.Config           `yaml:"llm"`
	Notify  notify.WebhookConfig `yaml:"notify"`
	Sweep   sweep.Config         `yaml:"sweep"`

	// Triggers is the raw trigger-engine block; it is parsed separately
	// because malformed trigger config falls back to safe defaults rather
	// than failing startup.
	Triggers yaml.Node `yaml:"triggers"`

	Validation ValidationConfig `yaml:"validation"`

	// OTLPEndpoint enables trace export when set (host:port of an OTLP
	// HTTP collector).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// ValidationConfig tunes the validation gate.
type ValidationConfig struct {
	MinLength        int      `yaml:"min_length"`
	ForbiddenPhrases []string `yaml:"forbidden_phrases"`
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// and parses it into a Config struct.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StorePath == "" {
		c.StorePath = "parley.db"
	}
}

// TriggerConfig resolves the trigger block with its safe-default fallback:
// an absent or malformed block yields all rules enabled with default
// thresholds instead of a startup failure.
func (c *Config) TriggerConfig(logger *slog.Logger) trigger.Config {
	if c.Triggers.IsZero() {
		return trigger.DefaultConfig()
	}
	raw, err := yaml.Marshal(&c.Triggers)
	if err != nil {
		logger.Warn("trigger config block unreadable, using defaults", "error", err)
		return trigger.DefaultConfig()
	}
	return trigger.ParseConfig(raw, logger)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil
		defaultVal := ""
		if hasDefault {
			defaultVal = string(subs[2])
		}

		value, ok := os.LookupEnv(name)
		if ok {
			return []byte(value)
		}
		if hasDefault {
			return []byte(defaultVal)
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
