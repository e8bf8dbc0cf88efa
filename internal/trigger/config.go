package trigger

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/money"
)

// Defaults applied when configuration is absent or malformed. Missing
// configuration must never stop the engine from guarding: the fallback is
// all rules enabled with the default thresholds.
const (
	DefaultPriceThreshold      = "30"
	DefaultConfidenceThreshold = 0.70
)

// RuleConfig toggles one trigger rule.
type RuleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PriceRuleConfig toggles the price rule and carries its threshold as a
// decimal string so it parses through money.Parse, never through a float.
type PriceRuleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Threshold string `yaml:"threshold"`
}

// Config is the five-rule trigger configuration.
type Config struct {
	ConfidenceThreshold float64         `yaml:"confidence_threshold"`
	PriceOverThreshold  PriceRuleConfig `yaml:"price_over_threshold"`
	AmbiguousIntent     RuleConfig      `yaml:"ambiguous_intent"`
	HostileTone         RuleConfig      `yaml:"hostile_tone"`
	LegalLanguage       RuleConfig      `yaml:"legal_language"`
	UnusualRequest      RuleConfig      `yaml:"unusual_request"`
}

// DefaultConfig returns the safe fallback: every rule enabled, default
// thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		PriceOverThreshold:  PriceRuleConfig{Enabled: true, Threshold: DefaultPriceThreshold},
		AmbiguousIntent:     RuleConfig{Enabled: true},
		HostileTone:         RuleConfig{Enabled: true},
		LegalLanguage:       RuleConfig{Enabled: true},
		UnusualRequest:      RuleConfig{Enabled: true},
	}
}

// LoadConfig reads trigger configuration from a YAML file. Any failure —
// missing file, bad YAML, unparseable threshold — logs a warning and falls
// back to DefaultConfig rather than failing startup.
func LoadConfig(path string, logger *slog.Logger) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("trigger config unreadable, using defaults", "path", path, "error", err)
		return DefaultConfig()
	}
	return ParseConfig(raw, logger)
}

// Wire mirrors of the rule blocks with presence-aware enables. An omitted
// rule block, or an omitted enabled key, means enabled: a partial file must
// never silently turn a guard off. Only an explicit enabled: false disables
// a rule.
type ruleWire struct {
	Enabled *bool `yaml:"enabled"`
}

type priceRuleWire struct {
	Enabled   *bool  `yaml:"enabled"`
	Threshold string `yaml:"threshold"`
}

type configWire struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	PriceOverThreshold  priceRuleWire `yaml:"price_over_threshold"`
	AmbiguousIntent     ruleWire      `yaml:"ambiguous_intent"`
	HostileTone         ruleWire      `yaml:"hostile_tone"`
	LegalLanguage       ruleWire      `yaml:"legal_language"`
	UnusualRequest      ruleWire      `yaml:"unusual_request"`
}

func enabledOrDefault(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// ParseConfig parses raw YAML trigger configuration with the same safe
// fallback behavior as LoadConfig.
func ParseConfig(raw []byte, logger *slog.Logger) Config {
	var wire configWire
	if err := yaml.Unmarshal(raw, &wire); err != nil {
		logger.Warn("trigger config malformed, using defaults", "error", err)
		return DefaultConfig()
	}

	cfg := Config{
		ConfidenceThreshold: wire.ConfidenceThreshold,
		PriceOverThreshold: PriceRuleConfig{
			Enabled:   enabledOrDefault(wire.PriceOverThreshold.Enabled),
			Threshold: wire.PriceOverThreshold.Threshold,
		},
		AmbiguousIntent: RuleConfig{Enabled: enabledOrDefault(wire.AmbiguousIntent.Enabled)},
		HostileTone:     RuleConfig{Enabled: enabledOrDefault(wire.HostileTone.Enabled)},
		LegalLanguage:   RuleConfig{Enabled: enabledOrDefault(wire.LegalLanguage.Enabled)},
		UnusualRequest:  RuleConfig{Enabled: enabledOrDefault(wire.UnusualRequest.Enabled)},
	}

	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.PriceOverThreshold.Threshold == "" {
		cfg.PriceOverThreshold.Threshold = DefaultPriceThreshold
	}
	if _, err := money.Parse(cfg.PriceOverThreshold.Threshold); err != nil {
		logger.Warn("trigger price threshold malformed, using default",
			"threshold", cfg.PriceOverThreshold.Threshold, "error", err)
		cfg.PriceOverThreshold.Threshold = DefaultPriceThreshold
	}
	return cfg
}

// priceThreshold returns the parsed price threshold. Config validation
// guarantees the stored string parses.
func (c Config) priceThreshold() money.Amount {
	return money.MustParse(c.PriceOverThreshold.Threshold)
}

// wantsSignals reports whether any of the three text-signal rules is
// enabled, i.e. whether the batched collaborator call is worth making.
func (c Config) wantsSignals() bool {
	return c.HostileTone.Enabled || c.LegalLanguage.Enabled || c.UnusualRequest.Enabled
}
