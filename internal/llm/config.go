package llm

import "time"

// Default values for Config.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 60 * time.Second
)

// Config holds connection settings for the OpenAI-compatible collaborator
// endpoint.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a Bearer token.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier for both classification and drafting.
	Model string `yaml:"model"`

	// MaxTokens caps completion length.
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are extra HTTP headers sent on every request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
