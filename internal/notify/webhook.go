package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookConfig configures the chat-channel webhook notifier.
type WebhookConfig struct {
	// URL receives a JSON POST per notification.
	URL string `yaml:"url"`

	// Timeout bounds each delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// WebhookNotifier posts notification payloads as JSON to a chat-channel
// webhook. Retry policy belongs to the caller; a failed delivery is
// reported as an error, never silently dropped.
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. A nil httpClient uses a
// default client bounded by the configured timeout.
func NewWebhookNotifier(cfg WebhookConfig, httpClient *http.Client) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookNotifier{config: cfg, client: httpClient}
}

type webhookEnvelope struct {
	Kind       string      `json:"kind"`
	Escalation *Escalation `json:"escalation,omitempty"`
	Agreement  *Agreement  `json:"agreement,omitempty"`
}

// NotifyEscalation implements Notifier.
func (n *WebhookNotifier) NotifyEscalation(ctx context.Context, e Escalation) error {
	return n.post(ctx, webhookEnvelope{Kind: "escalation", Escalation: &e})
}

// NotifyAgreement implements Notifier.
func (n *WebhookNotifier) NotifyAgreement(ctx context.Context, a Agreement) error {
	return n.post(ctx, webhookEnvelope{Kind: "agreement", Agreement: &a})
}

func (n *WebhookNotifier) post(ctx context.Context, env webhookEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting %s: %w", env.Kind, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
