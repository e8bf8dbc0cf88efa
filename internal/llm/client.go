package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/money"
)

// Client talks to an OpenAI-compatible chat-completions endpoint and
// implements IntentClassifier, Drafter, and SignalClassifier. Structured
// outputs are requested as JSON objects; monetary values inside them are
// carried as decimal strings and re-parsed through money.Parse so no float
// ever enters the pipeline from the model boundary.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a collaborator client. A nil httpClient uses a default
// client bounded by the configured timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, client: httpClient}
}

// Chat-completions wire types.

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Model   string       `json:"model"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// complete executes one chat-completions round trip and returns the first
// choice plus usage.
func (c *Client) complete(ctx context.Context, system, user string, jsonOutput bool) (chatResponse, error) {
	body := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: c.config.MaxTokens,
	}
	if jsonOutput {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	endpoint := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return chatResponse{}, ctx.Err()
		}
		return chatResponse{}, fmt.Errorf("%w: %w", ErrProviderDown, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, errorFromStatus(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return chatResponse{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return chatResponse{}, fmt.Errorf("llm: response contained no choices")
	}
	return parsed, nil
}

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// errorFromStatus maps HTTP error status codes to sentinel errors.
func errorFromStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, body)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrProviderDown, resp.StatusCode, body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrAuthentication, resp.StatusCode, body)
	default:
		return fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, body)
	}
}

const intentSystemPrompt = `You classify inbound replies in a commercial sponsorship negotiation.
Respond with a single JSON object:
{"intent":"accept|reject|counter_offer|question|unclear",
 "confidence":0.0,
 "proposed_amount":"1234.56 or empty string when no number was proposed",
 "proposed_deliverables":[],
 "summary":"one sentence",
 "concerns":[]}
Amounts must be plain decimal strings without currency symbols or separators.`

// intentWire mirrors the JSON object the model is instructed to emit.
// proposed_amount is a string by contract, never a JSON number.
type intentWire struct {
	Intent               string   `json:"intent"`
	Confidence           float64  `json:"confidence"`
	ProposedAmount       string   `json:"proposed_amount"`
	ProposedDeliverables []string `json:"proposed_deliverables"`
	Summary              string   `json:"summary"`
	Concerns             []string `json:"concerns"`
}

// ClassifyIntent implements IntentClassifier.
func (c *Client) ClassifyIntent(ctx context.Context, text, contextSummary string) (IntentResult, error) {
	user := text
	if contextSummary != "" {
		user = "Negotiation so far: " + contextSummary + "\n\nTheir reply:\n" + text
	}

	resp, err := c.complete(ctx, intentSystemPrompt, user, true)
	if err != nil {
		return IntentResult{}, err
	}

	var wire intentWire
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &wire); err != nil {
		return IntentResult{}, fmt.Errorf("llm: parse intent output: %w", err)
	}

	result := IntentResult{
		Intent:               mapIntent(wire.Intent),
		Confidence:           wire.Confidence,
		ProposedDeliverables: wire.ProposedDeliverables,
		Summary:              wire.Summary,
		Concerns:             wire.Concerns,
	}
	if strings.TrimSpace(wire.ProposedAmount) != "" {
		amount, err := money.Parse(wire.ProposedAmount)
		if err != nil {
			return IntentResult{}, fmt.Errorf("llm: proposed amount: %w", err)
		}
		result.ProposedAmount = &amount
	}
	return result, nil
}

// mapIntent converts the wire intent string to the internal tag, defaulting
// unknown values to unclear rather than guessing.
func mapIntent(s string) Intent {
	switch Intent(s) {
	case IntentAccept, IntentReject, IntentCounterOffer, IntentQuestion, IntentUnclear:
		return Intent(s)
	default:
		return IntentUnclear
	}
}

const draftSystemPrompt = `You draft one professional negotiation reply email for a brand.
Use exactly the approved amount given, formatted as $X,XXX.XX. Do not promise
exclusivity, usage rights, guarantees, or future deals. Respond with the email
body only.`

// ComposeDraft implements Drafter.
func (c *Client) ComposeDraft(ctx context.Context, req DraftRequest) (Draft, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Counterparty: %s (platform: %s, stage: %s)\n", req.CounterpartyName, req.Platform, req.Stage)
	if !req.TheirAmount.IsZero() {
		fmt.Fprintf(&sb, "Their ask: %s\n", req.TheirAmount)
	}
	fmt.Fprintf(&sb, "Approved offer: %s\n", req.OurAmount)
	fmt.Fprintf(&sb, "Deliverables: %s\n", req.DeliverablesSummary)
	if req.PolicyContent != "" {
		fmt.Fprintf(&sb, "Policy:\n%s\n", req.PolicyContent)
	}
	if len(req.History) > 0 {
		fmt.Fprintf(&sb, "Thread history:\n%s\n", strings.Join(req.History, "\n---\n"))
	}

	resp, err := c.complete(ctx, draftSystemPrompt, sb.String(), false)
	if err != nil {
		return Draft{}, err
	}

	return Draft{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

const signalSystemPrompt = `You screen one negotiation message for three signals.
Respond with a single JSON object:
{"hostile":{"detected":false,"evidence":""},
 "legal":{"detected":false,"evidence":""},
 "unusual":{"detected":false,"evidence":""}}
Evidence must be a short verbatim quote from the message.`

type signalWire struct {
	Detected bool   `json:"detected"`
	Evidence string `json:"evidence"`
}

type signalReportWire struct {
	Hostile signalWire `json:"hostile"`
	Legal   signalWire `json:"legal"`
	Unusual signalWire `json:"unusual"`
}

// ClassifyTriggerSignals implements SignalClassifier. All three signals are
// returned from one round trip; the trigger engine never calls this more
// than once per inbound message.
func (c *Client) ClassifyTriggerSignals(ctx context.Context, text string) (SignalReport, error) {
	resp, err := c.complete(ctx, signalSystemPrompt, text, true)
	if err != nil {
		return SignalReport{}, err
	}

	var wire signalReportWire
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &wire); err != nil {
		return SignalReport{}, fmt.Errorf("llm: parse signal output: %w", err)
	}

	return SignalReport{
		Hostile: Signal{Detected: wire.Hostile.Detected, Evidence: wire.Hostile.Evidence},
		Legal:   Signal{Detected: wire.Legal.Detected, Evidence: wire.Legal.Evidence},
		Unusual: Signal{Detected: wire.Unusual.Detected, Evidence: wire.Unusual.Evidence},
	}, nil
}
