package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/negotiator"
	"github.com/parleyhq/parley/internal/notify"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
)

// stubLLM serves the dispatcher's three collaborator interfaces.
type stubLLM struct {
	intent llm.IntentResult
	draft  llm.Draft
}

func (s *stubLLM) ClassifyIntent(_ context.Context, _, _ string) (llm.IntentResult, error) {
	return s.intent, nil
}

func (s *stubLLM) ComposeDraft(_ context.Context, _ llm.DraftRequest) (llm.Draft, error) {
	return s.draft, nil
}

func (s *stubLLM) ClassifyTriggerSignals(_ context.Context, _ string) (llm.SignalReport, error) {
	return llm.SignalReport{}, nil
}

func newTestGateway(t *testing.T, cfg Config, stub *stubLLM) (*Gateway, *dispatch.Dispatcher) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	triggers := trigger.NewEngine(trigger.DefaultConfig(), stub)
	d := dispatch.New(st, stub, stub, triggers, validate.Gate{}, notify.NewLogNotifier(logger), nil, logger)
	return New(cfg, d, st, nil, logger), d
}

func openThread(t *testing.T, d *dispatch.Dispatcher) string {
	t.Helper()
	opened, err := d.OpenThread(context.Background(), dispatch.OpenThreadParams{
		Campaign: &store.Campaign{
			ID:            "camp-1",
			FloorPrice:    money.MustParse("20"),
			CeilingPrice:  money.MustParse("30"),
			SuspiciousLow: money.MustParse("5"),
			TotalCount:    10,
		},
		Context: &negotiator.Context{
			CounterpartyName:    "Jordan",
			Platform:            "youtube",
			Views:               50000,
			Deliverables:        []string{"dedicated video"},
			DeliverablesSummary: "one dedicated video",
		},
	})
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	return opened.ThreadID
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHealth(t *testing.T) {
	g, _ := newTestGateway(t, Config{}, &stubLLM{})
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q", resp.Status)
	}
}

func TestInboundWebhookDecides(t *testing.T) {
	stub := &stubLLM{
		intent: llm.IntentResult{Intent: llm.IntentReject, Confidence: 0.95},
	}
	g, d := newTestGateway(t, Config{}, stub)
	threadID := openThread(t, d)

	body, _ := json.Marshal(inboundRequest{ThreadID: threadID, Text: "no thanks, not a fit"})
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp inboundResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(resp.Action) != "reject" {
		t.Errorf("action = %s, want reject", resp.Action)
	}
	if resp.ThreadID != threadID {
		t.Errorf("thread_id = %s", resp.ThreadID)
	}
}

func TestInboundWebhookValidatesHMAC(t *testing.T) {
	const secret = "webhook-secret"
	stub := &stubLLM{intent: llm.IntentResult{Intent: llm.IntentReject, Confidence: 0.95}}
	g, d := newTestGateway(t, Config{WebhookSecret: secret}, stub)
	threadID := openThread(t, d)
	router := g.buildRouter()

	body, _ := json.Marshal(inboundRequest{ThreadID: threadID, Text: "no thanks, not a fit"})

	// Missing signature.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request: status = %d, want 401", rec.Code)
	}

	// Wrong signature.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", signBody(body, "wrong-secret"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", rec.Code)
	}

	// Valid signature.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", signBody(body, secret))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("signed request: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInboundWebhookRejectsBadPayload(t *testing.T) {
	g, _ := newTestGateway(t, Config{}, &stubLLM{})
	router := g.buildRouter()

	for name, body := range map[string]string{
		"not json":       "{{{",
		"missing fields": `{"thread_id": ""}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader([]byte(body))))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestInboundWebhookUnknownThread(t *testing.T) {
	g, _ := newTestGateway(t, Config{}, &stubLLM{})
	body, _ := json.Marshal(inboundRequest{ThreadID: "missing", Text: "hello"})
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	cfg := Config{Auth: AuthConfig{BearerToken: "secret-token"}}
	g, d := newTestGateway(t, cfg, &stubLLM{})
	threadID := openThread(t, d)
	router := g.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/"+threadID, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/threads/"+threadID, nil)
	req.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/threads/"+threadID, nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp threadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "awaiting_reply" {
		t.Errorf("state = %s", resp.State)
	}
	if len(resp.ValidEvents) == 0 {
		t.Error("valid_events missing")
	}
	if len(resp.History) != 1 {
		t.Errorf("history = %+v", resp.History)
	}
}

func TestOpenThreadEndpoint(t *testing.T) {
	cfg := Config{Auth: AuthConfig{BearerToken: "secret-token"}}
	g, _ := newTestGateway(t, cfg, &stubLLM{})
	router := g.buildRouter()

	payload := openThreadRequest{
		Campaign: &store.Campaign{
			ID:            "camp-2",
			FloorPrice:    money.MustParse("20"),
			CeilingPrice:  money.MustParse("30"),
			SuspiciousLow: money.MustParse("5"),
			TotalCount:    4,
		},
		Context: &negotiator.Context{
			CounterpartyName: "Sam",
			Platform:         "instagram",
			Views:            20000,
			Deliverables:     []string{"story posts"},
		},
	}
	body, _ := json.Marshal(payload)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/threads", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp openThreadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ThreadID == "" {
		t.Error("thread_id missing")
	}
	// Floor 20/1k at 20000 views opens at 400.00.
	if resp.OpeningOffer != "400.00" {
		t.Errorf("opening_offer = %s, want 400.00", resp.OpeningOffer)
	}
	if resp.State != "awaiting_reply" {
		t.Errorf("state = %s", resp.State)
	}
}

func TestAPIRoutesHiddenWithoutAuth(t *testing.T) {
	g, _ := newTestGateway(t, Config{}, &stubLLM{})
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/any", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when auth is not configured", rec.Code)
	}
}
