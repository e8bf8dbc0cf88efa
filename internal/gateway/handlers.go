package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/negotiator"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/thread"
	"github.com/parleyhq/parley/pkg/decision"
)

// maxBodySize caps inbound request bodies.
const maxBodySize = 1 << 20

// handleHealth returns an http.HandlerFunc for GET /health.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: time.Now().UTC()})
	}
}

// inboundRequest is the webhook payload: one reconstructed thread message.
type inboundRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

// inboundResponse reports the decision taken for an inbound message.
type inboundResponse struct {
	ThreadID string          `json:"thread_id"`
	Action   decision.Action `json:"action"`
	Reason   string          `json:"reason,omitempty"`
	Round    int             `json:"round"`
	Offer    string          `json:"offer,omitempty"`
	Draft    string          `json:"draft,omitempty"`
}

// handleInbound processes one inbound counterparty message.
func (g *Gateway) handleInbound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		if g.config.WebhookSecret != "" {
			sig := r.Header.Get("X-Signature-256")
			if !validateHMAC(body, sig, g.config.WebhookSecret) {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		var req inboundRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		if req.ThreadID == "" || req.Text == "" {
			http.Error(w, "thread_id and text are required", http.StatusBadRequest)
			return
		}

		outcome, err := g.dispatch.HandleInbound(r.Context(), req.ThreadID, req.Text)
		if err != nil {
			g.writeDispatchError(w, req.ThreadID, err)
			return
		}

		resp := inboundResponse{
			ThreadID: req.ThreadID,
			Action:   outcome.Action,
			Reason:   string(outcome.Reason),
			Round:    outcome.Round,
		}
		if !outcome.OfferAmount.IsZero() {
			resp.Offer = outcome.OfferAmount.String()
		}
		if outcome.Draft != nil && outcome.Action == decision.ActionSend {
			resp.Draft = outcome.Draft.Text
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// openThreadRequest creates a new negotiation thread.
type openThreadRequest struct {
	Campaign *store.Campaign     `json:"campaign"`
	Context  *negotiator.Context `json:"context"`
}

// openThreadResponse reports the created thread and its opening offer.
type openThreadResponse struct {
	ThreadID     string `json:"thread_id"`
	OpeningOffer string `json:"opening_offer"`
	State        string `json:"state"`
}

// handleOpenThread creates a thread snapshot and computes the opening offer.
func (g *Gateway) handleOpenThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openThreadRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		opened, err := g.dispatch.OpenThread(r.Context(), dispatch.OpenThreadParams{
			Campaign: req.Campaign,
			Context:  req.Context,
		})
		if err != nil {
			g.logger.Error("opening thread failed", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusCreated, openThreadResponse{
			ThreadID:     opened.ThreadID,
			OpeningOffer: opened.OpeningOffer.String(),
			State:        string(opened.State),
		})
	}
}

// threadResponse is the persisted view of one thread.
type threadResponse struct {
	ThreadID    string              `json:"thread_id"`
	State       string              `json:"state"`
	RoundCount  int                 `json:"round_count"`
	ValidEvents []thread.Event      `json:"valid_events"`
	History     []thread.Transition `json:"history"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// handleGetThread returns a thread's snapshot with its legal next events.
func (g *Gateway) handleGetThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		snap, err := g.store.Load(r.Context(), id)
		if errors.Is(err, store.ErrThreadNotFound) {
			http.Error(w, "thread not found", http.StatusNotFound)
			return
		}
		if err != nil {
			g.logger.Error("loading thread failed", "thread_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		machine, err := thread.Restore(snap.State, snap.History)
		if err != nil {
			g.logger.Error("restoring thread failed", "thread_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, threadResponse{
			ThreadID:    id,
			State:       string(snap.State),
			RoundCount:  snap.RoundCount,
			ValidEvents: machine.ValidEvents(),
			History:     machine.History(),
			UpdatedAt:   snap.UpdatedAt,
		})
	}
}

// writeDispatchError maps dispatcher errors to HTTP statuses.
func (g *Gateway) writeDispatchError(w http.ResponseWriter, threadID string, err error) {
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		http.Error(w, "thread not found", http.StatusNotFound)
	case errors.Is(err, thread.ErrInvalidTransition):
		g.logger.Warn("invalid transition", "thread_id", threadID, "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		g.logger.Error("inbound processing failed", "thread_id", threadID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
