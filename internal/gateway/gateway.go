// Package gateway exposes the negotiation core over HTTP: the inbound
// message webhook, thread management, health, and metrics. Message fetch
// and delivery live on the other side of this boundary; the gateway only
// accepts already-reconstructed thread messages.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/store"
)

// Gateway is the HTTP surface over the dispatcher and snapshot store.
type Gateway struct {
	config   Config
	logger   *slog.Logger
	dispatch *dispatch.Dispatcher
	store    *store.Store
	registry *prometheus.Registry
	server   *http.Server
}

// New creates a gateway. registry may be nil to disable the /metrics
// endpoint.
func New(cfg Config, d *dispatch.Dispatcher, st *store.Store, registry *prometheus.Registry, logger *slog.Logger) *Gateway {
	cfg.defaults()
	return &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		dispatch: d,
		store:    st,
		registry: registry,
	}
}

// Start begins serving in a background goroutine.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	go func() {
		g.logger.Info("gateway listening", "bind", g.config.Bind)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}

// healthResponse is the JSON response for GET /health.
type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
