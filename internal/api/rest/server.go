package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/oshokin/eve-alert/internal/logger"
	"github.com/oshokin/eve-alert/internal/metrics"
	"github.com/oshokin/eve-alert/internal/repository/statistics"
	"github.com/oshokin/eve-alert/internal/service/orchestrator"
	"github.com/oshokin/eve-alert/internal/status"
)

const (
	readHeaderTimeout = 15 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second

	// DefaultRecent is the history length returned when recent is not given.
	DefaultRecent = 10
	// StatusBacklog is the number of status lines returned with the status.
	StatusBacklog = 20
)

// Controller is the part of the orchestrator driven over HTTP.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() orchestrator.Status
	MarkSettingsChanged()
	Stats() *statistics.Recorder
}

// Options configures the handler.
type Options struct {
	// Controller is required.
	Controller Controller
	// Hub feeds the status stream, may be nil.
	Hub *status.Hub
	// Metrics is served on /metrics when set.
	Metrics *metrics.Metrics
}

// Handler serves the API.
type Handler struct {
	controller Controller
	hub        *status.Hub
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	router     *mux.Router
}

// NewHandler builds the router.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		controller: opts.Controller,
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API listens on loopback by default; browsers opening the
			// stream from a local dashboard send their own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		router: mux.NewRouter(),
	}

	h.routes()

	return h
}

func (h *Handler) routes() {
	h.router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	if h.metrics != nil {
		h.router.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	// A subrouter answers 404 on a method mismatch unless it has its own handler.
	h.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api := h.router.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/status/stream", h.streamStatus).Methods(http.MethodGet)

	api.HandleFunc("/statistics", h.getStatistics).Methods(http.MethodGet)
	api.HandleFunc("/statistics/export", h.exportStatistics).Methods(http.MethodGet)
	api.HandleFunc("/statistics/session/reset", h.resetSession).Methods(http.MethodPost)
	api.HandleFunc("/statistics/history/clear", h.clearHistory).Methods(http.MethodPost)

	api.HandleFunc("/run/start", h.startRun).Methods(http.MethodPost)
	api.HandleFunc("/run/stop", h.stopRun).Methods(http.MethodPost)
	api.HandleFunc("/settings/reload", h.reloadSettings).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Serve listens on address until ctx is cancelled, then shuts the server down gracefully.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	ctx = logger.WithName(ctx, "http")

	// A cancelled ctx still binds, then shuts down right away.
	listener, err := new(net.ListenConfig).Listen(context.WithoutCancel(ctx), "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(listener)
	}()

	logger.InfoKV(ctx, "HTTP API is listening", "address", listener.Addr().String())

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve HTTP API: %w", err)
	case <-ctx.Done():
	}

	logger.Info(ctx, "Shutting down HTTP API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP API: %w", err)
	}

	return nil
}
