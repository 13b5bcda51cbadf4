package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/logger"
	"github.com/oshokin/eve-alert/internal/repository/statistics"
	"github.com/oshokin/eve-alert/internal/service/orchestrator"
	"github.com/oshokin/eve-alert/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var (
	errInvalidRecent     = errors.New("recent must be a non-negative integer")
	errStreamUnavailable = errors.New("status stream is not available")
	errMethodNotAllowed  = errors.New("method not allowed")
)

type statusResponse struct {
	orchestrator.Status

	Lines []status.Line `json:"lines,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	response := statusResponse{Status: h.controller.Status()}
	if h.hub != nil {
		response.Lines = h.hub.Recent(StatusBacklog)
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) getStatistics(w http.ResponseWriter, r *http.Request) {
	recent := DefaultRecent

	if raw := r.URL.Query().Get("recent"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", errInvalidRecent, raw))

			return
		}

		recent = value
	}

	export := h.controller.Stats().Snapshot().Export()
	if recent < len(export.History) {
		export.History = export.History[:recent]
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, statistics.FormatJSON); err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	w.Header().Set("Content-Type", statistics.FormatJSON.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) exportStatistics(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = string(statistics.FormatCSV)
	}

	format, err := statistics.ParseFormat(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	var buf bytes.Buffer
	if err = h.controller.Stats().Snapshot().Export().Write(&buf, format); err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	filename := fmt.Sprintf("eve-alert-statistics-%s.%s", time.Now().Format("20060102-150405"), format)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) resetSession(w http.ResponseWriter, r *http.Request) {
	h.controller.Stats().ResetSession()
	logger.Info(r.Context(), "Statistics session reset over HTTP")

	writeJSON(w, http.StatusOK, messageResponse{Message: "Session statistics reset."})
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	h.controller.Stats().ClearHistory()
	logger.Info(r.Context(), "Alarm history cleared over HTTP")

	writeJSON(w, http.StatusOK, messageResponse{Message: "Alarm history cleared."})
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	err := h.controller.Start(r.Context())

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.controller.Status())
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, config.ErrInvalidConfig):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	err := h.controller.Stop(r.Context())

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.controller.Status())
	case errors.Is(err, orchestrator.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) reloadSettings(w http.ResponseWriter, _ *http.Request) {
	h.controller.MarkSettingsChanged()

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Settings will be reloaded on the next cycle."})
}

// streamStatus sends the recent backlog and then every new status line as a JSON text frame.
func (h *Handler) streamStatus(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, errStreamUnavailable)

		return
	}

	ctx := logger.WithKV(logger.WithName(r.Context(), "status-stream"), "remote", r.RemoteAddr)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(ctx, "WebSocket upgrade failed", "error", err)

		return
	}

	defer func() {
		_ = conn.Close()

		logger.Debug(ctx, "WebSocket connection closed")
	}()

	backlog, lines, unsubscribe := h.hub.Follow(StatusBacklog)
	defer unsubscribe()

	// The reader only handles control frames and notices a closed peer.
	closed := make(chan struct{})

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(closed)

		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for _, line := range backlog {
		if err = writeFrame(conn, line); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)

			return
		case <-closed:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}

			if err = writeFrame(conn, line); err != nil {
				logger.DebugKV(ctx, "WebSocket write failed", "error", err)

				return
			}
		case <-ticker.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, line status.Line) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return conn.WriteJSON(line)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%w: %s %s", errMethodNotAllowed, r.Method, r.URL.Path))
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
