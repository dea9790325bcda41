package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatauth/internal/transport/http/respond"
	"github.com/go-chi/chi/v5"
)

// Pinger is implemented by every backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health-check endpoints.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler takes the stores probed by the ready action, keyed by name.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		respond.JSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		h.ready(w, r)
	default:
		respond.JSON(w, http.StatusBadRequest, respond.ErrorEnvelope{Error: "unknown action", Code: "validation_error"})
	}
}

func (h *HealthHandler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("readiness probe failed", "dependency", name, "err", err)
			status[name] = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "up"
	}
	respond.JSON(w, code, status)
}
