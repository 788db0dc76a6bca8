// Package api provides the HTTP and WebSocket ingress for the relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/shsh-relay/internal/relay"
	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Relay is the core the ingress forwards events to.
type Relay interface {
	Handle(ctx context.Context, ev relay.Event) relay.Reply
	GetStats() relay.Stats
}

// Ensure the orchestrator satisfies Relay.
var _ Relay = (*relay.Orchestrator)(nil)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the ingress endpoints.
type Handler struct {
	relay  Relay
	pinger Pinger
}

// NewHandler creates a new Handler.
func NewHandler(r Relay, pinger Pinger) *Handler {
	return &Handler{relay: r, pinger: pinger}
}

// RegisterRoutes registers ingress routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.HandleMessage)
		r.Get("/stats", h.HandleStats)
		r.Get("/ready", h.HandleReady)
	})
	r.Get("/ws/chat", h.ServeWebSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorFrom writes err with a status derived from its errdefs class.
func ErrorFrom(w http.ResponseWriter, err error) {
	Error(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validateUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user_id is required: %w", errdefs.ErrInvalidArgument)
	}
	return userID, nil
}

// validateEvent rejects events the relay cannot act on.
func validateEvent(userID, text, displayName string) (relay.Event, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return relay.Event{}, err
	}
	if strings.TrimSpace(text) == "" {
		return relay.Event{}, fmt.Errorf("text is required: %w", errdefs.ErrInvalidArgument)
	}
	return relay.Event{UserID: userID, Text: text, DisplayName: strings.TrimSpace(displayName)}, nil
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.relay.GetStats())
}

// HandleReady handles GET /api/ready.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			ErrorFrom(w, fmt.Errorf("store unavailable: %w", errors.Join(err, errdefs.ErrUnavailable)))
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
