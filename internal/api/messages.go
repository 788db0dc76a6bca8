package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// MessageRequest is one inbound user turn.
type MessageRequest struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	UserName string `json:"user_name,omitempty"`
}

// MessageResponse is the relay's reply to a MessageRequest.
type MessageResponse struct {
	Reply          string `json:"reply"`
	Kind           string `json:"kind"`
	DisablePreview bool   `json:"disable_preview"`
	EventID        string `json:"event_id"`
}

// HandleMessage handles POST /api/messages requests.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorFrom(w, fmt.Errorf("invalid request body: %w", errdefs.ErrInvalidArgument))
		return
	}

	ev, err := validateEvent(req.UserID, req.Text, req.UserName)
	if err != nil {
		ErrorFrom(w, err)
		return
	}

	eventID := uuid.NewString()
	slog.Info("Inbound message",
		"event_id", eventID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"user_id", ev.UserID,
		"message_length", len(ev.Text),
	)

	reply := h.relay.Handle(r.Context(), ev)
	JSON(w, http.StatusOK, MessageResponse{
		Reply:          reply.Text,
		Kind:           string(reply.Kind),
		DisablePreview: reply.DisablePreview,
		EventID:        eventID,
	})
}
