package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wsWriteTimeout bounds a single reply frame write.
const wsWriteTimeout = 10 * time.Second

// wsMessage represents WebSocket message structure.
type wsMessage struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	Reply          string `json:"reply,omitempty"`
	Kind           string `json:"kind,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ServeWebSocket handles GET /ws/chat. The user is fixed per connection by
// the user_id query parameter; every text frame is one turn.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID, err := validateUserID(query.Get("user_id"))
	if err != nil {
		ErrorFrom(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	connID := uuid.NewString()
	slog.Info("WebSocket chat connected", "user_id", userID, "conn_id", connID)
	h.readLoop(r.Context(), ws, userID, query.Get("user_name"))
	slog.Info("WebSocket chat ended", "user_id", userID, "conn_id", connID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, userName string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Fallback to raw text.
			msg = wsMessage{Type: "message", Text: string(data)}
		}

		var out wsMessage
		switch msg.Type {
		case "message":
			ev, err := validateEvent(userID, msg.Text, userName)
			if err != nil {
				out = wsMessage{Type: "error", Error: err.Error()}
				break
			}
			reply := h.relay.Handle(ctx, ev)
			out = wsMessage{
				Type:           "reply",
				Reply:          reply.Text,
				Kind:           string(reply.Kind),
				DisablePreview: reply.DisablePreview,
			}
		case "ping":
			out = wsMessage{Type: "pong"}
		default:
			out = wsMessage{Type: "error", Error: "unknown message type"}
		}

		if err := writeJSON(ctx, ws, out); err != nil {
			slog.Debug("Failed to write WebSocket reply", "error", err, "user_id", userID)
			return
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
