package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialChat(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?user_id=" + userID
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, payload string) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return msg
}

func TestWebSocket_MessageRoundTrip(t *testing.T) {
	fr := &fakeRelay{}
	srv := httptest.NewServer(newTestRouter(fr, nil))
	defer srv.Close()

	conn := dialChat(t, srv, "42")

	got := roundTrip(t, conn, `{"type":"message","text":"hi"}`)
	if got.Type != "reply" || got.Reply != "echo: hi" || !got.DisablePreview {
		t.Errorf("Unexpected reply frame %+v", got)
	}

	got = roundTrip(t, conn, `plain text turn`)
	if got.Reply != "echo: plain text turn" {
		t.Errorf("Expected raw text fallback, got %+v", got)
	}

	got = roundTrip(t, conn, `{"type":"ping"}`)
	if got.Type != "pong" {
		t.Errorf("Expected pong, got %+v", got)
	}

	got = roundTrip(t, conn, `{"type":"message","text":""}`)
	if got.Type != "error" {
		t.Errorf("Expected error frame for empty text, got %+v", got)
	}

	events := fr.Events()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.UserID != "42" {
			t.Errorf("Expected user 42, got %q", ev.UserID)
		}
	}
}

func TestWebSocket_RequiresUserID(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&fakeRelay{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/chat")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
