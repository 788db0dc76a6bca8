//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-relay/internal/conversation"
	"github.com/ashureev/shsh-relay/internal/cooldown"
	"github.com/ashureev/shsh-relay/internal/relay"
	"github.com/ashureev/shsh-relay/internal/store"
	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Idle keep-alive connections held by http.DefaultTransport.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeRelay struct {
	mu     sync.Mutex
	events []relay.Event
}

func (f *fakeRelay) Handle(_ context.Context, ev relay.Event) relay.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return relay.Reply{Text: "echo: " + ev.Text, Kind: relay.KindCompletion, DisablePreview: true}
}

func (f *fakeRelay) GetStats() relay.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return relay.Stats{Allowed: int64(len(f.events))}
}

func (f *fakeRelay) Events() []relay.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relay.Event(nil), f.events...)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(r Relay, p Pinger) http.Handler {
	router := chi.NewRouter()
	NewHandler(r, p).RegisterRoutes(router)
	return router
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad: %w", errdefs.ErrInvalidArgument), http.StatusBadRequest},
		{errdefs.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.Join(errors.New("db down"), errdefs.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHandleMessage(t *testing.T) {
	fr := &fakeRelay{}
	router := newTestRouter(fr, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"user_id":" 42 ","text":"hi","user_name":"Ada"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var got MessageResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Reply != "echo: hi" || got.Kind != "completion" || !got.DisablePreview {
		t.Errorf("Unexpected response %+v", got)
	}
	if got.EventID == "" {
		t.Error("Expected event id to be set")
	}
	if events := fr.Events(); len(events) != 1 || events[0].UserID != "42" || events[0].DisplayName != "Ada" {
		t.Errorf("Expected one event for user 42 named Ada, got %+v", events)
	}
}

func TestHandleMessage_BadRequests(t *testing.T) {
	fr := &fakeRelay{}
	router := newTestRouter(fr, nil)

	bodies := []string{
		`not json`,
		`{"text":"hi"}`,
		`{"user_id":"42","text":"   "}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	if len(fr.Events()) != 0 {
		t.Error("Expected invalid requests to never reach the relay")
	}
}

func TestHandleStats(t *testing.T) {
	router := newTestRouter(&fakeRelay{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got relay.Stats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
}

func TestHandleReady(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(&fakeRelay{}, fakePinger{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	newTestRouter(&fakeRelay{}, fakePinger{err: errors.New("closed")}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

type staticCompleter struct{}

func (staticCompleter) Complete(_ context.Context, prompt string) (string, error) {
	return "ok: " + prompt, nil
}

func TestHandleMessage_ConcurrentOnSQLite(t *testing.T) {
	dir := t.TempDir()
	stores, err := store.Open(store.BackendSQLite, filepath.Join(dir, "relay.db"), dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })

	orch := relay.New(
		cooldown.NewTracker(stores.Cooldowns, time.Hour),
		conversation.NewBuffer(stores.Sessions, conversation.DefaultResetThreshold),
		staticCompleter{},
		nil,
	)
	router := newTestRouter(orch, stores)

	post := func(userID, text string) MessageResponse {
		body := fmt.Sprintf(`{"user_id":%q,"text":%q}`, userID, text)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body)))
		var resp MessageResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Errorf("decode response: %v", err)
		}
		return resp
	}

	const users = 20
	for i := 0; i < users; i++ {
		post(fmt.Sprint(i), "/createchat")
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				post(id, "hello")
			}(fmt.Sprint(i))
		}
	}
	wg.Wait()

	stats := orch.GetStats()
	if stats.Allowed != users || stats.Blocked != users || stats.StoreErrors != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	sessions, err := stores.Sessions.Load(context.Background())
	if err != nil {
		t.Fatalf("Load sessions failed: %v", err)
	}
	for id, sess := range sessions {
		if sess.Count != 1 {
			t.Errorf("user %s: expected 1 saved turn, got %d", id, sess.Count)
		}
	}
}
