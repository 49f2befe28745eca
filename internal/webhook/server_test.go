package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/dateparse"
	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/metrics"
	"github.com/user/taxprep/internal/ruleset"
	"github.com/user/taxprep/internal/runtime"
	"github.com/user/taxprep/internal/sources"
	"github.com/user/taxprep/internal/state"
	"github.com/user/taxprep/internal/types"
)

func setupServer(t *testing.T, opts ...Option) (*Server, *state.SessionStore) {
	t.Helper()
	sessions, err := state.NewSessionStore(10)
	if err != nil {
		t.Fatal(err)
	}
	rs, err := ruleset.Default()
	if err != nil {
		t.Fatal(err)
	}
	ref := time.Date(2025, time.September, 8, 10, 0, 0, 0, time.UTC)
	dates := dateparse.New(dateparse.WithClock(func() time.Time { return ref }))
	rt := runtime.New(conversation.New(rs, dates), sessions)

	gw := gateway.New(sessions)
	gw.Queue.SetProcessor(rt.ProcessRun)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	return NewServer(gw, sessions, rs, opts...), sessions
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	w := do(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestChatEndpointRejectsBadKey(t *testing.T) {
	srv, _ := setupServer(t)

	w := do(t, srv, http.MethodPost, "/chat", `{"session_key":"alice","text":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/chat", `{"text":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/sessions/alice/reminders", `{"title":"Lodge","date":"2025-09-10"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("add reminder with malformed key: expected status 400, got %d", w.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	w := do(t, srv, http.MethodPost, "/chat", `{"user_id":"alice","text":"I had a baby, remind me 2025-09-10 at 09:00"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]string](t, w)
	if resp["session_key"] != "http:alice" {
		t.Errorf("unexpected session key %q", resp["session_key"])
	}
	if !strings.Contains(resp["reply"], "✅ Reminder created") || !strings.Contains(resp["reply"], "Birth certificate") {
		t.Errorf("unexpected reply %q", resp["reply"])
	}

	w = do(t, srv, http.MethodGet, "/api/sessions/http:alice/agenda", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	agenda := decode[map[string]string](t, w)["agenda"]
	if agenda != "### 2025-09-10\n- [⏳ Pending] **Tax reminder** — 09:00" {
		t.Errorf("unexpected agenda %q", agenda)
	}
}

func TestChatValidation(t *testing.T) {
	srv, _ := setupServer(t)
	if w := do(t, srv, http.MethodPost, "/chat", `{"text":"hi"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a session, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/chat", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/chat", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /chat, got %d", w.Code)
	}
}

func TestReminderEndpoints(t *testing.T) {
	srv, _ := setupServer(t)
	base := "/api/sessions/http:bob/reminders"

	w := do(t, srv, http.MethodPost, base, `{"title":"Lodge","date":"2025-02-30"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for impossible date, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w)["status"]; got != "❌ Date must be in YYYY-MM-DD (e.g., 2025-09-10)." {
		t.Errorf("unexpected status %q", got)
	}

	w = do(t, srv, http.MethodPost, base, `{"title":"Lodge","date":"2025-09-20","time":"10:30"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := do(t, srv, http.MethodPost, base+"/1/toggle", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 for toggle, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, base+"/7/toggle", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown reminder, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, base+"/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, base+"/1", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 for delete, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, base+"/1", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 when the list is empty, got %d", w.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	srv, sessions := setupServer(t)
	if w := do(t, srv, http.MethodGet, "/api/sessions/http:nobody/agenda", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/api/sessions/http:nobody/reminders/1/toggle", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if sessions.Len() != 0 {
		t.Errorf("lookups must not create sessions, got %d", sessions.Len())
	}
}

func TestSessionsEndpoint(t *testing.T) {
	srv, sessions := setupServer(t)
	if _, err := sessions.ResolveOrCreate(context.Background(), types.NewSessionKey("telegram", "1", "1")); err != nil {
		t.Fatal(err)
	}
	w := do(t, srv, http.MethodGet, "/api/sessions", "")
	list := decode[[]sessionResponse](t, w)
	if len(list) != 1 || list[0].SessionKey != "telegram:1:1" || list[0].Status != "active" {
		t.Errorf("unexpected sessions %+v", list)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	events := decode[[]eventResponse](t, do(t, srv, http.MethodGet, "/api/events", ""))
	if len(events) != 8 {
		t.Fatalf("expected 8 events, got %d", len(events))
	}
	if events[0].Key != "new_baby" || events[0].Label != "new baby" {
		t.Errorf("unexpected first event %+v", events[0])
	}
}

func TestEventSourceEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	if w := do(t, srv, http.MethodGet, "/api/events/new_baby/source", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a previewer, got %d", w.Code)
	}

	srv, _ = setupServer(t, WithSources(sources.NewFetcher()))
	if w := do(t, srv, http.MethodGet, "/api/events/unknown/source", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown event, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/events/job_loss/source", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for event without source, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	m.ObserveNotification(true)
	srv, _ := setupServer(t, WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "taxprep_reminders_notifications_total") {
		t.Errorf("expected notification counter in output")
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := setupServer(t, WithRateLimit(60, 2))
	for i := 0; i < 2; i++ {
		if w := do(t, srv, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	if w := do(t, srv, http.MethodGet, "/health", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", w.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 10; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
	var nilLimiter *RateLimiter
	if nilLimiter.Enabled() {
		t.Error("nil limiter must be disabled")
	}
}
