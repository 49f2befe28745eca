// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/taxprep/internal/ruleset"
	"github.com/user/taxprep/internal/sources"
	"github.com/user/taxprep/internal/types"
)

const maxBodyBytes = 64 << 10

// Submitter runs an event on its session's lane and returns the reply;
// gateway.Gateway satisfies it.
type Submitter interface {
	Submit(ctx context.Context, event *types.InboundEvent) (string, error)
}

// SessionReader lists sessions and looks them up by key without creating
// them; state.SessionStore satisfies it.
type SessionReader interface {
	List(ctx context.Context) ([]*types.SessionIndex, error)
	GetByKey(ctx context.Context, key types.SessionKey) (*types.SessionIndex, error)
}

// Previewer fetches the sources cited by an event.
type Previewer interface {
	Preview(ctx context.Context, ev *ruleset.Event) ([]sources.Preview, error)
}

// Server is the HTTP front end: a chat endpoint, reminder management per
// session, the event catalogue and operational endpoints.
type Server struct {
	gateway  Submitter
	sessions SessionReader
	rules    *ruleset.Ruleset
	sources  Previewer
	timeout  time.Duration
	limiter  *RateLimiter
	mux      *http.ServeMux
	handler  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits each client IP to rpm requests per minute.
func WithRateLimit(rpm, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(rpm, burst) }
}

// WithMetrics serves h (usually promhttp.Handler()) at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.mux.Handle("GET /metrics", h) }
}

// WithSources enables GET /api/events/{key}/source.
func WithSources(p Previewer) Option {
	return func(s *Server) { s.sources = p }
}

// WithTimeout bounds how long a request waits for its run (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a Server that submits runs through gw.
func NewServer(gw Submitter, sessions SessionReader, rules *ruleset.Ruleset, opts ...Option) *Server {
	s := &Server{
		gateway:  gw,
		sessions: sessions,
		rules:    rules,
		timeout:  30 * time.Second,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{key}/agenda", s.handleAgenda)
	s.mux.HandleFunc("POST /api/sessions/{key}/reminders", s.handleAddReminder)
	s.mux.HandleFunc("POST /api/sessions/{key}/reminders/{id}/toggle", s.handleToggleReminder)
	s.mux.HandleFunc("DELETE /api/sessions/{key}/reminders/{id}", s.handleDeleteReminder)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/{key}/source", s.handleEventSource)
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.mux
	if s.limiter.Enabled() {
		s.handler = s.limiter.Middleware(s.mux)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) submit(r *http.Request, ev *types.InboundEvent) (string, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	ev.Source = "http"
	ev.At = time.Now()
	return s.gateway.Submit(ctx, ev)
}

// existing resolves the {key} path value to a known session.
func (s *Server) existing(w http.ResponseWriter, r *http.Request) (types.SessionKey, bool) {
	key := types.SessionKey(r.PathValue("key"))
	if _, err := s.sessions.GetByKey(r.Context(), key); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return "", false
	}
	return key, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /chat. Without a session_key the
// session is "http:<user_id>".
type chatRequest struct {
	SessionKey string `json:"session_key"`
	UserID     string `json:"user_id"`
	Text       string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	key := types.SessionKey(req.SessionKey)
	if key == "" && req.UserID != "" {
		key = types.NewSessionKey("http", req.UserID)
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "session_key or user_id is required")
		return
	}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.submit(r, &types.InboundEvent{
		Kind:       types.KindMessage,
		SessionKey: key,
		UserID:     req.UserID,
		Text:       req.Text,
	})
	if err != nil {
		slog.Error("chat request failed", "session_key", string(key), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_key": string(key), "reply": reply})
}

type sessionResponse struct {
	SessionID  string `json:"session_id"`
	SessionKey string `json:"session_key"`
	Status     string `json:"status"`
	Turns      int64  `json:"turns"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionResponse{
			SessionID:  string(sess.SessionID),
			SessionKey: string(sess.SessionKey),
			Status:     sess.Status,
			Turns:      sess.Turns,
			CreatedAt:  sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  sess.UpdatedAt.Format(time.RFC3339),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	key, ok := s.existing(w, r)
	if !ok {
		return
	}
	reply, err := s.submit(r, &types.InboundEvent{Kind: types.KindAgenda, SessionKey: key})
	if err != nil {
		slog.Error("agenda request failed", "session_key", string(key), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agenda": reply})
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	key := types.SessionKey(r.PathValue("key"))
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in types.ReminderInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.reminderOp(w, r, &types.InboundEvent{Kind: types.KindAddReminder, SessionKey: key, Reminder: &in})
}

func (s *Server) handleToggleReminder(w http.ResponseWriter, r *http.Request) {
	s.reminderByID(w, r, types.KindToggleReminder)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	s.reminderByID(w, r, types.KindDeleteReminder)
}

func (s *Server) reminderByID(w http.ResponseWriter, r *http.Request, kind types.EventKind) {
	key, ok := s.existing(w, r)
	if !ok {
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reminder id must be a number")
		return
	}
	s.reminderOp(w, r, &types.InboundEvent{Kind: kind, SessionKey: key, ReminderID: id})
}

// reminderOp submits a reminder change and maps the status line to an HTTP
// status: success markers are 200, unknown ids 404, everything else 422.
func (s *Server) reminderOp(w http.ResponseWriter, r *http.Request, ev *types.InboundEvent) {
	reply, err := s.submit(r, ev)
	if err != nil {
		slog.Error("reminder request failed", "session_key", string(ev.SessionKey), "event", string(ev.Kind), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	status := http.StatusUnprocessableEntity
	switch {
	case strings.HasPrefix(reply, "✅"), strings.HasPrefix(reply, "🗑️"):
		status = http.StatusOK
	case strings.HasSuffix(reply, "not found."):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"status": reply})
}

type eventResponse struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
	Docs     []string `json:"docs"`
	Actions  []string `json:"actions"`
	Sources  []string `json:"sources,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	result := make([]eventResponse, 0, s.rules.Len())
	for _, ev := range s.rules.Events() {
		resp := eventResponse{
			Key:      ev.Key,
			Label:    ev.Label(),
			Keywords: ev.Keywords,
			Docs:     ev.Docs,
			Actions:  ev.Actions,
		}
		for _, src := range ev.Sources {
			resp.Sources = append(resp.Sources, src.URL)
		}
		result = append(result, resp)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEventSource(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusServiceUnavailable, "source previews not configured")
		return
	}
	ev, ok := s.rules.Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown event")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	previews, err := s.sources.Preview(ctx, ev)
	if errors.Is(err, sources.ErrNoSource) {
		writeError(w, http.StatusNotFound, "event has no source")
		return
	}
	if err != nil {
		slog.Error("source preview failed", "event", ev.Key, "error", err)
		writeError(w, http.StatusBadGateway, "could not load sources")
		return
	}
	writeJSON(w, http.StatusOK, previews)
}
