// internal/state/session.go
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/types"
)

// DefaultMaxSessions bounds the store when no limit is configured.
const DefaultMaxSessions = 1000

// ErrSessionNotFound is returned for unknown (or evicted) sessions.
var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	index *types.SessionIndex
	state conversation.SessionState
}

// SessionStore keeps sessions in memory, bounded by an LRU. The least
// recently used session is evicted once the limit is reached; its memory
// and reminders are gone with it.
type SessionStore struct {
	mu    sync.RWMutex
	byKey *lru.Cache[types.SessionKey, *entry]
	byID  map[types.SessionID]types.SessionKey
}

// NewSessionStore creates a store holding at most maxSessions sessions.
func NewSessionStore(maxSessions int) (*SessionStore, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	s := &SessionStore{byID: make(map[types.SessionID]types.SessionKey)}
	cache, err := lru.NewWithEvict(maxSessions, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	s.byKey = cache
	return s, nil
}

// onEvict runs inside cache.Add, so the caller already holds s.mu.
func (s *SessionStore) onEvict(key types.SessionKey, e *entry) {
	delete(s.byID, e.index.SessionID)
	slog.Info("session evicted", "session_key", string(key), "session_id", string(e.index.SessionID))
}

// ResolveOrCreate returns the SessionID for the given key, creating a new session if needed.
func (s *SessionStore) ResolveOrCreate(_ context.Context, key types.SessionKey) (types.SessionID, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey.Get(key); ok {
		return existing.index.SessionID, nil
	}

	now := time.Now()
	id := types.NewSessionID()
	s.byKey.Add(key, &entry{index: &types.SessionIndex{
		SessionID:  id,
		SessionKey: key,
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}})
	s.byID[id] = key
	return id, nil
}

// lookup finds the entry for id. Caller must hold s.mu.
func (s *SessionStore) lookup(id types.SessionID) (*entry, error) {
	key, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e, ok := s.byKey.Peek(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// Get returns a copy of the session index with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.SessionIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	idx := *e.index
	return &idx, nil
}

// GetByKey returns the session index for a session key without creating it.
func (s *SessionStore) GetByKey(_ context.Context, key types.SessionKey) (*types.SessionIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byKey.Peek(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	idx := *e.index
	return &idx, nil
}

// List returns all sessions, oldest first.
func (s *SessionStore) List(_ context.Context) ([]*types.SessionIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*types.SessionIndex, 0, s.byKey.Len())
	for _, e := range s.byKey.Values() {
		idx := *e.index
		sessions = append(sessions, &idx)
	}
	slices.SortFunc(sessions, func(a, b *types.SessionIndex) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sessions, nil
}

// Update persists changes to the given session, setting UpdatedAt to now.
func (s *SessionStore) Update(_ context.Context, session *types.SessionIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(session.SessionID)
	if err != nil {
		return err
	}
	session.UpdatedAt = time.Now()
	idx := *session
	e.index = &idx
	return nil
}

// LoadState returns a copy of the conversation state of a session.
func (s *SessionStore) LoadState(_ context.Context, id types.SessionID) (conversation.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(id)
	if err != nil {
		return conversation.SessionState{}, err
	}
	return e.state.Clone(), nil
}

// SaveState replaces the conversation state of a session.
func (s *SessionStore) SaveState(_ context.Context, id types.SessionID, st conversation.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.state = st.Clone()
	e.index.UpdatedAt = time.Now()
	return nil
}

// Reset clears memory, the pending reminder and all reminders of a session.
func (s *SessionStore) Reset(ctx context.Context, id types.SessionID) error {
	return s.SaveState(ctx, id, conversation.SessionState{})
}

// Len returns the number of sessions held.
func (s *SessionStore) Len() int {
	return s.byKey.Len()
}
