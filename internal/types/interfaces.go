package types

import (
	"context"
)

// SessionStore maps session keys to sessions. Lookups by key never create
// a session; only ResolveOrCreate does.
type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey) (SessionID, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	GetByKey(ctx context.Context, key SessionKey) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
	// Reset clears the conversation held for a session but keeps its id.
	Reset(ctx context.Context, id SessionID) error
}
