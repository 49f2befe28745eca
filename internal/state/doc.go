// Package state holds sessions in memory: the key to id mapping, the
// session index shown by the API, and each session's conversation state
// (chat memory, pending reminder, agenda). Nothing is persisted; a restart
// or an LRU eviction forgets the session.
package state

import "github.com/user/taxprep/internal/types"

var _ types.SessionStore = (*SessionStore)(nil)
