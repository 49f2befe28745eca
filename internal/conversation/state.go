package conversation

import (
	"slices"

	"github.com/user/taxprep/internal/agenda"
)

// PendingReminder is a detected date waiting for the user to confirm it.
type PendingReminder struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Time  string `json:"time"`
	Notes string `json:"notes"`
}

// SessionState is everything one conversation remembers between turns. It
// is passed into and returned from every turn; nothing is shared between
// sessions.
type SessionState struct {
	// Memory holds event keys in the order they were first detected.
	Memory    []string         `json:"memory"`
	Pending   *PendingReminder `json:"pending,omitempty"`
	Reminders agenda.List      `json:"reminders"`
}

// Awaiting reports whether a pending reminder needs confirmation.
func (s SessionState) Awaiting() bool {
	return s.Pending != nil
}

// Remembers reports whether key is already in session memory.
func (s SessionState) Remembers(key string) bool {
	return slices.Contains(s.Memory, key)
}

// Remember appends key unless present. Memory never shrinks.
func (s *SessionState) Remember(key string) {
	if !s.Remembers(key) {
		s.Memory = append(s.Memory, key)
	}
}

// Clone returns a deep copy so callers can keep the previous state.
func (s SessionState) Clone() SessionState {
	out := SessionState{
		Memory:    slices.Clone(s.Memory),
		Reminders: s.Reminders.Clone(),
	}
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	return out
}
