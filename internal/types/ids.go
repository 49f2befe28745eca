package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SessionKey names a conversation by transport and address, for example
// "telegram:<user>:<chat>", "http:<user>" or "cli:<user>".
type SessionKey string

// SessionID is the opaque id the store assigns to a SessionKey.
type SessionID string

// RunID identifies one gateway run.
type RunID string

const keySeparator = ":"

// ErrInvalidSessionKey is returned for keys without a transport and an
// address.
var ErrInvalidSessionKey = errors.New("invalid session key")

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, keySeparator))
}

// Prefix returns the transport part of the key ("telegram", "http", ...).
func (k SessionKey) Prefix() string {
	p, _, _ := strings.Cut(string(k), keySeparator)
	return p
}

// Parts splits the key on its separator.
func (k SessionKey) Parts() []string {
	return strings.Split(string(k), keySeparator)
}

// Validate requires a non-empty transport and a non-empty address.
func (k SessionKey) Validate() error {
	prefix, rest, ok := strings.Cut(string(k), keySeparator)
	if !ok || strings.TrimSpace(prefix) == "" || strings.TrimSpace(rest) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidSessionKey, string(k))
	}
	return nil
}
