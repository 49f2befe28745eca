// internal/delivery/registry.go
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/user/taxprep/internal/types"
)

// ErrNoHandler is returned when no transport is registered for a session key.
var ErrNoHandler = errors.New("no delivery target")

// Handler delivers a message to the chat identified by sessionKey.
type Handler func(ctx context.Context, sessionKey types.SessionKey, message string) error

// Retrier re-runs a failing delivery; gateway.RetryPolicy satisfies it.
type Retrier interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// Registry routes outbound messages (due-reminder notifications) to the
// transport that owns the session, chosen by session key prefix
// (e.g. "telegram:"). The longest matching prefix wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	retry    Retrier
}

// NewRegistry creates an empty delivery registry. A nil retrier delivers
// exactly once.
func NewRegistry(retry Retrier) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		retry:    retry,
	}
}

// Register adds a handler for session keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Prefixes lists registered prefixes, sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(sessionKey types.SessionKey) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best    Handler
		bestLen = -1
	)
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(string(sessionKey), prefix) && len(prefix) > bestLen {
			best, bestLen = handler, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// Deliver finds the handler matching the session key prefix and calls it,
// retrying transient failures. Returns an error wrapping ErrNoHandler if no
// handler is registered for the key.
func (r *Registry) Deliver(ctx context.Context, sessionKey types.SessionKey, message string) error {
	handler, ok := r.lookup(sessionKey)
	if !ok {
		return fmt.Errorf("%w for session key: %s", ErrNoHandler, sessionKey)
	}
	send := func(ctx context.Context) error {
		return handler(ctx, sessionKey, message)
	}
	if r.retry == nil {
		return send(ctx)
	}
	return r.retry.Execute(ctx, send)
}
