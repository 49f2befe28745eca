package runtime

import (
	"context"
	"sort"

	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/types"
)

// Turn is what a handler sees: the run's event and a private copy of the
// session state. Handlers mutate State; the runtime saves it afterwards.
type Turn struct {
	SessionID types.SessionID
	Event     *types.InboundEvent
	State     conversation.SessionState
}

// Handler processes one kind of inbound event.
type Handler interface {
	Kind() types.EventKind
	Handle(ctx context.Context, turn *Turn) (string, error)
}

// HandlerFunc adapts a function to a Handler for the given kind.
func HandlerFunc(kind types.EventKind, fn func(ctx context.Context, turn *Turn) (string, error)) Handler {
	return handlerFunc{kind: kind, fn: fn}
}

type handlerFunc struct {
	kind types.EventKind
	fn   func(ctx context.Context, turn *Turn) (string, error)
}

func (h handlerFunc) Kind() types.EventKind { return h.kind }
func (h handlerFunc) Handle(ctx context.Context, turn *Turn) (string, error) {
	return h.fn(ctx, turn)
}

// Registry holds registered handlers and provides lookup by kind.
type Registry struct {
	handlers map[types.EventKind]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.EventKind]Handler)}
}

// Register adds a handler, replacing any previous one for the same kind.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Kind()] = h
}

// Get returns the handler for kind.
func (r *Registry) Get(kind types.EventKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []types.EventKind {
	out := make([]types.EventKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
