// Package gateway turns inbound events into runs on per-session lanes.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/taxprep/internal/types"
)

const defaultConcurrency = 2

// Gateway resolves the session for each inbound event and queues the event
// as a Run on that session's lane.
type Gateway struct {
	sessions types.SessionStore
	Queue    *Queue
	retry    *RetryPolicy
	cancel   context.CancelFunc
}

type Option func(*gatewayConfig)

type gatewayConfig struct {
	concurrency int64
	retry       *RetryPolicy
}

// WithConcurrency caps how many sessions are processed in parallel.
func WithConcurrency(n int) Option {
	return func(c *gatewayConfig) {
		if n > 0 {
			c.concurrency = int64(n)
		}
	}
}

// WithRetryPolicy replaces the policy handed to outbound deliveries.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *gatewayConfig) {
		if p != nil {
			c.retry = p
		}
	}
}

func New(sessions types.SessionStore, opts ...Option) *Gateway {
	cfg := gatewayConfig{concurrency: defaultConcurrency, retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Gateway{
		sessions: sessions,
		Queue:    NewQueue(cfg.concurrency),
		retry:    cfg.retry,
	}
}

// Start begins accepting runs. Runs see a context derived from ctx.
func (g *Gateway) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(ctx)
}

// Stop cancels running work and waits for the lanes to wind down.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// Retry returns the policy used for outbound deliveries.
func (g *Gateway) Retry() *RetryPolicy {
	return g.retry
}

// Sessions returns the store the gateway resolves sessions from.
func (g *Gateway) Sessions() types.SessionStore {
	return g.sessions
}

// RunOption configures a Run before it is queued.
type RunOption func(*Run)

// WithOnComplete sets the callback that receives the run's reply.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// HandleInbound queues event without waiting for it. The session is
// created on first contact.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if event == nil {
		return errors.New("nil event")
	}
	sessionID, err := g.sessions.ResolveOrCreate(ctx, event.SessionKey)
	if err != nil {
		return fmt.Errorf("resolve session %q: %w", event.SessionKey, err)
	}
	run := NewRun(sessionID, event)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// HandleSession queues event on a session that already exists, without
// resolving its key. Background work (due checks) uses it so it does not
// count as session activity.
func (g *Gateway) HandleSession(_ context.Context, id types.SessionID, event *types.InboundEvent, opts ...RunOption) error {
	if event == nil {
		return errors.New("nil event")
	}
	if id == "" {
		return errors.New("empty session id")
	}
	run := NewRun(id, event)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// Submit queues event and blocks for its reply. Request/response transports
// (the HTTP API and the local REPL) use it.
func (g *Gateway) Submit(ctx context.Context, event *types.InboundEvent) (string, error) {
	replies := make(chan string, 1)
	deliver := func(resp string) {
		select {
		case replies <- resp:
		default:
		}
	}
	if err := g.HandleInbound(ctx, event, WithOnComplete(deliver)); err != nil {
		return "", err
	}
	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
