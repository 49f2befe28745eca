package gateway

import (
	"context"
	"time"

	"github.com/user/taxprep/internal/types"
)

type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one unit of work against a session: a chat turn, a reminder
// change, an agenda read or a due check. Runs of one session never overlap.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Event     *types.InboundEvent
	Status    RunStatus
	Error     error

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	// Ctx is set when the run leaves its lane.
	Ctx        context.Context
	OnComplete func(response string)
}

func NewRun(sessionID types.SessionID, event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Kind is the effective event kind, or "" for a run without an event.
func (r *Run) Kind() types.EventKind {
	if r.Event == nil {
		return ""
	}
	return r.Event.EffectiveKind()
}

// Waited is the time spent queued behind earlier runs of the session.
func (r *Run) Waited() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.StartedAt.Sub(r.CreatedAt)
}

func (r *Run) begin(ctx context.Context) {
	r.Ctx = ctx
	r.StartedAt = time.Now()
	r.Status = RunStatusRunning
}

func (r *Run) end(err error) {
	r.EndedAt = time.Now()
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
		return
	}
	r.Status = RunStatusComplete
}

// Complete delivers the final reply to the caller, if anyone is listening.
func (r *Run) Complete(response string) {
	if r.OnComplete != nil {
		r.OnComplete(response)
	}
}
