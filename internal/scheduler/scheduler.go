// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/taxprep/internal/types"
)

// DefaultSchedule checks for due reminders once a minute.
const DefaultSchedule = "@every 1m"

// Enqueue hands a due check for an existing session to the gateway;
// gateway.Gateway.HandleSession fits. It must not resolve the session by
// key, or every tick would refresh each session's LRU position.
type Enqueue func(ctx context.Context, id types.SessionID, event *types.InboundEvent) error

// Scheduler periodically enqueues a due check on every known session. The
// check itself runs on the session's lane like any other run, so it never
// races with a chat turn.
type Scheduler struct {
	schedule string
	sessions types.SessionStore
	enqueue  Enqueue
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is an accepted cron expression.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New creates a Scheduler. An empty schedule uses DefaultSchedule.
func New(schedule string, sessions types.SessionStore, enqueue Enqueue) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		schedule: schedule,
		sessions: sessions,
		enqueue:  enqueue,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the due-check job and starts the cron ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Tick(s.ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("reminder checks scheduled", "schedule", s.schedule)
	return nil
}

// Tick enqueues a due check for every session and returns how many were
// enqueued.
func (s *Scheduler) Tick(ctx context.Context) int {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions for due check", "error", err)
		return 0
	}
	n := 0
	for _, sess := range sessions {
		ev := &types.InboundEvent{
			Kind:       types.KindDueCheck,
			Source:     "scheduler",
			SessionKey: sess.SessionKey,
			At:         time.Now(),
		}
		if err := s.enqueue(ctx, sess.SessionID, ev); err != nil {
			slog.Warn("enqueue due check", "session_key", string(sess.SessionKey), "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		slog.Debug("due checks enqueued", "sessions", n)
	}
	return n
}

// Stop stops the cron ticker and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
}
