package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/taxprep/internal/agenda"
	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/types"
)

// DefaultDueTime is when an untimed reminder falls due on its date.
const DefaultDueTime = "09:00"

// ResetReply answers a session reset.
const ResetReply = "🧹 Fresh start! I've cleared the events I remembered and your reminders."

// Store is the session store plus per-session conversation state.
type Store interface {
	types.SessionStore
	LoadState(ctx context.Context, id types.SessionID) (conversation.SessionState, error)
	SaveState(ctx context.Context, id types.SessionID, st conversation.SessionState) error
}

// Notifier pushes a message to the chat that owns a session.
type Notifier interface {
	Deliver(ctx context.Context, sessionKey types.SessionKey, message string) error
}

// RunObserver is told how every run ended.
type RunObserver interface {
	ObserveRun(kind types.EventKind, err error, elapsed time.Duration)
	ObserveNotification(delivered bool)
}

// Runtime executes runs against session state. Each run loads the state,
// dispatches on the event kind and saves the result; the gateway lane
// guarantees one run per session at a time.
type Runtime struct {
	machine     *conversation.Machine
	sessions    Store
	registry    *Registry
	notifier    Notifier
	observer    RunObserver
	now         func() time.Time
	defaultTime string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithNotifier enables delivery of due-reminder notifications.
func WithNotifier(n Notifier) Option {
	return func(rt *Runtime) { rt.notifier = n }
}

func WithRunObserver(o RunObserver) Option {
	return func(rt *Runtime) { rt.observer = o }
}

// WithClock sets the clock used for due checks; its location decides what
// "today" means for reminders.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) { rt.now = now }
}

// WithDefaultTime sets when untimed reminders fall due.
func WithDefaultTime(hhmm string) Option {
	return func(rt *Runtime) {
		if norm, ok := agenda.NormalizeTime(hhmm); ok {
			rt.defaultTime = norm
		}
	}
}

// New creates a Runtime with the built-in handlers registered.
func New(machine *conversation.Machine, sessions Store, opts ...Option) *Runtime {
	rt := &Runtime{
		machine:     machine,
		sessions:    sessions,
		registry:    NewRegistry(),
		now:         time.Now,
		defaultTime: DefaultDueTime,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.registry.Register(HandlerFunc(types.KindMessage, rt.handleMessage))
	rt.registry.Register(HandlerFunc(types.KindAddReminder, rt.handleAdd))
	rt.registry.Register(HandlerFunc(types.KindToggleReminder, rt.handleToggle))
	rt.registry.Register(HandlerFunc(types.KindDeleteReminder, rt.handleDelete))
	rt.registry.Register(HandlerFunc(types.KindAgenda, rt.handleAgenda))
	rt.registry.Register(HandlerFunc(types.KindDueCheck, rt.handleDueCheck))
	rt.registry.Register(HandlerFunc(types.KindReset, rt.handleReset))
	return rt
}

// Registry exposes the handler registry so callers can add or override kinds.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// ProcessRun executes a single run. This is the function passed to
// Queue.SetProcessor.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if run.Event == nil {
		return errors.New("run has no event")
	}
	kind := run.Event.EffectiveKind()
	log := slog.With("run_id", string(run.ID), "session_id", string(run.SessionID), "event", string(kind))

	handler, ok := rt.registry.Get(kind)
	if !ok {
		return fmt.Errorf("unknown event kind %q", kind)
	}

	st, err := rt.sessions.LoadState(ctx, run.SessionID)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	turn := &Turn{SessionID: run.SessionID, Event: run.Event, State: st}
	started := time.Now()
	reply, err := handler.Handle(ctx, turn)
	if rt.observer != nil {
		rt.observer.ObserveRun(kind, err, time.Since(started))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}

	if err := rt.sessions.SaveState(ctx, run.SessionID, turn.State); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	sess, err := rt.sessions.Get(ctx, run.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if kind == types.KindMessage {
		sess.Turns++
	}
	sess.LastRunID = run.ID
	if err := rt.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	log.Debug("run complete", "reminders", len(turn.State.Reminders), "pending", turn.State.Awaiting())
	run.Complete(reply)
	return nil
}

func (rt *Runtime) handleMessage(_ context.Context, turn *Turn) (string, error) {
	reply, next := rt.machine.ProcessTurn(turn.Event.Text, turn.State)
	turn.State = next
	return reply, nil
}

func (rt *Runtime) handleAdd(_ context.Context, turn *Turn) (string, error) {
	var in types.ReminderInput
	if turn.Event.Reminder != nil {
		in = *turn.Event.Reminder
	}
	list, status, err := agenda.Add(turn.State.Reminders, in.Title, in.Date, in.Time, in.Notes)
	if err != nil {
		slog.Debug("reminder rejected", "session_id", string(turn.SessionID), "error", err)
		return status, nil
	}
	turn.State.Reminders = list
	return status, nil
}

func (rt *Runtime) handleToggle(_ context.Context, turn *Turn) (string, error) {
	list, status, err := agenda.Toggle(turn.State.Reminders, turn.Event.ReminderID)
	if err != nil {
		slog.Debug("toggle rejected", "session_id", string(turn.SessionID), "error", err)
		return status, nil
	}
	turn.State.Reminders = list
	return status, nil
}

func (rt *Runtime) handleDelete(_ context.Context, turn *Turn) (string, error) {
	list, status, err := agenda.Delete(turn.State.Reminders, turn.Event.ReminderID)
	if err != nil {
		slog.Debug("delete rejected", "session_id", string(turn.SessionID), "error", err)
		return status, nil
	}
	turn.State.Reminders = list
	return status, nil
}

func (rt *Runtime) handleAgenda(_ context.Context, turn *Turn) (string, error) {
	return agenda.Render(turn.State.Reminders), nil
}

// handleDueCheck notifies the owner of every reminder that has fallen due.
// Reminders are marked notified whether or not delivery succeeded, so a
// broken transport never causes repeated notifications.
func (rt *Runtime) handleDueCheck(ctx context.Context, turn *Turn) (string, error) {
	due := agenda.Due(turn.State.Reminders, rt.now(), rt.defaultTime)
	if len(due) == 0 {
		return "", nil
	}
	var lines []string
	for _, id := range due {
		r, _ := turn.State.Reminders.Find(id)
		msg := "⏰ Reminder due: " + r.Label()
		if r.Notes != "" {
			msg += "\n" + r.Notes
		}
		lines = append(lines, msg)

		if rt.notifier == nil {
			continue
		}
		err := rt.notifier.Deliver(ctx, turn.Event.SessionKey, msg)
		if rt.observer != nil {
			rt.observer.ObserveNotification(err == nil)
		}
		if err != nil {
			slog.Warn("reminder notification failed", "session_key", string(turn.Event.SessionKey), "reminder_id", id, "error", err)
		}
	}
	turn.State.Reminders = agenda.MarkNotified(turn.State.Reminders, due)
	return strings.Join(lines, "\n"), nil
}

func (rt *Runtime) handleReset(_ context.Context, turn *Turn) (string, error) {
	turn.State = conversation.SessionState{}
	return ResetReply, nil
}
