package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/taxprep/internal/agenda"
	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/dateparse"
	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/ruleset"
	"github.com/user/taxprep/internal/state"
	"github.com/user/taxprep/internal/types"
)

var testNow = time.Date(2025, time.September, 10, 9, 30, 0, 0, time.UTC)

// mockNotifier records deliveries.
type mockNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockNotifier) Deliver(_ context.Context, key types.SessionKey, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, string(key)+"|"+msg)
	return m.err
}

type fixture struct {
	rt       *Runtime
	sessions *state.SessionStore
	sid      types.SessionID
	key      types.SessionKey
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sessions, err := state.NewSessionStore(10)
	if err != nil {
		t.Fatal(err)
	}
	rs, err := ruleset.Default()
	if err != nil {
		t.Fatal(err)
	}
	dates := dateparse.New(dateparse.WithClock(func() time.Time { return testNow }))
	machine := conversation.New(rs, dates)

	key := types.NewSessionKey("test", "user1")
	sid, err := sessions.ResolveOrCreate(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return &fixture{rt: New(machine, sessions, opts...), sessions: sessions, sid: sid, key: key}
}

// run processes one event synchronously and returns the reply.
func (f *fixture) run(t *testing.T, ev *types.InboundEvent) string {
	t.Helper()
	ev.SessionKey = f.key
	var reply string
	run := gateway.NewRun(f.sid, ev)
	run.OnComplete = func(resp string) { reply = resp }
	if err := f.rt.ProcessRun(run); err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	return reply
}

func (f *fixture) state(t *testing.T) conversation.SessionState {
	t.Helper()
	st, err := f.sessions.LoadState(context.Background(), f.sid)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestProcessRunMessage(t *testing.T) {
	f := newFixture(t)

	reply := f.run(t, &types.InboundEvent{Source: "test", Text: "I lost my job"})
	if !strings.Contains(reply, "Termination letter") {
		t.Errorf("expected job-loss checklist, got %q", reply)
	}
	if st := f.state(t); !st.Remembers("job_loss") {
		t.Errorf("expected job_loss persisted in memory, got %v", st.Memory)
	}

	sess, err := f.sessions.Get(context.Background(), f.sid)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Turns != 1 {
		t.Errorf("expected 1 turn, got %d", sess.Turns)
	}
	if sess.LastRunID == "" {
		t.Error("expected last run id to be recorded")
	}
}

func TestProcessRunConfirmationAcrossRuns(t *testing.T) {
	f := newFixture(t)
	f.run(t, &types.InboundEvent{Text: "2025-09-12"})
	reply := f.run(t, &types.InboundEvent{Text: "yes"})
	if !strings.HasPrefix(reply, "✅ Saved to calendar") {
		t.Errorf("unexpected reply %q", reply)
	}
	if st := f.state(t); len(st.Reminders) != 1 || st.Awaiting() {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestProcessRunReminderCRUD(t *testing.T) {
	f := newFixture(t)

	reply := f.run(t, &types.InboundEvent{
		Kind:     types.KindAddReminder,
		Reminder: &types.ReminderInput{Title: "Lodge", Date: "2025-13-01"},
	})
	if reply != "❌ Date must be in YYYY-MM-DD (e.g., 2025-09-10)." {
		t.Errorf("unexpected reply %q", reply)
	}
	if st := f.state(t); len(st.Reminders) != 0 {
		t.Errorf("invalid add changed state: %+v", st.Reminders)
	}

	reply = f.run(t, &types.InboundEvent{
		Kind:     types.KindAddReminder,
		Reminder: &types.ReminderInput{Title: "Lodge", Date: "2025-09-20", Time: "9:00"},
	})
	if reply != "✅ Added." {
		t.Errorf("unexpected reply %q", reply)
	}

	reply = f.run(t, &types.InboundEvent{Kind: types.KindToggleReminder, ReminderID: 1})
	if reply != "✅ Toggled." {
		t.Errorf("unexpected reply %q", reply)
	}
	reply = f.run(t, &types.InboundEvent{Kind: types.KindAgenda})
	if reply != "### 2025-09-20\n- [✅ Done] **Lodge** — 09:00" {
		t.Errorf("unexpected agenda %q", reply)
	}

	reply = f.run(t, &types.InboundEvent{Kind: types.KindDeleteReminder, ReminderID: 9})
	if reply != "Reminder 9 not found." {
		t.Errorf("unexpected reply %q", reply)
	}
	reply = f.run(t, &types.InboundEvent{Kind: types.KindDeleteReminder, ReminderID: 1})
	if reply != "🗑️ Deleted." {
		t.Errorf("unexpected reply %q", reply)
	}
	if reply := f.run(t, &types.InboundEvent{Kind: types.KindAgenda}); reply != "No reminders yet." {
		t.Errorf("unexpected agenda %q", reply)
	}

	sess, _ := f.sessions.Get(context.Background(), f.sid)
	if sess.Turns != 0 {
		t.Errorf("reminder operations must not count as turns, got %d", sess.Turns)
	}
}

func TestProcessRunDueCheck(t *testing.T) {
	notifier := &mockNotifier{}
	f := newFixture(t, WithNotifier(notifier))
	ctx := context.Background()

	st := f.state(t)
	st.Reminders = agenda.List{
		{ID: 1, Title: "Lodge", Date: "2025-09-10", Time: "09:00", Notes: "bring receipts"},
		{ID: 2, Title: "Later", Date: "2025-09-10", Time: "17:00"},
	}
	if err := f.sessions.SaveState(ctx, f.sid, st); err != nil {
		t.Fatal(err)
	}

	f.run(t, &types.InboundEvent{Kind: types.KindDueCheck})
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %v", notifier.sent)
	}
	want := "test:user1|⏰ Reminder due: 1 — Lodge (2025-09-10 09:00)\nbring receipts"
	if notifier.sent[0] != want {
		t.Errorf("unexpected notification %q", notifier.sent[0])
	}

	f.run(t, &types.InboundEvent{Kind: types.KindDueCheck})
	if len(notifier.sent) != 1 {
		t.Errorf("expected no repeat notification, got %v", notifier.sent)
	}
	if got := f.state(t).Reminders; !got[0].Notified || got[1].Notified {
		t.Errorf("unexpected notified flags %+v", got)
	}
}

func TestProcessRunDueCheckMarksOnDeliveryFailure(t *testing.T) {
	notifier := &mockNotifier{err: errors.New("no delivery target")}
	f := newFixture(t, WithNotifier(notifier))
	st := f.state(t)
	st.Reminders = agenda.List{{ID: 1, Title: "Lodge", Date: "2025-09-01"}}
	_ = f.sessions.SaveState(context.Background(), f.sid, st)

	f.run(t, &types.InboundEvent{Kind: types.KindDueCheck})
	if !f.state(t).Reminders[0].Notified {
		t.Error("expected reminder marked notified after a failed delivery")
	}
}

func TestProcessRunReset(t *testing.T) {
	f := newFixture(t)
	f.run(t, &types.InboundEvent{Text: "I had a baby on 2025-09-12"})
	if st := f.state(t); len(st.Memory) == 0 || !st.Awaiting() {
		t.Fatalf("expected memory and pending before reset, got %+v", st)
	}

	if reply := f.run(t, &types.InboundEvent{Kind: types.KindReset}); reply != ResetReply {
		t.Errorf("unexpected reply %q", reply)
	}
	st := f.state(t)
	if len(st.Memory) != 0 || st.Awaiting() || len(st.Reminders) != 0 {
		t.Errorf("expected empty state after reset, got %+v", st)
	}
}

func TestProcessRunUnknownKind(t *testing.T) {
	f := newFixture(t)
	run := gateway.NewRun(f.sid, &types.InboundEvent{Kind: "bogus", SessionKey: f.key})
	if err := f.rt.ProcessRun(run); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestProcessRunUnknownSession(t *testing.T) {
	f := newFixture(t)
	run := gateway.NewRun("missing", &types.InboundEvent{Text: "hi"})
	if err := f.rt.ProcessRun(run); !errors.Is(err, state.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryOverride(t *testing.T) {
	f := newFixture(t)
	f.rt.Registry().Register(HandlerFunc(types.KindAgenda, func(context.Context, *Turn) (string, error) {
		return "custom", nil
	}))
	if reply := f.run(t, &types.InboundEvent{Kind: types.KindAgenda}); reply != "custom" {
		t.Errorf("expected override, got %q", reply)
	}
	if n := len(f.rt.Registry().Kinds()); n != 7 {
		t.Errorf("expected 7 kinds, got %d", n)
	}
}

func TestProcessRunThroughGateway(t *testing.T) {
	f := newFixture(t)
	gw := gateway.New(f.sessions)
	gw.Queue.SetProcessor(f.rt.ProcessRun)
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := gw.Submit(ctx, &types.InboundEvent{SessionKey: "http:alice", Text: "I had a baby"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "Birth certificate") {
		t.Errorf("unexpected reply %q", reply)
	}
}
