// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/state"
	"github.com/user/taxprep/internal/types"
)

func newStore(t *testing.T, keys ...types.SessionKey) *state.SessionStore {
	t.Helper()
	store, err := state.NewSessionStore(10)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if _, err := store.ResolveOrCreate(context.Background(), k); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestSchedulerTickEnqueuesDueChecks(t *testing.T) {
	store := newStore(t, "telegram:1:1", "http:alice")

	var mu sync.Mutex
	var got []*types.InboundEvent
	sched := New("", store, func(_ context.Context, _ types.SessionID, ev *types.InboundEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	})

	if n := sched.Tick(context.Background()); n != 2 {
		t.Fatalf("expected 2 due checks, got %d", n)
	}
	for _, ev := range got {
		if ev.Kind != types.KindDueCheck || ev.Source != "scheduler" {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestSchedulerTickSkipsFailedEnqueue(t *testing.T) {
	store := newStore(t, "telegram:1:1", "http:alice")
	sched := New("", store, func(_ context.Context, _ types.SessionID, ev *types.InboundEvent) error {
		if ev.SessionKey == "http:alice" {
			return errors.New("queue full")
		}
		return nil
	})
	if n := sched.Tick(context.Background()); n != 1 {
		t.Errorf("expected 1 enqueued check, got %d", n)
	}
}

func TestSchedulerFires(t *testing.T) {
	store := newStore(t, "telegram:123:123")

	var fires atomic.Int32
	sched := New("* * * * * *", store, func(context.Context, types.SessionID, *types.InboundEvent) error {
		fires.Add(1)
		return nil
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("due check did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	sched := New("not a schedule", newStore(t), func(context.Context, types.SessionID, *types.InboundEvent) error { return nil })
	if err := sched.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := ValidateSchedule("@every 1m"); err != nil {
		t.Errorf("expected @every 1m to be valid: %v", err)
	}
	if err := ValidateSchedule("61 * * * *"); err == nil {
		t.Error("expected minute 61 to be rejected")
	}
}

func TestSchedulerTickKeepsLRUOrder(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewSessionStore(2)
	if err != nil {
		t.Fatal(err)
	}
	gw := gateway.New(store)
	done := make(chan struct{}, 2)
	gw.Queue.SetProcessor(func(run *gateway.Run) error {
		defer func() { done <- struct{}{} }()
		st, err := store.LoadState(run.Ctx, run.SessionID)
		if err != nil {
			return err
		}
		return store.SaveState(run.Ctx, run.SessionID, st)
	})
	gw.Start(ctx)
	defer gw.Stop()

	alice, _ := store.ResolveOrCreate(ctx, "http:alice")
	bob, _ := store.ResolveOrCreate(ctx, "http:bob")
	// alice is active again; bob is now the least recently used.
	if _, err := store.ResolveOrCreate(ctx, "http:alice"); err != nil {
		t.Fatal(err)
	}

	sched := New("", store, func(ctx context.Context, id types.SessionID, ev *types.InboundEvent) error {
		return gw.HandleSession(ctx, id, ev)
	})
	if n := sched.Tick(ctx); n != 2 {
		t.Fatalf("expected 2 due checks, got %d", n)
	}
	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("due check did not run")
		}
	}

	if _, err := store.ResolveOrCreate(ctx, "http:carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, alice); err != nil {
		t.Errorf("active session was evicted after a tick: %v", err)
	}
	if _, err := store.Get(ctx, bob); !errors.Is(err, state.ErrSessionNotFound) {
		t.Errorf("expected idle session to be evicted, got %v", err)
	}
}
