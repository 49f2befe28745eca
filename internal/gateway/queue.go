package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/taxprep/internal/types"
)

const (
	laneBuffer = 100
	// laneIdle is how long a lane goroutine waits for work before it exits.
	// The session store evicts idle sessions, so lanes must not outlive them.
	laneIdle = 5 * time.Minute
)

// FailureReply is sent to the caller when a run returns an error.
const FailureReply = "Sorry, something went wrong processing your message."

// ErrQueueClosed is returned by Enqueue before Start and after Stop.
var ErrQueueClosed = errors.New("queue closed")

// Queue runs each session's runs one at a time, in arrival order, on a
// per-session lane. A weighted semaphore bounds how many lanes execute at
// once.
type Queue struct {
	mu        sync.Mutex
	lanes     map[types.SessionID]chan *Run
	closed    bool
	slots     *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64
	idle      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QueueStats is a point-in-time view of the queue for metrics.
type QueueStats struct {
	Lanes  int
	Active int64
}

func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes: make(map[types.SessionID]chan *Run),
		slots: semaphore.NewWeighted(maxConcurrent),
		idle:  laneIdle,
	}
}

// SetProcessor sets the function invoked for each run. Call before Start.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight work, closes every lane and waits for the lane
// goroutines. It is safe to call more than once.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for id, lane := range q.lanes {
			close(lane)
			delete(q.lanes, id)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends run to its session's lane, starting the lane on first use.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.ctx == nil {
		return ErrQueueClosed
	}

	lane, ok := q.lanes[run.SessionID]
	if !ok {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.SessionID] = lane
		q.wg.Add(1)
		go q.drain(run.SessionID, lane)
	}
	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("session %s has %d runs waiting", run.SessionID, laneBuffer)
	}
}

// drain executes a lane's runs in order until the lane is closed, the queue
// stops, or the lane has been empty for q.idle.
func (q *Queue) drain(id types.SessionID, lane chan *Run) {
	defer q.wg.Done()
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.slots.Acquire(q.ctx, 1); err != nil {
				return
			}
			if q.processor != nil {
				q.active.Add(1)
				q.execute(run)
				q.active.Add(-1)
			}
			q.slots.Release(1)
			timer.Reset(q.idle)
		case <-timer.C:
			if q.retire(id, lane) {
				return
			}
			timer.Reset(q.idle)
		case <-q.ctx.Done():
			slog.Debug("lane stopped", "session_id", string(id))
			return
		}
	}
}

// retire removes an empty lane. Enqueue sends under q.mu, so nothing can
// slip into the lane between the length check and the delete.
func (q *Queue) retire(id types.SessionID, lane chan *Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(lane) > 0 || q.lanes[id] != lane {
		return false
	}
	delete(q.lanes, id)
	slog.Debug("lane retired", "session_id", string(id))
	return true
}

func (q *Queue) execute(run *Run) {
	run.begin(q.ctx)
	err := q.processor(run)
	run.end(err)
	if err != nil {
		slog.Error("run failed",
			"run_id", string(run.ID),
			"session_id", string(run.SessionID),
			"event", string(run.Kind()),
			"waited", run.Waited(),
			"error", err,
		)
		run.Complete(FailureReply)
	}
}

// WaitIdle polls until no run is executing or timeout passes.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for q.active.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
	return true
}

// Lanes returns the number of live session lanes.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{Lanes: q.Lanes(), Active: q.active.Load()}
}
