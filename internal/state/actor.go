package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/chatrelay/internal/types"
)

// ActorsConfig tunes the lane pool.
type ActorsConfig struct {
	// MaxConcurrent bounds how many lanes may run a storage operation at once.
	MaxConcurrent int64
	// LaneBuffer is the number of operations that may wait in one lane.
	LaneBuffer int
	// IdleTimeout retires a lane goroutine after this long without work.
	// Zero keeps lanes for the life of the process.
	IdleTimeout time.Duration
}

// Actors gives every session ID its own FIFO lane drained by a single
// goroutine, so all operations for one session run one at a time and in
// arrival order, while operations for different sessions run concurrently.
// A weighted semaphore limits how many lanes touch storage simultaneously.
//
// The first operation handled by a fresh lane initializes the session
// (createdAt/updatedAt) before running.
type Actors struct {
	store       *SessionStore
	lanes       map[types.SessionID]*lane
	semaphore   *semaphore.Weighted
	laneBuffer  int
	idleTimeout time.Duration
	observe     func(lanes int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type lane struct {
	ops         chan *op
	initialized bool
}

type op struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// NewActors creates the lane pool over store.
func NewActors(store *SessionStore, cfg ActorsConfig) *Actors {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = 100
	}
	return &Actors{
		store:       store,
		lanes:       make(map[types.SessionID]*lane),
		semaphore:   semaphore.NewWeighted(cfg.MaxConcurrent),
		laneBuffer:  cfg.LaneBuffer,
		idleTimeout: cfg.IdleTimeout,
	}
}

// Start initialises the pool's context. Must be called before any operation.
func (a *Actors) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
}

// Stop cancels the pool context, closes all lanes, and waits for lane
// goroutines to exit. Operations still queued fail with ErrStorageUnavailable.
func (a *Actors) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	a.closed = true
	for id, l := range a.lanes {
		close(l.ops)
		delete(a.lanes, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// OnLaneChange registers a callback invoked with the live lane count whenever
// a lane is created or retired.
func (a *Actors) OnLaneChange(fn func(lanes int)) {
	a.observe = fn
}

// Lanes returns the number of live lanes.
func (a *Actors) Lanes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lanes)
}

// enqueue adds o to the session's lane, creating the lane (and its goroutine)
// on first use. Fails if the lane's buffer is full or the pool is stopped.
func (a *Actors) enqueue(id types.SessionID, o *op) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.ctx == nil {
		return fmt.Errorf("%w: session actors not running", types.ErrStorageUnavailable)
	}

	l, exists := a.lanes[id]
	if !exists {
		l = &lane{ops: make(chan *op, a.laneBuffer)}
		a.lanes[id] = l
		a.wg.Add(1)
		go a.processLane(id, l)
		a.notify()
	}

	select {
	case l.ops <- o:
		return nil
	default:
		return fmt.Errorf("%w: lane full for session %s", types.ErrStorageUnavailable, id)
	}
}

// do runs fn on the session's lane and waits for its result.
func (a *Actors) do(ctx context.Context, id types.SessionID, fn func(ctx context.Context) error) error {
	o := &op{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := a.enqueue(id, o); err != nil {
		return err
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", types.ErrStorageUnavailable, ctx.Err())
	}
}

// processLane drains a single lane. Each operation acquires a semaphore slot
// and runs synchronously, which keeps FIFO order within the session.
func (a *Actors) processLane(id types.SessionID, l *lane) {
	defer a.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if a.idleTimeout > 0 {
		timer = time.NewTimer(a.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case o, ok := <-l.ops:
			if !ok {
				return
			}
			o.done <- a.run(id, l, o)
			if timer != nil {
				timer.Reset(a.idleTimeout)
			}
		case <-idle:
			if a.retire(id, l) {
				return
			}
			timer.Reset(a.idleTimeout)
		case <-a.ctx.Done():
			a.drain(l)
			return
		}
	}
}

func (a *Actors) run(id types.SessionID, l *lane, o *op) error {
	if err := a.semaphore.Acquire(o.ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStorageUnavailable, err)
	}
	defer a.semaphore.Release(1)

	if !l.initialized {
		if err := a.store.EnsureInitialized(o.ctx, id); err != nil {
			slog.Error("session init failed", "session_id", string(id), "error", err)
			return err
		}
		l.initialized = true
	}
	return o.fn(o.ctx)
}

// retire removes an idle lane from the pool. It refuses if work arrived
// between the idle timer firing and the lock being taken.
func (a *Actors) retire(id types.SessionID, l *lane) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(l.ops) > 0 {
		return false
	}
	if a.lanes[id] == l {
		delete(a.lanes, id)
		a.notify()
	}
	return true
}

func (a *Actors) drain(l *lane) {
	for {
		select {
		case o, ok := <-l.ops:
			if !ok {
				return
			}
			o.done <- fmt.Errorf("%w: session actors stopped", types.ErrStorageUnavailable)
		default:
			return
		}
	}
}

// notify reports the lane count. Caller must hold a.mu.
func (a *Actors) notify() {
	if a.observe != nil {
		a.observe(len(a.lanes))
	}
}

// EnsureInitialized creates the session's metadata if it does not exist.
func (a *Actors) EnsureInitialized(ctx context.Context, id types.SessionID) error {
	return a.do(ctx, id, func(ctx context.Context) error {
		return a.store.EnsureInitialized(ctx, id)
	})
}

// AppendMessage appends one message to the session log.
func (a *Actors) AppendMessage(ctx context.Context, id types.SessionID, role types.Role, content string, timestamp int64) (*types.Message, error) {
	var msg *types.Message
	err := a.do(ctx, id, func(ctx context.Context) error {
		var err error
		msg, err = a.store.AppendMessage(ctx, id, role, content, timestamp)
		return err
	})
	return msg, err
}

// RecentMessages returns the newest limit messages, oldest first.
func (a *Actors) RecentMessages(ctx context.Context, id types.SessionID, limit int) ([]types.Message, error) {
	var messages []types.Message
	err := a.do(ctx, id, func(ctx context.Context) error {
		var err error
		messages, err = a.store.RecentMessages(ctx, id, limit)
		return err
	})
	return messages, err
}

// SetSummary overwrites the session summary.
func (a *Actors) SetSummary(ctx context.Context, id types.SessionID, summary string) error {
	return a.do(ctx, id, func(ctx context.Context) error {
		return a.store.SetSummary(ctx, id, summary)
	})
}

// Summary returns the session summary, if any.
func (a *Actors) Summary(ctx context.Context, id types.SessionID) (string, bool, error) {
	var (
		summary string
		ok      bool
	)
	err := a.do(ctx, id, func(ctx context.Context) error {
		var err error
		summary, ok, err = a.store.Summary(ctx, id)
		return err
	})
	return summary, ok, err
}

// Export returns the full session record.
func (a *Actors) Export(ctx context.Context, id types.SessionID) (*types.SessionExport, error) {
	var export *types.SessionExport
	err := a.do(ctx, id, func(ctx context.Context) error {
		var err error
		export, err = a.store.Export(ctx, id)
		return err
	})
	return export, err
}
