package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// ErrRunnerClosed is returned by Submit after Shutdown has begun.
var ErrRunnerClosed = errors.New("runner closed")

// Task is one unit of background work.  ctx is derived from the runner's
// base context and is cancelled only by Shutdown.
type Task func(ctx context.Context) error

type queuedTask struct {
	name string
	fn   Task
}

// Runner executes tasks outside of any request scope.  Tasks submitted for
// the same deck run one at a time in submit order; different decks run
// concurrently.
type Runner struct {
	base   context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu     sync.Mutex
	queues map[uint64][]queuedTask
	closed bool
	wg     sync.WaitGroup
}

// NewRunner returns a runner whose tasks inherit nothing from any caller.
func NewRunner(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		base:   base,
		cancel: cancel,
		log:    log,
		queues: make(map[uint64][]queuedTask),
	}
}

// Submit queues fn for deckID.  It never blocks on the task itself.
func (r *Runner) Submit(deckID uint64, name string, fn Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	pending, running := r.queues[deckID]
	r.queues[deckID] = append(pending, queuedTask{name: name, fn: fn})
	if !running {
		r.wg.Add(1)
		go r.drain(deckID)
	}
	return nil
}

// Active reports whether deckID has queued or running work.
func (r *Runner) Active(deckID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[deckID]
	return ok
}

// Shutdown stops accepting tasks and waits for the queued ones.  When ctx
// expires first the base context is cancelled so running tasks can bail out,
// and ctx's error is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) drain(deckID uint64) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		pending := r.queues[deckID]
		if len(pending) == 0 {
			delete(r.queues, deckID)
			r.mu.Unlock()
			return
		}
		t := pending[0]
		r.mu.Unlock()

		r.run(deckID, t)

		r.mu.Lock()
		r.queues[deckID] = r.queues[deckID][1:]
		r.mu.Unlock()
	}
}

func (r *Runner) run(deckID uint64, t queuedTask) {
	log := r.log.With(zap.String("task", t.name), zap.Uint64("deck_id", deckID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("background task panicked",
				zap.String("panic", fmt.Sprint(p)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := t.fn(r.base); err != nil {
		log.Error("background task failed", zap.Error(err))
		return
	}
	log.Debug("background task finished")
}
