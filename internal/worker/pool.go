// Package worker runs keyed tasks on a fixed set of goroutines.
//
// Tasks are identified by a key. At most one task per key is queued or running
// at any time; a Submit for a key that is already running marks it for one more
// run after the current one finishes. Keys are served in FIFO order.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// DefaultSize is the number of workers used when New is given a size < 1.
const DefaultSize = 4

// ErrPoolClosed is returned by Submit once Shutdown has started.
var ErrPoolClosed = errors.New("worker pool closed")

// Handler processes one unit of work for key. Returning true requeues the key
// at the tail of the queue.
type Handler func(ctx context.Context, key string) (again bool)

// PanicHandler is told about a recovered handler panic.
type PanicHandler func(key string, recovered *panics.Recovered)

type taskState int

const (
	stateQueued taskState = iota + 1
	stateRunning
	stateRerun
)

// Pool is a fixed-size worker pool with single-flight keys.
type Pool struct {
	size    int
	handler Handler
	onPanic PanicHandler
	log     *zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   deque.Deque[string]
	state   map[string]taskState
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New creates a stopped pool. Call Start to launch the workers.
func New(size int, handler Handler, logger *zerolog.Logger) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:    size,
		handler: handler,
		log:     logger,
		state:   make(map[string]taskState),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// OnPanic registers fn to be called after a handler panic is recovered.
// It must be called before Start.
func (p *Pool) OnPanic(fn PanicHandler) {
	p.onPanic = fn
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Go(p.loop)
	}
	p.log.Debug().Int("workers", p.size).Msg("worker pool started")
}

// Submit schedules a run for key. It never blocks on queue capacity.
func (p *Pool) Submit(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	switch p.state[key] {
	case stateQueued, stateRerun:
		return nil
	case stateRunning:
		p.state[key] = stateRerun
		return nil
	}
	p.enqueueLocked(key)
	return nil
}

// Pending returns the number of keys waiting for a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Shutdown stops accepting work, discards queued keys that have not started
// and waits for running handlers to return or ctx to expire. It returns the
// number of discarded keys.
func (p *Pool) Shutdown(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil
	}
	p.closed = true
	discarded := p.queue.Len()
	for p.queue.Len() > 0 {
		delete(p.state, p.queue.PopFront())
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.cancel()
	select {
	case <-done:
		p.log.Debug().Int("discarded", discarded).Msg("worker pool stopped")
		return discarded, nil
	case <-ctx.Done():
		return discarded, ctx.Err()
	}
}

func (p *Pool) enqueueLocked(key string) {
	p.state[key] = stateQueued
	p.queue.PushBack(key)
	p.cond.Signal()
}

func (p *Pool) loop() {
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		key := p.queue.PopFront()
		p.state[key] = stateRunning
		p.mu.Unlock()

		again := p.run(key)

		p.mu.Lock()
		if !p.closed && (again || p.state[key] == stateRerun) {
			p.enqueueLocked(key)
		} else {
			delete(p.state, key)
		}
		p.mu.Unlock()
	}
}

// run executes the handler. A panic is logged and reported, and the key is
// requeued so work buffered behind the failed unit is not stranded.
func (p *Pool) run(key string) bool {
	var (
		again bool
		pc    panics.Catcher
	)
	pc.Try(func() {
		again = p.handler(p.ctx, key)
	})
	if r := pc.Recovered(); r != nil {
		p.log.Error().
			Str("key", key).
			Interface("panic", r.Value).
			Bytes("stack", r.Stack).
			Msg("worker recovered from panic")
		if p.onPanic != nil {
			p.onPanic(key, r)
		}
		return true
	}
	return again
}
