// Package runner provides execution contexts: places where units of work run.
//
// A Runner is borrowed by whoever schedules on it. Only the code that created a
// runner shuts it down.
package runner

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/helper"
	"github.com/on-the-ground/effect_ive_loop/effects/log"
	"go.uber.org/zap"
)

var ErrPanicInWork = errors.New("panic in scheduled work")

// Runner schedules work for execution and returns without waiting for it.
// Post reports whether the work was accepted; a runner that has been shut down
// drops new work and reports false.
type Runner interface {
	Post(work func()) bool
}

// Shutdowner is a Runner with an owner-controlled end of life.
type Shutdowner interface {
	Runner
	// Shutdown stops accepting new work. Work already queued still runs.
	Shutdown()
	// Done is closed once every goroutine of the runner has exited.
	Done() <-chan struct{}
}

// KeyedRunner runs work posted with equal keys in posting order.
type KeyedRunner interface {
	Runner
	PostKeyed(key string, work func()) bool
}

// Factory creates a fresh runner owned by the caller.
type Factory func() Runner

type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger that reports panics escaping scheduled work.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = log.OrDefault(o.logger)
	return o
}

// runSafely keeps a panicking work item from taking the worker goroutine down with it.
func runSafely(logger *zap.Logger, work func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in runner work", zap.Error(helper.Recovered(ErrPanicInWork, r)))
		}
	}()
	work()
}

// --- immediate ---

type immediate struct {
	logger *zap.Logger
}

// Immediate runs work inline on the posting goroutine.
func Immediate(opts ...Option) Runner {
	return immediate{logger: newOptions(opts).logger}
}

func (r immediate) Post(work func()) bool {
	runSafely(r.logger, work)
	return true
}

// --- goroutine per work item ---

type cached struct {
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	doneCh chan struct{}
	once   sync.Once
}

// Cached starts one goroutine per posted work item. Work items are unordered.
func Cached(opts ...Option) Shutdowner {
	return &cached{
		logger: newOptions(opts).logger,
		doneCh: make(chan struct{}),
	}
}

func (r *cached) Post(work func()) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runSafely(r.logger, work)
	}()
	return true
}

func (r *cached) Shutdown() {
	r.mu.Lock()
	closed := r.closed
	r.closed = true
	r.mu.Unlock()
	if closed {
		return
	}
	go func() {
		r.wg.Wait()
		r.once.Do(func() { close(r.doneCh) })
	}()
}

func (r *cached) Done() <-chan struct{} {
	return r.doneCh
}

// --- queues ---

// lane is an unbounded FIFO of work drained by its own goroutines. Adding never blocks.
type lane struct {
	mu      sync.Mutex
	ready   *sync.Cond
	items   *queue.Queue
	closed  bool
	backlog int
}

func newLane(backlog int) *lane {
	l := &lane{items: queue.New(), backlog: backlog}
	l.ready = sync.NewCond(&l.mu)
	return l
}

// push appends work and reports the queue length before it, or -1 once the lane is closed.
func (l *lane) push(work func()) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return -1
	}
	waiting := l.items.Length()
	l.items.Add(work)
	l.ready.Signal()
	return waiting
}

// pop waits for the next work item. It returns false once the lane is closed and empty.
func (l *lane) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.items.Length() == 0 && !l.closed {
		l.ready.Wait()
	}
	if l.items.Length() == 0 {
		return nil, false
	}
	return l.items.Remove().(func()), true
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.ready.Broadcast()
}

// pool is a set of lanes, each drained by workersPerQueue goroutines.
type pool struct {
	ID     string
	logger *zap.Logger

	queues []*lane
	next   atomic.Uint64
	closed atomic.Bool

	wg     sync.WaitGroup
	doneCh chan struct{}
}

func newPool(numQueues, workersPerQueue, bufferSize int, o options) *pool {
	p := &pool{
		ID:     newID(),
		logger: o.logger,
		queues: make([]*lane, numQueues),
		doneCh: make(chan struct{}),
	}

	ready := sync.WaitGroup{}
	for i := range p.queues {
		l := newLane(bufferSize)
		p.queues[i] = l
		for j := 0; j < workersPerQueue; j++ {
			ready.Add(1)
			p.wg.Add(1)
			go func(l *lane) {
				defer p.wg.Done()
				ready.Done()
				for {
					work, ok := l.pop()
					if !ok {
						return
					}
					runSafely(p.logger, work)
				}
			}(l)
		}
	}
	ready.Wait()

	go func() {
		p.wg.Wait()
		close(p.doneCh)
	}()

	p.logger.Debug("runner started",
		zap.String("runnerId", p.ID),
		zap.Int("queues", numQueues),
		zap.Int("workersPerQueue", workersPerQueue),
		zap.Int("bufferSize", bufferSize),
	)
	return p
}

func (p *pool) postTo(idx int, work func()) bool {
	l := p.queues[idx]
	waiting := l.push(work)
	if waiting < 0 {
		p.logger.Debug("work dropped by closed runner", zap.String("runnerId", p.ID))
		return false
	}
	if waiting == l.backlog {
		p.logger.Warn("runner backlog exceeds buffer size",
			zap.String("runnerId", p.ID),
			zap.Int("lane", idx),
			zap.Int("bufferSize", l.backlog),
		)
	}
	return true
}

// Post enqueues work without blocking, spreading it round-robin when there is more
// than one queue.
func (p *pool) Post(work func()) bool {
	idx := 0
	if len(p.queues) > 1 {
		idx = int((p.next.Add(1) - 1) % uint64(len(p.queues)))
	}
	return p.postTo(idx, work)
}

func (p *pool) Shutdown() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, l := range p.queues {
		l.close()
	}
	p.logger.Debug("runner shut down", zap.String("runnerId", p.ID))
}

func (p *pool) Done() <-chan struct{} {
	return p.doneCh
}
