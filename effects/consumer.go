package effects

import (
	"sync"
	"sync/atomic"
)

// SafeConsumer forwards values to a Consumer until it is closed.
//
// Close waits for deliveries already in progress, so once it returns the wrapped
// Consumer is never called again. A delivery that re-enters Accept while Close is
// pending is dropped. The wrapped Consumer must not call Close of the same
// SafeConsumer synchronously; that deadlocks.
type SafeConsumer[T any] struct {
	closed   atomic.Bool
	inflight atomic.Int64

	mu      sync.Mutex
	drained *sync.Cond

	out Consumer[T]
}

func NewSafeConsumer[T any](out Consumer[T]) *SafeConsumer[T] {
	s := &SafeConsumer[T]{out: out}
	s.drained = sync.NewCond(&s.mu)
	return s
}

// Accept delivers v and reports whether it was delivered.
func (s *SafeConsumer[T]) Accept(v T) bool {
	s.inflight.Add(1)
	defer s.release()
	if s.closed.Load() {
		return false
	}
	s.out(v)
	return true
}

func (s *SafeConsumer[T]) release() {
	if s.inflight.Add(-1) == 0 && s.closed.Load() {
		s.mu.Lock()
		s.drained.Broadcast()
		s.mu.Unlock()
	}
}

// Consumer returns s.Accept as a plain Consumer.
func (s *SafeConsumer[T]) Consumer() Consumer[T] {
	return func(v T) { s.Accept(v) }
}

func (s *SafeConsumer[T]) Close() {
	s.closed.Store(true)
	s.mu.Lock()
	for s.inflight.Load() > 0 {
		s.drained.Wait()
	}
	s.mu.Unlock()
}

// DiscardAfterDispose wraps c so that, for each connection, values accepted after
// Dispose are dropped instead of reaching the inner connection, and outputs produced
// after Dispose are dropped instead of reaching the consumer.
func DiscardAfterDispose[I, O any](c Connectable[I, O]) Connectable[I, O] {
	return ConnectableFunc[I, O](func(output Consumer[O]) Connection[I] {
		safe := NewSafeConsumer(output)
		conn := &discardAfterDisposeConnection[I, O]{output: safe}
		conn.inner = c.Connect(safe.Consumer())
		conn.lifecycle.Open()
		return conn
	})
}

type discardAfterDisposeConnection[I, O any] struct {
	inner     Connection[I]
	output    *SafeConsumer[O]
	lifecycle Lifecycle
}

func (c *discardAfterDisposeConnection[I, O]) Accept(value I) {
	if !c.lifecycle.IsOpen() {
		return
	}
	c.inner.Accept(value)
}

func (c *discardAfterDisposeConnection[I, O]) Dispose() {
	if !c.lifecycle.BeginDispose() {
		return
	}
	c.output.Close()
	c.inner.Dispose()
	c.lifecycle.FinishDispose()
}

// Done forwards to the inner connection when it can be drained.
func (c *discardAfterDisposeConnection[I, O]) Done() <-chan struct{} {
	if d, ok := c.inner.(Drainable); ok {
		return d.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}
