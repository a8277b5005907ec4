// Package pipe converts between channel pipelines and connectables.
//
// FromPipe turns a pipeline stage into an effects.Connectable, so a goroutine-and-channel
// transformer can serve as an effect handler. ToPipe goes the other way and drives any
// Connectable from an input channel.
package pipe

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/log"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	ctx        context.Context
	bufferSize int
	logger     *zap.Logger
}

func newOptions(opts []Option) options {
	o := options{bufferSize: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if o.bufferSize < 0 {
		o.bufferSize = 0
	}
	o.logger = log.OrDefault(o.logger)
	return o
}

// WithContext sets the parent context of every pipeline.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithBufferSize sets the capacity of the channels created by this package.
func WithBufferSize(n int) Option {
	return func(o *options) {
		o.bufferSize = n
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// FromPipe creates a Connectable running stage once per connection. Accepted values are
// sent to the stage's input, and every value the stage emits goes to the consumer.
// Dispose cancels the stage's context and closes its input; values emitted after
// Dispose are dropped.
func FromPipe[I, O any](stage func(ctx context.Context, in <-chan I) <-chan O, opts ...Option) effects.Connectable[I, O] {
	o := newOptions(opts)
	return effects.DiscardAfterDispose[I, O](
		effects.ConnectableFunc[I, O](func(output effects.Consumer[O]) effects.Connection[I] {
			return startStage(o, stage, output)
		}),
	)
}

type stageConnection[I any] struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	in     chan I

	doneCh chan struct{}
}

func startStage[I, O any](o options, stage func(context.Context, <-chan I) <-chan O, output effects.Consumer[O]) *stageConnection[I] {
	ctx, cancel := context.WithCancel(o.ctx)
	c := &stageConnection[I]{
		id:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		in:     make(chan I, o.bufferSize),
		doneCh: make(chan struct{}),
	}
	c.logger = o.logger.With(zap.String("connectionId", c.id))

	out := stage(ctx, c.in)
	go func() {
		defer close(c.doneCh)
		for {
			select {
			case v, ok := <-out:
				if !ok {
					c.logger.Debug("pipeline stage completed")
					return
				}
				output(v)
			case <-ctx.Done():
				return
			}
		}
	}()
	return c
}

// Accept blocks while the stage's input is full, until the connection is disposed.
func (c *stageConnection[I]) Accept(v I) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.in <- v:
	case <-c.ctx.Done():
		c.logger.Debug("value dropped by cancelled pipeline")
	}
}

func (c *stageConnection[I]) Dispose() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.in)
}

// Done is closed once the goroutine forwarding the stage's output has exited.
func (c *stageConnection[I]) Done() <-chan struct{} {
	return c.doneCh
}

// ToPipe connects c and feeds it from in. The returned channel carries c's events and
// is closed once in is closed or ctx ends; the connection is disposed at that point,
// so events produced afterwards are dropped.
func ToPipe[I, O any](ctx context.Context, c effects.Connectable[I, O], in <-chan I, opts ...Option) <-chan O {
	o := newOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan O, o.bufferSize)

	guard := effects.NewSafeConsumer[O](func(v O) {
		select {
		case out <- v:
		case <-ctx.Done():
		}
	})
	conn := c.Connect(guard.Consumer())

	go func() {
		defer close(out)
		defer conn.Dispose()
		// unblocks pending sends before guard.Close waits for them
		defer guard.Close()
		defer cancel()

		for {
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				conn.Accept(v)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
