package effects

import (
	"context"
	"errors"
)

// ErrDisposed is returned when work is offered to a connection that has been disposed.
var ErrDisposed = errors.New("connection disposed")

// Consumer receives values pushed by a connection. It may be called from any goroutine.
type Consumer[T any] func(T)

// Connection is the input side of a live binding between an effect source and an
// event consumer.
type Connection[I any] interface {
	// Accept hands one value to the connection. It must not block on the work
	// the value triggers.
	Accept(value I)

	// Dispose releases the connection. It is idempotent.
	Dispose()
}

// Connectable creates independent connections, one per output consumer.
type Connectable[I, O any] interface {
	Connect(output Consumer[O]) Connection[I]
}

// ConnectableFunc adapts a plain function to the Connectable interface.
type ConnectableFunc[I, O any] func(output Consumer[O]) Connection[I]

func (f ConnectableFunc[I, O]) Connect(output Consumer[O]) Connection[I] {
	return f(output)
}

// WorkRunner runs units of work on some execution context.
type WorkRunner interface {
	RunOn(work func())
	Dispose()
}

// Partitionable effects carry a key; runners that support keyed lanes keep
// effects with the same key in acceptance order.
type Partitionable interface {
	PartitionKey() string
}

// Drainable is implemented by connections whose in-flight work can be observed
// after Dispose. Done is closed once every task has returned.
type Drainable interface {
	Done() <-chan struct{}
}

// Await blocks until conn has drained its in-flight work or ctx ends.
// Connections that are not Drainable are considered drained immediately.
func Await[I any](ctx context.Context, conn Connection[I]) error {
	d, ok := conn.(Drainable)
	if !ok {
		return nil
	}
	select {
	case <-d.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
