// Package reorder holds a bounded window that releases values smallest first.
package reorder

import (
	"context"
	"errors"
	"slices"
	"sort"
)

var ErrClosedWindow = errors.New("window is closed")

type CompareFunc[T any] func(a, b T) int

// Window keeps up to size values sorted. Inserting beyond size releases the
// smallest value to Out. Close flushes what is left and closes Out.
// A Window is owned by one goroutine; only Out may be read elsewhere.
type Window[T any] struct {
	held    []T
	size    int
	compare CompareFunc[T]
	out     chan T
	closed  bool
}

func NewWindow[T any](size int, cmp CompareFunc[T]) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{
		held:    make([]T, 0, size+1),
		size:    size,
		compare: cmp,
		out:     make(chan T, size),
	}
}

// Insert adds v, blocking while Out is full. It fails once the window is closed or ctx ends.
func (w *Window[T]) Insert(ctx context.Context, v T) error {
	if w.closed {
		return ErrClosedWindow
	}

	idx := sort.Search(len(w.held), func(i int) bool {
		return w.compare(v, w.held[i]) < 0
	})
	w.held = slices.Insert(w.held, idx, v)
	if len(w.held) <= w.size {
		return nil
	}

	smallest := w.held[0]
	w.held = w.held[1:]
	select {
	case w.out <- smallest:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Window[T]) Out() <-chan T {
	return w.out
}

// Close releases the held values in order and closes Out. Idempotent.
func (w *Window[T]) Close(ctx context.Context) {
	if w.closed {
		return
	}
	w.closed = true
	defer close(w.out)
	for _, v := range w.held {
		select {
		case w.out <- v:
		case <-ctx.Done():
			return
		}
	}
	w.held = nil
}
