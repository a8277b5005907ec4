package pipe

import (
	"context"

	"github.com/on-the-ground/effect_ive_loop/effects/internal/reorder"
)

// Stage is one step of a channel pipeline. It owns and closes its output channel.
type Stage[I, O any] func(ctx context.Context, in <-chan I) <-chan O

// Then chains two stages.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, in <-chan A) <-chan C {
		return second(ctx, first(ctx, in))
	}
}

func Map[T, R any](f func(T) R) Stage[T, R] {
	return func(ctx context.Context, in <-chan T) <-chan R {
		out := make(chan R)
		go func() {
			defer close(out)
			for v := range in {
				select {
				case out <- f(v):
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

func Filter[T any](predicate func(T) bool) Stage[T, T] {
	return func(ctx context.Context, in <-chan T) <-chan T {
		out := make(chan T)
		go func() {
			defer close(out)
			for v := range in {
				if !predicate(v) {
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

// OrderBy reorders values within a sliding window of windowSize, releasing the
// smallest held value each time the window overflows. Values further apart than
// the window keep their arrival order.
func OrderBy[T any](windowSize int, cmp func(a, b T) int) Stage[T, T] {
	return func(ctx context.Context, in <-chan T) <-chan T {
		out := make(chan T)
		w := reorder.NewWindow(windowSize, reorder.CompareFunc[T](cmp))

		go func() {
			defer close(out)
			for v := range w.Out() {
				select {
				case out <- v:
				case <-ctx.Done():
					// keep draining so Close can return
				}
			}
		}()

		go func() {
			defer w.Close(ctx)
			for v := range in {
				if err := w.Insert(ctx, v); err != nil {
					return
				}
			}
		}()
		return out
	}
}
