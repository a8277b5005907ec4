package reorder_test

import (
	"context"
	"testing"

	"github.com/on-the-ground/effect_ive_loop/effects/internal/reorder"
	"github.com/stretchr/testify/assert"
)

func TestWindow_ReleasesSmallestOnOverflow(t *testing.T) {
	ctx := context.Background()
	w := reorder.NewWindow(3, func(a, b int) int { return a - b })

	got := make(chan []int)
	go func() {
		var out []int
		for v := range w.Out() {
			out = append(out, v)
		}
		got <- out
	}()

	for _, v := range []int{10, 5, 7, 3, 8} {
		assert.NoError(t, w.Insert(ctx, v))
	}
	w.Close(ctx)

	assert.Equal(t, []int{3, 5, 7, 8, 10}, <-got)
}

func TestWindow_InsertAfterClose(t *testing.T) {
	ctx := context.Background()
	w := reorder.NewWindow(2, func(a, b int) int { return a - b })
	go func() {
		for range w.Out() {
		}
	}()

	assert.NoError(t, w.Insert(ctx, 1))
	w.Close(ctx)
	w.Close(ctx)

	assert.ErrorIs(t, w.Insert(ctx, 2), reorder.ErrClosedWindow)
}
