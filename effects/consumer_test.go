package effects_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeConsumer_DropsAfterClose(t *testing.T) {
	var got []int
	sc := effects.NewSafeConsumer(func(v int) { got = append(got, v) })

	assert.True(t, sc.Accept(1))
	sc.Close()
	assert.False(t, sc.Accept(2))
	sc.Consumer()(3)

	assert.Equal(t, []int{1}, got)
}

func TestSafeConsumer_CloseWaitsForInflightDelivery(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false

	sc := effects.NewSafeConsumer(func(int) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	go sc.Accept(1)
	<-entered

	closed := make(chan struct{})
	go func() {
		sc.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a delivery was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Close")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
}

func TestSafeConsumer_ReentrantAcceptWhileClosePending(t *testing.T) {
	var sc *effects.SafeConsumer[int]
	closing := make(chan struct{})
	closed := make(chan struct{})
	nestedDropped := make(chan bool, 1)

	sc = effects.NewSafeConsumer(func(v int) {
		if v != 0 {
			return
		}
		go func() {
			close(closing)
			sc.Close()
			close(closed)
		}()
		<-closing
		deadline := time.Now().Add(500 * time.Millisecond)
		for sc.Accept(1) {
			if time.Now().After(deadline) {
				nestedDropped <- false
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		nestedDropped <- true
	})

	delivered := make(chan bool, 1)
	go func() { delivered <- sc.Accept(0) }()

	select {
	case ok := <-delivered:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("re-entrant Accept deadlocked against a pending Close")
	}
	assert.True(t, <-nestedDropped)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Close")
	}
	assert.False(t, sc.Accept(2))
}

// echo forwards every value to the consumer, counting disposals.
type echo struct {
	out      effects.Consumer[string]
	disposed int
}

func (e *echo) Accept(v string) { e.out(v) }
func (e *echo) Dispose()        { e.disposed++ }

func TestDiscardAfterDispose(t *testing.T) {
	var inner *echo
	c := effects.DiscardAfterDispose[string, string](
		effects.ConnectableFunc[string, string](func(out effects.Consumer[string]) effects.Connection[string] {
			inner = &echo{out: out}
			return inner
		}),
	)

	var got []string
	conn := c.Connect(func(v string) { got = append(got, v) })
	conn.Accept("a")

	out := inner.out
	conn.Dispose()
	conn.Dispose()
	conn.Accept("b")
	out("late")

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, inner.disposed)
	require.NoError(t, effects.Await(context.Background(), conn))
}

type slowDrain struct {
	echo
	done chan struct{}
}

func (s *slowDrain) Done() <-chan struct{} { return s.done }

func TestAwait(t *testing.T) {
	sd := &slowDrain{done: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, effects.Await[string](ctx, sd), context.DeadlineExceeded)

	close(sd.done)
	assert.NoError(t, effects.Await[string](context.Background(), sd))
	assert.NoError(t, effects.Await[string](context.Background(), &echo{}))
}
