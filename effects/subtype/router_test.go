package subtype_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/handler"
	"github.com/on-the-ground/effect_ive_loop/effects/log"
	"github.com/on-the-ground/effect_ive_loop/effects/subtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Effect interface{ isEffect() }

type Log struct{ Msg string }
type Fetch struct{ URL string }
type Delete struct{ ID int }
type Ping struct{}
type Alarm struct{ Level int }

func (Log) isEffect()    {}
func (Fetch) isEffect()  {}
func (Delete) isEffect() {}
func (Ping) isEffect()   {}
func (Alarm) isEffect()  {}

type Urgent interface {
	Effect
	urgent()
}

type Loud interface {
	Effect
	loud()
}

func (Alarm) urgent() {}
func (Alarm) loud()   {}

type Event interface{ isEvent() }

type Logged struct{ Msg string }
type Fetched struct{ Body string }
type Deleted struct{ ID int }
type Ponged struct{}

func (Logged) isEvent()  {}
func (Fetched) isEvent() {}
func (Deleted) isEvent() {}
func (Ponged) isEvent()  {}

type sink struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newSink() *sink {
	return &sink{signal: make(chan struct{}, 256)}
}

func (s *sink) accept(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	s.signal <- struct{}{}
}

func (s *sink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *sink) waitN(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.signal:
		case <-time.After(time.Second):
			t.Fatalf("timeout: got %d of %d events", i, n)
		}
	}
	return s.snapshot()
}

func newBuilder(opts ...handler.Option) *subtype.Builder[Effect, Event] {
	return subtype.NewBuilder[Effect, Event](append([]handler.Option{handler.WithLogger(log.NewTestLogger())}, opts...)...)
}

func requireUnknown(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a dispatch panic")
		err, ok := r.(*subtype.UnknownEffectError)
		require.True(t, ok, "unexpected panic value %v", r)
		assert.ErrorIs(t, err, target)
	}()
	fn()
}

func TestRouter_ExampleScenario(t *testing.T) {
	b := newBuilder()
	subtype.AddSync(b, func(l Log) []Event {
		return []Event{Logged{Msg: l.Msg}}
	})
	subtype.AddAsync(b, func(ctx context.Context, f Fetch, out effects.Consumer[Event]) error {
		out(Fetched{Body: "body of " + f.URL})
		return nil
	})
	router, err := b.Build()
	require.NoError(t, err)

	s := newSink()
	conn := router.Connect(s.accept)
	defer conn.Dispose()

	conn.Accept(Log{Msg: "x"})
	assert.Equal(t, []Event{Logged{Msg: "x"}}, s.snapshot(), "sync events arrive before Accept returns")
	<-s.signal

	conn.Accept(Fetch{URL: "http://example.com"})
	assert.Equal(t, []Event{Logged{Msg: "x"}, Fetched{Body: "body of http://example.com"}}, s.waitN(t, 1))

	for i := 0; i < 3; i++ {
		requireUnknown(t, subtype.ErrUnknownEffect, func() {
			conn.Accept(Delete{ID: 1})
		})
	}
}

func TestRouter_RoutesByDynamicType(t *testing.T) {
	b := newBuilder()
	subtype.AddFunction(b, func(l Log) Event { return Logged{Msg: l.Msg} })
	subtype.AddFunction(b, func(d Delete) Event { return Deleted{ID: d.ID} })
	router := b.MustBuild()

	s := newSink()
	conn := router.Connect(s.accept)
	defer conn.Dispose()

	for i := 0; i < 10; i++ {
		conn.Accept(Delete{ID: i})
		conn.Accept(Log{Msg: "m"})
	}
	got := s.snapshot()
	require.Len(t, got, 20)
	for i := 0; i < 10; i++ {
		assert.Equal(t, Deleted{ID: i}, got[2*i])
		assert.Equal(t, Logged{Msg: "m"}, got[2*i+1])
	}
}

func TestBuilder_RejectsDuplicates(t *testing.T) {
	b := newBuilder()
	subtype.AddSync(b, func(Log) []Event { return nil })
	subtype.AddConsumer(b, func(Log) {})
	subtype.AddAction[Fetch](b, func() {})
	subtype.AddAction[Fetch](b, func() {})

	router, err := b.Build()
	assert.Nil(t, router)
	assert.ErrorIs(t, err, subtype.ErrDuplicateRegistration)
	assert.Contains(t, err.Error(), "Log")
	assert.Contains(t, err.Error(), "Fetch")

	assert.Panics(t, func() { b.MustBuild() })
}

func TestBuilder_RejectsIncompatibleType(t *testing.T) {
	b := newBuilder()
	subtype.AddConsumer(b, func(int) {})

	_, err := b.Build()
	assert.ErrorIs(t, err, subtype.ErrIncompatibleType)
}

func TestRouter_InterfaceRegistrations(t *testing.T) {
	var urgent, exact int
	b := newBuilder()
	subtype.AddConsumer(b, func(Urgent) { urgent++ })
	router := b.MustBuild()

	conn := router.Connect(func(Event) {})
	defer conn.Dispose()
	conn.Accept(Alarm{Level: 1})
	conn.Accept(Alarm{Level: 2})
	assert.Equal(t, 2, urgent)

	b = newBuilder()
	subtype.AddConsumer(b, func(Urgent) { urgent++ })
	subtype.AddConsumer(b, func(Alarm) { exact++ })
	conn = b.MustBuild().Connect(func(Event) {})
	defer conn.Dispose()
	conn.Accept(Alarm{})
	assert.Equal(t, 1, exact, "exact type wins over interface")
	assert.Equal(t, 2, urgent)
}

func TestRouter_AmbiguousInterfaces(t *testing.T) {
	b := newBuilder()
	subtype.AddConsumer(b, func(Urgent) {})
	subtype.AddConsumer(b, func(Loud) {})
	conn := b.MustBuild().Connect(func(Event) {})
	defer conn.Dispose()

	for i := 0; i < 2; i++ {
		requireUnknown(t, subtype.ErrAmbiguousEffect, func() {
			conn.Accept(Alarm{})
		})
	}
}

func TestRouter_NilEffectIsUnknown(t *testing.T) {
	conn := newBuilder().MustBuild().Connect(func(Event) {})
	defer conn.Dispose()

	requireUnknown(t, subtype.ErrUnknownEffect, func() {
		conn.Accept(nil)
	})
}

func TestRouter_SyncPanicIsIsolated(t *testing.T) {
	var mu sync.Mutex
	var failures []handler.Failure
	b := newBuilder(handler.WithFailureHandler(func(f handler.Failure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}))
	subtype.AddSync(b, func(l Log) []Event {
		if l.Msg == "bad" {
			panic("bad log")
		}
		return []Event{Logged{Msg: l.Msg}}
	})
	s := newSink()
	conn := b.MustBuild().Connect(s.accept)
	defer conn.Dispose()

	assert.NotPanics(t, func() { conn.Accept(Log{Msg: "bad"}) })
	conn.Accept(Log{Msg: "good"})

	assert.Equal(t, []Event{Logged{Msg: "good"}}, s.snapshot())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, subtype.ErrSyncPanic)
	assert.Equal(t, Log{Msg: "bad"}, failures[0].Effect)
}

func TestRouter_AsyncFailureIsIsolated(t *testing.T) {
	failed := make(chan handler.Failure, 1)
	b := newBuilder(handler.WithFailureHandler(func(f handler.Failure) { failed <- f }))
	subtype.AddAsync(b, func(ctx context.Context, f Fetch, out effects.Consumer[Event]) error {
		if f.URL == "" {
			return errors.New("empty url")
		}
		out(Fetched{Body: f.URL})
		return nil
	})
	s := newSink()
	conn := b.MustBuild().Connect(s.accept)
	defer conn.Dispose()

	conn.Accept(Fetch{})
	conn.Accept(Fetch{URL: "u"})

	assert.Equal(t, []Event{Fetched{Body: "u"}}, s.waitN(t, 1))
	select {
	case f := <-failed:
		assert.EqualError(t, f.Err, "empty url")
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
}

func TestRouter_DisposeCancelsAsyncTasks(t *testing.T) {
	started := make(chan struct{})
	b := newBuilder()
	subtype.AddAsync(b, func(ctx context.Context, f Fetch, out effects.Consumer[Event]) error {
		close(started)
		<-ctx.Done()
		out(Fetched{Body: "too late"})
		return ctx.Err()
	})
	s := newSink()
	conn := b.MustBuild().Connect(s.accept)
	conn.Accept(Fetch{URL: "slow"})
	<-started

	conn.Dispose()
	conn.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, effects.Await(ctx, conn))
	assert.Empty(t, s.snapshot())
	assert.Equal(t, effects.StateDisposed, conn.(*subtype.Connection[Effect, Event]).State())

	assert.NotPanics(t, func() {
		conn.Accept(Fetch{URL: "late"})
		conn.Accept(Delete{ID: 9})
	})
}

type nested struct {
	mu       sync.Mutex
	connects int
	disposed int
	accepted []Delete
	panicky  bool
}

func (n *nested) Connect(out effects.Consumer[Event]) effects.Connection[Delete] {
	n.mu.Lock()
	n.connects++
	n.mu.Unlock()
	return &nestedConn{parent: n, out: out}
}

type nestedConn struct {
	parent *nested
	out    effects.Consumer[Event]
}

func (c *nestedConn) Accept(d Delete) {
	c.parent.mu.Lock()
	c.parent.accepted = append(c.parent.accepted, d)
	c.parent.mu.Unlock()
	c.out(Deleted{ID: d.ID})
}

func (c *nestedConn) Dispose() {
	c.parent.mu.Lock()
	c.parent.disposed++
	panicky := c.parent.panicky
	c.parent.mu.Unlock()
	if panicky {
		panic("dispose failed")
	}
}

func TestRouter_NestedConnectableLifecycle(t *testing.T) {
	n := &nested{}
	b := newBuilder()
	subtype.AddConnectable[Delete](b, n)
	subtype.AddAction[Ping](b, func() {})
	s := newSink()
	conn := b.MustBuild().Connect(s.accept)

	conn.Accept(Ping{})
	assert.Equal(t, 0, n.connects, "connected lazily")

	conn.Accept(Delete{ID: 1})
	conn.Accept(Delete{ID: 2})
	assert.Equal(t, 1, n.connects)
	assert.Equal(t, []Delete{{ID: 1}, {ID: 2}}, n.accepted)
	assert.Equal(t, []Event{Deleted{ID: 1}, Deleted{ID: 2}}, s.snapshot())

	conn.Dispose()
	conn.Dispose()
	assert.Equal(t, 1, n.disposed)

	conn.Accept(Delete{ID: 3})
	assert.Len(t, n.accepted, 2)
}

func TestRouter_NestedDisposePanicIsContained(t *testing.T) {
	n := &nested{panicky: true}
	b := newBuilder()
	subtype.AddConnectable[Delete](b, n)
	conn := b.MustBuild().Connect(func(Event) {})
	conn.Accept(Delete{ID: 1})

	assert.NotPanics(t, conn.Dispose)
	assert.Equal(t, 1, n.disposed)
}

func TestRouter_ConnectionsAreIndependent(t *testing.T) {
	n := &nested{}
	b := newBuilder()
	subtype.AddConnectable[Delete](b, n)
	router := b.MustBuild()

	s1, s2 := newSink(), newSink()
	c1 := router.Connect(s1.accept)
	c2 := router.Connect(s2.accept)
	defer c2.Dispose()

	c1.Accept(Delete{ID: 1})
	c2.Accept(Delete{ID: 2})
	c1.Dispose()
	c2.Accept(Delete{ID: 3})

	assert.Equal(t, 2, n.connects)
	assert.Equal(t, []Event{Deleted{ID: 1}}, s1.snapshot())
	assert.Equal(t, []Event{Deleted{ID: 2}, Deleted{ID: 3}}, s2.snapshot())
}

func TestRouter_NestedHandlerConnectable(t *testing.T) {
	inner := handler.New(func(ctx context.Context, p Ping, out effects.Consumer[Event]) error {
		out(Ponged{})
		return nil
	})
	b := newBuilder()
	subtype.AddConnectable(b, inner)
	s := newSink()
	conn := b.MustBuild().Connect(s.accept)
	defer conn.Dispose()

	conn.Accept(Ping{})
	assert.Equal(t, []Event{Ponged{}}, s.waitN(t, 1))
}
