// Package handler turns a per-effect function into an effects.Connectable.
//
// Each connection owns a scope. Every accepted effect becomes one task in that
// scope; tasks run concurrently and independently of each other. Disposing the
// connection cancels the whole scope.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/helper"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/scope"
	"github.com/on-the-ground/effect_ive_loop/effects/runner"
	"github.com/rickb777/date/v2/timespan"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrHandlerPanic wraps a panic recovered from an effect handler.
var ErrHandlerPanic = errors.New("panic in effect handler")

// OnEffect handles one effect, pushing zero or more events to output.
// ctx is cancelled when the owning connection is disposed.
type OnEffect[F, E any] func(ctx context.Context, effect F, output effects.Consumer[E]) error

// Failure describes one effect whose handler returned an error or panicked.
type Failure struct {
	ConnectionID string
	Effect       any
	Err          error
	Span         timespan.TimeSpan
}

func (f Failure) EffectType() string {
	return fmt.Sprintf("%T", f.Effect)
}

// New creates a Connectable running onEffect once per accepted effect.
//
// Usage:
//
//	eh := handler.New(onFetch, handler.WithRunner(pool))
//	conn := eh.Connect(dispatch)
//	defer conn.Dispose()
func New[F, E any](
	onEffect func(ctx context.Context, effect F, output effects.Consumer[E]) error,
	opts ...Option,
) effects.Connectable[F, E] {
	if onEffect == nil {
		panic("handler.New: onEffect must not be nil")
	}
	cfg := NewConfig(opts...)
	return effects.ConnectableFunc[F, E](func(output effects.Consumer[E]) effects.Connection[F] {
		return Connect[F, E](cfg, onEffect, output)
	})
}

// Connection is one live binding of an effect handler to an event consumer.
type Connection[F, E any] struct {
	ID string

	scope       *scope.Scope
	ownedRunner runner.Shutdowner
	output      *effects.SafeConsumer[E]
	onEffect    OnEffect[F, E]
	onFailure   FailureHandler
	keyOf       func(any) (string, bool)
	tracer      trace.Tracer
	logger      *zap.Logger

	lifecycle effects.Lifecycle
	doneCh    chan struct{}
}

var _ effects.Connection[any] = (*Connection[any, any])(nil)
var _ effects.Drainable = (*Connection[any, any])(nil)

// Connect opens a connection with cfg. Unset fields of cfg take the NewConfig defaults.
func Connect[F, E any](cfg Config, onEffect OnEffect[F, E], output effects.Consumer[E]) *Connection[F, E] {
	cfg = cfg.withDefaults()
	r := cfg.Runner
	var owned runner.Shutdowner
	if r == nil {
		r = cfg.RunnerFactory()
		owned, _ = r.(runner.Shutdowner)
	}

	sc := scope.New(cfg.Context, r, cfg.Logger)
	c := &Connection[F, E]{
		ID:          sc.ID,
		scope:       sc,
		ownedRunner: owned,
		output:      effects.NewSafeConsumer(output),
		onEffect:    onEffect,
		onFailure:   cfg.OnFailure,
		keyOf:       cfg.PartitionKey,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger.With(zap.String("connectionId", sc.ID)),
		doneCh:      make(chan struct{}),
	}
	c.lifecycle.Open()
	c.logger.Debug("effect handler connected", zap.Bool("ownsRunner", owned != nil))
	return c
}

// Accept spawns a task handling effect. It is a no-op once the connection is disposed.
func (c *Connection[F, E]) Accept(effect F) {
	if err := c.TryAccept(effect); err != nil {
		c.logger.Debug("effect dropped", zap.String("effectType", fmt.Sprintf("%T", effect)), zap.Error(err))
	}
}

// TryAccept is Accept reporting effects.ErrDisposed instead of dropping silently.
func (c *Connection[F, E]) TryAccept(effect F) error {
	if !c.lifecycle.IsOpen() {
		return effects.ErrDisposed
	}

	task := func(ctx context.Context) {
		c.handle(ctx, effect)
	}

	var spawned bool
	if key, ok := c.keyOf(effect); ok {
		spawned = c.scope.SpawnKeyed(key, task)
	} else {
		spawned = c.scope.Spawn(task)
	}
	if !spawned {
		return effects.ErrDisposed
	}
	return nil
}

func (c *Connection[F, E]) handle(ctx context.Context, effect F) {
	ctx, span := c.tracer.Start(ctx, "effect.handle",
		trace.WithAttributes(
			attribute.String("connection.id", c.ID),
			attribute.String("effect.type", fmt.Sprintf("%T", effect)),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.invoke(ctx, effect)
	if err == nil {
		return
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// cancellation is not a failure
		span.SetAttributes(attribute.Bool("effect.cancelled", true))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.onFailure(Failure{
		ConnectionID: c.ID,
		Effect:       effect,
		Err:          err,
		Span:         timespan.BetweenTimes(start, time.Now()),
	})
}

func (c *Connection[F, E]) invoke(ctx context.Context, effect F) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = helper.Recovered(ErrHandlerPanic, r)
		}
	}()
	return c.onEffect(ctx, effect, c.output.Consumer())
}

// Dispose cancels every task of the connection and detaches the consumer.
// It returns without waiting for running tasks; Done reports when they are gone.
func (c *Connection[F, E]) Dispose() {
	if !c.lifecycle.BeginDispose() {
		return
	}
	c.output.Close()
	c.scope.Close()
	if c.ownedRunner != nil {
		c.ownedRunner.Shutdown()
	}
	c.logger.Debug("effect handler disposed")

	go func() {
		<-c.scope.Done()
		c.lifecycle.FinishDispose()
		close(c.doneCh)
	}()
}

// Done is closed once the connection is disposed and every task has returned.
func (c *Connection[F, E]) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Connection[F, E]) State() effects.State {
	return c.lifecycle.State()
}

// Typed adapts an OnEffect for a concrete effect type G to one accepting F.
// It panics when an effect that is not a G reaches it.
func Typed[F, G, E any](fn func(context.Context, G, effects.Consumer[E]) error) OnEffect[F, E] {
	return func(ctx context.Context, effect F, output effects.Consumer[E]) error {
		return fn(ctx, helper.MustTypedValue[G](any(effect)), output)
	}
}
