// Package subtype routes effects to handlers by their dynamic type.
//
// A Builder collects one registration per effect type and builds an immutable
// routing table. Every effect accepted by a router connection goes to exactly one
// registered handler; an effect nobody registered for is a programming error and
// panics with *UnknownEffectError.
//
// Usage:
//
//	b := subtype.NewBuilder[Effect, Event]()
//	subtype.AddSync(b, func(l Log) []Event { return []Event{Logged{l.Msg}} })
//	subtype.AddAsync(b, func(ctx context.Context, f Fetch, out effects.Consumer[Event]) error {
//	    res, err := fetch(ctx, f.URL)
//	    if err != nil {
//	        return err
//	    }
//	    out(Fetched{res})
//	    return nil
//	})
//	router, err := b.Build()
package subtype

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/handler"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/helper"
	"go.uber.org/multierr"
)

var (
	ErrDuplicateRegistration = errors.New("handler already registered for effect type")
	ErrIncompatibleType      = errors.New("registered type is not assignable to the effect type")
)

type kind int

const (
	kindSync kind = iota
	kindAsync
	kindConnectable
)

func (k kind) String() string {
	switch k {
	case kindSync:
		return "sync"
	case kindAsync:
		return "async"
	case kindConnectable:
		return "connectable"
	default:
		return "unknown"
	}
}

type registration[F, E any] struct {
	discriminant reflect.Type
	kind         kind

	// kindSync
	produce func(F) []E
	// kindAsync, kindConnectable
	connectable effects.Connectable[F, E]
}

// Builder collects handler registrations. It is not safe for concurrent use.
type Builder[F, E any] struct {
	cfg        handler.Config
	effectType reflect.Type
	regs       []*registration[F, E]
	byType     map[reflect.Type]*registration[F, E]
	err        error
}

// NewBuilder creates an empty Builder. opts configure the async handlers and
// the failure reporting of every router built from it.
func NewBuilder[F, E any](opts ...handler.Option) *Builder[F, E] {
	return &Builder[F, E]{
		cfg:        handler.NewConfig(opts...),
		effectType: reflect.TypeOf((*F)(nil)).Elem(),
		byType:     make(map[reflect.Type]*registration[F, E]),
	}
}

func (b *Builder[F, E]) add(reg *registration[F, E]) *Builder[F, E] {
	t := reg.discriminant
	if _, dup := b.byType[t]; dup {
		b.err = multierr.Append(b.err, fmt.Errorf("%w: %v", ErrDuplicateRegistration, t))
		return b
	}
	if t.Kind() != reflect.Interface && !t.AssignableTo(b.effectType) {
		b.err = multierr.Append(b.err, fmt.Errorf("%w: %v is not a %v", ErrIncompatibleType, t, b.effectType))
		return b
	}
	b.byType[t] = reg
	b.regs = append(b.regs, reg)
	return b
}

// AddSync registers fn for effects of type G. fn runs on the goroutine calling Accept
// and its events are delivered before Accept returns.
func AddSync[G, F, E any](b *Builder[F, E], fn func(G) []E) *Builder[F, E] {
	return b.add(&registration[F, E]{
		discriminant: reflect.TypeOf((*G)(nil)).Elem(),
		kind:         kindSync,
		produce: func(effect F) []E {
			return fn(helper.MustTypedValue[G](any(effect)))
		},
	})
}

// AddFunction registers fn for effects of type G, producing exactly one event synchronously.
func AddFunction[G, F, E any](b *Builder[F, E], fn func(G) E) *Builder[F, E] {
	return AddSync(b, func(effect G) []E {
		return []E{fn(effect)}
	})
}

// AddConsumer registers fn for effects of type G, producing no event.
func AddConsumer[G, F, E any](b *Builder[F, E], fn func(G)) *Builder[F, E] {
	return AddSync(b, func(effect G) []E {
		fn(effect)
		return nil
	})
}

// AddAction registers fn for effects of type G, ignoring the effect's value.
func AddAction[G, F, E any](b *Builder[F, E], fn func()) *Builder[F, E] {
	return AddSync(b, func(G) []E {
		fn()
		return nil
	})
}

// AddAsync registers fn for effects of type G. Each matching effect runs as its own
// task, with the same semantics as handler.New.
func AddAsync[G, F, E any](
	b *Builder[F, E],
	fn func(ctx context.Context, effect G, output effects.Consumer[E]) error,
) *Builder[F, E] {
	cfg := b.cfg
	onEffect := handler.Typed[F, G, E](fn)
	return b.add(&registration[F, E]{
		discriminant: reflect.TypeOf((*G)(nil)).Elem(),
		kind:         kindAsync,
		connectable: effects.ConnectableFunc[F, E](func(output effects.Consumer[E]) effects.Connection[F] {
			return handler.Connect(cfg, onEffect, output)
		}),
	})
}

// AddConnectable registers a nested Connectable for effects of type G. It is connected
// the first time a G is accepted and disposed with the router connection.
func AddConnectable[G, F, E any](b *Builder[F, E], c effects.Connectable[G, E]) *Builder[F, E] {
	return b.add(&registration[F, E]{
		discriminant: reflect.TypeOf((*G)(nil)).Elem(),
		kind:         kindConnectable,
		connectable: effects.DiscardAfterDispose[F, E](
			effects.ConnectableFunc[F, E](func(output effects.Consumer[E]) effects.Connection[F] {
				return typedConnection[F, G]{inner: c.Connect(output)}
			}),
		),
	})
}

// Build returns the router, or the registration errors collected so far
// (ErrDuplicateRegistration, ErrIncompatibleType).
func (b *Builder[F, E]) Build() (effects.Connectable[F, E], error) {
	if b.err != nil {
		return nil, b.err
	}
	return newRouter(b.cfg, b.regs), nil
}

// MustBuild is the panic-on-failure variant of Build.
func (b *Builder[F, E]) MustBuild() effects.Connectable[F, E] {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

type typedConnection[F, G any] struct {
	inner effects.Connection[G]
}

func (tc typedConnection[F, G]) Accept(effect F) {
	tc.inner.Accept(helper.MustTypedValue[G](any(effect)))
}

func (tc typedConnection[F, G]) Dispose() {
	tc.inner.Dispose()
}

func (tc typedConnection[F, G]) Done() <-chan struct{} {
	if d, ok := tc.inner.(effects.Drainable); ok {
		return d.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}
