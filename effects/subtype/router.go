package subtype

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/handler"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/helper"
	"github.com/rickb777/date/v2/timespan"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrUnknownEffect   = errors.New("no handler registered for effect type")
	ErrAmbiguousEffect = errors.New("effect type matches more than one interface registration")
	ErrDisposePanic    = errors.New("panic while disposing nested connection")
	ErrSyncPanic       = errors.New("panic in sync effect handler")
)

// UnknownEffectError is the panic value of a router connection accepting an effect
// it cannot route. Err is ErrUnknownEffect or ErrAmbiguousEffect.
type UnknownEffectError struct {
	Effect any
	Err    error
}

func (e *UnknownEffectError) Error() string {
	return fmt.Sprintf("%v (effect %T)", e.Err, e.Effect)
}

func (e *UnknownEffectError) Unwrap() error {
	return e.Err
}

// table is the immutable routing table shared by every connection of one router.
type table[F, E any] struct {
	exact  map[reflect.Type]*registration[F, E]
	ifaces []*registration[F, E]

	// reflect.Type -> resolution, for types resolved through ifaces
	cache sync.Map
}

type resolution[F, E any] struct {
	reg *registration[F, E]
	err error
}

func newTable[F, E any](regs []*registration[F, E]) *table[F, E] {
	t := &table[F, E]{exact: make(map[reflect.Type]*registration[F, E], len(regs))}
	for _, reg := range regs {
		if reg.discriminant.Kind() == reflect.Interface {
			t.ifaces = append(t.ifaces, reg)
			continue
		}
		t.exact[reg.discriminant] = reg
	}
	return t
}

func (t *table[F, E]) resolve(typ reflect.Type) (*registration[F, E], error) {
	if typ == nil {
		return nil, ErrUnknownEffect
	}
	if reg, ok := t.exact[typ]; ok {
		return reg, nil
	}
	if cached, ok := t.cache.Load(typ); ok {
		res := cached.(resolution[F, E])
		return res.reg, res.err
	}

	var matches []*registration[F, E]
	for _, reg := range t.ifaces {
		if typ.Implements(reg.discriminant) {
			matches = append(matches, reg)
		}
	}

	var res resolution[F, E]
	switch len(matches) {
	case 0:
		res.err = fmt.Errorf("%w: %v", ErrUnknownEffect, typ)
	case 1:
		res.reg = matches[0]
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.discriminant.String()
		}
		res.err = fmt.Errorf("%w: %v implements %s", ErrAmbiguousEffect, typ, strings.Join(names, ", "))
	}
	actual, _ := t.cache.LoadOrStore(typ, res)
	res = actual.(resolution[F, E])
	return res.reg, res.err
}

func newRouter[F, E any](cfg handler.Config, regs []*registration[F, E]) effects.Connectable[F, E] {
	t := newTable(regs)
	return effects.ConnectableFunc[F, E](func(output effects.Consumer[E]) effects.Connection[F] {
		return connect(cfg, t, output)
	})
}

// Connection is one live router binding. Async and nested handlers are connected
// lazily, the first time an effect routed to them is accepted.
type Connection[F, E any] struct {
	ID string

	table  *table[F, E]
	output *effects.SafeConsumer[E]
	cfg    handler.Config
	logger *zap.Logger

	lifecycle effects.Lifecycle
	mu        sync.Mutex
	closed    bool
	active    map[*registration[F, E]]effects.Connection[F]
	doneCh    chan struct{}
}

var _ effects.Connection[any] = (*Connection[any, any])(nil)
var _ effects.Drainable = (*Connection[any, any])(nil)

func connect[F, E any](cfg handler.Config, t *table[F, E], output effects.Consumer[E]) *Connection[F, E] {
	id := uuid.New().String()
	c := &Connection[F, E]{
		ID:     id,
		table:  t,
		output: effects.NewSafeConsumer(output),
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("connectionId", id)),
		active: make(map[*registration[F, E]]effects.Connection[F]),
		doneCh: make(chan struct{}),
	}
	c.lifecycle.Open()
	c.logger.Debug("router connected",
		zap.Int("exactRegistrations", len(t.exact)),
		zap.Int("interfaceRegistrations", len(t.ifaces)),
	)
	return c
}

// Accept routes effect to its handler. It panics with *UnknownEffectError when no
// single registration matches. After Dispose it is a no-op.
func (c *Connection[F, E]) Accept(effect F) {
	if !c.lifecycle.IsOpen() {
		return
	}
	reg, err := c.table.resolve(reflect.TypeOf(any(effect)))
	if err != nil {
		panic(&UnknownEffectError{Effect: effect, Err: err})
	}

	if reg.kind == kindSync {
		c.runSync(reg, effect)
		return
	}
	if conn := c.activate(reg); conn != nil {
		conn.Accept(effect)
	}
}

func (c *Connection[F, E]) runSync(reg *registration[F, E], effect F) {
	_, span := c.cfg.Tracer.Start(c.cfg.Context, "effect.handle_sync",
		trace.WithAttributes(
			attribute.String("connection.id", c.ID),
			attribute.Stringer("effect.type", reg.discriminant),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := helper.Recovered(ErrSyncPanic, r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.cfg.OnFailure(handler.Failure{
				ConnectionID: c.ID,
				Effect:       effect,
				Err:          err,
				Span:         timespan.BetweenTimes(start, time.Now()),
			})
		}
	}()
	for _, event := range reg.produce(effect) {
		c.output.Accept(event)
	}
}

func (c *Connection[F, E]) activate(reg *registration[F, E]) effects.Connection[F] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if conn, ok := c.active[reg]; ok {
		return conn
	}
	conn := reg.connectable.Connect(c.output.Consumer())
	c.active[reg] = conn
	c.logger.Debug("handler activated",
		zap.Stringer("effectType", reg.discriminant),
		zap.Stringer("kind", reg.kind),
	)
	return conn
}

// Dispose disposes every activated handler and detaches the consumer. Idempotent.
// Like handler.Connection, it does not wait for in-flight tasks; see Done.
func (c *Connection[F, E]) Dispose() {
	if !c.lifecycle.BeginDispose() {
		return
	}

	c.mu.Lock()
	c.closed = true
	active := c.active
	c.active = nil
	c.mu.Unlock()

	var errs error
	drains := make([]<-chan struct{}, 0, len(active))
	for reg, conn := range active {
		if err := disposeSafely(conn); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%v: %w", reg.discriminant, err))
		}
		if d, ok := conn.(effects.Drainable); ok {
			drains = append(drains, d.Done())
		}
	}
	if errs != nil {
		c.logger.Error("nested connections failed to dispose", zap.Error(errs))
	}
	c.output.Close()
	c.logger.Debug("router disposed", zap.Int("activeHandlers", len(active)))

	go func() {
		for _, done := range drains {
			<-done
		}
		c.lifecycle.FinishDispose()
		close(c.doneCh)
	}()
}

func disposeSafely[F any](conn effects.Connection[F]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = helper.Recovered(ErrDisposePanic, r)
		}
	}()
	conn.Dispose()
	return nil
}

// Done is closed once the connection is disposed and every activated handler has drained.
func (c *Connection[F, E]) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Connection[F, E]) State() effects.State {
	return c.lifecycle.State()
}
