package handler

import (
	"context"

	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/log"
	"github.com/on-the-ground/effect_ive_loop/effects/runner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName is the instrumentation name of the default tracer.
const TracerName = "github.com/on-the-ground/effect_ive_loop/effects/handler"

// FailureHandler observes effects whose handling failed.
// It is called on the task's goroutine.
type FailureHandler func(Failure)

type Option func(*Config)

// Config is the resolved set of options shared by handler and subtype connections.
type Config struct {
	Context       context.Context
	Runner        runner.Runner
	RunnerFactory runner.Factory
	OnFailure     FailureHandler
	Logger        *zap.Logger
	Tracer        trace.Tracer

	// PartitionKey returns the ordering key of an effect, if it has one.
	PartitionKey func(effect any) (string, bool)
}

// NewConfig applies opts over the defaults: background context, a fresh
// goroutine-per-task runner per connection, and failures logged at error level.
func NewConfig(opts ...Option) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.withDefaults()
}

func (cfg Config) withDefaults() Config {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	cfg.Logger = log.OrDefault(cfg.Logger)
	if cfg.OnFailure == nil {
		cfg.OnFailure = LogFailures(cfg.Logger)
	}
	if cfg.PartitionKey == nil {
		cfg.PartitionKey = partitionKeyOf
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(TracerName)
	}
	if cfg.Runner == nil && cfg.RunnerFactory == nil {
		logger := cfg.Logger
		cfg.RunnerFactory = func() runner.Runner {
			return runner.Cached(runner.WithLogger(logger))
		}
	}
	return cfg
}

// WithContext sets the parent of every connection's scope. Cancelling it cancels
// the tasks of all connections made afterwards.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		c.Context = ctx
	}
}

// WithRunner runs tasks on r. The runner is borrowed: connections never shut it down.
func WithRunner(r runner.Runner) Option {
	return func(c *Config) {
		c.Runner = r
		c.RunnerFactory = nil
	}
}

// WithRunnerFactory gives every connection its own runner from f. The connection owns
// it and shuts it down on Dispose when it implements runner.Shutdowner.
func WithRunnerFactory(f runner.Factory) Option {
	return func(c *Config) {
		c.RunnerFactory = f
		c.Runner = nil
	}
}

func WithFailureHandler(fn FailureHandler) Option {
	return func(c *Config) {
		c.OnFailure = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTracer records one span per handled effect. Defaults to the global tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

// WithPartitionKey keys effects of type F with fn. On a runner.KeyedRunner,
// effects with equal keys run one at a time in acceptance order.
// Effects implementing effects.Partitionable are keyed without this option.
func WithPartitionKey[F any](fn func(F) string) Option {
	return func(c *Config) {
		c.PartitionKey = func(effect any) (string, bool) {
			if f, ok := effect.(F); ok {
				return fn(f), true
			}
			return partitionKeyOf(effect)
		}
	}
}

func partitionKeyOf(effect any) (string, bool) {
	if p, ok := effect.(effects.Partitionable); ok {
		return p.PartitionKey(), true
	}
	return "", false
}

// LogFailures is the default FailureHandler.
func LogFailures(logger *zap.Logger) FailureHandler {
	return func(f Failure) {
		logger.Error("effect handler failed",
			zap.String("connectionId", f.ConnectionID),
			zap.String("effectType", f.EffectType()),
			zap.Time("startedAt", f.Span.Start()),
			zap.Duration("elapsed", f.Span.Duration()),
			zap.Error(f.Err),
		)
	}
}
