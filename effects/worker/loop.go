package worker

import (
	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/config"
	"github.com/on-the-ground/effect_ive_loop/effects/runner"
	"go.uber.org/zap"
)

// Factory creates the WorkRunner of one Loop. The Loop disposes what it gets.
type Factory func() effects.WorkRunner

// FactoryFor returns a Factory handing out Workers that borrow r.
func FactoryFor(r runner.Runner, opts ...Option) Factory {
	return func() effects.WorkRunner {
		return New(r, opts...)
	}
}

// OwnedFactoryFor returns a Factory handing out Workers that each own a fresh runner from f.
func OwnedFactoryFor(f runner.Factory, opts ...Option) Factory {
	return func() effects.WorkRunner {
		return NewOwned(f, opts...)
	}
}

// LoopBuilder is the part of a Loop builder that accepts execution contexts.
// The event runner processes events one at a time; the effect runner dispatches
// effects to their handlers.
type LoopBuilder[B any] interface {
	EventRunner(f Factory) B
	EffectRunner(f Factory) B
}

// WithEventRunner attaches r as the event runner of b.
func WithEventRunner[B any](b LoopBuilder[B], r runner.Runner, opts ...Option) B {
	return b.EventRunner(FactoryFor(r, opts...))
}

// WithEffectRunner attaches r as the effect runner of b.
func WithEffectRunner[B any](b LoopBuilder[B], r runner.Runner, opts ...Option) B {
	return b.EffectRunner(FactoryFor(r, opts...))
}

// Configure attaches owned event and effect runners described by cfg.
func Configure[B LoopBuilder[B]](b B, cfg config.RunnersConfig, logger *zap.Logger) (B, error) {
	eventRunners, err := runner.FactoryFromConfig(cfg.Event, runner.WithLogger(logger))
	if err != nil {
		return b, err
	}
	effectRunners, err := runner.FactoryFromConfig(cfg.Effect, runner.WithLogger(logger))
	if err != nil {
		return b, err
	}
	b = b.EventRunner(OwnedFactoryFor(eventRunners, WithLogger(logger)))
	return b.EffectRunner(OwnedFactoryFor(effectRunners, WithLogger(logger))), nil
}
