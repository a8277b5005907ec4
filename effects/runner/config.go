package runner

import (
	"errors"
	"fmt"

	"github.com/on-the-ground/effect_ive_loop/effects/config"
)

var ErrUnknownRunnerKind = errors.New("unknown runner kind")

// FromConfig creates the runner described by cfg. The caller owns the result.
func FromConfig(cfg config.RunnerConfig, opts ...Option) (Runner, error) {
	switch cfg.Kind {
	case config.RunnerImmediate:
		return Immediate(opts...), nil
	case config.RunnerSingle:
		return SingleThread(cfg.BufferSize, opts...), nil
	case config.RunnerFixed:
		return FixedPool(cfg.NumWorkers, cfg.BufferSize, opts...), nil
	case config.RunnerCached, "":
		return Cached(opts...), nil
	case config.RunnerPartitioned:
		return Partitioned(cfg.NumWorkers, cfg.BufferSize, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunnerKind, cfg.Kind)
	}
}

// FactoryFromConfig validates cfg once and returns a Factory creating a fresh runner per call.
func FactoryFromConfig(cfg config.RunnerConfig, opts ...Option) (Factory, error) {
	switch cfg.Kind {
	case config.RunnerImmediate, config.RunnerSingle, config.RunnerFixed,
		config.RunnerCached, config.RunnerPartitioned, "":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunnerKind, cfg.Kind)
	}
	return func() Runner {
		r, _ := FromConfig(cfg, opts...)
		return r
	}, nil
}
