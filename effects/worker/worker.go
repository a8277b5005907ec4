// Package worker exposes runners as effects.WorkRunner, the execution-context
// abstraction a Loop uses to schedule its event processing and effect dispatch.
package worker

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/on-the-ground/effect_ive_loop/effects"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/helper"
	"github.com/on-the-ground/effect_ive_loop/effects/log"
	"github.com/on-the-ground/effect_ive_loop/effects/runner"
	"go.uber.org/zap"
)

// Worker schedules work on a runner. Scheduling never blocks on the work and never
// returns an error; a panic inside work is logged and goes no further.
type Worker struct {
	ID string

	runner   runner.Runner
	owned    runner.Shutdowner
	disposed atomic.Bool
	logger   *zap.Logger
}

var _ effects.WorkRunner = (*Worker)(nil)

type Option func(*Worker)

func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a Worker borrowing r. Dispose leaves r running.
func New(r runner.Runner, opts ...Option) *Worker {
	w := &Worker{
		ID:     uuid.New().String(),
		runner: r,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = log.OrDefault(w.logger).With(zap.String("workerId", w.ID))
	return w
}

// NewOwned creates a Worker on a runner from f. Dispose shuts that runner down
// when it is a runner.Shutdowner.
func NewOwned(f runner.Factory, opts ...Option) *Worker {
	r := f()
	w := New(r, opts...)
	w.owned, _ = r.(runner.Shutdowner)
	return w
}

// RunOn schedules work. After Dispose, work is dropped.
func (w *Worker) RunOn(work func()) {
	if w.disposed.Load() {
		w.logger.Debug("work dropped by disposed worker")
		return
	}
	accepted := w.runner.Post(func() {
		if w.disposed.Load() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("panic in worker task", zap.Error(helper.Recovered(runner.ErrPanicInWork, r)))
			}
		}()
		work()
	})
	if !accepted {
		w.logger.Debug("work rejected by runner")
	}
}

// Dispose stops the worker from running further work. Work already started runs
// to completion. Idempotent.
func (w *Worker) Dispose() {
	if !w.disposed.CompareAndSwap(false, true) {
		return
	}
	if w.owned != nil {
		w.owned.Shutdown()
	}
	w.logger.Debug("worker disposed", zap.Bool("ownsRunner", w.owned != nil))
}

func (w *Worker) IsDisposed() bool {
	return w.disposed.Load()
}
