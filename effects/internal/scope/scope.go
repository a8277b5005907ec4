package scope

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/helper"
	"github.com/on-the-ground/effect_ive_loop/effects/runner"
	"go.uber.org/zap"
)

var ErrPanicInTask = errors.New("panic in scoped task")

// Scope is the set of tasks spawned by one connection.
//
// Every task gets the scope's context. Close cancels that context, refuses new
// tasks, and lets tasks that have not started yet return without running.
// Done is closed once every spawned task has returned.
type Scope struct {
	ID     string
	ctx    context.Context
	cancel context.CancelFunc
	runner runner.Runner
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	doneCh chan struct{}
}

func New(parent context.Context, r runner.Runner, logger *zap.Logger) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{
		ID:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		runner: r,
		logger: logger,
		doneCh: make(chan struct{}),
	}
}

func (s *Scope) Context() context.Context {
	return s.ctx
}

// Spawn schedules fn on the scope's runner. It reports false once the scope is closed
// or the runner refused the work.
func (s *Scope) Spawn(fn func(context.Context)) bool {
	return s.spawn(fn, s.runner.Post)
}

// SpawnKeyed is Spawn with per-key ordering when the runner supports it.
func (s *Scope) SpawnKeyed(key string, fn func(context.Context)) bool {
	kr, ok := s.runner.(runner.KeyedRunner)
	if !ok {
		return s.Spawn(fn)
	}
	return s.spawn(fn, func(work func()) bool {
		return kr.PostKeyed(key, work)
	})
}

func (s *Scope) spawn(fn func(context.Context), post func(func()) bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	accepted := post(func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in child routine",
					zap.String("scopeId", s.ID),
					zap.Error(helper.Recovered(ErrPanicInTask, r)),
				)
			}
		}()
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	})
	if !accepted {
		s.wg.Done()
	}
	return accepted
}

// Close cancels every task of the scope. It does not wait; see Done. Idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.logger.Debug("context cancelled, waiting for all routines to finish", zap.String("scopeId", s.ID))

	go func() {
		s.wg.Wait()
		s.logger.Debug("all routines finished", zap.String("scopeId", s.ID))
		close(s.doneCh)
	}()
}

func (s *Scope) Done() <-chan struct{} {
	return s.doneCh
}
