// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, optional restart, and timeout-aware graceful waiting.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"ircnotify/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger
	wg  sync.WaitGroup

	doneOnce sync.Once
	doneCh   chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, doneCh: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go runs fn once under the supervisor context, recovering panics.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(name, fn)
	}()
}

// GoRestart runs fn and restarts it (with a small delay) whenever it returns
// a non-context error or panics, until the supervisor is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := s.run(name, fn)
			if s.ctx.Err() != nil {
				return
			}
			if err == nil {
				return
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := fn(s.ctx); err != nil && err != context.Canceled && s.ctx.Err() == nil {
		s.log.Debug("goroutine exited with error", logx.String("name", name), logx.Err(err))
		return err
	}
	return nil
}

// Cancel signals all goroutines to stop.
func (s *Supervisor) Cancel() { s.cancel() }

// Wait blocks until all goroutines finish or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
