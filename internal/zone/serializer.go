/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package zone

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// taskQueueDepth bounds how many mutations may be pending per zone.
// Do blocks when full; Post drops.
const taskQueueDepth = 128

type task struct {
	op   string
	fn   func(*Context) error
	done chan error // nil for posted tasks
}

// serializer runs every mutation of one zone on a single goroutine, in
// submission order. A panic in a task is contained and reported as an
// error so one broken zone never takes the process down.
type serializer struct {
	zc     *Context
	logger zerolog.Logger

	tasks chan task
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

func newSerializer(zc *Context, logger zerolog.Logger) *serializer {
	s := &serializer{
		zc:     zc,
		logger: logger.With().Int("zone", zc.ID).Logger(),
		tasks:  make(chan task, taskQueueDepth),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *serializer) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.drain()
			return
		case t := <-s.tasks:
			s.exec(t)
		}
	}
}

// drain answers queued callers after quit so no Do hangs. The tasks are
// not executed; the zone is gone.
func (s *serializer) drain() {
	for {
		select {
		case t := <-s.tasks:
			if t.done != nil {
				t.done <- ErrZoneClosed
			}
		default:
			return
		}
	}
}

func (s *serializer) exec(t task) {
	err := s.runTask(t)
	if t.done != nil {
		t.done <- err
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("op", t.op).Msg("zone task failed")
	}
}

func (s *serializer) runTask(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("zone task %s panicked: %v", t.op, r)
			s.logger.Error().
				Str("op", t.op).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered zone task panic")
		}
	}()
	return t.fn(s.zc)
}

// do submits fn and waits for it to run. The closure may still execute
// after ctx expires; callers must not capture state they free on return.
func (s *serializer) do(ctx context.Context, op string, fn func(*Context) error) error {
	t := task{op: op, fn: fn, done: make(chan error, 1)}
	select {
	case s.tasks <- t:
	case <-s.quit:
		return ErrZoneClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		// Run loop exited; it may have answered just before.
		select {
		case err := <-t.done:
			return err
		default:
			return ErrZoneClosed
		}
	}
}

// post submits fn without waiting. Used for chatty callbacks (position
// echoes, input metadata) that are refreshed anyway; when the queue is
// full the update is dropped rather than blocking the caller.
func (s *serializer) post(op string, fn func(*Context) error) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.tasks <- task{op: op, fn: fn}:
		return true
	default:
		s.logger.Warn().Str("op", op).Msg("zone task queue full, update dropped")
		return false
	}
}

func (s *serializer) close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}
