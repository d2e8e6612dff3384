/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/telemetry"
)

// Action is a routed lifecycle command.
type Action string

const (
	ActionPlay   Action = "play"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

// ErrorHook reports a failed output command to the coordinator. Called
// once per failing output; never for stop, whose errors are logged only.
type ErrorHook func(zoneID int, driverType, reason string)

// Router fans lifecycle commands out to a zone's outputs. Dispatch is
// strictly sequential in the given list order; each output gets a
// bounded wall-clock budget so one stuck renderer cannot freeze the
// user-facing command.
type Router struct {
	logger  zerolog.Logger
	timeout time.Duration
	onError ErrorHook
}

// NewRouter creates the router. timeout is the per-output budget.
func NewRouter(timeout time.Duration, logger zerolog.Logger) *Router {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Router{
		logger:  logger.With().Str("component", "router").Logger(),
		timeout: timeout,
	}
}

// SetErrorHook registers the coordinator's output-error callback.
func (r *Router) SetErrorHook(fn ErrorHook) { r.onError = fn }

// Dispatch applies action to every output in order. An output error is
// reported through the error hook and does not abort the remaining
// outputs. Returns the first error for the caller's bookkeeping.
func (r *Router) Dispatch(ctx context.Context, zoneID int, outputs []Driver, action Action, sess *Session) error {
	var firstErr error
	for _, out := range outputs {
		err := r.call(ctx, out, action, sess)
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		telemetry.OutputCommandErrors.WithLabelValues(out.Type()).Inc()
		if action == ActionStop {
			// Stop must always run to completion on every output.
			r.logger.Warn().Err(err).Int("zone", zoneID).Str("output", out.Type()).Msg("stop failed")
			continue
		}
		r.logger.Error().Err(err).
			Int("zone", zoneID).
			Str("output", out.Type()).
			Str("action", string(action)).
			Msg("output command failed")
		if r.onError != nil {
			r.onError(zoneID, out.Type(), err.Error())
		}
	}
	return firstErr
}

// call runs one driver command under the per-output deadline. The
// driver's call may still be running when the budget expires; the
// router moves on and reports a timeout.
func (r *Router) call(ctx context.Context, out Driver, action Action, sess *Session) error {
	telemetry.OutputCommandsTotal.WithLabelValues(out.Type(), string(action)).Inc()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		switch action {
		case ActionPlay:
			done <- out.Play(cctx, sess)
		case ActionPause:
			done <- out.Pause(cctx, sess)
		case ActionResume:
			done <- out.Resume(cctx, sess)
		case ActionStop:
			done <- out.Stop(cctx, sess)
		default:
			done <- fmt.Errorf("unknown action %q", action)
		}
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return fmt.Errorf("%s on %s: %w", action, out.Type(), cctx.Err())
	}
}

// DispatchVolume sends a clamped volume level to every output. Errors
// are logged; volume is best-effort.
func (r *Router) DispatchVolume(ctx context.Context, zoneID int, outputs []Driver, level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	for _, out := range outputs {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := out.SetVolume(cctx, level)
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Int("zone", zoneID).Str("output", out.Type()).Msg("set volume failed")
		}
	}
}

// DispatchQueueStep offers the step to outputs whose remote end owns
// queue progression. Returns true when one of them claimed it, in which
// case the local queue must not advance.
func (r *Router) DispatchQueueStep(ctx context.Context, zoneID int, outputs []Driver, delta int) bool {
	for _, out := range outputs {
		stepper, ok := out.(QueueStepper)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		claimed, err := stepper.StepQueue(cctx, delta)
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Int("zone", zoneID).Str("output", out.Type()).Msg("queue step failed")
			continue
		}
		if claimed {
			return true
		}
	}
	return false
}

// DispatchMetadata pushes metadata to every output able to display it.
func (r *Router) DispatchMetadata(ctx context.Context, zoneID int, outputs []Driver, sess *Session) {
	for _, out := range outputs {
		sink, ok := out.(MetadataSink)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := sink.UpdateMetadata(cctx, sess)
		cancel()
		if err != nil {
			r.logger.Debug().Err(err).Int("zone", zoneID).Str("output", out.Type()).Msg("metadata update failed")
		}
	}
}

// SelectPlayOutputs filters outputs to those that render audio,
// excluding controller-style outputs that only steer a remote player.
func SelectPlayOutputs(outputs []Driver) []Driver {
	playable := make([]Driver, 0, len(outputs))
	for _, out := range outputs {
		if c, ok := out.(Controller); ok && c.ControllerOnly() {
			continue
		}
		playable = append(playable, out)
	}
	return playable
}
