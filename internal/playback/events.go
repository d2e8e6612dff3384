/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/queue"
	"github.com/friendsincode/bragi/internal/zone"
)

// onPipelineEnd is the engine's natural-end callback. It runs off the
// serializer, so the advance is posted as an ordered zone task.
func (c *Coordinator) onPipelineEnd(zoneID int, sessionID string, pipeErr error) {
	c.zones.Post(zoneID, "pipeline_end", func(zc *zone.Context) error {
		if zc.State.SessionID != sessionID {
			// A newer session replaced this one; stale end.
			return nil
		}
		if pipeErr != nil {
			c.logger.Warn().Err(pipeErr).Int("zone", zoneID).Msg("pipeline ended with error")
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandoffTimeout+c.cfg.DispatchTimeout)
		defer cancel()
		return c.advanceLocked(ctx, zc)
	})
}

// HandleEndOfTrack is the input-side end_of_track echo. Under local
// queue authority it is reinterpreted as "advance"; under remote
// authority the external player advances itself and this is echo only.
func (c *Coordinator) HandleEndOfTrack(zoneID int, from models.InputSource) {
	c.zones.Post(zoneID, "end_of_track", func(zc *zone.Context) error {
		if from != models.SourceNone && zc.ActiveInput != from {
			return nil
		}
		if !isLocalAuthority(zc.Queue.Authority()) {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandoffTimeout+c.cfg.DispatchTimeout)
		defer cancel()
		return c.advanceLocked(ctx, zc)
	})
}

// advanceLocked steps the queue after a track ended and starts the next
// item, stopping with the precise queue reason when there is none. An
// ended alert sound restores the pre-alert snapshot instead.
func (c *Coordinator) advanceLocked(ctx context.Context, zc *zone.Context) error {
	if zc.Alert != nil {
		return c.restoreAfterAlert(ctx, zc)
	}
	item, err := zc.Queue.Advance(false)
	if err != nil {
		return c.stopForQueueError(ctx, zc, err)
	}
	if err := c.startQueuePlayback(ctx, zc, item.Audiopath, item.Metadata(), DefaultPlayOptions()); err != nil {
		c.stopLocked(ctx, zc, string(KindQueueNextFailed))
		c.notifier.PlaybackError(zc.ID, string(KindQueueNextFailed), "", err.Error())
		return nil
	}
	c.notifier.QueueUpdated(zc.ID, zc.Queue.Len())
	return nil
}

// onOutputError is the router's error hook. Output failures are
// surfaced but never stop the other outputs.
func (c *Coordinator) onOutputError(zoneID int, driverType, reason string) {
	c.notifier.PlaybackError(zoneID, string(KindOutputError), driverType, reason)
}

// OutputStateEvent is the echo a driver reports about its renderer.
type OutputStateEvent struct {
	State      models.PlayMode
	PositionMs int64
	DurationMs int64
	URI        string
	Items      []models.QueueItem
	QueueIndex int
	HasQueue   bool
}

// UpdateOutputState applies an output-side echo: transport state,
// position, and optionally a remote queue snapshot. Chatty position
// echoes are posted, not awaited.
func (c *Coordinator) UpdateOutputState(zoneID int, ev OutputStateEvent) {
	c.zones.Post(zoneID, "output_state", func(zc *zone.Context) error {
		changed := false

		if ev.HasQueue && !isLocalAuthority(zc.Queue.Authority()) {
			if zc.Queue.UpdateFromOutput(ev.Items, ev.QueueIndex) {
				c.notifier.QueueUpdated(zoneID, zc.Queue.Len())
				changed = true
			}
		}

		if ev.State != "" && ev.State != zc.State.Mode {
			zc.State.Mode = ev.State
			changed = true
		}

		if ev.PositionMs >= 0 {
			pos := ev.PositionMs
			dur := ev.DurationMs
			if zc.IsRadio {
				// Radio has no timeline; pin to zero.
				pos, dur = 0, 0
			}
			zc.State.TimeMs = pos
			if dur > 0 {
				zc.State.Track.DurationMs = dur
			}
			now := time.Now()
			if allowPositionPush(zc.LastPositionAt, zc.LastPositionMs, now, pos) {
				zc.LastPositionAt = now
				zc.LastPositionMs = pos
				changed = true
			}
		}

		if changed {
			zc.Touch()
			c.broadcastState(zc)
		}
		return nil
	})
}

// allowPositionPush gates position-only notifier refreshes: at most one
// per throttle window, and only when the position actually moved.
func allowPositionPush(lastAt time.Time, lastMs int64, now time.Time, posMs int64) bool {
	return now.Sub(lastAt) >= dispatchThrottle && posMs != lastMs
}

func isQueueInvalid(err error) bool {
	return errors.Is(err, queue.ErrInvalidNext) || errors.Is(err, queue.ErrEmpty)
}
