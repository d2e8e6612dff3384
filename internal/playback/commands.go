/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/telemetry"
	"github.com/friendsincode/bragi/internal/zone"
)

// HandleCommand is the miniserver command surface of one zone.
func (c *Coordinator) HandleCommand(ctx context.Context, zoneID int, command, payload string) error {
	telemetry.ZoneCommandsTotal.WithLabelValues(command).Inc()

	switch command {
	case "play", "resume":
		return c.zones.Do(ctx, zoneID, command, func(zc *zone.Context) error {
			return c.resumeLocked(ctx, zc)
		})
	case "pause":
		return c.zones.Do(ctx, zoneID, command, func(zc *zone.Context) error {
			return c.pauseLocked(ctx, zc)
		})
	case "stop":
		return c.StopZone(ctx, zoneID, "user_request")
	case "queueplus":
		return c.stepQueue(ctx, zoneID, 1)
	case "queueminus":
		return c.stepQueue(ctx, zoneID, -1)
	case "position":
		secs, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			return fmt.Errorf("position payload %q: %w", payload, err)
		}
		return c.Seek(ctx, zoneID, int64(secs*1000))
	case "volume", "volume_set":
		return c.applyVolume(ctx, zoneID, command, payload)
	case "shuffle":
		return c.setShuffle(ctx, zoneID, payload)
	case "repeat":
		return c.zones.Do(ctx, zoneID, command, func(zc *zone.Context) error {
			mode := zc.Queue.CycleRepeat()
			c.logger.Info().Int("zone", zoneID).Str("repeat", mode.String()).Msg("repeat changed")
			c.broadcastState(zc)
			return nil
		})
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// resumeLocked starts or resumes playback. From stop, the current queue
// item starts from its head; a paused pipeline just unfreezes.
func (c *Coordinator) resumeLocked(ctx context.Context, zc *zone.Context) error {
	switch zc.State.Mode {
	case models.ModePlay:
		return nil
	case models.ModePause:
		if zc.ActiveInput != models.SourceNone && zc.ActiveInput != models.SourceQueue {
			if err := c.inputs.Forward(ctx, zc.ID, zc.ActiveInput, "resume", 0); err != nil {
				return err
			}
		} else if err := c.engine.Resume(zc.ID); err != nil {
			return c.failZone(ctx, zc, newError(KindEngineStartFailed, SourcePlayer, "", err))
		}
		c.router.Dispatch(ctx, zc.ID, output.SelectPlayOutputs(zc.Outputs), output.ActionResume, nil)
		zc.State.Mode = models.ModePlay
		zc.Touch()
		c.broadcastState(zc)
		return nil
	default:
		item, ok := zc.Queue.Current()
		if !ok {
			return c.failZone(ctx, zc, newError(KindQueueEnd, SourcePlayer, "", nil).withReason("nothing queued"))
		}
		return c.startQueuePlayback(ctx, zc, item.Audiopath, item.Metadata(), DefaultPlayOptions())
	}
}

// pauseLocked freezes the pipeline and pauses the outputs. A no-op from
// stop.
func (c *Coordinator) pauseLocked(ctx context.Context, zc *zone.Context) error {
	if zc.State.Mode != models.ModePlay {
		return nil
	}
	if zc.ActiveInput != models.SourceNone && zc.ActiveInput != models.SourceQueue {
		if err := c.inputs.Forward(ctx, zc.ID, zc.ActiveInput, "pause", 0); err != nil {
			c.logger.Warn().Err(err).Int("zone", zc.ID).Msg("input pause failed")
		}
	} else if err := c.engine.Pause(zc.ID); err != nil {
		c.logger.Warn().Err(err).Int("zone", zc.ID).Msg("engine pause failed")
	}
	c.router.Dispatch(ctx, zc.ID, output.SelectPlayOutputs(zc.Outputs), output.ActionPause, nil)
	zc.State.Mode = models.ModePause
	zc.Touch()
	c.broadcastState(zc)
	return nil
}

// stepQueue advances the queue by delta. Outputs whose remote end owns
// progression claim the step; otherwise the local queue moves and the
// new item starts. An explicit step overrides repeat-one for this step.
func (c *Coordinator) stepQueue(ctx context.Context, zoneID, delta int) error {
	return c.zones.Do(ctx, zoneID, "queue_step", func(zc *zone.Context) error {
		if c.router.DispatchQueueStep(ctx, zoneID, zc.Outputs, delta) {
			return nil
		}
		if !isLocalAuthority(zc.Queue.Authority()) {
			// Remote authority without a claiming output: forward to
			// the responsible input.
			cmd := "next"
			if delta < 0 {
				cmd = "previous"
			}
			return c.inputs.Forward(ctx, zoneID, zc.ActiveInput, cmd, 0)
		}

		var (
			item models.QueueItem
			err  error
		)
		if delta >= 0 {
			item, err = zc.Queue.Advance(true)
		} else {
			item, err = zc.Queue.StepBack()
		}
		if err != nil {
			return c.stopForQueueError(ctx, zc, err)
		}
		if err := c.startQueuePlayback(ctx, zc, item.Audiopath, item.Metadata(), DefaultPlayOptions()); err != nil {
			return err
		}
		c.notifier.QueueUpdated(zoneID, zc.Queue.Len())
		return nil
	})
}

// Seek moves the playback position. Remote queue authority forwards the
// seek to the external player; locally the current item restarts at the
// offset via handoff, so audio never gaps.
func (c *Coordinator) Seek(ctx context.Context, zoneID int, positionMs int64) error {
	return c.zones.Do(ctx, zoneID, "seek", func(zc *zone.Context) error {
		if zc.IsRadio {
			// Radio has no seekable timeline.
			return nil
		}
		if !isLocalAuthority(zc.Queue.Authority()) {
			return c.inputs.Forward(ctx, zoneID, zc.ActiveInput, "position", positionMs)
		}
		item, ok := zc.Queue.Current()
		if !ok {
			return zone.ErrZoneNotFound
		}
		opts := DefaultPlayOptions()
		opts.SeekMs = positionMs
		return c.startQueuePlayback(ctx, zc, item.Audiopath, item.Metadata(), opts)
	})
}

// applyVolume handles volume and volume_set. Relative payloads ("+",
// "-", "up", "down") step by the zone policy; absolute values clamp to
// the policy maximum. Inputs and outputs both learn the new level.
func (c *Coordinator) applyVolume(ctx context.Context, zoneID int, command, payload string) error {
	return c.zones.Do(ctx, zoneID, command, func(zc *zone.Context) error {
		level := zc.State.Volume
		payload = strings.TrimSpace(payload)
		switch {
		case payload == "up" || payload == "+":
			level += zc.VolumeStep()
		case payload == "down" || payload == "-":
			level -= zc.VolumeStep()
		default:
			v, err := strconv.Atoi(payload)
			if err != nil {
				return fmt.Errorf("volume payload %q: %w", payload, err)
			}
			if command == "volume" && (strings.HasPrefix(payload, "+") || strings.HasPrefix(payload, "-")) {
				level += v
			} else {
				level = v
			}
		}
		level = zc.ClampVolume(level)
		if level == zc.State.Volume {
			return nil
		}
		zc.State.Volume = level
		zc.Touch()

		c.router.DispatchVolume(ctx, zoneID, zc.Outputs, level)
		if zc.ActiveInput != models.SourceNone && zc.ActiveInput != models.SourceQueue {
			if err := c.inputs.Forward(ctx, zoneID, zc.ActiveInput, "volume", int64(level)); err != nil {
				c.logger.Debug().Err(err).Int("zone", zoneID).Msg("input volume forward failed")
			}
		}
		c.broadcastState(zc)
		return nil
	})
}

// setShuffle applies on/off/toggle. Enabling shuffles the upcoming tail
// and keeps the current item; disabling restores the original order.
func (c *Coordinator) setShuffle(ctx context.Context, zoneID int, payload string) error {
	return c.zones.Do(ctx, zoneID, "shuffle", func(zc *zone.Context) error {
		var on bool
		switch strings.ToLower(strings.TrimSpace(payload)) {
		case "on", "1", "true":
			on = true
		case "off", "0", "false":
			on = false
		case "", "toggle":
			on = !zc.Queue.Shuffle()
		default:
			return fmt.Errorf("shuffle payload %q", payload)
		}
		zc.Queue.SetShuffle(on)
		zc.Touch()
		c.notifier.QueueUpdated(zoneID, zc.Queue.Len())
		c.broadcastState(zc)
		return nil
	})
}

// stopForQueueError maps queue stepping failures onto the §7 reasons.
func (c *Coordinator) stopForQueueError(ctx context.Context, zc *zone.Context, err error) error {
	kind := KindQueueEnd
	switch {
	case isQueueInvalid(err):
		kind = KindQueueInvalidNext
	}
	c.stopLocked(ctx, zc, string(kind))
	c.notifier.PlaybackError(zc.ID, string(kind), "", err.Error())
	return nil
}
