/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"time"

	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/zone"
)

// CoverArtPayload is raw cover art pushed by an input adapter.
type CoverArtPayload struct {
	Data []byte
	MIME string
}

// CoverStore turns pushed cover bytes into an internally served URL.
type CoverStore interface {
	Put(zoneID int, data []byte, mime string) (string, error)
}

// SetCoverStore installs the cover ingestion target. Optional; without
// it pushed covers are dropped.
func (c *Coordinator) SetCoverStore(store CoverStore) { c.covers = store }

// BindInputs attaches the input manager after construction; the manager
// needs the coordinator as its sink, so one of the two is wired late.
// Must be called before the first zone is installed.
func (c *Coordinator) BindInputs(p InputsPort) { c.inputs = p }

// StartExternalPlayback is called by an input adapter when an external
// source (AirPlay sender, Spotify Connect, Music Assistant, line-in)
// takes over a zone. The zone enters the input's mode and plays.
func (c *Coordinator) StartExternalPlayback(ctx context.Context, zoneID int, label models.InputSource, source *models.PlaybackSource, meta models.TrackMetadata) error {
	return c.zones.Do(ctx, zoneID, "input_start", func(zc *zone.Context) error {
		if err := c.transitionInput(ctx, zc, label); err != nil {
			c.logger.Warn().Err(err).Int("zone", zoneID).Msg("input transition failed")
		}
		zc.InputMode = label
		zc.ActiveInput = label
		zc.IsRadio = false

		if source != nil {
			playOutputs := output.SelectPlayOutputs(zc.Outputs)
			if len(playOutputs) == 0 {
				return c.failZone(ctx, zc, newError(KindNoOutputConfigured, SourceOutput, string(label), nil))
			}
			profile := models.StreamProfile{Codec: "pcm", Rate: 44100, Channels: 2, Bits: 16, ChunkMs: 20}
			if source.Format != nil {
				profile.Rate = source.Format.Rate
				profile.Channels = source.Format.Channels
				profile.Bits = source.Format.Bits
			}
			sess, err := c.engine.StartWithHandoff(ctx, zoneID, *source, meta, []models.StreamProfile{profile})
			if err != nil {
				return c.failZone(ctx, zc, newError(KindEngineStartFailed, SourcePlayer, string(label), err))
			}
			zc.State.SessionID = sess.ID
			outSess := &output.Session{
				ZoneID:    zoneID,
				ZoneName:  zc.Name,
				ID:        sess.ID,
				Metadata:  meta,
				Volume:    zc.State.Volume,
				Engine:    c.engine,
				Profile:   profile,
				StreamURL: c.streamURL(zoneID, profile),
				ElapsedMs: sess.ElapsedMs,
			}
			c.router.Dispatch(ctx, zoneID, playOutputs, output.ActionPlay, outSess)
		} else {
			// Offload input: the external device renders, no pipeline.
			zc.State.SessionID = ""
		}

		zc.State.Mode = models.ModePlay
		zc.State.Track = meta
		zc.State.Power = models.PowerOn
		zc.State.ClientState = models.PowerOn
		zc.Touch()
		c.broadcastState(zc)
		c.bus.Publish(events.EventInputStart, events.Payload{"zone_id": zoneID, "input": string(label)})
		return nil
	})
}

// StopExternalPlayback ends an input adapter's session on a zone. Calls
// from an input that is no longer active are dropped.
func (c *Coordinator) StopExternalPlayback(zoneID int, label models.InputSource, reason string) {
	c.zones.Post(zoneID, "input_stop", func(zc *zone.Context) error {
		if zc.ActiveInput != label {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout*2)
		defer cancel()
		return c.stopLocked(ctx, zc, reason)
	})
}

// PauseFromInput mirrors an external pause into zone state.
func (c *Coordinator) PauseFromInput(zoneID int, label models.InputSource) {
	c.zones.Post(zoneID, "input_pause", func(zc *zone.Context) error {
		if zc.ActiveInput != label || zc.State.Mode != models.ModePlay {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout*2)
		defer cancel()
		return c.pauseLocked(ctx, zc)
	})
}

// ResumeFromInput mirrors an external resume into zone state.
func (c *Coordinator) ResumeFromInput(zoneID int, label models.InputSource) {
	c.zones.Post(zoneID, "input_resume", func(zc *zone.Context) error {
		if zc.ActiveInput != label || zc.State.Mode != models.ModePause {
			return nil
		}
		zc.State.Mode = models.ModePlay
		zc.Touch()
		c.engine.Resume(zc.ID)
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout*2)
		defer cancel()
		c.router.Dispatch(ctx, zc.ID, output.SelectPlayOutputs(zc.Outputs), output.ActionResume, nil)
		c.broadcastState(zc)
		return nil
	})
}

// UpdateInputMetadata merges partial metadata from an input adapter.
// Gated on ActiveInput so a dethroned receiver cannot poison state.
func (c *Coordinator) UpdateInputMetadata(zoneID int, label models.InputSource, meta models.TrackMetadata) {
	c.zones.Post(zoneID, "input_metadata", func(zc *zone.Context) error {
		if zc.ActiveInput != label {
			return nil
		}
		track := &zc.State.Track
		if meta.Title != "" {
			track.Title = meta.Title
		}
		if meta.Artist != "" {
			track.Artist = meta.Artist
		}
		if meta.Album != "" {
			track.Album = meta.Album
		}
		if meta.Cover != "" {
			track.Cover = meta.Cover
		}
		if meta.DurationMs > 0 && !zc.IsRadio {
			track.DurationMs = meta.DurationMs
		}
		if meta.Station != "" {
			track.Station = meta.Station
		}

		now := time.Now()
		if now.Sub(zc.LastMetadataAt) < dispatchThrottle {
			return nil
		}
		zc.LastMetadataAt = now
		zc.Touch()
		c.broadcastState(zc)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout)
		defer cancel()
		c.router.DispatchMetadata(ctx, zoneID, zc.Outputs, &output.Session{
			ZoneID:   zoneID,
			ZoneName: zc.Name,
			ID:       zc.State.SessionID,
			Metadata: *track,
			Volume:   zc.State.Volume,
			Engine:   c.engine,
		})
		return nil
	})
}

// UpdateInputTiming applies elapsed/duration from an input adapter,
// throttled to one notifier update per second.
func (c *Coordinator) UpdateInputTiming(zoneID int, label models.InputSource, elapsedMs, durationMs int64) {
	c.zones.Post(zoneID, "input_timing", func(zc *zone.Context) error {
		if zc.ActiveInput != label {
			return nil
		}
		if zc.IsRadio {
			elapsedMs, durationMs = 0, 0
		}
		zc.State.TimeMs = elapsedMs
		if durationMs > 0 {
			zc.State.Track.DurationMs = durationMs
		}
		now := time.Now()
		if !allowPositionPush(zc.LastPositionAt, zc.LastPositionMs, now, elapsedMs) {
			return nil
		}
		zc.LastPositionAt = now
		zc.LastPositionMs = elapsedMs
		zc.Touch()
		c.broadcastState(zc)
		return nil
	})
}

// UpdateInputVolume mirrors a device-side volume change.
func (c *Coordinator) UpdateInputVolume(zoneID int, label models.InputSource, volume int) {
	c.zones.Post(zoneID, "input_volume", func(zc *zone.Context) error {
		if zc.ActiveInput != label {
			return nil
		}
		level := zc.ClampVolume(volume)
		if level == zc.State.Volume {
			return nil
		}
		zc.State.Volume = level
		zc.Touch()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout)
		defer cancel()
		c.router.DispatchVolume(ctx, zoneID, zc.Outputs, level)
		c.broadcastState(zc)
		return nil
	})
}

// UpdateInputCover ingests pushed cover bytes and returns the internal
// URL renderers can fetch. Empty when the store is absent or the input
// is stale.
func (c *Coordinator) UpdateInputCover(zoneID int, label models.InputSource, cover CoverArtPayload) string {
	if c.covers == nil {
		return ""
	}
	url, err := c.covers.Put(zoneID, cover.Data, cover.MIME)
	if err != nil {
		c.logger.Warn().Err(err).Int("zone", zoneID).Msg("cover ingest failed")
		return ""
	}
	c.zones.Post(zoneID, "input_cover", func(zc *zone.Context) error {
		if zc.ActiveInput != label {
			return nil
		}
		zc.State.Track.Cover = url
		zc.Touch()
		c.broadcastState(zc)
		return nil
	})
	return url
}
