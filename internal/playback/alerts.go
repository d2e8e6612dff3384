/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"time"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/zone"
)

// TriggerAlert interrupts a zone with an alert sound. The current state,
// queue and volume are snapshotted first; when the sound ends the zone
// is restored via the normal end-of-track path. A second trigger while
// an alert plays keeps the original snapshot, so nested alerts still
// restore what the listener had before the first one.
func (c *Coordinator) TriggerAlert(ctx context.Context, zoneID int, sound string, volume int) error {
	return c.zones.Do(ctx, zoneID, "alert_trigger", func(zc *zone.Context) error {
		if zc.Alert == nil {
			zc.Alert = &zone.AlertSnapshot{
				State:        zc.Snapshot(),
				Items:        zc.Queue.Items(0, 0),
				CurrentIndex: zc.Queue.CurrentIndex(),
				TakenAt:      time.Now(),
			}
		}
		if volume > 0 {
			zc.State.Volume = zc.ClampVolume(volume)
		}

		path := audiopath.ProviderAlert + ":sound:" + sound
		item := models.QueueItem{
			Audiopath: path,
			AudioType: models.AudioTypeAlert,
			Title:     sound,
		}
		zc.Queue.SetItems([]models.QueueItem{item}, 0)
		zc.Queue.SetAuthority(models.AuthorityLocal)

		if err := c.startQueuePlayback(ctx, zc, path, item.Metadata(), DefaultPlayOptions()); err != nil {
			// The sound never started; put the queue back and leave the
			// zone in the stopped state failZone produced.
			snap := zc.Alert
			zc.Alert = nil
			zc.Queue.SetItems(snap.Items, snap.CurrentIndex)
			zc.State.Volume = snap.State.Volume
			return err
		}

		zc.InputMode = models.SourceAlert
		zc.Touch()
		c.broadcastState(zc)
		c.bus.Publish(events.EventAlertFired, events.Payload{
			"zone_id": zoneID,
			"sound":   sound,
		})
		return nil
	})
}

// restoreAfterAlert puts a zone back to its pre-alert snapshot once the
// alert sound has finished. Runs inside the serializer from the
// end-of-track advance.
func (c *Coordinator) restoreAfterAlert(ctx context.Context, zc *zone.Context) error {
	snap := zc.Alert
	zc.Alert = nil

	zc.Queue.SetItems(snap.Items, snap.CurrentIndex)
	zc.State.Volume = snap.State.Volume
	zc.InputMode = models.SourceQueue

	// Only queue-rendered playback can be resumed server-side; a pushed
	// external session (AirPlay, Spotify Connect) is gone once its
	// stream was cut for the alert.
	resumable := snap.State.Source == models.SourceQueue ||
		snap.State.Source == models.SourceNone ||
		snap.State.Source == models.SourceAlert
	item, ok := zc.Queue.Current()
	if snap.State.Mode != models.ModePlay || !resumable || !ok {
		return c.stopLocked(ctx, zc, "alert_end")
	}

	opts := DefaultPlayOptions()
	if snap.State.Track.DurationMs > 0 {
		opts.SeekMs = snap.State.TimeMs
	}
	if err := c.startQueuePlayback(ctx, zc, item.Audiopath, item.Metadata(), opts); err != nil {
		c.notifier.PlaybackError(zc.ID, string(KindQueueNextFailed), "", err.Error())
		return nil
	}
	c.notifier.QueueUpdated(zc.ID, zc.Queue.Len())
	return nil
}
