/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

// spotifyDriver steers the zone's Spotify Connect daemon. It renders
// nothing itself: when the zone's queue authority is Spotify, the
// daemon plays directly and this driver relays transport commands.
type spotifyDriver struct {
	zoneID  int
	id      string
	apiBase string
	http    *http.Client
	logger  zerolog.Logger
}

func newSpotifyDriver(zoneID int, oc models.OutputConfig, logger zerolog.Logger) (Driver, error) {
	if oc.Address == "" {
		return nil, fmt.Errorf("spotify output %s needs the connect daemon address", oc.ID)
	}
	base := oc.Address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &spotifyDriver{
		zoneID:  zoneID,
		id:      oc.ID,
		apiBase: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}, nil
}

func (d *spotifyDriver) Type() string { return "spotify" }
func (d *spotifyDriver) ID() string   { return d.id }

// ControllerOnly keeps this output out of play dispatch; it only ever
// steers the daemon.
func (d *spotifyDriver) ControllerOnly() bool { return true }

func (d *spotifyDriver) post(ctx context.Context, path string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("spotify daemon %s: %w", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("spotify daemon %s: http %d", path, resp.StatusCode)
	}
	return nil
}

func (d *spotifyDriver) Play(ctx context.Context, sess *Session) error   { return nil }
func (d *spotifyDriver) Pause(ctx context.Context, sess *Session) error  { return d.post(ctx, "/player/pause", nil) }
func (d *spotifyDriver) Resume(ctx context.Context, sess *Session) error { return d.post(ctx, "/player/resume", nil) }

func (d *spotifyDriver) Stop(ctx context.Context, sess *Session) error {
	// Best effort; the daemon may not be playing at all.
	if err := d.post(ctx, "/player/pause", nil); err != nil {
		d.logger.Debug().Err(err).Msg("spotify pause on stop failed")
	}
	return nil
}

func (d *spotifyDriver) SetVolume(ctx context.Context, level int) error {
	return d.post(ctx, "/player/volume", map[string]any{"volume": level})
}

// StepQueue claims queue steps when the daemon owns progression.
func (d *spotifyDriver) StepQueue(ctx context.Context, delta int) (bool, error) {
	path := "/player/next"
	if delta < 0 {
		path = "/player/prev"
	}
	if err := d.post(ctx, path, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (d *spotifyDriver) Dispose(ctx context.Context) error { return nil }
