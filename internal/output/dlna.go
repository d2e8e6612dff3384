/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/upnp"
)

// dlnaDriver plays the zone stream on a generic UPnP AV renderer. The
// renderer's control URLs come from its device description, fetched
// lazily on first use so a powered-off renderer does not fail zone
// configuration.
type dlnaDriver struct {
	zoneID int
	id     string
	client *upnp.Client
	logger zerolog.Logger

	// descriptionURL is the device description address, either the
	// configured value or the conventional port 49152 path.
	descriptionURL string

	mu       sync.Mutex
	endpoint *upnp.Endpoint
}

func newDLNADriver(zoneID int, oc models.OutputConfig, client *upnp.Client, logger zerolog.Logger) (Driver, error) {
	descURL := oc.Options["description_url"]
	if descURL == "" {
		if oc.Address == "" {
			return nil, fmt.Errorf("dlna output %s needs an address or description_url", oc.ID)
		}
		descURL = fmt.Sprintf("http://%s:49152/description.xml", oc.Address)
	}
	return &dlnaDriver{
		zoneID:         zoneID,
		id:             oc.ID,
		client:         client,
		logger:         logger,
		descriptionURL: descURL,
	}, nil
}

func (d *dlnaDriver) Type() string { return "dlna" }
func (d *dlnaDriver) ID() string   { return d.id }

func (d *dlnaDriver) StreamProfile() models.StreamProfile { return mp3Stream }

// resolve fetches and caches the renderer's endpoint.
func (d *dlnaDriver) resolve(ctx context.Context) (upnp.Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.endpoint != nil {
		return *d.endpoint, nil
	}
	ep, err := d.client.DescribeRenderer(ctx, d.descriptionURL)
	if err != nil {
		return upnp.Endpoint{}, fmt.Errorf("describe renderer: %w", err)
	}
	d.endpoint = &ep
	return ep, nil
}

func (d *dlnaDriver) Play(ctx context.Context, sess *Session) error {
	if sess.StreamURL == "" {
		return fmt.Errorf("dlna output needs a stream url")
	}
	ep, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	title := sess.Metadata.Title
	if sess.IsRadio && sess.Metadata.Station != "" {
		title = sess.Metadata.Station
	}
	didl := upnp.DIDLMetadata(title, sess.StreamURL, "audio/mpeg")
	if err := d.client.SetTransportURI(ctx, ep, sess.StreamURL, didl); err != nil {
		return err
	}
	return d.client.Play(ctx, ep)
}

func (d *dlnaDriver) Pause(ctx context.Context, sess *Session) error {
	ep, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	if err := d.client.Pause(ctx, ep); err != nil {
		// Live streams commonly reject Pause; stopping is the fallback.
		return d.client.Stop(ctx, ep)
	}
	return nil
}

func (d *dlnaDriver) Resume(ctx context.Context, sess *Session) error {
	ep, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	if err := d.client.Play(ctx, ep); err == nil {
		return nil
	}
	if sess != nil && sess.StreamURL != "" {
		if err := d.client.SetTransportURI(ctx, ep, sess.StreamURL, ""); err != nil {
			return err
		}
	}
	return d.client.Play(ctx, ep)
}

func (d *dlnaDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	resolved := d.endpoint != nil
	d.mu.Unlock()
	if !resolved {
		// Never described means never played.
		return nil
	}
	ep, err := d.resolve(ctx)
	if err != nil {
		return nil
	}
	return d.client.Stop(ctx, ep)
}

func (d *dlnaDriver) SetVolume(ctx context.Context, level int) error {
	ep, err := d.resolve(ctx)
	if err != nil {
		return err
	}
	return d.client.SetVolume(ctx, ep, level)
}

func (d *dlnaDriver) LatencyMs() int { return 800 }

func (d *dlnaDriver) Dispose(ctx context.Context) error { return nil }
