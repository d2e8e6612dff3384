/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/upnp"
)

// sonosDriver drives one Sonos player (the household coordinator of its
// bragi zone) over SOAP. Grouped zones use native Sonos grouping: the
// member player joins the leader player's RINCON group and Sonos keeps
// them in sync itself.
type sonosDriver struct {
	zoneID int
	id     string
	client *upnp.Client
	coord  *group.Coordinator
	logger zerolog.Logger

	endpoint upnp.Endpoint
	uuid     string // RINCON id of the player

	mu        sync.Mutex
	streaming bool
}

func newSonosDriver(zoneID int, oc models.OutputConfig, client *upnp.Client, coord *group.Coordinator, logger zerolog.Logger) (Driver, error) {
	if oc.Address == "" {
		return nil, fmt.Errorf("sonos output %s needs a player address", oc.ID)
	}
	d := &sonosDriver{
		zoneID:   zoneID,
		id:       oc.ID,
		client:   client,
		coord:    coord,
		logger:   logger,
		endpoint: upnp.SonosEndpoint(oc.Address),
		uuid:     oc.Options["uuid"],
	}
	if coord != nil {
		coord.Register(zoneID, d)
	}
	return d, nil
}

func (d *sonosDriver) Type() string { return "sonos" }
func (d *sonosDriver) ID() string   { return d.id }

// StreamProfile asks for an mp3 sub-stream; Sonos pulls it over HTTP.
func (d *sonosDriver) StreamProfile() models.StreamProfile { return mp3Stream }

func (d *sonosDriver) Play(ctx context.Context, sess *Session) error {
	if d.coord != nil && d.coord.TryJoinLeader(ctx, d) {
		return nil
	}
	if sess.StreamURL == "" {
		return fmt.Errorf("sonos output needs a stream url")
	}

	title := sess.Metadata.Title
	if sess.IsRadio && sess.Metadata.Station != "" {
		title = sess.Metadata.Station
	}
	didl := upnp.DIDLMetadata(title, sess.StreamURL, "audio/mpeg")
	if err := d.client.SetTransportURI(ctx, d.endpoint, sess.StreamURL, didl); err != nil {
		return fmt.Errorf("set transport uri: %w", err)
	}
	if err := d.client.Play(ctx, d.endpoint); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()
	if d.coord != nil {
		d.coord.SyncGroupMembers(ctx, d.zoneID)
	}
	return nil
}

func (d *sonosDriver) Pause(ctx context.Context, sess *Session) error {
	err := d.client.Pause(ctx, d.endpoint)
	// Radio transports reject Pause; Stop is the Sonos-sanctioned
	// equivalent there.
	if err != nil && sess != nil && sess.IsRadio {
		return d.client.Stop(ctx, d.endpoint)
	}
	return err
}

func (d *sonosDriver) Resume(ctx context.Context, sess *Session) error {
	if err := d.client.Play(ctx, d.endpoint); err == nil {
		return nil
	}
	// After a radio Stop the transport URI is gone; restart from the
	// session's live stream.
	if sess != nil && sess.StreamURL != "" {
		if err := d.client.SetTransportURI(ctx, d.endpoint, sess.StreamURL, ""); err != nil {
			return err
		}
		return d.client.Play(ctx, d.endpoint)
	}
	return d.client.Play(ctx, d.endpoint)
}

func (d *sonosDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	d.streaming = false
	d.mu.Unlock()
	return d.client.Stop(ctx, d.endpoint)
}

func (d *sonosDriver) SetVolume(ctx context.Context, level int) error {
	return d.client.SetVolume(ctx, d.endpoint, level)
}

func (d *sonosDriver) UpdateMetadata(ctx context.Context, sess *Session) error {
	// Sonos only reads DIDL at SetAVTransportURI time; mid-stream radio
	// metadata rides the ICY tags of the stream itself.
	return nil
}

func (d *sonosDriver) LatencyMs() int {
	// Sonos HTTP pull buffering.
	return 600
}

func (d *sonosDriver) Dispose(ctx context.Context) error {
	if d.coord != nil {
		d.coord.Unregister(d.zoneID)
	}
	return nil
}

func (d *sonosDriver) ParticipantZone() int { return d.zoneID }

func (d *sonosDriver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// AttachTo joins this player to the leader player's native Sonos group.
func (d *sonosDriver) AttachTo(ctx context.Context, leader group.Participant) error {
	ld, ok := leader.(*sonosDriver)
	if !ok {
		return fmt.Errorf("sonos can only group with sonos leaders")
	}
	uuid := ld.uuid
	if uuid == "" {
		var err error
		uuid, err = d.lookupUUID(ctx, ld)
		if err != nil {
			return err
		}
	}
	if err := d.client.JoinGroup(ctx, d.endpoint, uuid); err != nil {
		return fmt.Errorf("join sonos group: %w", err)
	}
	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()
	return nil
}

// lookupUUID resolves a leader's RINCON id from household topology when
// the config omits it.
func (d *sonosDriver) lookupUUID(ctx context.Context, leader *sonosDriver) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	groups, err := d.client.GetZoneGroups(ctx, leader.endpoint)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		for _, m := range g.Members {
			if containsHost(m.Location, leader.endpoint.Host) {
				return m.UUID, nil
			}
		}
	}
	return "", fmt.Errorf("leader %s not found in household topology", leader.endpoint.Host)
}

func containsHost(location, host string) bool {
	if host == "" || location == "" {
		return false
	}
	return strings.Contains(location, "//"+host+":") || strings.Contains(location, "//"+host+"/")
}

func (d *sonosDriver) DetachFrom(ctx context.Context, leader group.Participant) error {
	if err := d.client.LeaveGroup(ctx, d.endpoint); err != nil {
		return err
	}
	d.mu.Lock()
	d.streaming = false
	d.mu.Unlock()
	return nil
}

func (d *sonosDriver) StopFlow(ctx context.Context) error {
	if err := d.client.LeaveGroup(ctx, d.endpoint); err != nil {
		d.logger.Debug().Err(err).Msg("leave group on dissolve failed")
	}
	return d.Stop(ctx, nil)
}
