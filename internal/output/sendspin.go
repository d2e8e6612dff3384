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

	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/sendspin"
)

// sendspinDriver feeds the zone's PCM sub-stream to the sendspin server,
// which stamps and fans it out to the zone's WebSocket players.
type sendspinDriver struct {
	zoneID int
	id     string
	server *sendspin.Server
	coord  *group.Coordinator
	logger zerolog.Logger

	// clientID binds one named player to this zone when set; otherwise
	// clients pick the zone themselves at hello time.
	clientID string
	profile  models.StreamProfile

	mu        sync.Mutex
	sub       *engine.Subscriber
	streaming bool
}

func newSendspinDriver(zoneID int, oc models.OutputConfig, server *sendspin.Server, coord *group.Coordinator, logger zerolog.Logger) (Driver, error) {
	if server == nil {
		return nil, fmt.Errorf("sendspin server not running")
	}
	d := &sendspinDriver{
		zoneID:   zoneID,
		id:       oc.ID,
		server:   server,
		coord:    coord,
		logger:   logger,
		clientID: oc.Options["client_id"],
		profile:  defaultProfile(oc, pcm48),
	}
	if d.clientID != "" {
		server.AssignClient(d.clientID, zoneID)
	}
	if coord != nil {
		coord.Register(zoneID, d)
	}
	return d, nil
}

func (d *sendspinDriver) Type() string { return "sendspin" }
func (d *sendspinDriver) ID() string   { return d.id }

// StreamProfile requests the PCM sub-stream sendspin re-encodes per
// client.
func (d *sendspinDriver) StreamProfile() models.StreamProfile { return d.profile }

func (d *sendspinDriver) Play(ctx context.Context, sess *Session) error {
	if d.coord != nil && d.coord.TryJoinLeader(ctx, d) {
		return nil
	}

	sub, err := sess.Engine.CreateStream(d.zoneID, d.profile, sess.Prebuffer, "sendspin:"+d.id)
	if err != nil {
		return fmt.Errorf("attach sendspin stream: %w", err)
	}

	d.mu.Lock()
	if d.sub != nil {
		d.sub.Close()
	}
	d.sub = sub
	d.streaming = true
	d.mu.Unlock()

	d.server.StartStream(d.zoneID, d.profile, sess.Metadata, sub.C)
	d.server.SetPlaybackState(d.zoneID, "playing")
	if d.coord != nil {
		d.coord.SyncGroupMembers(ctx, d.zoneID)
	}
	return nil
}

func (d *sendspinDriver) Pause(ctx context.Context, sess *Session) error {
	d.server.SetPlaybackState(d.zoneID, "paused")
	return nil
}

func (d *sendspinDriver) Resume(ctx context.Context, sess *Session) error {
	d.server.SetPlaybackState(d.zoneID, "playing")
	return nil
}

func (d *sendspinDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.streaming = false
	d.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	d.server.StopStream(d.zoneID)
	return nil
}

func (d *sendspinDriver) SetVolume(ctx context.Context, level int) error {
	d.server.SetVolume(d.zoneID, level)
	return nil
}

func (d *sendspinDriver) UpdateMetadata(ctx context.Context, sess *Session) error {
	d.server.UpdateMetadata(d.zoneID, sess.Metadata)
	return nil
}

func (d *sendspinDriver) Dispose(ctx context.Context) error {
	if d.coord != nil {
		d.coord.Unregister(d.zoneID)
	}
	if d.clientID != "" {
		d.server.UnassignClient(d.clientID)
	}
	return d.Stop(ctx, nil)
}

// Group participation: a follower zone is pointed at the leader's
// stream by reassigning its clients; sendspin timestamps keep them in
// sync.

func (d *sendspinDriver) ParticipantZone() int { return d.zoneID }

func (d *sendspinDriver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

func (d *sendspinDriver) AttachTo(ctx context.Context, leader group.Participant) error {
	if d.clientID == "" {
		return fmt.Errorf("sendspin output %s has no bound client to move", d.id)
	}
	d.server.AssignClient(d.clientID, leader.ParticipantZone())
	return nil
}

func (d *sendspinDriver) DetachFrom(ctx context.Context, leader group.Participant) error {
	if d.clientID == "" {
		return nil
	}
	d.server.AssignClient(d.clientID, d.zoneID)
	return nil
}

func (d *sendspinDriver) StopFlow(ctx context.Context) error {
	return d.Stop(ctx, nil)
}
