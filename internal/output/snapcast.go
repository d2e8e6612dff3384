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

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/snapcast"
)

// snapcastDriver routes a snapserver group onto the zone's stream. The
// snapserver is configured with one stream source per zone (named
// zone-<id>) fed from the zone's HTTP sub-stream; the driver only
// steers groups and client volume over JSON-RPC.
type snapcastDriver struct {
	zoneID int
	id     string
	conn   *snapcast.Conn
	coord  *group.Coordinator
	logger zerolog.Logger

	// clients are the snapcast client ids belonging to this zone.
	clients  []string
	streamID string

	mu        sync.Mutex
	streaming bool
}

func newSnapcastDriver(zoneID int, oc models.OutputConfig, conn *snapcast.Conn, coord *group.Coordinator, logger zerolog.Logger) (Driver, error) {
	clients := splitList(oc.Options["clients"])
	if len(clients) == 0 && oc.Address != "" {
		clients = []string{oc.Address}
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("snapcast output %s lists no clients", oc.ID)
	}
	streamID := oc.Options["stream"]
	if streamID == "" {
		streamID = fmt.Sprintf("zone-%d", zoneID)
	}
	d := &snapcastDriver{
		zoneID:   zoneID,
		id:       oc.ID,
		conn:     conn,
		coord:    coord,
		logger:   logger,
		clients:  clients,
		streamID: streamID,
	}
	if coord != nil {
		coord.Register(zoneID, d)
	}
	return d, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (d *snapcastDriver) Type() string { return "snapcast" }
func (d *snapcastDriver) ID() string   { return d.id }

// routeClients points every zone client's snapserver group at streamID.
func (d *snapcastDriver) routeClients(ctx context.Context, streamID string, mute bool) error {
	var firstErr error
	for _, clientID := range d.clients {
		g, err := d.conn.GroupForClient(ctx, clientID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if g.StreamID != streamID {
			if err := d.conn.SetGroupStream(ctx, g.ID, streamID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if g.Muted != mute {
			if err := d.conn.SetGroupMute(ctx, g.ID, mute); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *snapcastDriver) Play(ctx context.Context, sess *Session) error {
	if d.coord != nil && d.coord.TryJoinLeader(ctx, d) {
		return nil
	}
	if err := d.routeClients(ctx, d.streamID, false); err != nil {
		return fmt.Errorf("route snapcast clients: %w", err)
	}
	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()
	if d.coord != nil {
		d.coord.SyncGroupMembers(ctx, d.zoneID)
	}
	return nil
}

// Pause mutes rather than re-routing; snapserver keeps the stream so
// resume is instant.
func (d *snapcastDriver) Pause(ctx context.Context, sess *Session) error {
	return d.routeClients(ctx, d.streamID, true)
}

func (d *snapcastDriver) Resume(ctx context.Context, sess *Session) error {
	return d.routeClients(ctx, d.streamID, false)
}

func (d *snapcastDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	d.streaming = false
	d.mu.Unlock()
	return d.routeClients(ctx, d.streamID, true)
}

func (d *snapcastDriver) SetVolume(ctx context.Context, level int) error {
	var firstErr error
	for _, clientID := range d.clients {
		if err := d.conn.SetClientVolume(ctx, clientID, level); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *snapcastDriver) LatencyMs() int {
	// Snapclient default buffer.
	return 1000
}

func (d *snapcastDriver) Dispose(ctx context.Context) error {
	if d.coord != nil {
		d.coord.Unregister(d.zoneID)
	}
	return nil
}

func (d *snapcastDriver) ParticipantZone() int { return d.zoneID }

func (d *snapcastDriver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// AttachTo moves this zone's clients onto the leader's stream;
// snapserver handles the sample-accurate sync from there.
func (d *snapcastDriver) AttachTo(ctx context.Context, leader group.Participant) error {
	if err := d.routeClients(ctx, leaderStreamID(leader), false); err != nil {
		return err
	}
	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()
	return nil
}

// leaderStreamID resolves the snapserver stream source a member must
// route to: the leader's configured stream name when the leader is a
// snapcast driver, else the zone-<id> convention.
func leaderStreamID(leader group.Participant) string {
	if ld, ok := leader.(*snapcastDriver); ok {
		return ld.streamID
	}
	return fmt.Sprintf("zone-%d", leader.ParticipantZone())
}

func (d *snapcastDriver) DetachFrom(ctx context.Context, leader group.Participant) error {
	return d.routeClients(ctx, d.streamID, true)
}

func (d *snapcastDriver) StopFlow(ctx context.Context) error {
	return d.Stop(ctx, nil)
}
