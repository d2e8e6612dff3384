/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/slimproto"
)

// groupStartHeadroom is added to the freshest player clock reading when
// computing the shared unpause barrier, covering the strm round trip.
const groupStartHeadroom = 200 * time.Millisecond

// groupReadyTimeout bounds waiting for grouped players to report their
// buffers filled before the shared release. A player that never fills
// is started anyway rather than stalling the group.
const groupReadyTimeout = 10 * time.Second

// readyPollInterval spaces the solicited STAT rounds of the readiness
// wait.
const readyPollInterval = 100 * time.Millisecond

// slimprotoDriver points a squeezelite player at the zone's HTTP
// sub-stream. Grouped zones buffer with autostart off and release on a
// shared jiffies barrier.
type slimprotoDriver struct {
	zoneID int
	id     string
	mac    string
	server *slimproto.Server
	coord  *group.Coordinator
	logger zerolog.Logger

	streamHost string
	streamPort int
	profile    models.StreamProfile

	mu        sync.Mutex
	streaming bool
	// released flips once the group's shared unpause went out; members
	// attaching afterwards release themselves.
	released bool
	// pending collects members that buffered against this leader's
	// stream and wait for the shared release.
	pending []*slimprotoDriver
}

func newSlimprotoDriver(zoneID int, oc models.OutputConfig, server *slimproto.Server, cfg *config.Config, coord *group.Coordinator, logger zerolog.Logger) (Driver, error) {
	if server == nil {
		return nil, fmt.Errorf("slimproto server not running")
	}
	mac := strings.ToLower(strings.ReplaceAll(oc.MAC, ":", ""))
	if mac == "" {
		return nil, fmt.Errorf("slimproto output %s needs a player mac", oc.ID)
	}

	host, port := streamHostPort(cfg)
	d := &slimprotoDriver{
		zoneID:     zoneID,
		id:         oc.ID,
		mac:        mac,
		server:     server,
		coord:      coord,
		logger:     logger,
		streamHost: host,
		streamPort: port,
		profile:    defaultProfile(oc, flacStream),
	}
	if coord != nil {
		coord.Register(zoneID, d)
	}
	return d, nil
}

// streamHostPort derives the address players fetch audio from.
func streamHostPort(cfg *config.Config) (string, int) {
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Hostname() != "" {
		port := cfg.HTTPPort
		if p := u.Port(); p != "" {
			fmt.Sscanf(p, "%d", &port)
		}
		return u.Hostname(), port
	}
	return cfg.HTTPBind, cfg.HTTPPort
}

func (d *slimprotoDriver) Type() string { return "slimproto" }
func (d *slimprotoDriver) ID() string   { return d.id }

func (d *slimprotoDriver) StreamProfile() models.StreamProfile { return d.profile }

// formatByte maps the stream codec to the SlimProto format code.
func (d *slimprotoDriver) formatByte() byte {
	switch d.profile.Codec {
	case "flac":
		return 'f'
	case "mp3":
		return 'm'
	default:
		return 'p'
	}
}

func (d *slimprotoDriver) streamPath() string {
	return fmt.Sprintf("/stream/%d.%s", d.zoneID, d.profile.Codec)
}

func (d *slimprotoDriver) player() (*slimproto.Player, error) {
	p, ok := d.server.Player(d.mac)
	if !ok {
		return nil, fmt.Errorf("player %s not connected", d.mac)
	}
	return p, nil
}

func (d *slimprotoDriver) Play(ctx context.Context, sess *Session) error {
	if d.coord != nil && d.coord.TryJoinLeader(ctx, d) {
		return nil
	}
	p, err := d.player()
	if err != nil {
		return err
	}

	leading := d.isGroupLeader()
	d.mu.Lock()
	d.released = false
	d.pending = nil
	d.mu.Unlock()

	if err := p.Stream(d.streamHost, d.streamPort, d.streamPath(), d.formatByte(), !leading); err != nil {
		return fmt.Errorf("strm start: %w", err)
	}

	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()

	if leading {
		// Leader of a group: members buffer first, then everyone is
		// released on one shared instant.
		d.coord.SyncGroupMembers(ctx, d.zoneID)
		return d.releaseGroup(ctx)
	}
	return nil
}

// isGroupLeader reports whether this zone leads a slimproto group with
// more than itself in it.
func (d *slimprotoDriver) isGroupLeader() bool {
	if d.coord == nil || !d.coord.Grouped(d.zoneID) {
		return false
	}
	return d.coord.BuildPlan(d.zoneID, "", nil).IsLeader
}

// releaseGroup waits until every buffered player of the group reports
// stream data, then unpauses them all against one shared wall-clock
// instant mapped onto each player's own jiffies clock.
func (d *slimprotoDriver) releaseGroup(ctx context.Context) error {
	members := d.takePending()

	readyCtx, cancel := context.WithTimeout(ctx, groupReadyTimeout)
	defer cancel()
	for _, m := range append([]*slimprotoDriver{d}, members...) {
		p, err := m.player()
		if err != nil {
			continue
		}
		if !waitBufferReady(readyCtx, p) {
			d.logger.Warn().Int("zone", m.zoneID).Msg("player not buffer-ready before release")
		}
	}

	releaseAt := time.Now().Add(groupStartHeadroom)
	var firstErr error
	for _, m := range members {
		if err := m.startAt(releaseAt); err != nil {
			d.logger.Error().Err(err).Int("zone", m.zoneID).Msg("member release failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := d.startAt(releaseAt); err != nil {
		return err
	}
	return firstErr
}

// startAt unpauses this driver's player when its clock reaches the
// shared release instant.
func (d *slimprotoDriver) startAt(at time.Time) error {
	p, err := d.player()
	if err != nil {
		return err
	}
	if err := p.Unpause(p.JiffiesAt(at)); err != nil {
		return err
	}
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
	return nil
}

// waitBufferReady solicits STAT rounds until the player reports stream
// data buffered, bounded by ctx.
func waitBufferReady(ctx context.Context, p *slimproto.Player) bool {
	for {
		if err := p.RequestStatus(); err != nil {
			return false
		}
		select {
		case <-time.After(readyPollInterval):
		case <-ctx.Done():
			return false
		}
		if st := p.State(); st.BufferFill > 0 {
			return true
		}
	}
}

func (d *slimprotoDriver) addPending(m *slimprotoDriver) {
	d.mu.Lock()
	d.pending = append(d.pending, m)
	d.mu.Unlock()
}

func (d *slimprotoDriver) takePending() []*slimprotoDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	members := d.pending
	d.pending = nil
	return members
}

func (d *slimprotoDriver) isReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *slimprotoDriver) Pause(ctx context.Context, sess *Session) error {
	p, err := d.player()
	if err != nil {
		return err
	}
	return p.Pause()
}

func (d *slimprotoDriver) Resume(ctx context.Context, sess *Session) error {
	p, err := d.player()
	if err != nil {
		return err
	}
	return p.Unpause(0)
}

func (d *slimprotoDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	d.streaming = false
	d.released = false
	d.pending = nil
	d.mu.Unlock()

	p, err := d.player()
	if err != nil {
		// A gone player is already stopped.
		return nil
	}
	return p.Stop()
}

func (d *slimprotoDriver) SetVolume(ctx context.Context, level int) error {
	p, err := d.player()
	if err != nil {
		return err
	}
	return p.SetVolume(level)
}

func (d *slimprotoDriver) LatencyMs() int {
	// Squeezelite render latency with default output buffering.
	return 120
}

func (d *slimprotoDriver) Dispose(ctx context.Context) error {
	if d.coord != nil {
		d.coord.Unregister(d.zoneID)
	}
	return d.Stop(ctx, nil)
}

func (d *slimprotoDriver) ParticipantZone() int { return d.zoneID }

func (d *slimprotoDriver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// AttachTo points this member's player at the leader zone's stream,
// buffered. During a group start the leader releases everyone on the
// shared instant; a mid-stream join waits for its own buffer and
// releases itself.
func (d *slimprotoDriver) AttachTo(ctx context.Context, leader group.Participant) error {
	ld, ok := leader.(*slimprotoDriver)
	if !ok {
		return fmt.Errorf("slimproto can only group with slimproto leaders")
	}
	p, err := d.player()
	if err != nil {
		return err
	}
	leaderPath := fmt.Sprintf("/stream/%d.%s", ld.zoneID, d.profile.Codec)
	if err := p.Stream(d.streamHost, d.streamPort, leaderPath, d.formatByte(), false); err != nil {
		return err
	}
	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()

	if !ld.isReleased() {
		ld.addPending(d)
		return nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, groupReadyTimeout)
	defer cancel()
	if !waitBufferReady(readyCtx, p) {
		d.logger.Warn().Int("zone", d.zoneID).Msg("joining player not buffer-ready")
	}
	return d.startAt(time.Now().Add(groupStartHeadroom))
}

func (d *slimprotoDriver) DetachFrom(ctx context.Context, leader group.Participant) error {
	return d.Stop(ctx, nil)
}

func (d *slimprotoDriver) StopFlow(ctx context.Context) error {
	return d.Stop(ctx, nil)
}
