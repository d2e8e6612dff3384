/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
)

const (
	// airplayConnectRetries bounds the session dial loop; some speakers
	// take many seconds to wake from standby.
	airplayConnectRetries = 20
	airplayRetryDelay     = time.Second

	// airplayStartLead delays the first RTP packet so receivers fill
	// their scheduling buffer; every extra group member adds setup time.
	airplayStartLead          = 250 * time.Millisecond
	airplayStartLeadPerMember = 150 * time.Millisecond

	// airplayJoinPrime is how much recent PCM a mid-stream joiner gets
	// burst into its buffer: one second at 44100 Hz stereo s16.
	airplayJoinPrime = 44100 * 4
)

// startLeadFor sizes the send-ahead before the first packet of a flow.
func startLeadFor(members int) time.Duration {
	if members < 1 {
		members = 1
	}
	return airplayStartLead + time.Duration(members-1)*airplayStartLeadPerMember
}

// airplayFlow is one running RTP flow fanning the zone's PCM to every
// member session. Grouped zones share the leader's flow, so additions
// and removals happen mid-stream.
type airplayFlow struct {
	mu      sync.Mutex
	members map[string]*raopSession // keyed by host
	sub     *engine.Subscriber
	done    chan struct{}
	lead    time.Duration
	first   bool
}

func (f *airplayFlow) addMember(host string, sess *raopSession) {
	f.mu.Lock()
	f.members[host] = sess
	f.mu.Unlock()
}

func (f *airplayFlow) removeMember(host string) *raopSession {
	f.mu.Lock()
	sess := f.members[host]
	delete(f.members, host)
	f.mu.Unlock()
	return sess
}

func (f *airplayFlow) memberSessions() []*raopSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*raopSession, 0, len(f.members))
	for _, s := range f.members {
		out = append(out, s)
	}
	return out
}

// run paces packets against the wall clock: 352 frames at 44100 Hz is
// one packet roughly every 8ms. Receiver-side buffering absorbs jitter.
func (f *airplayFlow) run() {
	defer close(f.done)

	const packetBytes = raopFramesPerPacket * 4
	frameDur := time.Duration(raopFramesPerPacket) * time.Second / 44100

	var pending []byte
	next := time.Now().Add(f.lead)
	for chunk := range f.sub.C {
		pending = append(pending, chunk...)
		for len(pending) >= packetBytes {
			packet := pending[:packetBytes]
			pending = pending[packetBytes:]

			if wait := time.Until(next); wait > 0 {
				time.Sleep(wait)
			}
			next = next.Add(frameDur)
			if time.Since(next) > 500*time.Millisecond {
				// Fell behind (scheduler stall); resync rather than burst.
				next = time.Now()
			}

			first := !f.first
			f.first = true
			for _, sess := range f.memberSessions() {
				if err := sess.sendFrames(packet, first); err != nil {
					sess.logger.Debug().Err(err).Msg("raop send failed")
				}
			}
		}
	}
	if len(pending) > 0 {
		for _, sess := range f.memberSessions() {
			sess.sendFrames(pending, false)
		}
	}
}

// airplayDriver streams the zone's PCM to an AirPlay receiver over
// RAOP. One driver owns one receiver; grouped zones attach their
// receiver to the leader's flow.
type airplayDriver struct {
	zoneID   int
	zoneName string
	id       string
	host     string
	port     int
	coord    *group.Coordinator
	logger   zerolog.Logger

	mu     sync.Mutex
	sess   *raopSession
	flow   *airplayFlow
	engine *engine.Engine
}

func newAirplayDriver(zoneID int, zoneName string, oc models.OutputConfig, coord *group.Coordinator, logger zerolog.Logger) (Driver, error) {
	if oc.Address == "" {
		return nil, fmt.Errorf("airplay output %s needs a receiver address", oc.ID)
	}
	port := 0
	if p := oc.Options["port"]; p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	d := &airplayDriver{
		zoneID:   zoneID,
		zoneName: zoneName,
		id:       oc.ID,
		host:     oc.Address,
		port:     port,
		coord:    coord,
		logger:   logger,
	}
	if coord != nil {
		coord.Register(zoneID, d)
	}
	return d, nil
}

func (d *airplayDriver) Type() string { return "airplay" }
func (d *airplayDriver) ID() string   { return d.id }

func (d *airplayDriver) StreamProfile() models.StreamProfile { return pcm44 }

func (d *airplayDriver) PreferredOutput() PreferredOutput {
	return PreferredOutput{SampleRate: 44100, Channels: 2, BitDepth: 16}
}

// connectSession dials with retries; speakers in standby need time.
func (d *airplayDriver) connectSession(ctx context.Context) (*raopSession, error) {
	var lastErr error
	for attempt := 0; attempt < airplayConnectRetries; attempt++ {
		sess := newRAOPSession(d.host, d.port, d.logger)
		err := sess.connect(ctx)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		select {
		case <-time.After(airplayRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("airplay %s unreachable: %w", d.host, lastErr)
}

func (d *airplayDriver) Play(ctx context.Context, sess *Session) error {
	if d.coord != nil && d.coord.TryJoinLeader(ctx, d) {
		return nil
	}

	raop, err := d.connectSession(ctx)
	if err != nil {
		return err
	}
	d.logger.Debug().Str("protocol", raop.receiverProtocol()).Str("host", d.host).Msg("airplay receiver connected")
	sub, err := sess.Engine.CreateStream(d.zoneID, pcm44, sess.Prebuffer, "airplay:"+d.id)
	if err != nil {
		raop.teardown()
		return fmt.Errorf("attach airplay stream: %w", err)
	}

	members := 1
	if d.coord != nil {
		members = d.coord.GroupSize(d.zoneID)
	}
	flow := &airplayFlow{
		members: map[string]*raopSession{d.host: raop},
		sub:     sub,
		done:    make(chan struct{}),
		lead:    startLeadFor(members),
	}

	d.mu.Lock()
	d.stopFlowLocked()
	d.sess = raop
	d.flow = flow
	d.engine = sess.Engine
	d.mu.Unlock()

	go flow.run()
	raop.setMetadata(sess.Metadata.Title, sess.Metadata.Artist, sess.Metadata.Album)
	if d.coord != nil {
		d.coord.SyncGroupMembers(ctx, d.zoneID)
	}
	return nil
}

// stopFlowLocked tears the current flow down; d.mu must be held.
func (d *airplayDriver) stopFlowLocked() {
	if d.flow != nil {
		d.flow.sub.Close()
		d.flow = nil
	}
	if d.sess != nil {
		d.sess.teardown()
		d.sess = nil
	}
}

func (d *airplayDriver) Pause(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	raop := d.sess
	d.mu.Unlock()
	if raop == nil {
		return nil
	}
	// The engine stops producing on pause; flushing drops the receiver's
	// buffered tail so pause is immediate.
	return raop.flush()
}

func (d *airplayDriver) Resume(ctx context.Context, sess *Session) error {
	// Packets resume when the engine resumes; nothing to signal.
	return nil
}

func (d *airplayDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	d.stopFlowLocked()
	d.mu.Unlock()
	return nil
}

func (d *airplayDriver) SetVolume(ctx context.Context, level int) error {
	d.mu.Lock()
	raop := d.sess
	d.mu.Unlock()
	if raop == nil {
		return nil
	}
	return raop.setVolume(level)
}

func (d *airplayDriver) UpdateMetadata(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	raop := d.sess
	d.mu.Unlock()
	if raop == nil {
		return nil
	}
	title := sess.Metadata.Title
	if sess.IsRadio && title == "" {
		title = sess.Metadata.Station
	}
	return raop.setMetadata(title, sess.Metadata.Artist, sess.Metadata.Album)
}

func (d *airplayDriver) LatencyMs() int {
	// RAOP receivers render 2s behind the RTP clock.
	return 2000
}

func (d *airplayDriver) Dispose(ctx context.Context) error {
	if d.coord != nil {
		d.coord.Unregister(d.zoneID)
	}
	return d.Stop(ctx, nil)
}

func (d *airplayDriver) ParticipantZone() int { return d.zoneID }

func (d *airplayDriver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flow != nil
}

// AttachTo connects this driver's receiver and adds it to the leader's
// running flow, so both render the same RTP stream. The joiner is first
// primed from the leader's recent ring so its buffer is not empty when
// live packets arrive.
func (d *airplayDriver) AttachTo(ctx context.Context, leader group.Participant) error {
	ld, ok := leader.(*airplayDriver)
	if !ok {
		return fmt.Errorf("airplay can only group with airplay leaders")
	}
	ld.mu.Lock()
	flow := ld.flow
	eng := ld.engine
	ld.mu.Unlock()
	if flow == nil {
		return fmt.Errorf("leader zone %d has no running flow", ld.zoneID)
	}

	raop, err := d.connectSession(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.stopFlowLocked()
	d.sess = raop
	d.mu.Unlock()

	if eng != nil {
		primeJoiner(eng, ld.zoneID, raop)
	}
	flow.addMember(d.host, raop)
	return nil
}

// primeJoiner replays the leader's recent ring into a joining receiver
// as a catch-up burst. A one-shot primed subscriber hands the ring
// content over; anything past it comes from the live flow.
func primeJoiner(eng *engine.Engine, leaderZone int, raop *raopSession) {
	sub, err := eng.CreateStream(leaderZone, pcm44, airplayJoinPrime, "airplay-join")
	if err != nil {
		return
	}
	defer sub.Close()

	var pending []byte
drain:
	for {
		select {
		case chunk, ok := <-sub.C:
			if !ok {
				break drain
			}
			pending = append(pending, chunk...)
		default:
			break drain
		}
	}

	const packetBytes = raopFramesPerPacket * 4
	for len(pending) >= packetBytes {
		if err := raop.sendFrames(pending[:packetBytes], false); err != nil {
			return
		}
		pending = pending[packetBytes:]
	}
}

func (d *airplayDriver) DetachFrom(ctx context.Context, leader group.Participant) error {
	ld, ok := leader.(*airplayDriver)
	if !ok {
		return nil
	}
	ld.mu.Lock()
	flow := ld.flow
	ld.mu.Unlock()
	if flow != nil {
		flow.removeMember(d.host)
	}

	d.mu.Lock()
	if d.sess != nil {
		d.sess.teardown()
		d.sess = nil
	}
	d.mu.Unlock()
	return nil
}

func (d *airplayDriver) StopFlow(ctx context.Context) error {
	return d.Stop(ctx, nil)
}
