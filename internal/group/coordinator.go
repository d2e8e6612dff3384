/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package group

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Participant is one zone's output driver as its family coordinator sees
// it. The coordinator only holds the zone-id indirection; it never owns
// the driver.
type Participant interface {
	ParticipantZone() int
	// Streaming reports whether this participant currently drives a
	// live flow and can therefore act as a leader.
	Streaming() bool
	// AttachTo joins this participant to the leader's running flow.
	// Transports that buffer ahead replay the primed window so the late
	// joiner aligns with the group.
	AttachTo(ctx context.Context, leader Participant) error
	// DetachFrom removes the participant from the leader's flow.
	DetachFrom(ctx context.Context, leader Participant) error
	// StopFlow tears the participant's own flow down, used when a group
	// dissolves mid-stream.
	StopFlow(ctx context.Context) error
}

// Plan tells a driver what its role in grouped playback is before it
// starts. Non-leaders skip local playback and get attached to the
// leader's stream instead.
type Plan struct {
	ShouldPlay bool
	StreamID   string
	ClientIDs  []string
	LeaderZone int
	IsLeader   bool
}

// Coordinator orchestrates one transport family's grouped playback. It
// keeps a zoneId -> participant index, watches the tracker and moves
// members between flows as groups change.
type Coordinator struct {
	backend string
	tracker *Tracker
	logger  zerolog.Logger

	// attachTimeout bounds one member attach or detach so a dead
	// renderer cannot stall a group update.
	attachTimeout time.Duration

	mu           sync.RWMutex
	participants map[int]Participant
}

// NewCoordinator creates the coordinator for one backend tag and
// subscribes it to the tracker.
func NewCoordinator(backend string, tracker *Tracker, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		backend:       backend,
		tracker:       tracker,
		logger:        logger.With().Str("component", "groups").Str("backend", backend).Logger(),
		attachTimeout: 5 * time.Second,
		participants:  make(map[int]Participant),
	}
	tracker.OnChange(c.onGroupChanged)
	return c
}

// Register installs the participant for a zone. Called when an output
// driver of this family is created for the zone.
func (c *Coordinator) Register(zoneID int, p Participant) {
	c.mu.Lock()
	c.participants[zoneID] = p
	c.mu.Unlock()
}

// Unregister drops the participant, called on driver disposal.
func (c *Coordinator) Unregister(zoneID int) {
	c.mu.Lock()
	delete(c.participants, zoneID)
	c.mu.Unlock()
}

// Participant looks up the registered driver for a zone.
func (c *Coordinator) Participant(zoneID int) (Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.participants[zoneID]
	return p, ok
}

// BuildPlan computes a zone's role before playback starts. Ungrouped
// zones play locally under their own stream id. Grouped zones share the
// leader's stream; only the elected leader plays, every grouped client id
// is pointed at the leader's stream.
func (c *Coordinator) BuildPlan(zoneID int, baseStreamID string, baseClientIDs []string) Plan {
	rec, ok := c.tracker.ForZone(zoneID)
	if !ok || rec.Backend != c.backend {
		return Plan{ShouldPlay: true, StreamID: baseStreamID, ClientIDs: baseClientIDs, LeaderZone: zoneID, IsLeader: true}
	}

	leader := c.electLeader(rec.LeaderZone, rec.Members)
	plan := Plan{
		StreamID:   streamIDFor(baseStreamID, leader),
		ClientIDs:  baseClientIDs,
		LeaderZone: leader,
		IsLeader:   leader == zoneID,
	}
	plan.ShouldPlay = plan.IsLeader
	return plan
}

// GroupSize reports how many zones play together with zoneID in this
// backend, the zone itself included. Ungrouped zones count as 1.
func (c *Coordinator) GroupSize(zoneID int) int {
	rec, ok := c.tracker.ForZone(zoneID)
	if !ok || rec.Backend != c.backend {
		return 1
	}
	seen := map[int]bool{rec.LeaderZone: true}
	for _, m := range rec.Members {
		seen[m] = true
	}
	return len(seen)
}

// Grouped reports whether the zone belongs to a group of this backend
// with at least one other member.
func (c *Coordinator) Grouped(zoneID int) bool {
	rec, ok := c.tracker.ForZone(zoneID)
	return ok && rec.Backend == c.backend && len(rec.Members) > 0
}

// TryJoinLeader attaches p to its group leader's running flow. Returns
// true when the join happened and local playback must be skipped.
func (c *Coordinator) TryJoinLeader(ctx context.Context, p Participant) bool {
	zoneID := p.ParticipantZone()
	rec, ok := c.tracker.ForZone(zoneID)
	if !ok || rec.Backend != c.backend {
		return false
	}
	leaderZone := c.electLeader(rec.LeaderZone, rec.Members)
	if leaderZone == zoneID {
		return false
	}
	leader, ok := c.Participant(leaderZone)
	if !ok || !leader.Streaming() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.attachTimeout)
	defer cancel()
	if err := p.AttachTo(ctx, leader); err != nil {
		c.logger.Error().Err(err).Int("zone", zoneID).Int("leader", leaderZone).Msg("join leader failed")
		return false
	}
	c.logger.Info().Int("zone", zoneID).Int("leader", leaderZone).Msg("joined leader flow")
	return true
}

// SyncGroupMembers attaches every grouped member with a registered
// participant to the leader's flow. Called after the leader starts.
// Member failures are isolated; the rest of the group still attaches.
func (c *Coordinator) SyncGroupMembers(ctx context.Context, leaderZone int) {
	rec, ok := c.tracker.ForZone(leaderZone)
	if !ok || rec.Backend != c.backend {
		return
	}
	leader, ok := c.Participant(leaderZone)
	if !ok {
		return
	}
	for _, member := range rec.Members {
		if member == leaderZone {
			continue
		}
		p, ok := c.Participant(member)
		if !ok {
			continue
		}
		c.attachMember(ctx, p, leader)
	}
}

// DetachMember removes a participant from its leader's flow, used on
// stop and regroup.
func (c *Coordinator) DetachMember(ctx context.Context, p Participant) {
	zoneID := p.ParticipantZone()
	rec, ok := c.tracker.ForZone(zoneID)
	if !ok || rec.Backend != c.backend {
		return
	}
	leader, ok := c.Participant(rec.LeaderZone)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.attachTimeout)
	defer cancel()
	if err := p.DetachFrom(ctx, leader); err != nil {
		c.logger.Warn().Err(err).Int("zone", zoneID).Msg("detach failed")
	}
}

// electLeader picks who drives the group's flow: the configured leader
// when it streams, else the first member with a live flow, else the
// first member with a participant registered at all (pending leader).
func (c *Coordinator) electLeader(configured int, members []int) int {
	if p, ok := c.Participant(configured); ok && p.Streaming() {
		return configured
	}
	for _, m := range members {
		if p, ok := c.Participant(m); ok && p.Streaming() {
			return m
		}
	}
	if _, ok := c.Participant(configured); ok {
		return configured
	}
	for _, m := range members {
		if _, ok := c.Participant(m); ok {
			return m
		}
	}
	return configured
}

// onGroupChanged reacts to tracker events: attach added members, detach
// removed ones, tear every flow down when the group dissolves.
func (c *Coordinator) onGroupChanged(ev ChangeEvent) {
	if ev.Record.Backend != c.backend && ev.Record.Backend != "mixed" {
		return
	}
	// Tracker callbacks must not block; the transport work runs aside.
	go c.applyChange(ev)
}

func (c *Coordinator) applyChange(ev ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), c.attachTimeout*2)
	defer cancel()

	switch ev.Kind {
	case ChangeRemove:
		for _, z := range append(ev.Record.Members, ev.Record.LeaderZone) {
			if p, ok := c.Participant(z); ok {
				if err := p.StopFlow(ctx); err != nil {
					c.logger.Warn().Err(err).Int("zone", z).Msg("stop on dissolve failed")
				}
			}
		}
	case ChangeNew, ChangeUpdate:
		leaderZone := c.electLeader(ev.Record.LeaderZone, ev.Record.Members)
		leader, ok := c.Participant(leaderZone)
		if ok && leader.Streaming() {
			for _, z := range ev.Added {
				if z == leaderZone {
					continue
				}
				if p, ok := c.Participant(z); ok {
					c.attachMember(ctx, p, leader)
				}
			}
		}
		if leader == nil {
			return
		}
		for _, z := range ev.Removed {
			if p, ok := c.Participant(z); ok {
				if err := p.DetachFrom(ctx, leader); err != nil {
					c.logger.Warn().Err(err).Int("zone", z).Msg("detach removed member failed")
				}
			}
		}
	}
}

func (c *Coordinator) attachMember(ctx context.Context, p Participant, leader Participant) {
	ctx, cancel := context.WithTimeout(ctx, c.attachTimeout)
	defer cancel()
	if err := p.AttachTo(ctx, leader); err != nil {
		c.logger.Error().Err(err).
			Int("zone", p.ParticipantZone()).
			Int("leader", leader.ParticipantZone()).
			Msg("member attach failed")
		return
	}
	c.logger.Debug().Int("zone", p.ParticipantZone()).Int("leader", leader.ParticipantZone()).Msg("member attached")
}

func streamIDFor(base string, leaderZone int) string {
	if base != "" {
		return base
	}
	return "zone-" + strconv.Itoa(leaderZone)
}
