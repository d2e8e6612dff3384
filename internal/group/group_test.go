/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package group

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

type fakeParticipant struct {
	zone int

	mu        sync.Mutex
	streaming bool
	attached  int // leader zone, 0 when detached
	attaches  int
	detaches  int
	stops     int
}

func (f *fakeParticipant) ParticipantZone() int { return f.zone }

func (f *fakeParticipant) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeParticipant) AttachTo(_ context.Context, leader Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = leader.ParticipantZone()
	f.attaches++
	return nil
}

func (f *fakeParticipant) DetachFrom(context.Context, Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = 0
	f.detaches++
	return nil
}

func (f *fakeParticipant) StopFlow(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.stops++
	return nil
}

func (f *fakeParticipant) attachedTo() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestTrackerZoneInOneGroupOnly(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	a, err := tr.SetGroup(models.GroupRecord{Backend: "snapcast", LeaderZone: 1, Members: []int{2, 3}})
	if err != nil {
		t.Fatalf("SetGroup: %v", err)
	}
	b, err := tr.SetGroup(models.GroupRecord{Backend: "snapcast", LeaderZone: 4, Members: []int{3}})
	if err != nil {
		t.Fatalf("SetGroup: %v", err)
	}

	if rec, ok := tr.ForZone(3); !ok || rec.ID != b.ID {
		t.Fatalf("zone 3 should be in group %s, got %+v ok=%v", b.ID, rec, ok)
	}
	rec, ok := tr.Get(a.ID)
	if !ok {
		t.Fatal("group a gone")
	}
	for _, m := range rec.Members {
		if m == 3 {
			t.Fatal("zone 3 still member of first group")
		}
	}
}

func TestTrackerLeaderRemovalDissolves(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec, _ := tr.SetGroup(models.GroupRecord{Backend: "sendspin", LeaderZone: 1, Members: []int{2}})

	var events []ChangeEvent
	var mu sync.Mutex
	tr.OnChange(func(ev ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if !tr.RemoveZone(1) {
		t.Fatal("RemoveZone(leader) returned false")
	}
	if _, ok := tr.Get(rec.ID); ok {
		t.Fatal("group should be dissolved after leader removal")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Kind != ChangeRemove {
		t.Fatalf("want one remove event, got %+v", events)
	}
}

func TestTrackerMemberDiff(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec, _ := tr.SetGroup(models.GroupRecord{Backend: "airplay", LeaderZone: 1, Members: []int{2, 3}})

	var got ChangeEvent
	tr.OnChange(func(ev ChangeEvent) { got = ev })

	rec.Members = []int{3, 4}
	if _, err := tr.SetGroup(rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Kind != ChangeUpdate {
		t.Fatalf("want update, got %s", got.Kind)
	}
	if len(got.Added) != 1 || got.Added[0] != 4 {
		t.Fatalf("want added=[4], got %v", got.Added)
	}
	if len(got.Removed) != 1 || got.Removed[0] != 2 {
		t.Fatalf("want removed=[2], got %v", got.Removed)
	}
}

func TestCoordinatorPlanRoles(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	c := NewCoordinator("snapcast", tr, zerolog.Nop())

	leader := &fakeParticipant{zone: 1, streaming: true}
	member := &fakeParticipant{zone: 2}
	c.Register(1, leader)
	c.Register(2, member)

	if _, err := tr.SetGroup(models.GroupRecord{Backend: "snapcast", LeaderZone: 1, Members: []int{2}}); err != nil {
		t.Fatalf("SetGroup: %v", err)
	}

	lp := c.BuildPlan(1, "", nil)
	if !lp.IsLeader || !lp.ShouldPlay {
		t.Fatalf("leader plan wrong: %+v", lp)
	}
	mp := c.BuildPlan(2, "", nil)
	if mp.IsLeader || mp.ShouldPlay {
		t.Fatalf("member plan wrong: %+v", mp)
	}
	if mp.StreamID != lp.StreamID {
		t.Fatalf("member should share leader stream: %q vs %q", mp.StreamID, lp.StreamID)
	}
}

func TestCoordinatorLeaderElectionFallsBack(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	c := NewCoordinator("sendspin", tr, zerolog.Nop())

	idle := &fakeParticipant{zone: 1}
	live := &fakeParticipant{zone: 2, streaming: true}
	c.Register(1, idle)
	c.Register(2, live)
	tr.SetGroup(models.GroupRecord{Backend: "sendspin", LeaderZone: 1, Members: []int{2}})

	plan := c.BuildPlan(2, "", nil)
	if plan.LeaderZone != 2 || !plan.IsLeader {
		t.Fatalf("streaming member should be elected leader, got %+v", plan)
	}
}

func TestCoordinatorTryJoinLeader(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	c := NewCoordinator("airplay", tr, zerolog.Nop())

	leader := &fakeParticipant{zone: 1, streaming: true}
	member := &fakeParticipant{zone: 2}
	c.Register(1, leader)
	c.Register(2, member)
	tr.SetGroup(models.GroupRecord{Backend: "airplay", LeaderZone: 1, Members: []int{2}})

	if !c.TryJoinLeader(context.Background(), member) {
		t.Fatal("member should join the running leader")
	}
	if member.attachedTo() != 1 {
		t.Fatalf("member attached to %d, want 1", member.attachedTo())
	}
	if c.TryJoinLeader(context.Background(), leader) {
		t.Fatal("leader must not join itself")
	}
}

func TestCoordinatorAttachesAddedMembers(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	c := NewCoordinator("sendspin", tr, zerolog.Nop())

	leader := &fakeParticipant{zone: 1, streaming: true}
	joiner := &fakeParticipant{zone: 3}
	c.Register(1, leader)
	c.Register(3, joiner)

	rec, _ := tr.SetGroup(models.GroupRecord{Backend: "sendspin", LeaderZone: 1})
	rec.Members = []int{3}
	tr.SetGroup(rec)

	waitFor(t, func() bool { return joiner.attachedTo() == 1 })
}

func TestCoordinatorDissolveStopsFlows(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	c := NewCoordinator("sendspin", tr, zerolog.Nop())

	leader := &fakeParticipant{zone: 1, streaming: true}
	member := &fakeParticipant{zone: 2, streaming: true}
	c.Register(1, leader)
	c.Register(2, member)

	rec, _ := tr.SetGroup(models.GroupRecord{Backend: "sendspin", LeaderZone: 1, Members: []int{2}})
	tr.RemoveGroup(rec.ID)

	waitFor(t, func() bool {
		leader.mu.Lock()
		ls := leader.stops
		leader.mu.Unlock()
		member.mu.Lock()
		ms := member.stops
		member.mu.Unlock()
		return ls == 1 && ms == 1
	})
}
