/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package group holds the cross-transport grouping model and the
// per-family coordinators that keep grouped zones on one audio flow.
package group

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/telemetry"
)

// ChangeKind enumerates tracker change events.
type ChangeKind string

const (
	ChangeNew    ChangeKind = "new"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
)

// ChangeEvent describes one group mutation. Added and Removed carry the
// member diff against the previous record so coordinators can attach and
// detach incrementally.
type ChangeEvent struct {
	Kind    ChangeKind
	Record  models.GroupRecord
	Added   []int
	Removed []int
}

// Observer receives tracker change events. Callbacks run on the
// mutating goroutine; observers must hand work off, not block.
type Observer func(ChangeEvent)

// Tracker is the process-wide group registry. Records are copy-on-write:
// observers and readers see either the before or the after record, never
// a partially updated one.
type Tracker struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	groups    map[string]models.GroupRecord
	zoneGroup map[int]string // zone -> group id, includes the leader

	obsMu     sync.RWMutex
	observers []Observer
}

// NewTracker creates an empty tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger:    logger.With().Str("component", "grouptracker").Logger(),
		groups:    make(map[string]models.GroupRecord),
		zoneGroup: make(map[int]string),
	}
}

// OnChange registers an observer for all subsequent change events.
func (t *Tracker) OnChange(fn Observer) {
	t.obsMu.Lock()
	t.observers = append(t.observers, fn)
	t.obsMu.Unlock()
}

// SetGroup creates or updates a group. A zone already present in another
// group is moved out of it first; removing a group's leader dissolves the
// group. Returns the stored record.
func (t *Tracker) SetGroup(rec models.GroupRecord) (models.GroupRecord, error) {
	if rec.LeaderZone == 0 && len(rec.Members) == 0 {
		return models.GroupRecord{}, fmt.Errorf("group needs a leader")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Members = dedupMembers(rec.LeaderZone, rec.Members)
	rec.UpdatedAt = time.Now()

	var evicted []ChangeEvent

	t.mu.Lock()
	prev, existed := t.groups[rec.ID]
	if !existed {
		rec.CreatedAt = rec.UpdatedAt
	} else {
		rec.CreatedAt = prev.CreatedAt
	}

	// A zone belongs to at most one group: pull every zone of the new
	// record out of whatever group it was in.
	for _, z := range append([]int{rec.LeaderZone}, rec.Members...) {
		otherID, ok := t.zoneGroup[z]
		if !ok || otherID == rec.ID {
			continue
		}
		if ev, changed := t.removeZoneLocked(otherID, z); changed {
			evicted = append(evicted, ev)
		}
	}

	for _, z := range prev.Members {
		if t.zoneGroup[z] == rec.ID {
			delete(t.zoneGroup, z)
		}
	}
	if existed && t.zoneGroup[prev.LeaderZone] == rec.ID {
		delete(t.zoneGroup, prev.LeaderZone)
	}

	t.groups[rec.ID] = rec
	t.zoneGroup[rec.LeaderZone] = rec.ID
	for _, z := range rec.Members {
		t.zoneGroup[z] = rec.ID
	}
	t.mu.Unlock()

	for _, ev := range evicted {
		t.notify(ev)
	}

	ev := ChangeEvent{Kind: ChangeNew, Record: rec}
	if existed {
		ev.Kind = ChangeUpdate
		ev.Added, ev.Removed = diffMembers(prev, rec)
	} else {
		telemetry.GroupsActive.Inc()
		ev.Added = append([]int(nil), rec.Members...)
	}
	t.logger.Info().
		Str("group", rec.ID).
		Str("backend", rec.Backend).
		Int("leader", rec.LeaderZone).
		Ints("members", rec.Members).
		Msg("group " + string(ev.Kind))
	t.notify(ev)
	return rec, nil
}

// RemoveGroup dissolves a group entirely.
func (t *Tracker) RemoveGroup(id string) bool {
	t.mu.Lock()
	rec, ok := t.groups[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.groups, id)
	if t.zoneGroup[rec.LeaderZone] == id {
		delete(t.zoneGroup, rec.LeaderZone)
	}
	for _, z := range rec.Members {
		if t.zoneGroup[z] == id {
			delete(t.zoneGroup, z)
		}
	}
	t.mu.Unlock()

	telemetry.GroupsActive.Dec()
	t.logger.Info().Str("group", id).Msg("group removed")
	t.notify(ChangeEvent{Kind: ChangeRemove, Record: rec, Removed: rec.Members})
	return true
}

// RemoveZone takes one zone out of its group. Removing the leader
// dissolves the whole group.
func (t *Tracker) RemoveZone(zoneID int) bool {
	t.mu.Lock()
	id, ok := t.zoneGroup[zoneID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	rec := t.groups[id]
	if rec.LeaderZone == zoneID {
		t.mu.Unlock()
		return t.RemoveGroup(id)
	}
	ev, changed := t.removeZoneLocked(id, zoneID)
	t.mu.Unlock()

	if changed {
		t.notify(ev)
	}
	return changed
}

// removeZoneLocked drops a member from a group under t.mu. Dissolving by
// leader removal is handled by the callers.
func (t *Tracker) removeZoneLocked(groupID string, zoneID int) (ChangeEvent, bool) {
	rec, ok := t.groups[groupID]
	if !ok {
		return ChangeEvent{}, false
	}
	members := make([]int, 0, len(rec.Members))
	found := false
	for _, m := range rec.Members {
		if m == zoneID {
			found = true
			continue
		}
		members = append(members, m)
	}
	if !found {
		return ChangeEvent{}, false
	}
	rec.Members = members
	rec.UpdatedAt = time.Now()
	t.groups[groupID] = rec
	delete(t.zoneGroup, zoneID)
	return ChangeEvent{Kind: ChangeUpdate, Record: rec, Removed: []int{zoneID}}, true
}

// ForZone returns the group the zone belongs to, if any.
func (t *Tracker) ForZone(zoneID int) (models.GroupRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.zoneGroup[zoneID]
	if !ok {
		return models.GroupRecord{}, false
	}
	rec, ok := t.groups[id]
	return rec, ok
}

// Get returns a group by id.
func (t *Tracker) Get(id string) (models.GroupRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.groups[id]
	return rec, ok
}

// List returns all tracked groups.
func (t *Tracker) List() []models.GroupRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.GroupRecord, 0, len(t.groups))
	for _, rec := range t.groups {
		out = append(out, rec)
	}
	return out
}

// LeaderOf returns the leader zone for a grouped zone. A zone outside
// any group leads itself.
func (t *Tracker) LeaderOf(zoneID int) int {
	if rec, ok := t.ForZone(zoneID); ok {
		return rec.LeaderZone
	}
	return zoneID
}

func (t *Tracker) notify(ev ChangeEvent) {
	t.obsMu.RLock()
	obs := append([]Observer(nil), t.observers...)
	t.obsMu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

func dedupMembers(leader int, members []int) []int {
	seen := map[int]struct{}{leader: {}}
	out := make([]int, 0, len(members))
	for _, m := range members {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func diffMembers(prev, next models.GroupRecord) (added, removed []int) {
	prevSet := make(map[int]struct{}, len(prev.Members)+1)
	prevSet[prev.LeaderZone] = struct{}{}
	for _, m := range prev.Members {
		prevSet[m] = struct{}{}
	}
	nextSet := make(map[int]struct{}, len(next.Members)+1)
	nextSet[next.LeaderZone] = struct{}{}
	for _, m := range next.Members {
		nextSet[m] = struct{}{}
	}
	for m := range nextSet {
		if _, ok := prevSet[m]; !ok {
			added = append(added, m)
		}
	}
	for m := range prevSet {
		if _, ok := nextSet[m]; !ok {
			removed = append(removed, m)
		}
	}
	return added, removed
}
