/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package zone

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

var (
	// ErrZoneNotFound indicates the zone id is not installed.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrZoneClosed indicates the zone was retired while a task waited.
	ErrZoneClosed = errors.New("zone closed")
)

// Repository holds every installed zone and routes work onto the
// per-zone serializers. The map itself is guarded by a mutex; zone
// state is guarded by each zone's serializer.
type Repository struct {
	logger zerolog.Logger

	// reconfigMu serializes whole Reconfigure/Shutdown operations.
	reconfigMu sync.Mutex

	mu      sync.RWMutex
	entries map[int]*entry
	order   []int // definition order, for stable listings
}

type entry struct {
	zc  *Context
	ser *serializer
}

// NewRepository creates an empty zone repository.
func NewRepository(logger zerolog.Logger) *Repository {
	return &Repository{
		logger:  logger.With().Str("component", "zones").Logger(),
		entries: make(map[int]*entry),
	}
}

// Reconfigure replaces the installed zone set with defs. Every existing
// zone first runs the stop hook inside its serializer, then is retired;
// fresh contexts are installed afterwards. Zone state does not survive
// a reconfigure.
func (r *Repository) Reconfigure(ctx context.Context, defs []models.ZoneDefinition, stop func(*Context) error) error {
	r.reconfigMu.Lock()
	defer r.reconfigMu.Unlock()

	r.mu.Lock()
	old := r.entries
	r.entries = make(map[int]*entry, len(defs))
	r.order = r.order[:0]
	for _, def := range defs {
		if _, dup := r.entries[def.ID]; dup {
			r.logger.Warn().Int("zone", def.ID).Msg("duplicate zone id in config, keeping first")
			continue
		}
		r.entries[def.ID] = nil // reserve slot; filled below
		r.order = append(r.order, def.ID)
	}
	r.mu.Unlock()

	var lastErr error
	for id, e := range old {
		if stop != nil {
			if err := e.ser.do(ctx, "reconfigure_stop", stop); err != nil && !errors.Is(err, ErrZoneClosed) {
				r.logger.Error().Err(err).Int("zone", id).Msg("stop during reconfigure failed")
				lastErr = err
			}
		}
		e.ser.close()
	}

	r.mu.Lock()
	for _, def := range defs {
		if r.entries[def.ID] != nil {
			continue
		}
		zc := New(def)
		r.entries[def.ID] = &entry{zc: zc, ser: newSerializer(zc, r.logger)}
	}
	count := len(r.entries)
	r.mu.Unlock()

	r.logger.Info().Int("zone_count", count).Msg("zones installed")
	return lastErr
}

// Shutdown retires all zones, running the stop hook on each.
func (r *Repository) Shutdown(ctx context.Context, stop func(*Context) error) error {
	return r.Reconfigure(ctx, nil, stop)
}

func (r *Repository) entry(zoneID int) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[zoneID]
	if !ok || e == nil {
		return nil, false
	}
	return e, true
}

// Do runs fn inside the zone's serializer and waits for the result.
// All command handling goes through here.
func (r *Repository) Do(ctx context.Context, zoneID int, op string, fn func(*Context) error) error {
	e, ok := r.entry(zoneID)
	if !ok {
		return ErrZoneNotFound
	}
	return e.ser.do(ctx, op, fn)
}

// Post runs fn inside the zone's serializer without waiting. Meant for
// high-rate callbacks; reports false when the zone is missing, closed,
// or its task queue is full.
func (r *Repository) Post(zoneID int, op string, fn func(*Context) error) bool {
	e, ok := r.entry(zoneID)
	if !ok {
		return false
	}
	return e.ser.post(op, fn)
}

// Exists reports whether the zone id is installed.
func (r *Repository) Exists(zoneID int) bool {
	_, ok := r.entry(zoneID)
	return ok
}

// IDs returns the installed zone ids in definition order.
func (r *Repository) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.order))
	for _, id := range r.order {
		if e, ok := r.entries[id]; ok && e != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Definition returns the immutable config snapshot of a zone.
func (r *Repository) Definition(zoneID int) (models.ZoneDefinition, bool) {
	e, ok := r.entry(zoneID)
	if !ok {
		return models.ZoneDefinition{}, false
	}
	// Def never changes after install, so reading outside the
	// serializer is safe.
	return e.zc.Def, true
}

// Snapshot returns the zone's observable state, read inside the
// serializer for a consistent view.
func (r *Repository) Snapshot(ctx context.Context, zoneID int) (models.ZoneState, error) {
	var st models.ZoneState
	err := r.Do(ctx, zoneID, "snapshot", func(zc *Context) error {
		st = zc.Snapshot()
		return nil
	})
	return st, err
}

// Snapshots returns the state of every installed zone in definition
// order. Zones that close mid-iteration are skipped.
func (r *Repository) Snapshots(ctx context.Context) []models.ZoneState {
	ids := r.IDs()
	states := make([]models.ZoneState, 0, len(ids))
	for _, id := range ids {
		st, err := r.Snapshot(ctx, id)
		if err != nil {
			continue
		}
		states = append(states, st)
	}
	return states
}
