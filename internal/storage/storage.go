/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage persists favorites, recents, custom radios and zone
// snapshots. It is the only package that writes these tables.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
)

const (
	// maxFavoriteSlots is the number of wall-panel favorite slots per
	// scope (global or one zone).
	maxFavoriteSlots = 8

	// maxRecents is the history depth kept per zone.
	maxRecents = 5
)

var (
	ErrSlotOutOfRange = errors.New("favorite slot out of range")
	ErrNotFound       = gorm.ErrRecordNotFound
)

// Service is the storage port implementation over gorm.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates the storage service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "storage").Logger(),
	}
}

// ListFavorites returns the favorites of one zone, or the global set
// when zoneID is nil, ordered by slot.
func (s *Service) ListFavorites(ctx context.Context, zoneID *int) ([]models.Favorite, error) {
	var favs []models.Favorite
	q := s.db.WithContext(ctx).Order("slot ASC")
	if zoneID == nil {
		q = q.Where("zone_id IS NULL")
	} else {
		q = q.Where("zone_id = ?", *zoneID)
	}
	if err := q.Find(&favs).Error; err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return favs, nil
}

// SaveFavorite stores fav in its slot, replacing whatever occupied it.
func (s *Service) SaveFavorite(ctx context.Context, fav models.Favorite) (models.Favorite, error) {
	if fav.Slot < 0 || fav.Slot >= maxFavoriteSlots {
		return models.Favorite{}, fmt.Errorf("%w: %d", ErrSlotOutOfRange, fav.Slot)
	}
	if fav.ID == "" {
		fav.ID = uuid.NewString()
	}
	fav.UpdatedAt = time.Now()
	if fav.CreatedAt.IsZero() {
		fav.CreatedAt = fav.UpdatedAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("slot = ?", fav.Slot)
		if fav.ZoneID == nil {
			del = del.Where("zone_id IS NULL")
		} else {
			del = del.Where("zone_id = ?", *fav.ZoneID)
		}
		if err := del.Delete(&models.Favorite{}).Error; err != nil {
			return err
		}
		return tx.Create(&fav).Error
	})
	if err != nil {
		return models.Favorite{}, fmt.Errorf("save favorite: %w", err)
	}

	s.bus.Publish(events.EventFavoritesUpdated, events.Payload{"zone_id": fav.ZoneID})
	return fav, nil
}

// DeleteFavorite clears one slot.
func (s *Service) DeleteFavorite(ctx context.Context, zoneID *int, slot int) error {
	del := s.db.WithContext(ctx).Where("slot = ?", slot)
	if zoneID == nil {
		del = del.Where("zone_id IS NULL")
	} else {
		del = del.Where("zone_id = ?", *zoneID)
	}
	if err := del.Delete(&models.Favorite{}).Error; err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	s.bus.Publish(events.EventFavoritesUpdated, events.Payload{"zone_id": zoneID})
	return nil
}

// AddRecent records a played track for the zone. History is deduplicated
// by canonical audiopath and capped at maxRecents entries.
func (s *Service) AddRecent(ctx context.Context, zoneID int, track models.TrackMetadata) error {
	if track.Audiopath == "" {
		return nil
	}
	canonical := audiopath.Normalize(track.Audiopath)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Dedup: an existing entry for the same canonical path moves to
		// the top instead of duplicating.
		var existing []models.Recent
		if err := tx.Where("zone_id = ?", zoneID).Find(&existing).Error; err != nil {
			return err
		}
		for _, r := range existing {
			if audiopath.Normalize(r.Audiopath) == canonical {
				if err := tx.Delete(&models.Recent{}, "id = ?", r.ID).Error; err != nil {
					return err
				}
			}
		}

		rec := models.Recent{
			ID:        uuid.NewString(),
			ZoneID:    zoneID,
			Title:     track.Title,
			Artist:    track.Artist,
			Album:     track.Album,
			Station:   track.Station,
			Cover:     track.Cover,
			Audiopath: track.Audiopath,
			AudioType: track.AudioType,
			PlayedAt:  time.Now(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		// Trim to cap, oldest first.
		var all []models.Recent
		if err := tx.Where("zone_id = ?", zoneID).Order("played_at DESC").Find(&all).Error; err != nil {
			return err
		}
		for i := maxRecents; i < len(all); i++ {
			if err := tx.Delete(&models.Recent{}, "id = ?", all[i].ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add recent: %w", err)
	}

	s.bus.Publish(events.EventRecentsUpdated, events.Payload{"zone_id": zoneID})
	return nil
}

// ListRecents returns the zone's history, newest first.
func (s *Service) ListRecents(ctx context.Context, zoneID int) ([]models.Recent, error) {
	var recents []models.Recent
	err := s.db.WithContext(ctx).
		Where("zone_id = ?", zoneID).
		Order("played_at DESC").
		Limit(maxRecents).
		Find(&recents).Error
	if err != nil {
		return nil, fmt.Errorf("list recents: %w", err)
	}
	return recents, nil
}

// ListRadios returns all custom radios ordered by name.
func (s *Service) ListRadios(ctx context.Context) ([]models.CustomRadio, error) {
	var radios []models.CustomRadio
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&radios).Error; err != nil {
		return nil, fmt.Errorf("list radios: %w", err)
	}
	return radios, nil
}

// GetRadio finds a custom radio by id.
func (s *Service) GetRadio(ctx context.Context, id string) (models.CustomRadio, error) {
	var radio models.CustomRadio
	if err := s.db.WithContext(ctx).First(&radio, "id = ?", id).Error; err != nil {
		return models.CustomRadio{}, err
	}
	return radio, nil
}

// SaveRadio creates or updates a custom radio, keyed by name.
func (s *Service) SaveRadio(ctx context.Context, radio models.CustomRadio) (models.CustomRadio, error) {
	if radio.ID == "" {
		radio.ID = uuid.NewString()
	}
	radio.UpdatedAt = time.Now()
	if radio.CreatedAt.IsZero() {
		radio.CreatedAt = radio.UpdatedAt
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"url", "cover", "updated_at"}),
	}).Create(&radio).Error
	if err != nil {
		return models.CustomRadio{}, fmt.Errorf("save radio: %w", err)
	}

	s.bus.Publish(events.EventRadiosUpdated, events.Payload{"id": radio.ID})
	return radio, nil
}

// DeleteRadio removes a custom radio.
func (s *Service) DeleteRadio(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.CustomRadio{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete radio: %w", err)
	}
	s.bus.Publish(events.EventRadiosUpdated, events.Payload{"id": id})
	return nil
}

// SaveZoneSnapshot upserts the persisted state blob of a zone.
func (s *Service) SaveZoneSnapshot(ctx context.Context, zoneID int, payload []byte) error {
	snap := models.ZoneSnapshot{ZoneID: zoneID, Payload: payload, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "zone_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&snap).Error
	if err != nil {
		return fmt.Errorf("save zone snapshot: %w", err)
	}
	return nil
}

// LoadZoneSnapshot returns the persisted state blob of a zone, if any.
func (s *Service) LoadZoneSnapshot(ctx context.Context, zoneID int) ([]byte, error) {
	var snap models.ZoneSnapshot
	if err := s.db.WithContext(ctx).First(&snap, "zone_id = ?", zoneID).Error; err != nil {
		return nil, err
	}
	return snap.Payload, nil
}
