/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package content implements the content port: expanding audiopaths
// into queue items and engine sources. The local library and radio
// resolvers live here; provider-rendered content (Spotify, Music
// Assistant) is resolved by the inputs port instead.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/mcache"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/playback"
)

// ErrUnknownProvider is returned for providers no resolver covers.
var ErrUnknownProvider = errors.New("unknown content provider")

// RadioStore is the subset of the storage port the radio resolver uses.
type RadioStore interface {
	GetRadio(ctx context.Context, id string) (models.CustomRadio, error)
	ListRadios(ctx context.Context) ([]models.CustomRadio, error)
}

// Service implements playback.ContentPort.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	library *Library
	radio   *radioResolver
	cache   *mcache.Cache
}

// NewService builds the content service over the library database and
// the custom-radio store.
func NewService(cfg *config.Config, db *gorm.DB, radios RadioStore, cache *mcache.Cache, logger zerolog.Logger) *Service {
	log := logger.With().Str("component", "content").Logger()
	return &Service{
		cfg:     cfg,
		logger:  log,
		library: NewLibrary(cfg.MusicRoot, db, log),
		radio:   newRadioResolver(radios, cache, log),
		cache:   cache,
	}
}

// Library exposes the library resolver for the scanner CLI.
func (s *Service) Library() *Library { return s.library }

// ResolveMetadata looks up display metadata for one audiopath.
func (s *Service) ResolveMetadata(ctx context.Context, path string) (*models.TrackMetadata, error) {
	canonical := audiopath.Normalize(path)
	if meta, ok := s.cache.GetMetadata(ctx, canonical); ok {
		return meta, nil
	}

	p, err := audiopath.Parse(path)
	if err != nil {
		return nil, err
	}

	var meta *models.TrackMetadata
	switch {
	case p.Provider == audiopath.ProviderLibrary:
		meta, err = s.library.Metadata(ctx, p)
	case p.Provider == audiopath.ProviderRadio, p.Provider == audiopath.ProviderTuneIn, p.IsURL:
		meta, err = s.radio.metadata(ctx, p)
	default:
		return nil, nil
	}
	if err != nil || meta == nil {
		return meta, err
	}
	s.cache.SetMetadata(ctx, canonical, *meta)
	return meta, nil
}

// ResolvePlaybackSource produces the engine input for an audiopath.
func (s *Service) ResolvePlaybackSource(ctx context.Context, req playback.SourceRequest) (*models.PlaybackSource, string, error) {
	p, err := audiopath.Parse(req.Audiopath)
	if err != nil {
		return nil, "", err
	}

	switch {
	case p.IsURL:
		return &models.PlaybackSource{Kind: models.SourceURL, Path: p.ID, StartMs: req.SeekMs}, audiopath.ProviderURL, nil
	case p.Provider == audiopath.ProviderLibrary:
		src, err := s.library.Source(ctx, p, req.SeekMs)
		return src, audiopath.ProviderLibrary, err
	case p.Provider == audiopath.ProviderRadio, p.Provider == audiopath.ProviderTuneIn:
		src, err := s.radio.source(ctx, p)
		return src, p.Provider, err
	case p.Provider == audiopath.ProviderAlert:
		return s.alertSource(p)
	}
	return nil, p.Provider, fmt.Errorf("%w: %s", ErrUnknownProvider, p.Provider)
}

// BuildQueueForURI expands a container or single item into queue items.
func (s *Service) BuildQueueForURI(ctx context.Context, uri string, opts playback.QueueBuildOpts) ([]models.QueueItem, bool, error) {
	p, err := audiopath.Parse(uri)
	if err != nil {
		return nil, false, err
	}

	switch {
	case p.IsURL:
		item, err := s.radio.urlItem(ctx, p, opts.Station)
		if err != nil {
			return nil, false, err
		}
		return []models.QueueItem{item}, false, nil
	case p.Provider == audiopath.ProviderRadio, p.Provider == audiopath.ProviderTuneIn:
		item, err := s.radio.stationItem(ctx, p, opts.Station)
		if err != nil {
			return nil, false, err
		}
		return []models.QueueItem{item}, false, nil
	case p.Provider == audiopath.ProviderLibrary:
		return s.library.BuildQueue(ctx, p, opts.PageSize)
	}
	return nil, false, fmt.Errorf("%w: %s", ErrUnknownProvider, p.Provider)
}

// QueuePage fetches one backfill page of a large library container.
func (s *Service) QueuePage(ctx context.Context, uri string, offset, limit int) ([]models.QueueItem, error) {
	p, err := audiopath.Parse(uri)
	if err != nil {
		return nil, err
	}
	if p.Provider != audiopath.ProviderLibrary {
		return nil, nil
	}
	return s.library.QueuePage(ctx, p, offset, limit)
}

// GetMediaFolder lists one page of a library browse folder.
func (s *Service) GetMediaFolder(ctx context.Context, folderID string, offset, limit int) ([]models.QueueItem, int, error) {
	return s.library.Folder(ctx, folderID, offset, limit)
}

// alertSource maps alert:sound:<name> onto a file in the alert sound
// directory.
func (s *Service) alertSource(p audiopath.Path) (*models.PlaybackSource, string, error) {
	path, err := alertSoundPath(s.cfg.AlertSoundDir, p.ID)
	if err != nil {
		return nil, audiopath.ProviderAlert, err
	}
	return &models.PlaybackSource{Kind: models.SourceFile, Path: path}, audiopath.ProviderAlert, nil
}
