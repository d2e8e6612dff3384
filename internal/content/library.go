/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/models"
)

// ErrTrackNotFound is returned for library ids no scan has produced.
var ErrTrackNotFound = errors.New("library track not found")

var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".wma":  true,
	".aiff": true,
}

var coverNames = []string{"cover.jpg", "cover.png", "folder.jpg", "folder.png", "album.jpg"}

// scanWorkers bounds concurrent duration probes during a scan.
const scanWorkers = 4

// Library resolves library:* audiopaths against the scanned track index.
//
// Address forms:
//
//	library:track:<uuid>          one file
//	library:album:<artist>|<album> every track of an album, in path order
//	library:artist:<artist>       every track of an artist
//	library:folder:<relpath>      every track under a directory
type Library struct {
	root   string
	db     *gorm.DB
	logger zerolog.Logger
}

// NewLibrary builds the resolver over the music root and the track index.
func NewLibrary(root string, db *gorm.DB, logger zerolog.Logger) *Library {
	return &Library{root: root, db: db, logger: logger.With().Str("component", "library").Logger()}
}

func (l *Library) track(ctx context.Context, id string) (models.Track, error) {
	var t models.Track
	if err := l.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
		}
		return models.Track{}, err
	}
	return t, nil
}

// Metadata returns display metadata for a single library track.
func (l *Library) Metadata(ctx context.Context, p audiopath.Path) (*models.TrackMetadata, error) {
	if p.Type != "track" {
		return nil, nil
	}
	t, err := l.track(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	meta := trackMetadata(t)
	return &meta, nil
}

// Source maps a library track onto its file for the engine.
func (l *Library) Source(ctx context.Context, p audiopath.Path, seekMs int64) (*models.PlaybackSource, error) {
	if p.Type != "track" {
		return nil, fmt.Errorf("library %s is a container, not a playable item", p.Type)
	}
	t, err := l.track(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &models.PlaybackSource{
		Kind:    models.SourceFile,
		Path:    filepath.Join(l.root, t.Path),
		StartMs: seekMs,
	}, nil
}

// BuildQueue expands a library audiopath into the first page of queue
// items. hasMore signals the caller to backfill via QueuePage.
func (l *Library) BuildQueue(ctx context.Context, p audiopath.Path, pageSize int) ([]models.QueueItem, bool, error) {
	if p.Type == "track" {
		t, err := l.track(ctx, p.ID)
		if err != nil {
			return nil, false, err
		}
		return []models.QueueItem{trackItem(t)}, false, nil
	}

	if pageSize <= 0 {
		pageSize = 50
	}
	tracks, err := l.containerTracks(ctx, p, 0, pageSize+1)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(tracks) > pageSize
	if hasMore {
		tracks = tracks[:pageSize]
	}
	items := make([]models.QueueItem, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem(t)
	}
	return items, hasMore, nil
}

// QueuePage fetches one backfill page of a library container.
func (l *Library) QueuePage(ctx context.Context, p audiopath.Path, offset, limit int) ([]models.QueueItem, error) {
	tracks, err := l.containerTracks(ctx, p, offset, limit)
	if err != nil {
		return nil, err
	}
	items := make([]models.QueueItem, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem(t)
	}
	return items, nil
}

func (l *Library) containerTracks(ctx context.Context, p audiopath.Path, offset, limit int) ([]models.Track, error) {
	q := l.db.WithContext(ctx).Model(&models.Track{}).Order("path")
	switch p.Type {
	case "album":
		artist, album, found := strings.Cut(p.ID, "|")
		if !found {
			return nil, fmt.Errorf("library album id %q lacks artist|album form", p.ID)
		}
		q = q.Where("artist = ? AND album = ?", artist, album)
	case "artist":
		q = q.Where("artist = ?", p.ID)
	case "folder":
		q = q.Where("path LIKE ?", strings.TrimSuffix(p.ID, "/")+"/%")
	default:
		return nil, fmt.Errorf("unknown library container type %q", p.Type)
	}
	var tracks []models.Track
	if err := q.Offset(offset).Limit(limit).Find(&tracks).Error; err != nil {
		return nil, err
	}
	return tracks, nil
}

// Folder lists one page of a browse directory: subdirectories first as
// folder containers, then the tracks directly inside it. The returned
// total counts tracks only.
func (l *Library) Folder(ctx context.Context, folderID string, offset, limit int) ([]models.QueueItem, int, error) {
	rel := strings.Trim(decodeFolderID(folderID), "/")
	abs := l.root
	if rel != "" {
		abs = filepath.Join(l.root, rel)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, 0, err
	}

	var items []models.QueueItem
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(rel, e.Name())
		items = append(items, models.QueueItem{
			Audiopath: "library:folder:" + sub,
			AudioType: models.AudioTypePlaylist,
			Title:     e.Name(),
		})
	}

	var total int64
	pattern := "%"
	if rel != "" {
		pattern = rel + "/%"
	}
	if err := l.db.WithContext(ctx).Model(&models.Track{}).Where("path LIKE ?", pattern).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var tracks []models.Track
	if err := l.db.WithContext(ctx).Where("path LIKE ?", pattern).Order("path").Offset(offset).Limit(limit).Find(&tracks).Error; err != nil {
		return nil, 0, err
	}
	for _, t := range tracks {
		items = append(items, trackItem(t))
	}
	return items, int(total), nil
}

func decodeFolderID(id string) string {
	p, err := audiopath.Parse(id)
	if err == nil && p.Provider == audiopath.ProviderLibrary && p.Type == "folder" {
		return p.ID
	}
	return id
}

// ScanResult summarizes one library scan.
type ScanResult struct {
	Indexed int
	Removed int
	Elapsed time.Duration
}

// Scan walks the music root and rebuilds the track index. Unchanged
// files (same size and mtime) keep their row; files gone from disk are
// removed.
func (l *Library) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	seen := make(map[string]bool)

	type candidate struct {
		abs, rel   string
		existingID string
		info       os.FileInfo
	}
	var pending []candidate

	err := filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		seen[rel] = true

		info, err := d.Info()
		if err != nil {
			return err
		}

		var existing models.Track
		res := l.db.WithContext(ctx).First(&existing, "path = ?", rel)
		if res.Error == nil && existing.SizeBytes == info.Size() && existing.ModTime.Equal(info.ModTime()) {
			return nil
		}

		c := candidate{abs: path, rel: rel, info: info}
		if res.Error == nil {
			c.existingID = existing.ID
		}
		pending = append(pending, c)
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	// Indexing decodes audio headers for the duration probe; spread the
	// changed files over a few workers.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	var mu sync.Mutex
	var indexed int
	for _, c := range pending {
		c := c
		g.Go(func() error {
			t := l.indexFile(c.abs, c.rel, c.info)
			if c.existingID != "" {
				t.ID = c.existingID
			}
			if err := l.db.WithContext(gctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "path"}},
				UpdateAll: true,
			}).Create(&t).Error; err != nil {
				return err
			}
			mu.Lock()
			indexed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	removed, err := l.pruneMissing(ctx, seen)
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{Indexed: indexed, Removed: removed, Elapsed: time.Since(start)}
	l.logger.Info().
		Int("indexed", result.Indexed).
		Int("removed", result.Removed).
		Dur("elapsed", result.Elapsed).
		Msg("library scan complete")
	return result, nil
}

// indexFile builds a track row from one file. Artist/album come from the
// artist/album/title directory layout; flat files fall back to filename.
func (l *Library) indexFile(abs, rel string, info os.FileInfo) models.Track {
	t := models.Track{
		ID:        uuid.NewString(),
		Path:      rel,
		Title:     strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		ScannedAt: time.Now(),
	}
	segs := strings.Split(rel, "/")
	if len(segs) >= 3 {
		t.Artist = segs[len(segs)-3]
		t.Album = segs[len(segs)-2]
	} else if len(segs) == 2 {
		t.Artist = segs[0]
	}
	if dur, err := probeDuration(abs); err == nil {
		t.DurationMs = dur
	} else {
		l.logger.Debug().Err(err).Str("path", rel).Msg("duration probe failed")
	}
	t.CoverPath = findCover(filepath.Dir(abs))
	return t
}

func findCover(dir string) string {
	for _, name := range coverNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (l *Library) pruneMissing(ctx context.Context, seen map[string]bool) (int, error) {
	var all []models.Track
	if err := l.db.WithContext(ctx).Select("id", "path").Find(&all).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, t := range all {
		if seen[t.Path] {
			continue
		}
		if err := l.db.WithContext(ctx).Delete(&models.Track{}, "id = ?", t.ID).Error; err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func trackMetadata(t models.Track) models.TrackMetadata {
	return models.TrackMetadata{
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		Audiopath:  "library:track:" + t.ID,
		AudioType:  models.AudioTypeFile,
		DurationMs: t.DurationMs,
	}
}

func trackItem(t models.Track) models.QueueItem {
	return models.QueueItem{
		Audiopath:  "library:track:" + t.ID,
		AudioType:  models.AudioTypeFile,
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		DurationMs: t.DurationMs,
	}
}
