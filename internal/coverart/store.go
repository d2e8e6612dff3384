/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package coverart stores cover images pushed by input adapters and
// serves them to renderers that need URL art. Entries are content
// addressed so repeated pushes of the same image cost nothing.
package coverart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// maxCoverBytes rejects absurd pushes; AirPlay senders ship images well
// under this.
const maxCoverBytes = 4 << 20

// retention is how long an entry outlives its last write before the
// janitor removes it.
const retention = 24 * time.Hour

type entry struct {
	path    string
	mime    string
	written time.Time
}

// Store is a disk-backed cover cache keyed by content hash.
type Store struct {
	dir     string
	baseURL string
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	// zoneKey remembers the latest cover per zone so Put can skip
	// rewriting an unchanged image.
	zoneKey map[int]string
}

// NewStore creates the cache directory and loads nothing; entries are
// rebuilt on demand.
func NewStore(dir, baseURL string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cover cache dir: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With().Str("component", "coverart").Logger(),
		entries: make(map[string]*entry),
		zoneKey: make(map[int]string),
	}, nil
}

// Put ingests pushed cover bytes and returns the URL renderers can
// fetch.
func (s *Store) Put(zoneID int, data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty cover payload")
	}
	if len(data) > maxCoverBytes {
		return "", fmt.Errorf("cover payload of %d bytes exceeds limit", len(data))
	}

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:8]) + extForMIME(mime)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.zoneKey[zoneID] == key {
		if e, ok := s.entries[key]; ok {
			e.written = time.Now()
			return s.urlFor(key), nil
		}
	}

	path := filepath.Join(s.dir, key)
	if _, err := os.Stat(path); err != nil {
		// Atomic write so the HTTP handler never serves a torn image.
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("write cover: %w", err)
		}
	}
	s.entries[key] = &entry{path: path, mime: mime, written: time.Now()}
	s.zoneKey[zoneID] = key
	return s.urlFor(key), nil
}

func (s *Store) urlFor(key string) string {
	return s.baseURL + "/coverart/" + key
}

// Handler serves stored covers at /coverart/{key}.
func (s *Store) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
			http.Error(w, "bad cover key", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		e, ok := s.entries[key]
		s.mu.Unlock()

		path := filepath.Join(s.dir, key)
		mime := ""
		if ok {
			path, mime = e.path, e.mime
		}
		f, err := os.Open(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		if mime != "" {
			w.Header().Set("Content-Type", mime)
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeContent(w, r, key, time.Time{}, f)
	}
}

// Sweep removes entries past retention. Called periodically by the
// server loop.
func (s *Store) Sweep() {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.written.After(cutoff) {
			continue
		}
		os.Remove(e.path)
		delete(s.entries, key)
	}
}

func extForMIME(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	return ".bin"
}
