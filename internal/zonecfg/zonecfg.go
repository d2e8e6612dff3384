/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package zonecfg loads the zone topology file, installs it into the
// zone repository and hot-reloads it on change. The file is the single
// source of zone truth; edits through the admin API go through Save so
// a watcher round trip stays consistent.
package zonecfg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/zone"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// File is the on-disk shape of zones.json.
type File struct {
	Zones []models.ZoneDefinition `json:"zones"`
}

// InputConfigurator receives the zone set after each (re)install.
type InputConfigurator interface {
	ConfigureZone(def models.ZoneDefinition)
	RemoveZone(zoneID int)
}

// Manager ties the config file to the live zone repository.
type Manager struct {
	path    string
	repo    *zone.Repository
	factory *output.Factory
	inputs  InputConfigurator
	logger  zerolog.Logger

	// stopHook runs inside each zone serializer before retirement.
	stopHook func(*zone.Context) error
}

// NewManager wires the pieces; nothing is loaded yet.
func NewManager(path string, repo *zone.Repository, factory *output.Factory, inputs InputConfigurator, stopHook func(*zone.Context) error, logger zerolog.Logger) *Manager {
	return &Manager{
		path:     path,
		repo:     repo,
		factory:  factory,
		inputs:   inputs,
		logger:   logger.With().Str("component", "zonecfg").Logger(),
		stopHook: stopHook,
	}
}

// Load parses and validates the config file. A missing file yields an
// empty zone set, not an error, so first boot works before any setup.
// The format follows the extension: .yaml/.yml or JSON otherwise.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return File{}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	if isYAMLPath(path) {
		// Bridge through JSON so the json struct tags stay the single
		// naming authority for both formats.
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return File{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return File{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate(f); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func isYAMLPath(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func validate(f File) error {
	seen := make(map[int]bool, len(f.Zones))
	for _, def := range f.Zones {
		if def.ID <= 0 {
			return fmt.Errorf("zone %q: id must be positive", def.Name)
		}
		if seen[def.ID] {
			return fmt.Errorf("duplicate zone id %d", def.ID)
		}
		seen[def.ID] = true
		if def.Name == "" {
			return fmt.Errorf("zone %d: missing name", def.ID)
		}
		outIDs := make(map[string]bool, len(def.Outputs))
		for _, oc := range def.Outputs {
			if oc.ID == "" {
				return fmt.Errorf("zone %d: output without id", def.ID)
			}
			if outIDs[oc.ID] {
				return fmt.Errorf("zone %d: duplicate output id %q", def.ID, oc.ID)
			}
			outIDs[oc.ID] = true
			if oc.Driver == "" {
				return fmt.Errorf("zone %d output %s: missing driver", def.ID, oc.ID)
			}
		}
	}
	return nil
}

// Save writes the file atomically and fsync-safe; the watcher picks the
// change up like an external edit would.
func Save(path string, f File) error {
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if isYAMLPath(path) {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		if raw, err = yaml.Marshal(doc); err != nil {
			return err
		}
	} else {
		raw = append(raw, '\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, raw, 0o644)
}

// Apply installs defs: reconfigures the repository, then builds each
// zone's output drivers and input bindings inside its serializer.
func (m *Manager) Apply(ctx context.Context, defs []models.ZoneDefinition) error {
	if err := m.repo.Reconfigure(ctx, defs, m.stopHook); err != nil {
		m.logger.Warn().Err(err).Msg("stop during reconfigure reported errors")
	}

	var firstErr error
	for _, def := range defs {
		def := def
		err := m.repo.Do(ctx, def.ID, "install_outputs", func(zc *zone.Context) error {
			drivers, err := m.factory.BuildZone(def)
			if err != nil {
				return err
			}
			zc.Outputs = drivers
			if len(def.Outputs) > 0 {
				zc.ActiveOutput = def.Outputs[0].Driver
			}
			return nil
		})
		if err != nil {
			m.logger.Error().Err(err).Int("zone", def.ID).Msg("zone output install failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if m.inputs != nil {
			m.inputs.ConfigureZone(def)
		}
	}
	return firstErr
}

// LoadAndApply reads the file and installs it.
func (m *Manager) LoadAndApply(ctx context.Context) error {
	f, err := Load(m.path)
	if err != nil {
		return err
	}
	m.logger.Info().Int("zones", len(f.Zones)).Str("path", m.path).Msg("zone config loaded")
	return m.Apply(ctx, f.Zones)
}

// Update mutates the file through fn and applies the result. Used by
// the admin API for zone CRUD.
func (m *Manager) Update(ctx context.Context, fn func(*File) error) error {
	f, err := Load(m.path)
	if err != nil {
		return err
	}
	if err := fn(&f); err != nil {
		return err
	}
	if err := validate(f); err != nil {
		return err
	}
	if err := Save(m.path, f); err != nil {
		return err
	}
	return m.Apply(ctx, f.Zones)
}

// Watch hot-reloads the file until ctx ends. Reload failures keep the
// running zone set; a broken edit never tears zones down.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic replaces swap the inode out from
	// under a file-level watch.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(m.path), err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn().Err(err).Msg("config watcher error")
		case <-reload:
			if err := m.LoadAndApply(ctx); err != nil {
				m.logger.Error().Err(err).Msg("zone config reload failed, keeping previous zones")
			}
		}
	}
}
