/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package inputs hosts the external input adapters: AirPlay receiver,
// Spotify Connect, Music Assistant and line-in capture. Adapters own
// their protocol sessions and report everything that happens through
// the Sink; they never touch zone state directly.
package inputs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/playback"
)

var (
	// ErrInputDisabled is returned when a zone has not enabled the input.
	ErrInputDisabled = errors.New("input not enabled on zone")
	// ErrUnknownInput is returned for labels no adapter covers.
	ErrUnknownInput = errors.New("unknown input")
	// ErrProviderRenders marks inputs whose provider renders remotely,
	// so there is no local engine source to resolve.
	ErrProviderRenders = errors.New("provider renders remotely")
)

// Sink receives everything input adapters observe. Implemented by the
// playback coordinator; every call is safe from any goroutine.
type Sink interface {
	StartExternalPlayback(ctx context.Context, zoneID int, label models.InputSource, source *models.PlaybackSource, meta models.TrackMetadata) error
	StopExternalPlayback(zoneID int, label models.InputSource, reason string)
	PauseFromInput(zoneID int, label models.InputSource)
	ResumeFromInput(zoneID int, label models.InputSource)
	UpdateInputMetadata(zoneID int, label models.InputSource, meta models.TrackMetadata)
	UpdateInputTiming(zoneID int, label models.InputSource, elapsedMs, durationMs int64)
	UpdateInputVolume(zoneID int, label models.InputSource, volume int)
	UpdateInputCover(zoneID int, label models.InputSource, cover playback.CoverArtPayload) string
	HandleEndOfTrack(zoneID int, from models.InputSource)
}

// Adapter is one input family. Start/Stop bracket a zone's session with
// the external source; target is adapter specific (audiopath for
// Spotify, ignored by receivers).
type Adapter interface {
	Label() models.InputSource
	Start(ctx context.Context, zone ZoneInfo, target string) error
	Stop(ctx context.Context, zoneID int, reason string) error
	Close(ctx context.Context) error
}

// SourceResolver is implemented by adapters that can turn a provider
// URI into a local engine source.
type SourceResolver interface {
	ResolveSource(ctx context.Context, zoneID int, uri string, seekMs int64) (*models.PlaybackSource, error)
}

// Forwarder is implemented by adapters whose external player accepts
// relayed transport commands.
type Forwarder interface {
	Forward(ctx context.Context, zoneID int, command string, value int64) error
}

// NameSyncer is implemented by adapters that announce themselves under
// the zone name.
type NameSyncer interface {
	SyncZoneName(zoneID int, name string)
}

// ZoneInfo is the slice of zone topology an adapter needs.
type ZoneInfo struct {
	ID      int
	Name    string
	Enabled map[string]bool
	// Options merges the per-zone driver options relevant to inputs
	// (spotify daemon address, capture device override).
	Options map[string]string
}

// Manager routes InputsPort calls to the registered adapters.
type Manager struct {
	logger   zerolog.Logger
	sink     Sink
	adapters map[models.InputSource]Adapter

	mu    sync.RWMutex
	zones map[int]ZoneInfo
}

// NewManager builds the adapter set for the process configuration.
// Adapters whose prerequisites are absent are simply not registered.
func NewManager(cfg *config.Config, sink Sink, logger zerolog.Logger) *Manager {
	m := &Manager{
		logger:   logger.With().Str("component", "inputs").Logger(),
		sink:     sink,
		adapters: make(map[models.InputSource]Adapter),
		zones:    make(map[int]ZoneInfo),
	}
	m.register(newAirplayReceiver(cfg.AirplayReceiverBin, sink, m.logger))
	m.register(newSpotifyConnect(sink, m.logger))
	m.register(newLineIn(cfg.FFmpegBin, cfg.LineInDevice, sink, m.logger))
	if cfg.MusicAssistantURL != "" {
		m.register(newMusicAssistant(cfg.MusicAssistantURL, sink, m.logger))
	}
	return m
}

func (m *Manager) register(a Adapter) {
	m.adapters[a.Label()] = a
}

// ConfigureZone installs or refreshes the input view of one zone. Called
// from zone reconfigure with the resolved definition.
func (m *Manager) ConfigureZone(def models.ZoneDefinition) {
	info := ZoneInfo{
		ID:      def.ID,
		Name:    def.Name,
		Enabled: make(map[string]bool, len(def.EnabledInputs)),
		Options: make(map[string]string),
	}
	for _, in := range def.EnabledInputs {
		info.Enabled[in] = true
	}
	for _, out := range def.Outputs {
		if out.Driver != "spotify" {
			continue
		}
		info.Enabled["spotify"] = true
		if out.Address != "" {
			info.Options["spotify_api"] = out.Address
		}
		for k, v := range out.Options {
			info.Options[k] = v
		}
	}

	m.mu.Lock()
	m.zones[def.ID] = info
	m.mu.Unlock()

	for _, a := range m.adapters {
		if ns, ok := a.(NameSyncer); ok && info.Enabled[string(a.Label())] {
			ns.SyncZoneName(def.ID, def.Name)
		}
	}
}

// RemoveZone forgets a zone on reconfigure.
func (m *Manager) RemoveZone(zoneID int) {
	m.mu.Lock()
	delete(m.zones, zoneID)
	m.mu.Unlock()
}

func (m *Manager) zoneInfo(zoneID int) (ZoneInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.zones[zoneID]
	return info, ok
}

// StartSession activates an input on a zone.
func (m *Manager) StartSession(ctx context.Context, zoneID int, label models.InputSource, target string) error {
	a, ok := m.adapters[label]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInput, label)
	}
	info, ok := m.zoneInfo(zoneID)
	if !ok || !info.Enabled[string(label)] {
		return fmt.Errorf("%w: %s on zone %d", ErrInputDisabled, label, zoneID)
	}
	return a.Start(ctx, info, target)
}

// StopSession ends an input session. Unknown labels are ignored so a
// stop on a torn-down adapter is harmless.
func (m *Manager) StopSession(ctx context.Context, zoneID int, label models.InputSource, reason string) error {
	a, ok := m.adapters[label]
	if !ok {
		return nil
	}
	return a.Stop(ctx, zoneID, reason)
}

// ResolveSource asks the owning adapter for a local engine source.
func (m *Manager) ResolveSource(ctx context.Context, zoneID int, label models.InputSource, uri string, seekMs int64) (*models.PlaybackSource, error) {
	a, ok := m.adapters[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInput, label)
	}
	sr, ok := a.(SourceResolver)
	if !ok {
		return nil, fmt.Errorf("%s: %w", label, ErrProviderRenders)
	}
	return sr.ResolveSource(ctx, zoneID, uri, seekMs)
}

// Forward relays a transport command to the external player.
func (m *Manager) Forward(ctx context.Context, zoneID int, label models.InputSource, command string, value int64) error {
	a, ok := m.adapters[label]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInput, label)
	}
	fw, ok := a.(Forwarder)
	if !ok {
		return fmt.Errorf("input %s does not accept %s", label, command)
	}
	return fw.Forward(ctx, zoneID, command, value)
}

// SyncZoneName propagates a rename to every announcing adapter.
func (m *Manager) SyncZoneName(zoneID int, name string) {
	m.mu.Lock()
	if info, ok := m.zones[zoneID]; ok {
		info.Name = name
		m.zones[zoneID] = info
	}
	m.mu.Unlock()

	for _, a := range m.adapters {
		if ns, ok := a.(NameSyncer); ok {
			ns.SyncZoneName(zoneID, name)
		}
	}
}

// Close tears every adapter down; used on daemon shutdown.
func (m *Manager) Close(ctx context.Context) error {
	var firstErr error
	for _, a := range m.adapters {
		if err := a.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
