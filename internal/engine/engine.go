/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine runs the per-zone audio pipelines. One ffmpeg process
// per zone decodes whatever source the coordinator selected and encodes
// it into the sub-streams the zone's outputs subscribe to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/telemetry"
)

var (
	// ErrNoSession means the zone has no active pipeline.
	ErrNoSession = errors.New("no active session")
	// ErrHandoffTimeout means the new pipeline produced no chunk in
	// time; the previous pipeline was preserved.
	ErrHandoffTimeout = errors.New("handoff timeout, previous pipeline kept")
)

// EndHandler is invoked when a pipeline exits on its own (end of file
// or fatal decode error), never for intentional stops.
type EndHandler func(zoneID int, sessionID string, err error)

// Engine owns every pipeline session, keyed by zone.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[int]*Session

	onEnd EndHandler
}

// New creates the engine.
func New(cfg *config.Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		sessions: make(map[int]*Session),
	}
}

// SetEndHandler registers the natural-end callback. Must be called
// before the first Start.
func (e *Engine) SetEndHandler(fn EndHandler) {
	e.onEnd = fn
}

// Start replaces any running pipeline of the zone without overlap.
func (e *Engine) Start(ctx context.Context, zoneID int, source models.PlaybackSource, metadata models.TrackMetadata, profiles []models.StreamProfile) (*Session, error) {
	e.Stop(zoneID, "restart")

	sess, err := e.launch(ctx, zoneID, source, metadata, profiles)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[zoneID] = sess
	e.mu.Unlock()
	telemetry.EngineSessionsActive.Inc()

	e.watch(sess)
	return sess, nil
}

// StartWithHandoff starts a new pipeline while the old one keeps
// playing, and only retires the old one once the new one has produced
// its first encoded chunk. On timeout the new pipeline is discarded and
// the old one keeps running.
func (e *Engine) StartWithHandoff(ctx context.Context, zoneID int, source models.PlaybackSource, metadata models.TrackMetadata, profiles []models.StreamProfile) (*Session, error) {
	e.mu.Lock()
	old := e.sessions[zoneID]
	e.mu.Unlock()

	if old == nil {
		return e.Start(ctx, zoneID, source, metadata, profiles)
	}

	started := time.Now()
	sess, err := e.launch(ctx, zoneID, source, metadata, profiles)
	if err != nil {
		return nil, err
	}

	primary := profiles[0].Key()
	hub, _ := sess.hub(primary)
	select {
	case <-hub.firstChunk:
	case <-sess.pipe.waitDone():
		err := sess.pipe.exitError()
		e.teardown(sess)
		if err == nil {
			err = fmt.Errorf("pipeline exited before first chunk")
		}
		return nil, fmt.Errorf("handoff failed: %w", err)
	case <-time.After(e.cfg.HandoffTimeout):
		e.teardown(sess)
		return nil, ErrHandoffTimeout
	case <-ctx.Done():
		e.teardown(sess)
		return nil, ctx.Err()
	}
	telemetry.EngineHandoffDuration.Observe(time.Since(started).Seconds())

	e.mu.Lock()
	e.sessions[zoneID] = sess
	e.mu.Unlock()
	telemetry.EngineSessionsActive.Inc()

	e.watch(sess)
	telemetry.EngineSessionsActive.Dec()
	e.retire(old)
	return sess, nil
}

// launch spawns the process and hubs but does not register the session.
func (e *Engine) launch(ctx context.Context, zoneID int, source models.PlaybackSource, metadata models.TrackMetadata, profiles []models.StreamProfile) (*Session, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no stream profiles requested")
	}

	logger := e.logger.With().Int("zone", zoneID).Logger()
	sess := &Session{
		ID:       uuid.NewString(),
		ZoneID:   zoneID,
		Source:   source,
		Metadata: metadata,
		Profiles: profiles,
		pipe:     newPipeline(e.cfg.FFmpegBin, logger),
		hubs:     make(map[string]*streamHub, len(profiles)),
	}
	sess.state = SessionPlaying
	sess.startedAt = time.Now()
	sess.updatedAt = sess.startedAt
	sess.resumedAt = sess.startedAt
	sess.startMs = source.StartMs

	handlers := make([]func(io.Reader), 0, len(profiles))
	for _, profile := range profiles {
		hub := newStreamHub(profile.Key(), ringSizeFor(profile), logger)
		sess.hubs[profile.Key()] = hub
		handlers = append(handlers, func(r io.Reader) {
			feedHub(hub, r)
		})
	}

	// The pipeline must outlive the caller's request context.
	if err := sess.pipe.start(context.WithoutCancel(ctx), source, profiles, handlers); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	logger.Info().
		Str("session", sess.ID).
		Str("kind", string(source.Kind)).
		Int("profiles", len(profiles)).
		Msg("pipeline started")
	return sess, nil
}

// watch reports the session's natural end to the coordinator.
func (e *Engine) watch(sess *Session) {
	go func() {
		<-sess.pipe.waitDone()
		if sess.isStopping() {
			return
		}

		e.mu.Lock()
		current := e.sessions[sess.ZoneID] == sess
		if current {
			delete(e.sessions, sess.ZoneID)
		}
		e.mu.Unlock()
		if !current {
			return
		}

		err := sess.pipe.exitError()
		sess.setLastErr(err)
		sess.markStopped()
		for _, h := range sess.hubs {
			h.shutdown()
		}
		telemetry.EngineSessionsActive.Dec()

		if err != nil {
			e.logger.Warn().Int("zone", sess.ZoneID).Err(err).
				Str("stderr", sess.pipe.stderrTail()).
				Msg("pipeline died")
		}
		if e.onEnd != nil {
			e.onEnd(sess.ZoneID, sess.ID, err)
		}
	}()
}

// Stop tears down the zone's pipeline. Safe to call without a session.
func (e *Engine) Stop(zoneID int, reason string) {
	e.mu.Lock()
	sess := e.sessions[zoneID]
	delete(e.sessions, zoneID)
	e.mu.Unlock()

	if sess == nil {
		return
	}
	telemetry.EngineSessionsActive.Dec()
	e.logger.Info().Int("zone", zoneID).Str("reason", reason).Msg("stopping pipeline")
	e.retire(sess)
}

// retire stops an unregistered session.
func (e *Engine) retire(sess *Session) {
	if !sess.beginStop() {
		return
	}
	sess.markStopped()
	sess.pipe.stop()
	for _, h := range sess.hubs {
		h.shutdown()
	}
}

// teardown discards a session that never became current.
func (e *Engine) teardown(sess *Session) {
	if sess.beginStop() {
		sess.pipe.stop()
		for _, h := range sess.hubs {
			h.shutdown()
		}
	}
}

// Pause suspends the zone's pipeline.
func (e *Engine) Pause(zoneID int) error {
	sess, ok := e.Session(zoneID)
	if !ok {
		return ErrNoSession
	}
	if err := sess.pipe.pause(); err != nil {
		return err
	}
	sess.markPaused()
	return nil
}

// Resume continues a paused pipeline.
func (e *Engine) Resume(zoneID int) error {
	sess, ok := e.Session(zoneID)
	if !ok {
		return ErrNoSession
	}
	if err := sess.pipe.resume(); err != nil {
		return err
	}
	sess.markPlaying()
	return nil
}

// Restart respawns the current session's pipeline with the same source,
// used for the single retry policy on radio and URL sources.
func (e *Engine) Restart(ctx context.Context, zoneID int) error {
	e.mu.Lock()
	old := e.sessions[zoneID]
	e.mu.Unlock()
	if old == nil {
		return ErrNoSession
	}

	sess, err := e.launch(ctx, zoneID, old.Source, old.Metadata, old.Profiles)
	if err != nil {
		return err
	}
	sess.restarts = old.restarts + 1

	e.mu.Lock()
	e.sessions[zoneID] = sess
	e.mu.Unlock()

	e.watch(sess)
	e.retire(old)
	return nil
}

// CreateStream attaches a subscriber to the zone's sub-stream for
// profile. primeBytes > 0 replays up to that much recent data ahead of
// live chunks.
func (e *Engine) CreateStream(zoneID int, profile models.StreamProfile, primeBytes int, label string) (*Subscriber, error) {
	sess, ok := e.Session(zoneID)
	if !ok {
		return nil, ErrNoSession
	}
	hub, ok := sess.hub(profile.Key())
	if !ok {
		return nil, fmt.Errorf("session has no %q stream", profile.Key())
	}
	return hub.attach(primeBytes, label), nil
}

// WaitForFirstChunk blocks until the zone's sub-stream produced data.
func (e *Engine) WaitForFirstChunk(ctx context.Context, zoneID int, profile models.StreamProfile, timeout time.Duration) error {
	sess, ok := e.Session(zoneID)
	if !ok {
		return ErrNoSession
	}
	hub, ok := sess.hub(profile.Key())
	if !ok {
		return fmt.Errorf("session has no %q stream", profile.Key())
	}
	select {
	case <-hub.firstChunk:
		return nil
	case <-sess.pipe.waitDone():
		if err := sess.pipe.exitError(); err != nil {
			return fmt.Errorf("pipeline exited: %w", err)
		}
		return fmt.Errorf("pipeline exited before first chunk")
	case <-time.After(timeout):
		return fmt.Errorf("no chunk within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasSession reports whether the zone has an active pipeline.
func (e *Engine) HasSession(zoneID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[zoneID]
	return ok
}

// Session returns the zone's current session.
func (e *Engine) Session(zoneID int) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[zoneID]
	return sess, ok
}

// SessionStats summarizes the zone's session for diagnostics.
func (e *Engine) SessionStats(zoneID int) (Stats, bool) {
	sess, ok := e.Session(zoneID)
	if !ok {
		return Stats{}, false
	}
	return sess.stats(), true
}

// StopAll tears down every session, used at shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	zones := make([]int, 0, len(e.sessions))
	for z := range e.sessions {
		zones = append(zones, z)
	}
	e.mu.Unlock()
	for _, z := range zones {
		e.Stop(z, "shutdown")
	}
}

// feedHub pumps pipeline output into a hub in fixed-size chunks.
func feedHub(hub *streamHub, r io.Reader) {
	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			hub.broadcast(chunk)
		}
		if err != nil {
			return
		}
	}
}

// ringSizeFor sizes the priming backlog: about one second for PCM,
// a fixed window for encoded streams.
func ringSizeFor(p models.StreamProfile) int {
	if p.Codec == "pcm" {
		f := models.PCMFormat{Rate: p.Rate, Channels: p.Channels, Bits: p.Bits}
		if bps := f.BytesPerSecond(); bps > 0 {
			return bps
		}
	}
	return 64 * 1024
}
