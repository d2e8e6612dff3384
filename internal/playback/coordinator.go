/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the per-zone playback coordinator: the
// state machine over play/pause/resume/stop/seek/volume, input-mode
// transitions, queue advancement and metadata propagation. Every state
// mutation runs inside the zone's serializer.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/zone"
)

// queueFirstPage bounds the synchronous part of a queue rebuild; the
// rest of a large container is loaded by the background fill.
const queueFirstPage = 50

// fillPageSize is the backfill fetch granularity.
const fillPageSize = 100

// dispatchThrottle is the minimum spacing of position-only and
// metadata-only notifier updates per zone.
const dispatchThrottle = time.Second

// Coordinator orchestrates the playback core: queue controller, audio
// engine, output router and group coordinators, driven by miniserver
// commands and input/output callbacks.
type Coordinator struct {
	cfg    *config.Config
	logger zerolog.Logger

	zones    *zone.Repository
	engine   *engine.Engine
	router   *output.Router
	content  ContentPort
	inputs   InputsPort
	notifier Notifier
	recents  RecentsSink
	tracker  *group.Tracker
	bus      *events.Bus
	covers   CoverStore
}

// Deps carries the collaborators of a Coordinator.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Zones    *zone.Repository
	Engine   *engine.Engine
	Router   *output.Router
	Content  ContentPort
	Inputs   InputsPort
	Notifier Notifier
	Recents  RecentsSink
	Tracker  *group.Tracker
	Bus      *events.Bus
}

// New wires the coordinator into the engine end handler and the router
// error hook.
func New(d Deps) *Coordinator {
	c := &Coordinator{
		cfg:      d.Config,
		logger:   d.Logger.With().Str("component", "playback").Logger(),
		zones:    d.Zones,
		engine:   d.Engine,
		router:   d.Router,
		content:  d.Content,
		inputs:   d.Inputs,
		notifier: d.Notifier,
		recents:  d.Recents,
		tracker:  d.Tracker,
		bus:      d.Bus,
	}
	c.engine.SetEndHandler(c.onPipelineEnd)
	c.router.SetErrorHook(c.onOutputError)
	return c
}

// PlayContent is the main entry: materialize a logical play request on
// a zone. It resolves the URI, reuses the existing queue when the
// target is already in it, or rebuilds the queue from the content port.
func (c *Coordinator) PlayContent(ctx context.Context, zoneID int, uri, typ string, meta *models.TrackMetadata, opts PlayOptions) error {
	req, err := resolveRequest(uri, "", meta, opts)
	if err != nil {
		return fmt.Errorf("resolve play request: %w", err)
	}

	return c.zones.Do(ctx, zoneID, "play_content", func(zc *zone.Context) error {
		// An external input already playing exactly this target is a
		// no-op; restarting it would only glitch the stream.
		if label := inputLabelFor(req.path); label != models.SourceNone && zc.InputMode == label {
			if item, ok := zc.Queue.Current(); ok && audiopath.Normalize(item.Audiopath) == req.normalized {
				c.logger.Debug().Int("zone", zoneID).Str("uri", req.normalized).Msg("target already playing, no-op")
				return nil
			}
		}

		// Fast path: seek within the existing queue. Only without
		// parent context, so a container play always rebuilds.
		if zc.State.Mode != models.ModeStop && req.parent == nil {
			if _, ok := zc.Queue.SeekTo(req.normalized); ok {
				item, _ := zc.Queue.Current()
				c.notifier.QueueUpdated(zoneID, zc.Queue.Len())
				return c.startQueuePlayback(ctx, zc, item.Audiopath, item.Metadata(), req.opts)
			}
		}

		return c.rebuildQueue(ctx, zc, req)
	})
}

// rebuildQueue runs the slow path of playContent inside the serializer.
func (c *Coordinator) rebuildQueue(ctx context.Context, zc *zone.Context, req request) error {
	zc.CancelFill()

	buildURI := req.raw
	if req.parent != nil && req.parent.Parent != "" {
		buildURI = req.parent.Parent
	}

	items, hasMore, err := c.content.BuildQueueForURI(ctx, buildURI, QueueBuildOpts{
		ZoneName:  zc.Name,
		Station:   req.station,
		RawPath:   req.raw,
		NoShuffle: req.opts.NoShuffle,
		PageSize:  queueFirstPage,
	})
	if err != nil {
		return c.failZone(ctx, zc, newError(KindStreamUnavailable, SourcePlayer, req.path.Provider, err))
	}
	if len(items) == 0 {
		return c.failZone(ctx, zc, newError(KindStreamUnavailable, SourcePlayer, req.path.Provider, errors.New("uri resolved to empty queue")))
	}

	start := c.pickStartIndex(items, req)
	zc.Queue.SetItems(items, start)
	zc.Queue.SetAuthority(authorityFor(req.path, c.spotifyOffloadAvailable(zc)))

	if req.opts.NoShuffle {
		zc.Queue.SetShuffle(false)
	} else if zc.Queue.Shuffle() {
		zc.Queue.ReshuffleUpcoming()
	}

	if hasMore {
		c.startBackgroundFill(zc, buildURI, len(items))
	}

	item, ok := zc.Queue.Current()
	if !ok {
		return c.failZone(ctx, zc, newError(KindQueueInvalidNext, SourcePlayer, req.path.Provider, nil))
	}

	meta := item.Metadata()
	if req.metadata.Title != "" && audiopath.Normalize(item.Audiopath) == req.normalized {
		// Caller-provided metadata wins for the explicitly requested
		// item; the provider fills the rest of the queue.
		meta = req.metadata
	}

	c.notifier.QueueUpdated(zc.ID, zc.Queue.Len())
	return c.startQueuePlayback(ctx, zc, item.Audiopath, meta, req.opts)
}

// pickStartIndex chooses where a rebuilt queue starts: explicit hint,
// then match by audiopath or unique id, then the head.
func (c *Coordinator) pickStartIndex(items []models.QueueItem, req request) int {
	if req.opts.StartIndex >= 0 && req.opts.StartIndex < len(items) {
		return req.opts.StartIndex
	}
	for i, it := range items {
		if it.UniqueID != "" && it.UniqueID == req.raw {
			return i
		}
		if audiopath.Normalize(it.Audiopath) == req.normalized {
			return i
		}
	}
	return 0
}

// startBackgroundFill loads the rest of a large container. The token
// invalidates the fill when the queue is rebuilt in the meantime.
func (c *Coordinator) startBackgroundFill(zc *zone.Context, uri string, offset int) {
	token := zc.Queue.NextFillToken()
	fillCtx, cancel := context.WithCancel(context.Background())
	zc.FillCancel = cancel
	zoneID := zc.ID

	go func() {
		defer cancel()
		pos := offset
		for {
			items, err := c.content.QueuePage(fillCtx, uri, pos, fillPageSize)
			if err != nil || len(items) == 0 {
				if err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Warn().Err(err).Int("zone", zoneID).Msg("queue backfill aborted")
				}
				return
			}
			pos += len(items)

			applied := false
			c.zones.Do(fillCtx, zoneID, "queue_fill", func(zc *zone.Context) error {
				applied = zc.Queue.ApplyFill(token, items)
				if applied {
					c.notifier.QueueUpdated(zoneID, zc.Queue.Len())
				}
				return nil
			})
			if !applied || len(items) < fillPageSize {
				return
			}
		}
	}()
}

// startQueuePlayback starts one queue item on the zone, transitioning
// the input mode and priming a new engine pipeline via handoff. Runs
// inside the serializer.
func (c *Coordinator) startQueuePlayback(ctx context.Context, zc *zone.Context, path string, meta models.TrackMetadata, opts PlayOptions) error {
	p, err := audiopath.Parse(path)
	if err != nil {
		return c.failZone(ctx, zc, newError(KindStreamUnavailable, SourcePlayer, "", err))
	}

	playOutputs := output.SelectPlayOutputs(zc.Outputs)

	// Spotify offload: the Connect device renders, the core only
	// steers. Requires a spotify controller output on the zone.
	if p.Provider == audiopath.ProviderSpotify && !c.spotifyEngineRendered(zc) {
		if _, ok := zc.FindOutput("spotify"); ok {
			return c.startSpotifyOffload(ctx, zc, path, meta)
		}
	}

	if len(playOutputs) == 0 {
		return c.failZone(ctx, zc, newError(KindNoOutputConfigured, SourceOutput, p.Provider, nil).
			withReason("no output configured"))
	}

	plan := c.buildPlan(zc, playOutputs, p, path, meta, opts)

	if err := c.transitionInput(ctx, zc, plan.InputLabel); err != nil {
		c.logger.Warn().Err(err).Int("zone", zc.ID).Msg("input transition failed")
	}

	source, provider, err := c.resolveSource(ctx, zc, plan)
	if err != nil || source == nil {
		if err == nil {
			err = errors.New("no playable source")
		}
		return c.failZone(ctx, zc, newError(KindStreamUnavailable, SourcePlayer, provider, err))
	}
	source.StartMs = plan.SeekMs

	zc.State.Mode = models.ModeBuffer
	zc.IsRadio = plan.IsRadio

	sess, err := c.engine.StartWithHandoff(ctx, zc.ID, *source, plan.Metadata, plan.Profiles)
	if err != nil {
		perr := newError(KindEngineStartFailed, SourcePlayer, provider, err)
		// One retry for radio and plain URL sources, which commonly
		// drop the first connection.
		if plan.IsRadio || source.Kind == models.SourceURL {
			sess, err = c.engine.StartWithHandoff(ctx, zc.ID, *source, plan.Metadata, plan.Profiles)
		}
		if err != nil {
			return c.failZone(ctx, zc, perr)
		}
	}

	zc.State.Mode = models.ModePlay
	zc.State.Track = plan.Metadata
	zc.State.SessionID = sess.ID
	zc.State.Power = models.PowerOn
	zc.State.ClientState = models.PowerOn
	zc.State.TimeMs = plan.SeekMs
	zc.Touch()

	outSess := c.outputSession(zc, sess, plan)
	if err := c.router.Dispatch(ctx, zc.ID, playOutputs, output.ActionPlay, outSess); err != nil {
		c.logger.Warn().Err(err).Int("zone", zc.ID).Msg("some outputs failed to start")
	}
	if zc.State.Volume > 0 {
		c.router.DispatchVolume(ctx, zc.ID, zc.Outputs, zc.State.Volume)
	}

	c.broadcastState(zc)
	c.bus.Publish(events.EventTrackStart, events.Payload{"zone_id": zc.ID, "audiopath": plan.Audiopath})
	if c.recents != nil && !plan.IsRadio {
		track := plan.Metadata
		go c.recents.AddRecent(context.Background(), zc.ID, track)
	}
	return nil
}

// buildPlan computes the immutable description of a playback attempt.
func (c *Coordinator) buildPlan(zc *zone.Context, playOutputs []output.Driver, p audiopath.Path, path string, meta models.TrackMetadata, opts PlayOptions) Plan {
	plan := Plan{
		Audiopath:  audiopath.Normalize(path),
		Metadata:   meta,
		AudioType:  audiopath.Classify(p),
		IsRadio:    audiopath.IsRadio(p, meta.DurationMs),
		Provider:   p.Provider,
		InputLabel: inputLabelFor(p),
		SeekMs:     opts.SeekMs,
	}
	plan.Metadata.Audiopath = plan.Audiopath
	if plan.IsRadio {
		plan.Metadata.DurationMs = 0
		plan.AudioType = models.AudioTypeRadio
	}
	plan.Metadata.AudioType = plan.AudioType

	// Preferred format comes from the primary output; others attach
	// their own profiles to the same pipeline.
	preferred := models.StreamProfile{Codec: "pcm", Rate: 44100, Channels: 2, Bits: 16, ChunkMs: 20}
	prebuffer := 0
	if primary, ok := zc.PrimaryOutput(); ok {
		if fa, ok := primary.(output.FormatAdvertiser); ok {
			po := fa.PreferredOutput()
			if po.SampleRate > 0 {
				preferred.Rate = po.SampleRate
			}
			if po.Channels > 0 {
				preferred.Channels = po.Channels
			}
			if po.BitDepth > 0 {
				preferred.Bits = po.BitDepth
			}
			prebuffer = po.PrebufferBytes
		}
		if sp, ok := primary.(output.StreamProfiler); ok {
			preferred = sp.StreamProfile()
		}
	}
	if plan.IsRadio || p.IsURL {
		if prebuffer == 0 || prebuffer > radioPrebufferBytes {
			prebuffer = radioPrebufferBytes
		}
	}
	plan.Preferred = preferred
	plan.Prebuffer = prebuffer

	// One pipeline, one encoder per distinct profile across outputs.
	seen := map[string]bool{preferred.Key(): true}
	plan.Profiles = []models.StreamProfile{preferred}
	for _, out := range playOutputs {
		sp, ok := out.(output.StreamProfiler)
		if !ok {
			continue
		}
		profile := sp.StreamProfile()
		if seen[profile.Key()] {
			continue
		}
		seen[profile.Key()] = true
		plan.Profiles = append(plan.Profiles, profile)
	}
	return plan
}

// resolveSource produces the engine input for the plan, via the inputs
// port for provider-rendered content and the content port otherwise.
func (c *Coordinator) resolveSource(ctx context.Context, zc *zone.Context, plan Plan) (*models.PlaybackSource, string, error) {
	switch plan.InputLabel {
	case models.SourceSpotify, models.SourceMusicAssistant:
		src, err := c.inputs.ResolveSource(ctx, zc.ID, plan.InputLabel, plan.Audiopath, plan.SeekMs)
		return src, plan.Provider, err
	}
	src, provider, err := c.content.ResolvePlaybackSource(ctx, SourceRequest{
		Audiopath: plan.Audiopath,
		SeekMs:    plan.SeekMs,
		Preferred: plan.Preferred,
	})
	if provider == "" {
		provider = plan.Provider
	}
	return src, provider, err
}

// startSpotifyOffload hands playback to the Spotify Connect device; no
// local pipeline runs, the spotify output steers the remote player.
func (c *Coordinator) startSpotifyOffload(ctx context.Context, zc *zone.Context, path string, meta models.TrackMetadata) error {
	if err := c.transitionInput(ctx, zc, models.SourceSpotify); err != nil {
		return err
	}
	if err := c.inputs.StartSession(ctx, zc.ID, models.SourceSpotify, path); err != nil {
		return c.failZone(ctx, zc, newError(KindStreamUnavailable, SourcePlayer, audiopath.ProviderSpotify, err))
	}
	c.engine.Stop(zc.ID, "spotify_offload")

	zc.InputMode = models.SourceSpotify
	zc.ActiveInput = models.SourceSpotify
	zc.State.Mode = models.ModePlay
	zc.State.Track = meta
	zc.State.SessionID = ""
	zc.State.Power = models.PowerOn
	zc.State.ClientState = models.PowerOn
	zc.Touch()
	c.broadcastState(zc)
	return nil
}

// transitionInput stops the previous external input session when the
// new target belongs to someone else. ActiveInput flips first so stale
// callbacks from the dethroned input are dropped from now on.
func (c *Coordinator) transitionInput(ctx context.Context, zc *zone.Context, next models.InputSource) error {
	prev := zc.ActiveInput
	if next == models.SourceNone {
		next = models.SourceQueue
	}
	if prev == next {
		zc.InputMode = next
		return nil
	}

	zc.ActiveInput = next
	zc.InputMode = next

	if prev != models.SourceNone && prev != models.SourceQueue {
		reason := "switch_to_" + string(next)
		if err := c.inputs.StopSession(ctx, zc.ID, prev, reason); err != nil {
			return fmt.Errorf("stop %s session: %w", prev, err)
		}
		c.bus.Publish(events.EventInputStop, events.Payload{"zone_id": zc.ID, "input": string(prev), "reason": reason})
	}
	return nil
}

// outputSession builds the handle drivers receive on dispatch.
func (c *Coordinator) outputSession(zc *zone.Context, sess *engine.Session, plan Plan) *output.Session {
	return &output.Session{
		ZoneID:    zc.ID,
		ZoneName:  zc.Name,
		ID:        sess.ID,
		Metadata:  plan.Metadata,
		IsRadio:   plan.IsRadio,
		Volume:    zc.State.Volume,
		Engine:    c.engine,
		Prebuffer: plan.Prebuffer,
		Profile:   plan.Preferred,
		StreamURL: c.streamURL(zc.ID, plan.Preferred),
		ElapsedMs: sess.ElapsedMs,
	}
}

// streamURL names the HTTP endpoint serving a zone's encoded stream for
// renderers that fetch instead of accepting a push.
func (c *Coordinator) streamURL(zoneID int, profile models.StreamProfile) string {
	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	if base == "" {
		base = "http://" + c.cfg.HTTPAddr()
	}
	ext := profile.Codec
	if ext == "" {
		ext = "mp3"
	}
	return fmt.Sprintf("%s/stream/%d.%s", base, zoneID, ext)
}

// spotifyOffloadAvailable reports whether the zone can hand rendering
// to a Spotify Connect device.
func (c *Coordinator) spotifyOffloadAvailable(zc *zone.Context) bool {
	_, ok := zc.FindOutput("spotify")
	return ok
}

// spotifyEngineRendered reports whether spotify content must run
// through the local engine because no offload output exists.
func (c *Coordinator) spotifyEngineRendered(zc *zone.Context) bool {
	return !c.spotifyOffloadAvailable(zc)
}

// StopZone stops playback and clears the session. reason lands in the
// notifier event.
func (c *Coordinator) StopZone(ctx context.Context, zoneID int, reason string) error {
	return c.zones.Do(ctx, zoneID, "stop", func(zc *zone.Context) error {
		return c.stopLocked(ctx, zc, reason)
	})
}

// stopLocked is the serializer-side stop. Outputs are stopped first so
// renderers drain; the pipeline teardown follows.
func (c *Coordinator) stopLocked(ctx context.Context, zc *zone.Context, reason string) error {
	zc.CancelFill()
	// An explicit stop cancels a pending alert restore.
	zc.Alert = nil

	if zc.ActiveInput != models.SourceNone && zc.ActiveInput != models.SourceQueue {
		if err := c.inputs.StopSession(ctx, zc.ID, zc.ActiveInput, reason); err != nil {
			c.logger.Warn().Err(err).Int("zone", zc.ID).Msg("input session stop failed")
		}
	}

	c.router.Dispatch(ctx, zc.ID, zc.Outputs, output.ActionStop, nil)
	c.engine.Stop(zc.ID, reason)

	zc.InputMode = models.SourceNone
	zc.ActiveInput = models.SourceNone
	zc.IsRadio = false
	zc.State.Mode = models.ModeStop
	zc.State.SessionID = ""
	zc.State.TimeMs = 0
	zc.Touch()
	c.broadcastState(zc)
	c.bus.Publish(events.EventTrackEnd, events.Payload{"zone_id": zc.ID, "reason": reason})
	return nil
}

// ShutdownHook returns the stop closure the repository runs per zone on
// reconfigure and shutdown.
func (c *Coordinator) ShutdownHook() func(*zone.Context) error {
	return func(zc *zone.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout*2)
		defer cancel()
		err := c.stopLocked(ctx, zc, "reconfigure")
		for _, out := range zc.Outputs {
			out.Dispose(ctx)
		}
		return err
	}
}

// failZone applies the user-visible failure behavior of a playback
// error: mode stop, reachability flip except for providers that stay
// addressable, notifier event with the reason token.
func (c *Coordinator) failZone(ctx context.Context, zc *zone.Context, perr *Error) error {
	c.logger.Error().Err(perr).Int("zone", zc.ID).Str("kind", string(perr.Kind)).Msg("playback failed")

	c.router.Dispatch(ctx, zc.ID, zc.Outputs, output.ActionStop, nil)
	c.engine.Stop(zc.ID, string(perr.Kind))

	zc.State.Mode = models.ModeStop
	zc.State.SessionID = ""
	if !providerStaysReachable(perr.Provider) {
		zc.State.Power = models.PowerOff
		zc.State.ClientState = models.PowerOff
	}
	zc.Touch()

	c.notifier.PlaybackError(zc.ID, string(perr.Kind), perr.Provider, perr.Reason)
	c.broadcastState(zc)
	c.bus.Publish(events.EventZoneError, events.Payload{
		"zone_id":  zc.ID,
		"kind":     string(perr.Kind),
		"provider": perr.Provider,
	})
	return perr
}

// providerStaysReachable lists providers whose zones keep power and
// clientState on after a failure so the controller can retry.
func providerStaysReachable(provider string) bool {
	switch provider {
	case audiopath.ProviderMusicAssistant, audiopath.ProviderSpotify, audiopath.ProviderAppleMusic:
		return true
	}
	return false
}

// broadcastState pushes the zone snapshot to the notifier, throttling
// is handled at the notifier for position-only refreshes.
func (c *Coordinator) broadcastState(zc *zone.Context) {
	zc.LastBroadcast = time.Now()
	c.notifier.ZoneStateChanged(zc.Snapshot())
	c.bus.Publish(events.EventZoneState, events.Payload{"zone_id": zc.ID, "mode": string(zc.State.Mode)})
}

// Snapshot exposes zone state reads for the API layer.
func (c *Coordinator) Snapshot(ctx context.Context, zoneID int) (models.ZoneState, error) {
	return c.zones.Snapshot(ctx, zoneID)
}

// GetQueue returns a window of the zone's queue.
func (c *Coordinator) GetQueue(ctx context.Context, zoneID, start, limit int) ([]models.QueueItem, int, error) {
	var items []models.QueueItem
	var total int
	err := c.zones.Do(ctx, zoneID, "get_queue", func(zc *zone.Context) error {
		items = zc.Queue.Items(start, limit)
		total = zc.Queue.Len()
		return nil
	})
	return items, total, err
}
