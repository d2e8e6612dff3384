/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"

	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/models"
)

// Driver is the capability every zone output implements. Lifecycle calls
// come from the output router in zone-list order; a driver must tolerate
// Stop with a nil session and repeated Stop.
type Driver interface {
	// Type identifies the transport family (airplay, snapcast, ...).
	Type() string
	// ID identifies this particular output within the zone config.
	ID() string

	Play(ctx context.Context, sess *Session) error
	Pause(ctx context.Context, sess *Session) error
	Resume(ctx context.Context, sess *Session) error
	Stop(ctx context.Context, sess *Session) error
	SetVolume(ctx context.Context, level int) error

	// Dispose releases transport resources. Called on zone reconfigure
	// and shutdown; the driver is never used again afterwards.
	Dispose(ctx context.Context) error
}

// MetadataSink is implemented by drivers whose renderer can display
// track metadata mid-stream.
type MetadataSink interface {
	UpdateMetadata(ctx context.Context, sess *Session) error
}

// FormatAdvertiser exposes the stream format an output prefers to be fed.
// The coordinator consults the primary output before starting a pipeline.
type FormatAdvertiser interface {
	PreferredOutput() PreferredOutput
}

// LatencyReporter exposes a driver's render latency, used when aligning
// grouped playback across transports.
type LatencyReporter interface {
	LatencyMs() int
}

// QueueStepper is implemented by drivers whose remote end owns queue
// progression. StepQueue returns true when the remote claimed the step,
// in which case the local queue must not advance.
type QueueStepper interface {
	StepQueue(ctx context.Context, delta int) (bool, error)
}

// StreamProfiler is implemented by drivers that consume a specific
// encoded sub-stream (codec, rate, chunking) rather than the zone's
// default PCM profile.
type StreamProfiler interface {
	StreamProfile() models.StreamProfile
}

// Controller marks outputs that only steer a remote player and do not
// render the stream themselves (Spotify Connect offload). The router
// excludes them from play dispatch.
type Controller interface {
	ControllerOnly() bool
}

// PreferredOutput is the format hint a driver advertises.
type PreferredOutput struct {
	SampleRate     int
	Channels       int
	BitDepth       int
	PrebufferBytes int
}

// Session is the playback handle the router passes to drivers. It is
// immutable for the lifetime of one engine session; drivers pull their
// stream subscription from the engine on Play.
type Session struct {
	ZoneID   int
	ZoneName string
	// ID is the engine session id, unique per pipeline start.
	ID       string
	Metadata models.TrackMetadata
	IsRadio  bool
	Volume   int

	// Engine grants access to encoded subscriber streams for this zone.
	Engine *engine.Engine
	// Prebuffer is how much recent stream data a driver should request
	// when attaching its subscriber, in bytes. Small for radio so live
	// edges stay live.
	Prebuffer int
	// Profile is the stream profile the zone pipeline encodes for this
	// driver family; drivers needing a different one attach their own.
	Profile models.StreamProfile
	// StreamURL is an HTTP URL serving the encoded stream, for renderers
	// that fetch rather than accept a pushed stream (Cast, DLNA, Sonos).
	StreamURL string

	// ElapsedMs reports the live playback position.
	ElapsedMs func() int64
}
