/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"

	"github.com/friendsincode/bragi/internal/models"
)

// SourceRequest asks the content port to turn an audiopath into
// something the engine can read.
type SourceRequest struct {
	Audiopath string
	SeekMs    int64
	AccountID string
	Preferred models.StreamProfile
}

// QueueBuildOpts tunes queue construction from a container URI.
type QueueBuildOpts struct {
	ZoneName  string
	Station   string
	RawPath   string
	NoShuffle bool
	// PageSize > 0 limits the first synchronous page; the rest is
	// fetched by the background fill.
	PageSize int
}

// ContentPort expands URIs into queue items and resolves playable
// sources. Implemented by internal/content.
type ContentPort interface {
	// ResolveMetadata looks display metadata up for one audiopath.
	// Returns nil without error when the path is unknown.
	ResolveMetadata(ctx context.Context, audiopath string) (*models.TrackMetadata, error)

	// ResolvePlaybackSource produces the engine input for an audiopath.
	// The returned provider label tags errors and the queue authority.
	ResolvePlaybackSource(ctx context.Context, req SourceRequest) (*models.PlaybackSource, string, error)

	// BuildQueueForURI expands a container or single item into queue
	// items. With opts.PageSize set, only the first page is returned;
	// hasMore tells the caller to schedule a background fill.
	BuildQueueForURI(ctx context.Context, uri string, opts QueueBuildOpts) (items []models.QueueItem, hasMore bool, err error)

	// QueuePage fetches one backfill page of a large container.
	QueuePage(ctx context.Context, uri string, offset, limit int) ([]models.QueueItem, error)
}

// InputsPort drives external input sessions (AirPlay receiver, Spotify
// Connect, Music Assistant, line-in). Implemented by internal/inputs.
type InputsPort interface {
	// StartSession activates the external input on a zone.
	StartSession(ctx context.Context, zoneID int, label models.InputSource, target string) error

	// StopSession ends the zone's session of that input. The reason is
	// passed through to the adapter (e.g. "switch_to_queue").
	StopSession(ctx context.Context, zoneID int, label models.InputSource, reason string) error

	// ResolveSource asks an input to provide the engine source for a
	// URI it owns (Spotify and Music Assistant track URIs).
	ResolveSource(ctx context.Context, zoneID int, label models.InputSource, uri string, seekMs int64) (*models.PlaybackSource, error)

	// Forward relays a remote-control command (position, next,
	// previous, volume) to the external player.
	Forward(ctx context.Context, zoneID int, label models.InputSource, command string, value int64) error

	// SyncZoneName propagates the zone name to receivers that announce
	// themselves with it.
	SyncZoneName(zoneID int, name string)
}

// Notifier is the one-way event feed towards the miniserver. Calls must
// only enqueue; they never block the zone serializer.
type Notifier interface {
	ZoneStateChanged(st models.ZoneState)
	QueueUpdated(zoneID, size int)
	PlaybackError(zoneID int, kind, provider, reason string)
}

// RecentsSink records played tracks; implemented by internal/storage.
// Nil-able: a coordinator without persistence skips history.
type RecentsSink interface {
	AddRecent(ctx context.Context, zoneID int, track models.TrackMetadata) error
}
