/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"net/url"
	"strings"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/models"
)

// PlayOptions tune a playContent request.
type PlayOptions struct {
	StartIndex int   // explicit queue start hint, -1 when absent
	SeekMs     int64 // initial position
	Volume     int   // 0 keeps the current level
	NoShuffle  bool
}

// DefaultPlayOptions returns options with no start hint.
func DefaultPlayOptions() PlayOptions {
	return PlayOptions{StartIndex: -1}
}

// request is a fully resolved playContent call.
type request struct {
	raw        string
	path       audiopath.Path
	normalized string
	parent     *audiopath.ParentContext
	station    string
	audioType  models.AudioType
	isRadio    bool
	metadata   models.TrackMetadata
	opts       PlayOptions
}

// resolveRequest decodes the incoming URI (percent-encoded and base64
// wrapped forms), extracts queue context and classifies the target.
func resolveRequest(rawURI, station string, meta *models.TrackMetadata, opts PlayOptions) (request, error) {
	decoded := rawURI
	if unescaped, err := url.QueryUnescape(rawURI); err == nil && unescaped != rawURI && !strings.Contains(rawURI, " ") {
		// Percent-encoded form; spaces mean the caller already decoded.
		decoded = unescaped
	}

	p, err := audiopath.Parse(decoded)
	if err != nil {
		return request{}, err
	}

	req := request{
		raw:        decoded,
		path:       p,
		normalized: audiopath.Normalize(decoded),
		parent:     p.Parent,
		audioType:  audiopath.Classify(p),
		opts:       opts,
	}
	if meta != nil {
		req.metadata = *meta
	}
	req.metadata.Audiopath = req.normalized
	req.isRadio = audiopath.IsRadio(p, req.metadata.DurationMs)
	if req.isRadio {
		req.audioType = models.AudioTypeRadio
	}
	req.metadata.AudioType = req.audioType
	req.station = audiopath.SanitizeStation(station, p)
	if req.station != "" {
		req.metadata.Station = req.station
	}

	// Parent context carries the stronger start hint unless the caller
	// set one explicitly.
	if req.parent != nil {
		if req.opts.StartIndex < 0 {
			req.opts.StartIndex = req.parent.Index
		}
		if req.parent.NoShuffle {
			req.opts.NoShuffle = true
		}
	}
	return req, nil
}

// inputLabelFor maps a provider onto the external input responsible for
// it, or SourceNone when the core's own engine plays the content.
func inputLabelFor(p audiopath.Path) models.InputSource {
	switch p.Provider {
	case audiopath.ProviderSpotify:
		return models.SourceSpotify
	case audiopath.ProviderMusicAssistant:
		return models.SourceMusicAssistant
	case audiopath.ProviderAirplay:
		return models.SourceAirplay
	case audiopath.ProviderLineIn:
		return models.SourceLineIn
	}
	return models.SourceNone
}

// authorityFor derives the queue authority from the first queue item's
// provider. Providers with a remote queue own advancement; everything
// else is stepped locally. A Spotify target without offload downgrades
// to local.
func authorityFor(p audiopath.Path, spotifyOffload bool) models.QueueAuthority {
	switch p.Provider {
	case audiopath.ProviderSpotify:
		if spotifyOffload {
			return models.QueueAuthority(audiopath.ProviderSpotify)
		}
		return models.AuthorityLocal
	case audiopath.ProviderMusicAssistant,
		audiopath.ProviderAppleMusic,
		audiopath.ProviderDeezer,
		audiopath.ProviderTidal:
		return models.QueueAuthority(p.Provider)
	}
	return models.AuthorityLocal
}

// isLocalAuthority reports whether the core drives queue advancement.
func isLocalAuthority(a models.QueueAuthority) bool {
	return a == models.AuthorityLocal || a == ""
}

// Plan is the immutable description of one startQueuePlayback attempt.
type Plan struct {
	Audiopath  string
	Metadata   models.TrackMetadata
	AudioType  models.AudioType
	IsRadio    bool
	Provider   string
	InputLabel models.InputSource // set when an external input renders
	Preferred  models.StreamProfile
	Profiles   []models.StreamProfile
	Prebuffer  int
	SeekMs     int64
}

// radioPrebufferBytes keeps startup latency low on endless HTTP
// streams, where a large prime buys nothing.
const radioPrebufferBytes = 8 * 1024
