/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"io"
	"time"
)

// PlayMode is the externally visible playback mode of a zone.
type PlayMode string

const (
	ModeNone   PlayMode = "none" // no selection loaded
	ModeStop   PlayMode = "stop"
	ModePlay   PlayMode = "play"
	ModePause  PlayMode = "pause"
	ModeBuffer PlayMode = "buffer" // transient while a pipeline spins up
)

// RepeatMode enumerates queue repeat behaviour. The numeric values are
// wire-visible and kept compatible with the wall panel protocol.
type RepeatMode int

const (
	RepeatOff RepeatMode = 0
	RepeatAll RepeatMode = 1
	RepeatOne RepeatMode = 3
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// QueueAuthority says who owns next/previous semantics for the current queue.
type QueueAuthority string

const (
	// AuthorityLocal means the zone queue is the source of truth.
	AuthorityLocal QueueAuthority = "local"
	// AuthorityProvider means a remote service (e.g. Spotify Connect) owns
	// track order and next/previous are forwarded to it.
	AuthorityProvider QueueAuthority = "provider"
)

// AudioType classifies what kind of content an audiopath points at.
type AudioType int

const (
	AudioTypeFile AudioType = iota
	AudioTypePlaylist
	AudioTypeRadio
	AudioTypeLineIn
	AudioTypeAirplay
	AudioTypeSpotify
	AudioTypeAlert
)

func (t AudioType) String() string {
	switch t {
	case AudioTypePlaylist:
		return "playlist"
	case AudioTypeRadio:
		return "radio"
	case AudioTypeLineIn:
		return "linein"
	case AudioTypeAirplay:
		return "airplay"
	case AudioTypeSpotify:
		return "spotify"
	case AudioTypeAlert:
		return "alert"
	default:
		return "file"
	}
}

// Endless reports whether content of this type has no natural end of track.
func (t AudioType) Endless() bool {
	switch t {
	case AudioTypeRadio, AudioTypeLineIn, AudioTypeAirplay:
		return true
	}
	return false
}

// InputSource says which input currently feeds a zone.
type InputSource string

const (
	SourceNone           InputSource = ""
	SourceQueue          InputSource = "queue"
	SourceAirplay        InputSource = "airplay"
	SourceSpotify        InputSource = "spotify"
	SourceLineIn         InputSource = "linein"
	SourceAlert          InputSource = "alert"
	SourceGroupFollower  InputSource = "group"
	SourceMusicAssistant InputSource = "musicassistant"
)

// QueueItem is one entry of a zone queue.
type QueueItem struct {
	Audiopath     string    `json:"audiopath"`
	AudioType     AudioType `json:"audiotype"`
	Title         string    `json:"title"`
	Artist        string    `json:"artist,omitempty"`
	Album         string    `json:"album,omitempty"`
	Station       string    `json:"station,omitempty"`
	Cover         string    `json:"coverurl,omitempty"`
	User          string    `json:"user,omitempty"`
	DurationMs    int64     `json:"duration"`
	UniqueID      string    `json:"unique_id"`
	QIndex        int       `json:"qindex"`
	OriginalIndex int       `json:"-"`
}

// Metadata projects the queue item into track metadata.
func (q QueueItem) Metadata() TrackMetadata {
	return TrackMetadata{
		Title:      q.Title,
		Artist:     q.Artist,
		Album:      q.Album,
		Station:    q.Station,
		Cover:      q.Cover,
		Audiopath:  q.Audiopath,
		AudioType:  q.AudioType,
		DurationMs: q.DurationMs,
	}
}

// TrackMetadata is the display metadata of whatever is playing.
type TrackMetadata struct {
	Title      string    `json:"title"`
	Artist     string    `json:"artist,omitempty"`
	Album      string    `json:"album,omitempty"`
	Station    string    `json:"station,omitempty"`
	Cover      string    `json:"coverurl,omitempty"`
	Audiopath  string    `json:"audiopath,omitempty"`
	AudioType  AudioType `json:"audiotype"`
	DurationMs int64     `json:"duration"`
}

// PowerState is the wall-panel power/reachability token of a zone.
type PowerState string

const (
	PowerOn  PowerState = "on"
	PowerOff PowerState = "off"
)

// ZoneState is the observable snapshot of one zone. Values are copies; the
// coordinator owns the mutable originals.
type ZoneState struct {
	ZoneID      int            `json:"playerid"`
	Mode        PlayMode       `json:"mode"`
	Source      InputSource    `json:"source"`
	Track       TrackMetadata  `json:"track"`
	TimeMs      int64          `json:"time"`
	QIndex      int            `json:"qindex"`
	QID         string         `json:"qid,omitempty"`
	QLen        int            `json:"qlen"`
	Shuffle     bool           `json:"shuffle"`
	Repeat      RepeatMode     `json:"repeat"`
	Authority   QueueAuthority `json:"authority"`
	Volume      int            `json:"volume"`
	Muted       bool           `json:"muted"`
	Power       PowerState     `json:"power"`
	ClientState PowerState     `json:"clientstate"`
	GroupID     string         `json:"group_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SourceKind says how the engine obtains audio for a session.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
	SourcePipe SourceKind = "pipe"
)

// PCMFormat describes raw audio sample layout.
type PCMFormat struct {
	Rate     int `json:"rate"`
	Channels int `json:"channels"`
	Bits     int `json:"bits"`
}

// BytesPerSecond returns the raw byte rate of the format.
func (f PCMFormat) BytesPerSecond() int {
	return f.Rate * f.Channels * (f.Bits / 8)
}

// PlaybackSource tells the engine where a session's audio comes from.
// Reader is only set for pipe sources and is consumed by the pipeline.
type PlaybackSource struct {
	Kind    SourceKind        `json:"kind"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Format  *PCMFormat        `json:"format,omitempty"`
	StartMs int64             `json:"start_ms,omitempty"`
	Reader  io.ReadCloser     `json:"-"`
}

// StreamProfile is the encoded form one subscriber receives.
type StreamProfile struct {
	Codec      string `json:"codec"` // pcm, opus, mp3, flac
	Rate       int    `json:"rate"`
	Channels   int    `json:"channels"`
	Bits       int    `json:"bits"`
	BitrateKbp int    `json:"bitrate_kbps,omitempty"`
	ChunkMs    int    `json:"chunk_ms"`
}

// Key returns a stable identity used to share one encoder between
// subscribers that request the same profile.
func (p StreamProfile) Key() string {
	return fmt.Sprintf("%s/%d:%d:%d@%d/%d", p.Codec, p.Rate, p.Channels, p.Bits, p.BitrateKbp, p.ChunkMs)
}

// GroupRecord tracks one active playback group.
type GroupRecord struct {
	ID         string    `json:"id"`
	Backend    string    `json:"backend"` // airplay, cast, snapcast, sendspin, slimproto, sonos, mixed
	LeaderZone int       `json:"leader"`
	Members    []int     `json:"members"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ContainsZone reports group membership including the leader.
func (g GroupRecord) ContainsZone(zoneID int) bool {
	if g.LeaderZone == zoneID {
		return true
	}
	for _, m := range g.Members {
		if m == zoneID {
			return true
		}
	}
	return false
}

// OutputConfig describes one configured output of a zone.
type OutputConfig struct {
	ID      string            `json:"id"`
	Driver  string            `json:"driver"` // airplay, snapcast, slimproto, sendspin, sonos, cast, dlna, spotify, lineout
	Name    string            `json:"name,omitempty"`
	Address string            `json:"address,omitempty"`
	MAC     string            `json:"mac,omitempty"`
	Format  StreamProfile     `json:"format,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// ZoneDefinition is the static per-zone topology from the zone config file.
type ZoneDefinition struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	SourceMac     string         `json:"source_mac,omitempty"`
	Outputs       []OutputConfig `json:"outputs"`
	EnabledInputs []string       `json:"enabled_inputs,omitempty"`
	DefaultVolume int            `json:"default_volume,omitempty"`
	VolumeStep    int            `json:"volume_step,omitempty"`
	MaxVolume     int            `json:"max_volume,omitempty"`
}

// VolumePolicy returns the effective volume policy with defaults applied.
func (d ZoneDefinition) VolumePolicy() (def, step, max int) {
	def, step, max = d.DefaultVolume, d.VolumeStep, d.MaxVolume
	if def <= 0 {
		def = 25
	}
	if step <= 0 {
		step = 5
	}
	if max <= 0 || max > 100 {
		max = 100
	}
	return def, step, max
}
