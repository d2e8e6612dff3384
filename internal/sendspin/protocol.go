/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sendspin

import (
	"encoding/binary"
	"encoding/json"
)

// Message is the JSON envelope of every text frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ClientHello opens a connection.
type ClientHello struct {
	ClientID       string         `json:"client_id"`
	Name           string         `json:"name"`
	Version        int            `json:"version"`
	SupportedRoles []string       `json:"supported_roles"`
	PlayerSupport  *PlayerSupport `json:"player_v1_support,omitempty"`
}

// PlayerSupport lists the formats a player role accepts.
type PlayerSupport struct {
	SupportedFormats []Format `json:"supported_formats"`
	BufferCapacityMs int      `json:"buffer_capacity_ms,omitempty"`
}

// Format is one codec/rate/depth combination.
type Format struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// ServerHello answers a ClientHello.
type ServerHello struct {
	ServerID    string   `json:"server_id"`
	Name        string   `json:"name"`
	Version     int      `json:"version"`
	ActiveRoles []string `json:"active_roles"`
}

// ClientTime / ServerTime implement the three-stamp clock sync.
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// StreamStart announces the negotiated audio format.
type StreamStart struct {
	Player *StreamStartPlayer `json:"player,omitempty"`
}

type StreamStartPlayer struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// StreamEnd tells the player to flush and go idle.
type StreamEnd struct {
	Roles []string `json:"roles,omitempty"`
}

// ServerState carries metadata updates.
type ServerState struct {
	Metadata *MetadataState `json:"metadata,omitempty"`
}

type MetadataState struct {
	Timestamp int64   `json:"timestamp"`
	Title     *string `json:"title,omitempty"`
	Artist    *string `json:"artist,omitempty"`
	Album     *string `json:"album,omitempty"`
	ArtURL    *string `json:"art_url,omitempty"`
}

// GroupUpdate carries playback/grouping state.
type GroupUpdate struct {
	GroupID       *string `json:"group_id,omitempty"`
	GroupName     *string `json:"group_name,omitempty"`
	PlaybackState *string `json:"playback_state,omitempty"`
}

// ClientState is the player's own state report.
type ClientState struct {
	Player *PlayerState `json:"player,omitempty"`
}

type PlayerState struct {
	State  string `json:"state"`
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// ClientGoodbye announces a graceful disconnect.
type ClientGoodbye struct {
	Reason string `json:"reason,omitempty"`
}

// decodePayload re-marshals the envelope payload into its typed form.
func decodePayload[T any](payload any) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// audioChunkType is the binary frame tag of a player audio chunk.
const audioChunkType = 4

// encodeChunk frames one audio payload: type byte, big-endian play-at
// timestamp in server micros, payload.
func encodeChunk(timestamp int64, payload []byte) []byte {
	chunk := make([]byte, 1+8+len(payload))
	chunk[0] = audioChunkType
	binary.BigEndian.PutUint64(chunk[1:9], uint64(timestamp))
	copy(chunk[9:], payload)
	return chunk
}
