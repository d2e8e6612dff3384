/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inputs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

// musicAssistant talks to a Music Assistant server over its WebSocket
// command API. Zones appear to MA as players named bragi-<id>; MA keeps
// queue authority while this input is active, the local engine only
// renders the stream MA serves.
type musicAssistant struct {
	baseURL string
	sink    Sink
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
	// pending correlates message ids to response waiters.
	pending map[int]chan maResponse

	active map[int]bool
}

type maResponse struct {
	Result json.RawMessage
	Err    error
}

type maMessage struct {
	MessageID int             `json:"message_id,omitempty"`
	Command   string          `json:"command,omitempty"`
	Args      map[string]any  `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func newMusicAssistant(baseURL string, sink Sink, logger zerolog.Logger) *musicAssistant {
	return &musicAssistant{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		sink:    sink,
		logger:  logger.With().Str("input", "musicassistant").Logger(),
		nextID:  1,
		pending: make(map[int]chan maResponse),
		active:  make(map[int]bool),
	}
}

func (m *musicAssistant) Label() models.InputSource { return models.SourceMusicAssistant }

func (m *musicAssistant) queueID(zoneID int) string {
	return fmt.Sprintf("bragi-%d", zoneID)
}

// Start marks the zone active and, when target is set, asks MA to play
// it on the zone's queue.
func (m *musicAssistant) Start(ctx context.Context, zone ZoneInfo, target string) error {
	m.mu.Lock()
	m.active[zone.ID] = true
	m.mu.Unlock()

	if target == "" {
		return nil
	}
	_, err := m.command(ctx, "player_queues/play_media", map[string]any{
		"queue_id": m.queueID(zone.ID),
		"media":    target,
	})
	return err
}

func (m *musicAssistant) Stop(ctx context.Context, zoneID int, reason string) error {
	m.mu.Lock()
	wasActive := m.active[zoneID]
	delete(m.active, zoneID)
	m.mu.Unlock()
	if !wasActive {
		return nil
	}
	m.logger.Info().Int("zone", zoneID).Str("reason", reason).Msg("leaving music assistant session")
	_, err := m.command(ctx, "player_queues/stop", map[string]any{"queue_id": m.queueID(zoneID)})
	return err
}

func (m *musicAssistant) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// ResolveSource asks MA for the stream behind one of its URIs; the
// engine then pulls it like any other URL source.
func (m *musicAssistant) ResolveSource(ctx context.Context, zoneID int, uri string, seekMs int64) (*models.PlaybackSource, error) {
	raw, err := m.command(ctx, "streams/resolve", map[string]any{
		"uri":           uri,
		"player_id":     m.queueID(zoneID),
		"seek_position": seekMs / 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", uri, err)
	}
	var result struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", uri, err)
	}
	if result.URL == "" {
		return nil, fmt.Errorf("resolve %s: server returned no stream url", uri)
	}
	return &models.PlaybackSource{
		Kind:    models.SourceURL,
		Path:    result.URL,
		Headers: result.Headers,
	}, nil
}

// Forward relays transport commands to the MA queue.
func (m *musicAssistant) Forward(ctx context.Context, zoneID int, command string, value int64) error {
	args := map[string]any{"queue_id": m.queueID(zoneID)}
	var cmd string
	switch command {
	case "next":
		cmd = "player_queues/next"
	case "previous":
		cmd = "player_queues/previous"
	case "pause":
		cmd = "player_queues/pause"
	case "play", "resume":
		cmd = "player_queues/play"
	case "position":
		cmd = "player_queues/seek"
		args["position"] = value / 1000
	case "volume":
		cmd = "players/cmd/volume_set"
		args["volume_level"] = value
	default:
		return fmt.Errorf("music assistant does not accept %s", command)
	}
	_, err := m.command(ctx, cmd, args)
	return err
}

// command sends one request and waits for its correlated response.
func (m *musicAssistant) command(ctx context.Context, cmd string, args map[string]any) (json.RawMessage, error) {
	conn, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	ch := make(chan maResponse, 1)
	m.pending[id] = ch
	err = conn.WriteJSON(maMessage{MessageID: id, Command: cmd, Args: args})
	m.mu.Unlock()
	if err != nil {
		m.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}

	select {
	case <-ctx.Done():
		m.dropPending(id)
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, resp.Err)
		}
		return resp.Result, nil
	}
}

func (m *musicAssistant) dropPending(id int) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// connect establishes the shared WebSocket on first use.
func (m *musicAssistant) connect(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}

	wsURL := strings.Replace(m.baseURL, "http", "ws", 1) + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", wsURL, err)
	}
	m.conn = conn
	go m.readLoop(conn)
	return conn, nil
}

// readLoop dispatches responses to waiters and events to the sink.
func (m *musicAssistant) readLoop(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		for id, ch := range m.pending {
			ch <- maResponse{Err: fmt.Errorf("connection closed")}
			delete(m.pending, id)
		}
		m.mu.Unlock()
	}()

	for {
		var msg maMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.MessageID != 0 {
			m.mu.Lock()
			ch, ok := m.pending[msg.MessageID]
			if ok {
				delete(m.pending, msg.MessageID)
			}
			m.mu.Unlock()
			if ok {
				resp := maResponse{Result: msg.Result}
				if msg.Error != "" {
					resp.Err = fmt.Errorf("%s", msg.Error)
				}
				ch <- resp
			}
			continue
		}
		if msg.Event != "" {
			m.handleEvent(msg)
		}
	}
}

// maQueueEvent is the queue_updated payload slice this adapter consumes.
type maQueueEvent struct {
	QueueID     string `json:"queue_id"`
	State       string `json:"state"`
	ElapsedTime int64  `json:"elapsed_time"`
	CurrentItem *struct {
		URI      string `json:"uri"`
		Name     string `json:"name"`
		Duration int64  `json:"duration"`
		MediaItem *struct {
			Artist string `json:"artist_str"`
			Album  string `json:"album_str"`
			Image  string `json:"image_url"`
		} `json:"media_item"`
	} `json:"current_item"`
}

func (m *musicAssistant) handleEvent(msg maMessage) {
	if msg.Event != "queue_updated" && msg.Event != "queue_time_updated" {
		return
	}
	var ev maQueueEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return
	}
	var zoneID int
	if _, err := fmt.Sscanf(ev.QueueID, "bragi-%d", &zoneID); err != nil {
		return
	}
	m.mu.Lock()
	active := m.active[zoneID]
	m.mu.Unlock()
	if !active {
		return
	}

	if ev.CurrentItem != nil {
		meta := models.TrackMetadata{
			Title:      ev.CurrentItem.Name,
			Audiopath:  ev.CurrentItem.URI,
			AudioType:  models.AudioTypeFile,
			DurationMs: ev.CurrentItem.Duration * 1000,
		}
		if mi := ev.CurrentItem.MediaItem; mi != nil {
			meta.Artist = mi.Artist
			meta.Album = mi.Album
			meta.Cover = mi.Image
		}
		m.sink.UpdateInputMetadata(zoneID, models.SourceMusicAssistant, meta)
	}

	switch ev.State {
	case "playing":
		m.sink.ResumeFromInput(zoneID, models.SourceMusicAssistant)
		m.sink.UpdateInputTiming(zoneID, models.SourceMusicAssistant, ev.ElapsedTime*1000, 0)
	case "paused":
		m.sink.PauseFromInput(zoneID, models.SourceMusicAssistant)
	case "idle":
		m.sink.StopExternalPlayback(zoneID, models.SourceMusicAssistant, "queue_idle")
	}
}
