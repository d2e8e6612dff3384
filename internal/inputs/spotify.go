/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inputs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

// spotifyConnect drives a go-librespot style daemon per zone: REST
// endpoints for transport control, a WebSocket event feed for state.
// The daemon renders on the Connect device itself; this adapter only
// steers and mirrors.
type spotifyConnect struct {
	sink   Sink
	http   *http.Client
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[int]*spotifySession
}

type spotifySession struct {
	zoneID  int
	apiBase string
	cancel  context.CancelFunc
}

func newSpotifyConnect(sink Sink, logger zerolog.Logger) *spotifyConnect {
	return &spotifyConnect{
		sink:     sink,
		http:     &http.Client{Timeout: 5 * time.Second},
		logger:   logger.With().Str("input", "spotify").Logger(),
		sessions: make(map[int]*spotifySession),
	}
}

func (s *spotifyConnect) Label() models.InputSource { return models.SourceSpotify }

// Start attaches to the zone's Connect daemon and, when target names a
// track or container, loads it on the device.
func (s *spotifyConnect) Start(ctx context.Context, zone ZoneInfo, target string) error {
	apiBase := zone.Options["spotify_api"]
	if apiBase == "" {
		return fmt.Errorf("zone %d has no spotify daemon address", zone.ID)
	}
	if !strings.Contains(apiBase, "://") {
		apiBase = "http://" + apiBase
	}

	s.mu.Lock()
	sess, running := s.sessions[zone.ID]
	if !running {
		evCtx, cancel := context.WithCancel(context.Background())
		sess = &spotifySession{zoneID: zone.ID, apiBase: apiBase, cancel: cancel}
		s.sessions[zone.ID] = sess
		go s.watchEvents(evCtx, zone.ID, apiBase)
	}
	s.mu.Unlock()

	if target != "" {
		if err := s.post(ctx, sess, "/player/play", map[string]any{"uri": target}); err != nil {
			return fmt.Errorf("load %s: %w", target, err)
		}
	}
	return nil
}

// Stop pauses the remote player and drops the event feed.
func (s *spotifyConnect) Stop(ctx context.Context, zoneID int, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[zoneID]
	if ok {
		delete(s.sessions, zoneID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.logger.Info().Int("zone", zoneID).Str("reason", reason).Msg("detaching spotify daemon")
	// Switching away should silence the device; a daemon-side stop is
	// deliberate even when the reason is a source switch.
	err := s.post(ctx, sess, "/player/pause", nil)
	sess.cancel()
	return err
}

func (s *spotifyConnect) Close(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]int, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(ctx, id, "shutdown")
	}
	return nil
}

// Forward maps relayed commands onto the daemon's player endpoints.
func (s *spotifyConnect) Forward(ctx context.Context, zoneID int, command string, value int64) error {
	s.mu.Lock()
	sess, ok := s.sessions[zoneID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no spotify session on zone %d", zoneID)
	}
	switch command {
	case "next":
		return s.post(ctx, sess, "/player/next", nil)
	case "previous":
		return s.post(ctx, sess, "/player/prev", nil)
	case "pause":
		return s.post(ctx, sess, "/player/pause", nil)
	case "play", "resume":
		return s.post(ctx, sess, "/player/resume", nil)
	case "position":
		return s.post(ctx, sess, "/player/seek", map[string]any{"position": value})
	case "volume":
		return s.post(ctx, sess, "/player/volume", map[string]any{"volume": value})
	}
	return fmt.Errorf("spotify does not accept %s", command)
}

func (s *spotifyConnect) post(ctx context.Context, sess *spotifySession, path string, body map[string]any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.apiBase+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// spotifyEvent is one message of the daemon's /events WebSocket.
type spotifyEvent struct {
	Type string `json:"type"`
	Data struct {
		URI        string `json:"uri"`
		Name       string `json:"name"`
		ArtistName string `json:"artist_names_string"`
		AlbumName  string `json:"album_name"`
		AlbumCover string `json:"album_cover_url"`
		Duration   int64  `json:"duration"`
		Position   int64  `json:"position"`
		Value      int64  `json:"value"`
		Max        int64  `json:"max"`
	} `json:"data"`
}

// watchEvents mirrors the daemon's event feed into the sink,
// reconnecting with backoff while the session lives.
func (s *spotifyConnect) watchEvents(ctx context.Context, zoneID int, apiBase string) {
	wsURL := strings.Replace(apiBase, "http", "ws", 1) + "/events"
	backoff := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		s.readEvents(ctx, zoneID, conn)
		conn.Close()
	}
}

func (s *spotifyConnect) readEvents(ctx context.Context, zoneID int, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var ev spotifyEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Type {
		case "metadata":
			s.sink.UpdateInputMetadata(zoneID, models.SourceSpotify, models.TrackMetadata{
				Title:      ev.Data.Name,
				Artist:     ev.Data.ArtistName,
				Album:      ev.Data.AlbumName,
				Cover:      ev.Data.AlbumCover,
				Audiopath:  ev.Data.URI,
				AudioType:  models.AudioTypeSpotify,
				DurationMs: ev.Data.Duration,
			})
		case "playing":
			s.sink.ResumeFromInput(zoneID, models.SourceSpotify)
		case "paused":
			s.sink.PauseFromInput(zoneID, models.SourceSpotify)
		case "stopped":
			s.sink.StopExternalPlayback(zoneID, models.SourceSpotify, "daemon_stopped")
		case "seek", "position":
			s.sink.UpdateInputTiming(zoneID, models.SourceSpotify, ev.Data.Position, ev.Data.Duration)
		case "volume":
			if ev.Data.Max > 0 {
				s.sink.UpdateInputVolume(zoneID, models.SourceSpotify, int(ev.Data.Value*100/ev.Data.Max))
			}
		case "will_play_track", "end_of_track":
			if ev.Type == "end_of_track" {
				s.sink.HandleEndOfTrack(zoneID, models.SourceSpotify)
			}
		}
	}
}
