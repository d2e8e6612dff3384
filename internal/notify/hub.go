/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify is the one-way event feed towards the miniserver: a
// WebSocket hub fanning typed events out to every connected controller.
// Producers only enqueue; a slow client loses events, never stalls a
// zone.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/bragi/internal/models"
)

// clientQueueDepth bounds the per-client send queue; overflow drops the
// oldest semantics by dropping the new event for that client.
const clientQueueDepth = 64

// Event is one message on the feed.
type Event struct {
	Type    string    `json:"type"`
	ZoneID  int       `json:"zone_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"ts"`
}

// Hub implements the notifier port over a set of WebSocket clients.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	// posLimiters throttles position-only updates per zone so a ticking
	// stream does not flood controllers.
	limMu       sync.Mutex
	posLimiters map[int]*rate.Limiter
	lastState   map[int]stateKey

	connected func(delta int)
}

type client struct {
	send chan Event
	conn *ws.Conn
}

// NewHub builds an empty hub. onConnChange (optional) observes the
// connected-client count for metrics.
func NewHub(logger zerolog.Logger, onConnChange func(delta int)) *Hub {
	return &Hub{
		logger:      logger.With().Str("component", "notify").Logger(),
		clients:     make(map[*client]struct{}),
		posLimiters: make(map[int]*rate.Limiter),
		lastState:   make(map[int]stateKey),
		connected:   onConnChange,
	}
}

// ServeHTTP upgrades the connection and pumps events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	c := &client{send: make(chan Event, clientQueueDepth), conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.connected != nil {
		h.connected(+1)
	}
	h.logger.Debug().Int("clients", n).Msg("notifier client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		if h.connected != nil {
			h.connected(-1)
		}
		conn.Close(ws.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	// Reads are discarded; the feed is one-way but reading surfaces
	// close frames and pings.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.send:
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, ws.MessageText, raw)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// publish fans one event out, dropping it for clients whose queue is
// full.
func (h *Hub) publish(ev Event) {
	ev.Time = time.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow client; the next state event carries the full
			// snapshot anyway.
		}
	}
}

// allowPosition rate-limits per-zone position refreshes to one per
// second.
func (h *Hub) allowPosition(zoneID int) bool {
	h.limMu.Lock()
	lim, ok := h.posLimiters[zoneID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 1)
		h.posLimiters[zoneID] = lim
	}
	h.limMu.Unlock()
	return lim.Allow()
}

// stateKey identifies what a state push says beyond the position.
type stateKey struct {
	mode   models.PlayMode
	track  string
	volume int
}

// ZoneStateChanged pushes a zone snapshot. Pushes that only move the
// position are debounced to one per second per zone; mode, track or
// volume changes always pass.
func (h *Hub) ZoneStateChanged(st models.ZoneState) {
	key := stateKey{mode: st.Mode, track: st.Track.Audiopath, volume: st.Volume}
	h.limMu.Lock()
	positionOnly := h.lastState[st.ZoneID] == key
	h.lastState[st.ZoneID] = key
	h.limMu.Unlock()

	if positionOnly && !h.allowPosition(st.ZoneID) {
		return
	}
	h.publish(Event{Type: "zone_state", ZoneID: st.ZoneID, Payload: st})
}

// QueueUpdated announces a queue change with its new size.
func (h *Hub) QueueUpdated(zoneID, size int) {
	h.publish(Event{Type: "queue_updated", ZoneID: zoneID, Payload: map[string]int{"size": size}})
}

// PlaybackError surfaces a playback failure token.
func (h *Hub) PlaybackError(zoneID int, kind, provider, reason string) {
	h.publish(Event{Type: "playback_error", ZoneID: zoneID, Payload: map[string]string{
		"kind":     kind,
		"provider": provider,
		"reason":   reason,
	}})
}

// GroupChanged announces group membership changes.
func (h *Hub) GroupChanged(groupID string, members []int) {
	h.publish(Event{Type: "group_update", Payload: map[string]any{
		"group_id": groupID,
		"members":  members,
	}})
}

// FavoritesChanged and RecentsChanged mirror storage events so wall
// panels refresh their shortcut lists.
func (h *Hub) FavoritesChanged(zoneID int) {
	h.publish(Event{Type: "favorites_updated", ZoneID: zoneID})
}

func (h *Hub) RecentsChanged(zoneID int) {
	h.publish(Event{Type: "recents_updated", ZoneID: zoneID})
}

// Clients reports the connected client count.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
