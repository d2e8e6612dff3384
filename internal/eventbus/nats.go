/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus onto NATS so
// external automations (home automation bridges, dashboards) can follow
// zone activity without polling the API. The mirror is one-way and
// strictly optional: a dead broker never affects local delivery.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/events"
)

// mirrored lists the event types pushed to the broker. Cache and audit
// events stay in-process.
var mirrored = []events.EventType{
	events.EventZoneState,
	events.EventZoneQueue,
	events.EventZoneVolume,
	events.EventZoneError,
	events.EventTrackStart,
	events.EventTrackEnd,
	events.EventGroupUpdate,
	events.EventGroupStart,
	events.EventGroupEnd,
	events.EventInputStart,
	events.EventInputStop,
	events.EventOutputDown,
	events.EventOutputUp,
	events.EventAlertFired,
}

// message is the wire shape on the broker.
type message struct {
	Type      events.EventType `json:"type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// Mirror forwards bus events to NATS subjects "<prefix>.<event_type>".
type Mirror struct {
	bus    *events.Bus
	prefix string
	logger zerolog.Logger

	conn *nats.Conn
}

// NewMirror connects to the broker. The connection reconnects forever
// in the background; only a malformed URL fails construction.
func NewMirror(url, prefix string, bus *events.Bus, logger zerolog.Logger) (*Mirror, error) {
	log := logger.With().Str("component", "eventbus").Logger()
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Mirror{bus: bus, prefix: prefix, conn: conn, logger: log}, nil
}

// Run subscribes to every mirrored event type and forwards until ctx
// ends. Publish failures are logged and dropped; the local bus is the
// source of truth.
func (m *Mirror) Run(ctx context.Context) error {
	type tagged struct {
		typ     events.EventType
		payload events.Payload
	}
	merged := make(chan tagged, 64)

	subs := make([]events.Subscriber, len(mirrored))
	var wg sync.WaitGroup
	for i, typ := range mirrored {
		subs[i] = m.bus.Subscribe(typ)
		wg.Add(1)
		go func(typ events.EventType, sub events.Subscriber) {
			defer wg.Done()
			// Unsubscribe closes the channel; that ends the fan.
			for payload := range sub {
				merged <- tagged{typ: typ, payload: payload}
			}
		}(typ, subs[i])
	}

	for {
		select {
		case <-ctx.Done():
			for i, typ := range mirrored {
				m.bus.Unsubscribe(typ, subs[i])
			}
			go func() {
				// Drain so the fan goroutines never block on merged.
				for range merged {
				}
			}()
			wg.Wait()
			close(merged)
			m.conn.Close()
			return nil
		case ev := <-merged:
			m.publish(ev.typ, ev.payload)
		}
	}
}

func (m *Mirror) publish(typ events.EventType, payload events.Payload) {
	raw, err := json.Marshal(message{Type: typ, Payload: payload, Timestamp: time.Now()})
	if err != nil {
		m.logger.Error().Err(err).Str("type", string(typ)).Msg("event marshal failed")
		return
	}
	subject := m.prefix + "." + string(typ)
	if err := m.conn.Publish(subject, raw); err != nil {
		m.logger.Debug().Err(err).Str("subject", subject).Msg("event mirror publish dropped")
	}
}
