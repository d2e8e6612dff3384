/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventZoneState   EventType = "zone.state"
	EventZoneQueue   EventType = "zone.queue"
	EventZoneVolume  EventType = "zone.volume"
	EventZoneError   EventType = "zone.error"
	EventTrackStart  EventType = "track.start"
	EventTrackEnd    EventType = "track.end"
	EventGroupUpdate EventType = "group.update"
	EventGroupStart  EventType = "group.start"
	EventGroupEnd    EventType = "group.end"
	EventInputStart  EventType = "input.start"
	EventInputStop   EventType = "input.stop"
	EventOutputDown  EventType = "output.down"
	EventOutputUp    EventType = "output.up"
	EventAlertFired  EventType = "alert.fired"

	// Cache invalidation events
	EventFavoritesUpdated EventType = "cache.favorites_updated"
	EventRecentsUpdated   EventType = "cache.recents_updated"
	EventRadiosUpdated    EventType = "cache.radios_updated"
	EventZonesReloaded    EventType = "cache.zones_reloaded"

	// Audit events (for operations that need explicit audit logging)
	EventAuditZoneConfigWrite EventType = "audit.zoneconfig.write"
	EventAuditAlertCreate     EventType = "audit.alert.create"
	EventAuditAlertDelete     EventType = "audit.alert.delete"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
