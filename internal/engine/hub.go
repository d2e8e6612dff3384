/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/telemetry"
)

// ringBuffer holds recent stream bytes so late subscribers can be primed.
type ringBuffer struct {
	data   []byte
	size   int
	pos    int
	filled int
	mu     sync.RWMutex
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		data: make([]byte, size),
		size: size,
	}
}

func (rb *ringBuffer) Write(p []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, b := range p {
		rb.data[rb.pos] = b
		rb.pos = (rb.pos + 1) % rb.size
	}
	rb.filled += len(p)
	if rb.filled > rb.size {
		rb.filled = rb.size
	}
}

func (rb *ringBuffer) GetRecent(n int) []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.filled {
		n = rb.filled
	}
	if n <= 0 {
		return nil
	}

	result := make([]byte, n)
	start := (rb.pos - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.data[(start+i)%rb.size]
	}
	return result
}

func (rb *ringBuffer) Buffered() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}

// Subscriber is one reader of an encoded sub-stream. Chunks arrive on C;
// the channel closes when the stream ends or the subscriber is dropped.
type Subscriber struct {
	C     <-chan []byte
	Label string

	ch     chan []byte
	hub    *streamHub
	closed bool
	mu     sync.Mutex
}

// Close detaches the subscriber from its stream.
func (s *Subscriber) Close() {
	if s.hub != nil {
		s.hub.detach(s)
	}
}

// subscriberChanDepth bounds per-subscriber queueing. A subscriber that
// falls this far behind is dropped rather than stalling the producer.
const subscriberChanDepth = 64

// streamHub fans one encoded sub-stream out to its subscribers.
type streamHub struct {
	profileKey string
	ring       *ringBuffer
	logger     zerolog.Logger

	mu         sync.Mutex
	subs       map[*Subscriber]struct{}
	firstChunk chan struct{}
	gotFirst   bool
	totalBytes int64
	drops      int64
	closed     bool
}

func newStreamHub(profileKey string, ringSize int, logger zerolog.Logger) *streamHub {
	return &streamHub{
		profileKey: profileKey,
		ring:       newRingBuffer(ringSize),
		logger:     logger.With().Str("profile", profileKey).Logger(),
		subs:       make(map[*Subscriber]struct{}),
		firstChunk: make(chan struct{}),
	}
}

// broadcast delivers one chunk to every subscriber. A full subscriber
// queue drops that subscriber; the producer is never blocked.
func (h *streamHub) broadcast(data []byte) {
	if len(data) == 0 {
		return
	}

	h.ring.Write(data)

	h.mu.Lock()
	if !h.gotFirst {
		h.gotFirst = true
		close(h.firstChunk)
	}
	h.totalBytes += int64(len(data))
	var dropped []*Subscriber
	for s := range h.subs {
		select {
		case s.ch <- data:
		default:
			dropped = append(dropped, s)
		}
	}
	for _, s := range dropped {
		delete(h.subs, s)
		h.drops++
	}
	h.mu.Unlock()

	telemetry.EngineChunksTotal.WithLabelValues(h.profileKey).Inc()
	for _, s := range dropped {
		telemetry.EngineSubscriberDrops.WithLabelValues(h.profileKey).Inc()
		h.logger.Warn().Str("label", s.Label).Msg("subscriber dropped, queue full")
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
}

// attach adds a subscriber. With prime set, the recent ring content is
// queued ahead of live data so a late join starts mid-track without a
// gap.
func (h *streamHub) attach(prime int, label string) *Subscriber {
	s := &Subscriber{
		ch:    make(chan []byte, subscriberChanDepth),
		Label: label,
	}
	s.C = s.ch
	s.hub = h

	if prime > 0 {
		if recent := h.ring.GetRecent(prime); len(recent) > 0 {
			s.ch <- recent
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *streamHub) detach(s *Subscriber) {
	h.mu.Lock()
	_, present := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()

	if present {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
}

// shutdown closes every subscriber channel.
func (h *streamHub) shutdown() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*Subscriber]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
}

func (h *streamHub) stats() (buffered int, total, drops int64, subscribers int) {
	h.mu.Lock()
	subscribers = len(h.subs)
	total = h.totalBytes
	drops = h.drops
	h.mu.Unlock()
	buffered = h.ring.Buffered()
	return
}
