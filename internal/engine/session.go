/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"sync"
	"time"

	"github.com/friendsincode/bragi/internal/models"
)

// SessionState enumerates the lifecycle of a pipeline session.
type SessionState string

const (
	SessionPlaying SessionState = "playing"
	SessionPaused  SessionState = "paused"
	SessionStopped SessionState = "stopped"
)

// Session is one live pipeline of a zone. Created on start, destroyed
// on stop, never revived; a handoff creates a fresh session.
type Session struct {
	ID       string
	ZoneID   int
	Source   models.PlaybackSource
	Metadata models.TrackMetadata
	Profiles []models.StreamProfile

	pipe *pipeline
	hubs map[string]*streamHub

	mu        sync.Mutex
	state     SessionState
	startedAt time.Time
	updatedAt time.Time
	startMs   int64
	played    time.Duration // accumulated play time before the last resume
	resumedAt time.Time
	restarts  int
	lastErr   error
	stopping  bool
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ElapsedMs returns the playback position, combining the seek offset
// with wall-clock play time minus paused intervals.
func (s *Session) ElapsedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.played
	if s.state == SessionPlaying {
		elapsed += time.Since(s.resumedAt)
	}
	return s.startMs + elapsed.Milliseconds()
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) hub(profileKey string) (*streamHub, bool) {
	h, ok := s.hubs[profileKey]
	return h, ok
}

func (s *Session) markPaused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPlaying {
		return
	}
	s.played += time.Since(s.resumedAt)
	s.state = SessionPaused
	s.updatedAt = time.Now()
}

func (s *Session) markPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return
	}
	if s.state == SessionPlaying {
		return
	}
	s.resumedAt = time.Now()
	s.state = SessionPlaying
	s.updatedAt = time.Now()
}

func (s *Session) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionPlaying {
		s.played += time.Since(s.resumedAt)
	}
	s.state = SessionStopped
	s.updatedAt = time.Now()
}

// beginStop flags the session as intentionally stopping so the exit
// watcher does not report the process death as an error or track end.
func (s *Session) beginStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.stopping = true
	return true
}

func (s *Session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Session) noteRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	s.updatedAt = time.Now()
}

func (s *Session) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.updatedAt = time.Now()
}

// Stats is a point-in-time summary of a session.
type Stats struct {
	SessionID       string `json:"session_id"`
	State           string `json:"state"`
	ElapsedMs       int64  `json:"elapsed_ms"`
	BufferedBytes   int    `json:"buffered_bytes"`
	TotalBytes      int64  `json:"total_bytes"`
	Subscribers     int    `json:"subscribers"`
	SubscriberDrops int64  `json:"subscriber_drops"`
	Restarts        int    `json:"restarts"`
	LastError       string `json:"last_error,omitempty"`
	StderrTail      string `json:"stderr_tail,omitempty"`
}

func (s *Session) stats() Stats {
	st := Stats{
		SessionID: s.ID,
		ElapsedMs: s.ElapsedMs(),
	}
	s.mu.Lock()
	st.State = string(s.state)
	st.Restarts = s.restarts
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	for _, h := range s.hubs {
		buffered, total, drops, subs := h.stats()
		st.BufferedBytes += buffered
		st.TotalBytes += total
		st.SubscriberDrops += drops
		st.Subscribers += subs
	}
	if s.pipe != nil {
		st.StderrTail = s.pipe.stderrTail()
	}
	return st
}
