package engine

import (
	"errors"
	"testing"
	"time"
)

func TestSessionElapsedAccountsForPauses(t *testing.T) {
	s := &Session{startMs: 30000, state: SessionPlaying, resumedAt: time.Now()}

	time.Sleep(40 * time.Millisecond)
	s.markPaused()

	afterPause := s.ElapsedMs()
	if afterPause < 30040 || afterPause > 30500 {
		t.Fatalf("elapsed after pause = %d, want ~30040", afterPause)
	}

	// Paused time must not count.
	time.Sleep(40 * time.Millisecond)
	if got := s.ElapsedMs(); got != afterPause {
		t.Fatalf("elapsed advanced while paused: %d -> %d", afterPause, got)
	}

	s.markPlaying()
	time.Sleep(40 * time.Millisecond)
	s.markStopped()
	final := s.ElapsedMs()
	if final < afterPause+40 {
		t.Fatalf("elapsed after resume = %d, want >= %d", final, afterPause+40)
	}

	// Stopped sessions freeze.
	time.Sleep(20 * time.Millisecond)
	if got := s.ElapsedMs(); got != final {
		t.Fatalf("elapsed advanced while stopped: %d -> %d", final, got)
	}
}

func TestSessionMarkPlayingIsIdempotent(t *testing.T) {
	s := &Session{state: SessionPlaying, resumedAt: time.Now()}
	first := s.resumedAt
	time.Sleep(5 * time.Millisecond)
	s.markPlaying()
	if !s.resumedAt.Equal(first) {
		t.Fatal("markPlaying on a playing session reset the resume clock")
	}

	// A stopped session stays stopped; resume must not revive it.
	s.markStopped()
	s.markPlaying()
	if s.State() != SessionStopped {
		t.Fatal("markPlaying revived a stopped session")
	}
}

func TestSessionBeginStopOnce(t *testing.T) {
	s := &Session{}
	if !s.beginStop() {
		t.Fatal("first beginStop should win")
	}
	if s.beginStop() {
		t.Fatal("second beginStop should be a no-op")
	}
	if !s.isStopping() {
		t.Fatal("session should report stopping")
	}
}

func TestSessionStatsCarryLastError(t *testing.T) {
	s := &Session{ID: "sess-1", ZoneID: 4, state: SessionPlaying, hubs: map[string]*streamHub{}}
	s.setLastErr(errors.New("decoder crashed"))
	s.noteRestart()

	st := s.stats()
	if st.LastError != "decoder crashed" {
		t.Fatalf("last error = %q", st.LastError)
	}
	if st.Restarts != 1 {
		t.Fatalf("restarts = %d", st.Restarts)
	}
	if st.State != string(SessionPlaying) {
		t.Fatalf("state = %q", st.State)
	}
}
