package notify

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

func TestPositionOnlyPushesAreDebounced(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)

	st := models.ZoneState{ZoneID: 1, Mode: models.ModePlay, Volume: 30}
	st.Track.Audiopath = "library:track:a"

	key := stateKey{mode: st.Mode, track: st.Track.Audiopath, volume: st.Volume}
	h.lastState[1] = key

	// First position-only push within the window passes (fresh limiter
	// has one token), the immediate second one is dropped.
	if !h.allowPosition(1) {
		t.Fatal("first position push should pass")
	}
	if h.allowPosition(1) {
		t.Fatal("second position push within a second should be dropped")
	}
}

func TestStateChangeBypassesDebounce(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)

	st := models.ZoneState{ZoneID: 2, Mode: models.ModePlay, Volume: 30}
	st.Track.Audiopath = "library:track:a"
	h.ZoneStateChanged(st)

	// Drain the limiter so a position-only push would now be dropped.
	for h.allowPosition(2) {
	}

	st.Track.Audiopath = "library:track:b"
	key := stateKey{mode: st.Mode, track: st.Track.Audiopath, volume: st.Volume}

	h.limMu.Lock()
	positionOnly := h.lastState[2] == key
	h.limMu.Unlock()
	if positionOnly {
		t.Fatal("track change must not classify as position-only")
	}
}

func TestPublishDropsWhenClientQueueFull(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	c := &client{send: make(chan Event, 1)}
	h.clients[c] = struct{}{}

	h.QueueUpdated(1, 10)
	h.QueueUpdated(1, 11) // queue full, must not block

	if got := len(c.send); got != 1 {
		t.Fatalf("queued events = %d, want 1", got)
	}
	ev := <-c.send
	if ev.Type != "queue_updated" {
		t.Fatalf("event type = %s", ev.Type)
	}
}
