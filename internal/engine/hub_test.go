package engine

import (
	"testing"

	"github.com/rs/zerolog"
)

func testHub(ringSize int) *streamHub {
	return newStreamHub("pcm/44100:2:16@0/0", ringSize, zerolog.Nop())
}

func TestRingBufferRecent(t *testing.T) {
	rb := newRingBuffer(8)
	rb.Write([]byte{1, 2, 3, 4})

	got := rb.GetRecent(2)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("recent = %v", got)
	}

	// Asking for more than was ever written returns only written bytes.
	got = rb.GetRecent(8)
	if len(got) != 4 {
		t.Fatalf("recent overshoot = %v", got)
	}

	rb.Write([]byte{5, 6, 7, 8, 9, 10})
	got = rb.GetRecent(8)
	want := []byte{3, 4, 5, 6, 7, 8, 9, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wrapped recent = %v, want %v", got, want)
		}
	}
}

func TestHubFirstChunkSignal(t *testing.T) {
	h := testHub(64)

	select {
	case <-h.firstChunk:
		t.Fatal("first chunk signalled before any data")
	default:
	}

	h.broadcast([]byte{1, 2, 3})

	select {
	case <-h.firstChunk:
	default:
		t.Fatal("first chunk not signalled after data")
	}

	// A second broadcast must not panic on the already-closed channel.
	h.broadcast([]byte{4})
}

func TestHubDeliversToSubscribers(t *testing.T) {
	h := testHub(64)
	a := h.attach(0, "a")
	b := h.attach(0, "b")

	h.broadcast([]byte{9, 9})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case chunk := <-sub.C:
			if len(chunk) != 2 {
				t.Fatalf("chunk = %v", chunk)
			}
		default:
			t.Fatalf("subscriber %s got nothing", sub.Label)
		}
	}
}

func TestHubPrimesLateSubscriber(t *testing.T) {
	h := testHub(64)
	h.broadcast([]byte{1, 2, 3, 4})

	s := h.attach(4, "late")
	select {
	case chunk := <-s.C:
		if len(chunk) != 4 || chunk[0] != 1 {
			t.Fatalf("primed chunk = %v", chunk)
		}
	default:
		t.Fatal("late subscriber got no primed data")
	}
}

func TestHubDropsSlowSubscriberWithoutStallingOthers(t *testing.T) {
	h := testHub(64)
	slow := h.attach(0, "slow")
	fast := h.attach(0, "fast")

	// Overfill the slow subscriber's queue without draining it.
	for i := 0; i < subscriberChanDepth+1; i++ {
		h.broadcast([]byte{byte(i)})
		// Keep the fast one drained.
		select {
		case <-fast.C:
		default:
		}
	}

	// The slow subscriber must have been dropped and its channel closed.
	drained := 0
	for range slow.C {
		drained++
	}
	if drained != subscriberChanDepth {
		t.Fatalf("drained %d chunks, want %d", drained, subscriberChanDepth)
	}

	// The fast subscriber still receives new data.
	h.broadcast([]byte{42})
	select {
	case chunk := <-fast.C:
		if chunk[0] != 42 {
			t.Fatalf("fast got %v", chunk)
		}
	default:
		t.Fatal("fast subscriber stalled after sibling drop")
	}

	_, _, drops, subs := h.stats()
	if drops != 1 {
		t.Fatalf("drops = %d", drops)
	}
	if subs != 1 {
		t.Fatalf("subscribers = %d", subs)
	}
}

func TestHubDetachIsIdempotent(t *testing.T) {
	h := testHub(64)
	s := h.attach(0, "x")
	s.Close()
	s.Close()

	h.broadcast([]byte{1})
	if _, ok := <-s.C; ok {
		t.Fatal("detached subscriber still receives data")
	}
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	h := testHub(64)
	s := h.attach(0, "x")
	h.shutdown()

	if _, ok := <-s.C; ok {
		t.Fatal("subscriber channel open after shutdown")
	}

	// Attaching after shutdown yields an already-closed subscriber.
	late := h.attach(0, "late")
	if _, ok := <-late.C; ok {
		t.Fatal("late subscriber should be closed immediately")
	}
}
