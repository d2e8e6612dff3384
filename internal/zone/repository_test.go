package zone

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

func testRepo(t *testing.T, ids ...int) *Repository {
	t.Helper()
	defs := make([]models.ZoneDefinition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, models.ZoneDefinition{ID: id, Name: "Zone " + strconv.Itoa(id)})
	}
	r := NewRepository(zerolog.Nop())
	if err := r.Reconfigure(context.Background(), defs, nil); err != nil {
		t.Fatalf("install zones: %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background(), nil) })
	return r
}

func TestDoSerializesMutations(t *testing.T) {
	r := testRepo(t, 1)

	// A deliberately racy read-modify-write: only a total order of task
	// execution makes the final count exact.
	counter := 0
	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Do(context.Background(), 1, "incr", func(zc *Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("counter = %d, want %d (mutations interleaved)", counter, n)
	}
}

func TestDoUnknownZone(t *testing.T) {
	r := testRepo(t, 1)
	err := r.Do(context.Background(), 99, "noop", func(zc *Context) error { return nil })
	if !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("err = %v, want ErrZoneNotFound", err)
	}
}

func TestTaskPanicIsContained(t *testing.T) {
	r := testRepo(t, 1)

	err := r.Do(context.Background(), 1, "boom", func(zc *Context) error {
		panic("broken task")
	})
	if err == nil {
		t.Fatal("expected error from panicking task")
	}

	// The serializer must still be alive.
	if err := r.Do(context.Background(), 1, "after", func(zc *Context) error { return nil }); err != nil {
		t.Fatalf("serializer dead after panic: %v", err)
	}
}

func TestPostDropsWhenQueueFull(t *testing.T) {
	r := testRepo(t, 1)

	block := make(chan struct{})
	release := make(chan struct{})
	r.Post(1, "block", func(zc *Context) error {
		close(block)
		<-release
		return nil
	})
	<-block

	dropped := false
	for i := 0; i < taskQueueDepth+8; i++ {
		if !r.Post(1, "filler", func(zc *Context) error { return nil }) {
			dropped = true
			break
		}
	}
	close(release)

	if !dropped {
		t.Fatal("post never dropped with a wedged serializer")
	}
}

func TestReconfigureStopsOldZones(t *testing.T) {
	r := testRepo(t, 1, 2)

	// Leave a trace on zone 2 so we can see the reset.
	if err := r.Do(context.Background(), 2, "vol", func(zc *Context) error {
		zc.State.Volume = 77
		return nil
	}); err != nil {
		t.Fatalf("do: %v", err)
	}

	var mu sync.Mutex
	stopped := []int{}
	defs := []models.ZoneDefinition{{ID: 2, Name: "Two"}, {ID: 3, Name: "Three"}}
	err := r.Reconfigure(context.Background(), defs, func(zc *Context) error {
		mu.Lock()
		stopped = append(stopped, zc.ID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	if len(stopped) != 2 {
		t.Fatalf("stop hook ran for %v, want zones 1 and 2", stopped)
	}
	if r.Exists(1) {
		t.Fatal("zone 1 should be gone")
	}
	if !r.Exists(3) {
		t.Fatal("zone 3 should be installed")
	}

	st, err := r.Snapshot(context.Background(), 2)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if st.Volume == 77 {
		t.Fatal("zone 2 state survived reconfigure")
	}
	if st.Mode != models.ModeStop {
		t.Fatalf("fresh zone mode = %q, want stop", st.Mode)
	}
}

func TestSnapshotProjectsQueue(t *testing.T) {
	r := testRepo(t, 1)

	err := r.Do(context.Background(), 1, "seed", func(zc *Context) error {
		zc.Queue.SetItems([]models.QueueItem{
			{Audiopath: "library:track:a", UniqueID: "ua"},
			{Audiopath: "library:track:b", UniqueID: "ub"},
		}, 1)
		zc.InputMode = models.SourceQueue
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := r.Snapshot(context.Background(), 1)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if st.QLen != 2 || st.QIndex != 1 {
		t.Fatalf("qlen/qindex = %d/%d, want 2/1", st.QLen, st.QIndex)
	}
	if st.QID != "ub" {
		t.Fatalf("qid = %q, want ub", st.QID)
	}
	if st.Source != models.SourceQueue {
		t.Fatalf("source = %q", st.Source)
	}
}

func TestDefaultVolumeApplied(t *testing.T) {
	r := NewRepository(zerolog.Nop())
	defs := []models.ZoneDefinition{{ID: 5, Name: "Den", DefaultVolume: 40, MaxVolume: 80}}
	if err := r.Reconfigure(context.Background(), defs, nil); err != nil {
		t.Fatalf("install: %v", err)
	}
	defer func() { _ = r.Shutdown(context.Background(), nil) }()

	st, err := r.Snapshot(context.Background(), 5)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if st.Volume != 40 {
		t.Fatalf("volume = %d, want default 40", st.Volume)
	}

	if err := r.Do(context.Background(), 5, "clamp", func(zc *Context) error {
		if got := zc.ClampVolume(95); got != 80 {
			t.Errorf("clamp(95) = %d, want 80", got)
		}
		if got := zc.ClampVolume(-3); got != 0 {
			t.Errorf("clamp(-3) = %d, want 0", got)
		}
		return nil
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
}
