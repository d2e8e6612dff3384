package queue

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/friendsincode/bragi/internal/models"
)

func makeItems(paths ...string) []models.QueueItem {
	items := make([]models.QueueItem, len(paths))
	for i, p := range paths {
		items[i] = models.QueueItem{
			Audiopath: p,
			Title:     p,
			UniqueID:  "id-" + p,
		}
	}
	return items
}

func TestSetItemsAssignsIndices(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b", "c"), 1)

	if q.Len() != 3 {
		t.Fatalf("len = %d", q.Len())
	}
	if q.CurrentIndex() != 1 {
		t.Fatalf("current = %d", q.CurrentIndex())
	}
	for i, it := range q.Items(0, 0) {
		if it.QIndex != i {
			t.Fatalf("item %d has qindex %d", i, it.QIndex)
		}
		if it.OriginalIndex != i {
			t.Fatalf("item %d has original index %d", i, it.OriginalIndex)
		}
	}
}

func TestSetItemsClampsStart(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b"), 99)
	if q.CurrentIndex() != 1 {
		t.Fatalf("current = %d, want clamped to 1", q.CurrentIndex())
	}
	q.SetItems(makeItems("a", "b"), -5)
	if q.CurrentIndex() != 0 {
		t.Fatalf("current = %d, want clamped to 0", q.CurrentIndex())
	}
}

func TestSeekToByAudiopathAndUniqueID(t *testing.T) {
	q := New()
	q.SetItems(makeItems("library:track:one", "library:track:two", "library:track:three"), 0)

	if idx, ok := q.SeekTo("library:track:three"); !ok || idx != 2 {
		t.Fatalf("seek by audiopath: idx=%d ok=%v", idx, ok)
	}
	if idx, ok := q.SeekTo("id-library:track:two"); !ok || idx != 1 {
		t.Fatalf("seek by unique id: idx=%d ok=%v", idx, ok)
	}
	if _, ok := q.SeekTo("library:track:missing"); ok {
		t.Fatal("seek to missing item should fail")
	}
}

func TestAdvanceRepeatOff(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b"), 0)

	item, err := q.Advance(false)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if item.Audiopath != "b" {
		t.Fatalf("advanced to %q", item.Audiopath)
	}
	if _, err := q.Advance(false); !errors.Is(err, ErrQueueEnd) {
		t.Fatalf("expected queue end, got %v", err)
	}
}

func TestAdvanceRepeatAllWraps(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b"), 1)
	q.SetRepeat(models.RepeatAll)

	item, err := q.Advance(false)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if item.Audiopath != "a" {
		t.Fatalf("expected wrap to head, got %q", item.Audiopath)
	}
}

func TestAdvanceRepeatOneStaysUnlessForced(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b"), 0)
	q.SetRepeat(models.RepeatOne)

	item, err := q.Advance(false)
	if err != nil || item.Audiopath != "a" {
		t.Fatalf("repeat-one should stay on current: %q %v", item.Audiopath, err)
	}
	item, err = q.Advance(true)
	if err != nil || item.Audiopath != "b" {
		t.Fatalf("forced advance should step: %q %v", item.Audiopath, err)
	}
}

func TestStepBackWrapsOnlyOnRepeatAll(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b", "c"), 0)

	item, err := q.StepBack()
	if err != nil || item.Audiopath != "a" {
		t.Fatalf("step back at head should stay: %q %v", item.Audiopath, err)
	}

	q.SetRepeat(models.RepeatAll)
	item, err = q.StepBack()
	if err != nil || item.Audiopath != "c" {
		t.Fatalf("step back with repeat-all should wrap: %q %v", item.Audiopath, err)
	}
}

func TestCycleRepeat(t *testing.T) {
	q := New()
	want := []models.RepeatMode{models.RepeatAll, models.RepeatOne, models.RepeatOff}
	for _, w := range want {
		if got := q.CycleRepeat(); got != w {
			t.Fatalf("cycle = %v, want %v", got, w)
		}
	}
}

func TestShuffleKeepsCurrentAndRestores(t *testing.T) {
	q := New()
	q.rng = rand.New(rand.NewSource(42))
	paths := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	q.SetItems(makeItems(paths...), 2)

	q.SetShuffle(true)

	if got, _ := q.Current(); got.Audiopath != "c" {
		t.Fatalf("shuffle moved the current item: %q", got.Audiopath)
	}
	// Items before the current one stay in place.
	items := q.Items(0, 0)
	if items[0].Audiopath != "a" || items[1].Audiopath != "b" {
		t.Fatalf("shuffle touched the played head: %v", items[:2])
	}
	// Tail is a permutation of the original tail.
	seen := map[string]bool{}
	for _, it := range items[3:] {
		seen[it.Audiopath] = true
	}
	for _, p := range []string{"d", "e", "f", "g", "h"} {
		if !seen[p] {
			t.Fatalf("tail lost item %q", p)
		}
	}

	q.SetShuffle(false)

	items = q.Items(0, 0)
	for i, p := range paths {
		if items[i].Audiopath != p {
			t.Fatalf("restore failed at %d: got %q want %q", i, items[i].Audiopath, p)
		}
	}
	if got, _ := q.Current(); got.Audiopath != "c" {
		t.Fatalf("restore moved the play position to %q", got.Audiopath)
	}
}

func TestUpdateFromOutputIgnoresEmpty(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b"), 0)
	if q.UpdateFromOutput(nil, 0) {
		t.Fatal("empty snapshot must be ignored")
	}
	if q.Len() != 2 {
		t.Fatalf("queue wiped by empty snapshot: len=%d", q.Len())
	}
}

func TestUpdateFromOutputMergesSingleItem(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a", "b", "c"), 1)

	snapshot := []models.QueueItem{{Audiopath: "b2", Title: "patched"}}
	if !q.UpdateFromOutput(snapshot, 1) {
		t.Fatal("single-item snapshot should apply")
	}
	if q.Len() != 3 {
		t.Fatalf("single-item snapshot wiped queue: len=%d", q.Len())
	}
	cur, _ := q.Current()
	if cur.Audiopath != "b2" || cur.Title != "patched" {
		t.Fatalf("merge failed: %+v", cur)
	}
}

func TestUpdateFromOutputSkipsIdenticalSnapshot(t *testing.T) {
	q := New()
	snapshot := makeItems("x", "y")

	if !q.UpdateFromOutput(snapshot, 0) {
		t.Fatal("first snapshot should apply")
	}
	if q.UpdateFromOutput(snapshot, 0) {
		t.Fatal("identical snapshot should be skipped")
	}
	if !q.UpdateFromOutput(snapshot, 1) {
		t.Fatal("snapshot with new position should apply")
	}
}

func TestBackgroundFillTokens(t *testing.T) {
	q := New()
	q.SetItems(makeItems("a"), 0)

	stale := q.NextFillToken()
	fresh := q.NextFillToken()

	if q.ApplyFill(stale, makeItems("b")) {
		t.Fatal("stale fill token must be discarded")
	}
	if !q.ApplyFill(fresh, makeItems("b", "c")) {
		t.Fatal("current fill token must apply")
	}
	if q.Len() != 3 {
		t.Fatalf("len after fill = %d", q.Len())
	}
	items := q.Items(0, 0)
	if items[1].QIndex != 1 || items[2].QIndex != 2 {
		t.Fatalf("fill did not reindex: %+v", items)
	}
}
