/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the per-zone play queue. A Queue is not safe for
// concurrent use; the owning zone serializer is the only writer.
package queue

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/models"
)

var (
	// ErrQueueEnd means the queue has no next item under the current
	// repeat mode.
	ErrQueueEnd = errors.New("queue end")
	// ErrInvalidNext means the current position no longer points at a
	// valid item, usually after an external queue rewrite.
	ErrInvalidNext = errors.New("queue position invalid")
	// ErrEmpty means the queue holds no items.
	ErrEmpty = errors.New("queue empty")
)

// Queue is the ordered play queue of one zone.
type Queue struct {
	items     []models.QueueItem
	current   int
	shuffle   bool
	repeat    models.RepeatMode
	authority models.QueueAuthority

	fillToken uint64
	lastSig   string

	rng *rand.Rand
}

// New returns an empty queue with local authority.
func New() *Queue {
	return &Queue{
		authority: models.AuthorityLocal,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Len returns the number of items.
func (q *Queue) Len() int { return len(q.items) }

// CurrentIndex returns the play position.
func (q *Queue) CurrentIndex() int { return q.current }

// Shuffle reports whether shuffle is enabled.
func (q *Queue) Shuffle() bool { return q.shuffle }

// Repeat returns the repeat mode.
func (q *Queue) Repeat() models.RepeatMode { return q.repeat }

// Authority returns who drives queue advancement.
func (q *Queue) Authority() models.QueueAuthority { return q.authority }

// SetAuthority records who drives queue advancement.
func (q *Queue) SetAuthority(a models.QueueAuthority) { q.authority = a }

// SetRepeat sets the repeat mode.
func (q *Queue) SetRepeat(mode models.RepeatMode) { q.repeat = mode }

// CycleRepeat steps off -> all -> one -> off and returns the new mode.
func (q *Queue) CycleRepeat() models.RepeatMode {
	switch q.repeat {
	case models.RepeatOff:
		q.repeat = models.RepeatAll
	case models.RepeatAll:
		q.repeat = models.RepeatOne
	default:
		q.repeat = models.RepeatOff
	}
	return q.repeat
}

// SetItems replaces the queue. Every item gets a fresh qindex; original
// order and unique ids are preserved when present, generated otherwise.
// The play position resets to start, clamped into range.
func (q *Queue) SetItems(items []models.QueueItem, start int) {
	q.items = make([]models.QueueItem, len(items))
	copy(q.items, items)
	fresh := true
	for _, it := range q.items {
		if it.OriginalIndex != 0 {
			fresh = false
			break
		}
	}
	for i := range q.items {
		if q.items[i].UniqueID == "" {
			q.items[i].UniqueID = uuid.NewString()
		}
		if fresh {
			q.items[i].OriginalIndex = i
		}
	}
	q.reindex()
	q.current = clamp(start, len(q.items))
	q.lastSig = ""
}

// Append adds items to the tail, used by background fills.
func (q *Queue) Append(items []models.QueueItem) {
	for _, it := range items {
		if it.UniqueID == "" {
			it.UniqueID = uuid.NewString()
		}
		it.OriginalIndex = len(q.items)
		q.items = append(q.items, it)
	}
	q.reindex()
}

// Clear drops all items and resets position.
func (q *Queue) Clear() {
	q.items = nil
	q.current = 0
	q.lastSig = ""
}

// Items returns a copy of the window [start, start+limit).
func (q *Queue) Items(start, limit int) []models.QueueItem {
	if start < 0 {
		start = 0
	}
	if start >= len(q.items) {
		return nil
	}
	end := len(q.items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]models.QueueItem, end-start)
	copy(out, q.items[start:end])
	return out
}

// Current returns the item at the play position.
func (q *Queue) Current() (models.QueueItem, bool) {
	if q.current < 0 || q.current >= len(q.items) {
		return models.QueueItem{}, false
	}
	return q.items[q.current], true
}

// SetCurrentIndex moves the play position, clamped into range.
func (q *Queue) SetCurrentIndex(i int) {
	q.current = clamp(i, len(q.items))
}

// SeekTo finds target by normalized audiopath or unique id and moves the
// play position there. Returns the index and whether it matched.
func (q *Queue) SeekTo(target string) (int, bool) {
	normalized := audiopath.Normalize(target)
	for i, it := range q.items {
		if it.UniqueID == target || audiopath.Normalize(it.Audiopath) == normalized {
			q.current = i
			return i, true
		}
	}
	return 0, false
}

// Advance moves forward one step under repeat rules and returns the new
// current item. Repeat-one repeats the same item unless force is set
// (an explicit queueplus overrides repeat-one for that step).
func (q *Queue) Advance(force bool) (models.QueueItem, error) {
	if len(q.items) == 0 {
		return models.QueueItem{}, ErrEmpty
	}
	if q.current < 0 || q.current >= len(q.items) {
		return models.QueueItem{}, ErrInvalidNext
	}
	if q.repeat == models.RepeatOne && !force {
		return q.items[q.current], nil
	}
	next := q.current + 1
	if next >= len(q.items) {
		if q.repeat == models.RepeatOff {
			return models.QueueItem{}, ErrQueueEnd
		}
		next = 0
	}
	q.current = next
	return q.items[q.current], nil
}

// StepBack moves one step backwards. At the head it wraps under
// repeat-all, otherwise it stays on the first item.
func (q *Queue) StepBack() (models.QueueItem, error) {
	if len(q.items) == 0 {
		return models.QueueItem{}, ErrEmpty
	}
	prev := q.current - 1
	if prev < 0 {
		if q.repeat == models.RepeatAll {
			prev = len(q.items) - 1
		} else {
			prev = 0
		}
	}
	q.current = prev
	return q.items[q.current], nil
}

// SetShuffle toggles shuffle. Enabling shuffles the tail after the
// current item in place, keeping the current item where it is.
// Disabling restores the original order and keeps the play position on
// the same item.
func (q *Queue) SetShuffle(on bool) {
	if on == q.shuffle {
		return
	}
	q.shuffle = on
	if len(q.items) == 0 {
		return
	}
	if on {
		q.shuffleTail()
	} else {
		q.restoreOrder()
	}
	q.reindex()
}

// ReshuffleUpcoming redraws the tail order while shuffle is on, used
// after a queue rebuild that arrived with a pending shuffle flag.
func (q *Queue) ReshuffleUpcoming() {
	if !q.shuffle {
		return
	}
	q.shuffleTail()
	q.reindex()
}

func (q *Queue) shuffleTail() {
	tail := q.items[q.current+1:]
	q.rng.Shuffle(len(tail), func(i, j int) {
		tail[i], tail[j] = tail[j], tail[i]
	})
}

func (q *Queue) restoreOrder() {
	var cur string
	if item, ok := q.Current(); ok {
		cur = item.UniqueID
	}
	// Stable sort by original index recovers the pre-shuffle order.
	items := q.items
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].OriginalIndex < items[j-1].OriginalIndex; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	if cur != "" {
		for i, it := range q.items {
			if it.UniqueID == cur {
				q.current = i
				break
			}
		}
	}
}

// UpdateFromOutput applies a queue snapshot observed from a remote
// authority. Empty snapshots are ignored. A single-item snapshot merges
// into the existing queue at the play position instead of replacing it.
// Snapshots identical to the previous one (same length, order and
// position) are skipped. Returns whether the queue changed.
func (q *Queue) UpdateFromOutput(items []models.QueueItem, currentIndex int) bool {
	if len(items) == 0 {
		return false
	}
	sig := snapshotSignature(items, currentIndex)
	if sig == q.lastSig {
		return false
	}

	if len(items) == 1 && len(q.items) > 1 {
		// Remote sent only the now-playing item; patch it in place.
		idx := clamp(currentIndex, len(q.items))
		merged := items[0]
		merged.OriginalIndex = q.items[idx].OriginalIndex
		if merged.UniqueID == "" {
			merged.UniqueID = q.items[idx].UniqueID
		}
		q.items[idx] = merged
		q.current = idx
		q.reindex()
		q.lastSig = sig
		return true
	}

	q.SetItems(items, currentIndex)
	q.lastSig = sig
	return true
}

// NextFillToken invalidates any in-flight background fill and returns
// the token a new fill must present to apply its results.
func (q *Queue) NextFillToken() uint64 {
	q.fillToken++
	return q.fillToken
}

// ApplyFill appends backfill results when token is still current.
// Stale fills are discarded.
func (q *Queue) ApplyFill(token uint64, items []models.QueueItem) bool {
	if token != q.fillToken {
		return false
	}
	q.Append(items)
	return true
}

func (q *Queue) reindex() {
	for i := range q.items {
		q.items[i].QIndex = i
	}
}

func snapshotSignature(items []models.QueueItem, currentIndex int) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(audiopath.Normalize(it.Audiopath))
		b.WriteByte('|')
	}
	return b.String() + "#" + strconv.Itoa(len(items)) + "@" + strconv.Itoa(currentIndex)
}

func clamp(i, n int) int {
	if n == 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
