package logbuffer

import (
	"testing"
	"time"
)

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Add(LogEntry{Message: string(rune('a' + i - 1))})
	}

	all := b.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Message != "c" || all[2].Message != "e" {
		t.Fatalf("entries = %v, want oldest c newest e", all)
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info", Zone: 1, Message: "handoff complete"})
	b.Add(LogEntry{Level: "error", Zone: 2, Message: "pipeline died"})
	b.Add(LogEntry{Level: "error", Zone: 1, Message: "output dispatch timeout"})

	got := b.Query(QueryParams{Level: "error", Zone: 1})
	if len(got) != 1 || got[0].Message != "output dispatch timeout" {
		t.Fatalf("query = %v", got)
	}

	got = b.Query(QueryParams{Search: "PIPELINE"})
	if len(got) != 1 || got[0].Zone != 2 {
		t.Fatalf("search = %v", got)
	}

	got = b.Query(QueryParams{Descending: true, Limit: 1})
	if len(got) != 1 || got[0].Message != "output dispatch timeout" {
		t.Fatalf("descending limit = %v", got)
	}
}

func TestWriterCapturesZerologJSON(t *testing.T) {
	b := New(10)
	w := NewWriter(b, nil)

	line := []byte(`{"level":"warn","zone":4,"component":"engine","time":1756200000,"message":"ffmpeg restarted"}` + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}

	all := b.All()
	if len(all) != 1 {
		t.Fatalf("captured = %d, want 1", len(all))
	}
	e := all[0]
	if e.Level != "warn" || e.Zone != 4 || e.Component != "engine" || e.Message != "ffmpeg restarted" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Timestamp.Before(time.Unix(1756100000, 0)) {
		t.Fatalf("timestamp not parsed: %v", e.Timestamp)
	}
}
