package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/friendsincode/bragi/internal/events"
)

func TestMessageWireShape(t *testing.T) {
	raw, err := json.Marshal(message{
		Type:      events.EventTrackStart,
		Payload:   events.Payload{"zone_id": 3},
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "track.start" {
		t.Fatalf("type = %v", got["type"])
	}
	payload, ok := got["payload"].(map[string]any)
	if !ok || payload["zone_id"] != float64(3) {
		t.Fatalf("payload = %v", got["payload"])
	}
}

func TestMirroredExcludesInternalEvents(t *testing.T) {
	for _, typ := range mirrored {
		s := string(typ)
		if len(s) > 6 && (s[:6] == "cache." || s[:6] == "audit.") {
			t.Errorf("internal event %s must not be mirrored", s)
		}
	}
}
