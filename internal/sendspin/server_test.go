package sendspin

import (
	"encoding/binary"
	"testing"

	"github.com/friendsincode/bragi/internal/models"
)

func TestEncodeChunkFraming(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	chunk := encodeChunk(1234567, payload)

	if chunk[0] != audioChunkType {
		t.Fatalf("type byte = %d, want %d", chunk[0], audioChunkType)
	}
	if got := int64(binary.BigEndian.Uint64(chunk[1:9])); got != 1234567 {
		t.Fatalf("timestamp = %d, want 1234567", got)
	}
	if string(chunk[9:]) != string(payload) {
		t.Fatalf("payload mismatch: %v", chunk[9:])
	}
}

func TestNegotiateCodec(t *testing.T) {
	profile44 := models.StreamProfile{Codec: "pcm", Rate: 44100, Channels: 2, Bits: 16}
	profile48 := models.StreamProfile{Codec: "pcm", Rate: 48000, Channels: 2, Bits: 16}

	cases := []struct {
		name    string
		support *PlayerSupport
		profile models.StreamProfile
		want    string
	}{
		{"no capabilities", nil, profile44, "pcm"},
		{
			"native pcm preferred",
			&PlayerSupport{SupportedFormats: []Format{
				{Codec: "opus", SampleRate: 48000},
				{Codec: "pcm", SampleRate: 44100, BitDepth: 16},
			}},
			profile44,
			"pcm",
		},
		{
			"opus at 48k",
			&PlayerSupport{SupportedFormats: []Format{{Codec: "opus", SampleRate: 48000}}},
			profile48,
			"opus",
		},
		{
			"opus refused off 48k",
			&PlayerSupport{SupportedFormats: []Format{{Codec: "opus", SampleRate: 48000}}},
			profile44,
			"pcm",
		},
	}
	for _, tc := range cases {
		if got := negotiateCodec(tc.support, tc.profile); got != tc.want {
			t.Errorf("%s: codec = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestActivateRolesKeepsFirstVersionPerFamily(t *testing.T) {
	active := activateRoles([]string{"player@v2", "player@v1", "metadata", "visualizer"})
	if len(active) != 2 {
		t.Fatalf("active = %v", active)
	}
	if active[0] != "player@v2" || active[1] != "metadata" {
		t.Fatalf("active = %v", active)
	}
}

func TestHasRoleMatchesVersioned(t *testing.T) {
	if !hasRole([]string{"player@v1"}, "player") {
		t.Fatal("versioned role should match family")
	}
	if hasRole([]string{"playerx"}, "player") {
		t.Fatal("prefix without @ must not match")
	}
}

func TestBytesToInt16(t *testing.T) {
	// -1 and 256 little-endian.
	got := bytesToInt16([]byte{0xFF, 0xFF, 0x00, 0x01})
	if got[0] != -1 || got[1] != 256 {
		t.Fatalf("samples = %v", got)
	}
}
