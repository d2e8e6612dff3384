package output

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

func TestAlacFrameEndiannessAndPadding(t *testing.T) {
	// Two frames of input, rest padded with silence.
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	out := alacFrame(pcm)

	if len(out) != 3+raopFramesPerPacket*4 {
		t.Fatalf("frame length = %d", len(out))
	}
	if out[0] != 0x20 || out[2] != 0x02 {
		t.Fatalf("element header = %v", out[:3])
	}
	// 0x0201 little-endian becomes 0x02 0x01 big-endian.
	if out[3] != 0x02 || out[4] != 0x01 {
		t.Fatalf("first sample = %v", out[3:5])
	}
	// Beyond the input everything is zero.
	for i := 3 + len(pcm); i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("padding dirty at %d", i)
		}
	}
}

func TestDMAPTrackItem(t *testing.T) {
	item := dmapTrackItem("Song", "Artist", "Album")
	if string(item[0:4]) != "mlit" {
		t.Fatalf("container = %s", item[0:4])
	}
	innerLen := binary.BigEndian.Uint32(item[4:8])
	if int(innerLen) != len(item)-8 {
		t.Fatalf("length = %d, want %d", innerLen, len(item)-8)
	}
	if string(item[8:12]) != "minm" || string(item[16:20]) != "Song" {
		t.Fatalf("first tag = %s %s", item[8:12], item[16:20])
	}
}

func TestTransportParam(t *testing.T) {
	transport := "RTP/AVP/UDP;unicast;mode=record;server_port=53561;control_port=63379;timing_port=52060"
	if got := transportParam(transport, "server_port"); got != 53561 {
		t.Fatalf("server_port = %d", got)
	}
	if got := transportParam(transport, "missing"); got != 0 {
		t.Fatalf("missing = %d", got)
	}
}

func TestCastMessageRoundTrip(t *testing.T) {
	in := castMessage{
		SourceID:      castSender,
		DestinationID: "receiver-0",
		Namespace:     castNSReceiver,
		PayloadUTF8:   `{"type":"GET_STATUS","requestId":1}`,
	}
	out, err := unmarshalCastMessage(marshalCastMessage(in))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("roundtrip = %+v", out)
	}
}

func TestTransportFromStatus(t *testing.T) {
	payload := map[string]any{
		"type": "RECEIVER_STATUS",
		"status": map[string]any{
			"applications": []any{
				map[string]any{"appId": "OTHER", "transportId": "x"},
				map[string]any{"appId": castMediaApp, "transportId": "web-7"},
			},
		},
	}
	if got := transportFromStatus(payload); got != "web-7" {
		t.Fatalf("transport = %s", got)
	}
	if got := transportFromStatus(map[string]any{}); got != "" {
		t.Fatalf("empty status = %s", got)
	}
}

func TestScalePCM(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(10000)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(int16(-10000)))

	scalePCM(buf, 0.5)
	if got := int16(binary.LittleEndian.Uint16(buf[0:2])); got != 5000 {
		t.Fatalf("sample = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(buf[2:4])); got != -5000 {
		t.Fatalf("sample = %d", got)
	}

	// Unity gain leaves the buffer alone.
	binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(1234)))
	scalePCM(buf, 1.0)
	if got := int16(binary.LittleEndian.Uint16(buf[0:2])); got != 1234 {
		t.Fatalf("unity sample = %d", got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" kitchen , den ,,porch ")
	if len(got) != 3 || got[0] != "kitchen" || got[2] != "porch" {
		t.Fatalf("split = %v", got)
	}
	if splitList("") != nil {
		t.Fatal("empty input should be nil")
	}
}

func TestSelectPlayOutputsExcludesControllers(t *testing.T) {
	spotify, err := newSpotifyDriver(1, models.OutputConfig{
		ID:      "sp1",
		Driver:  "spotify",
		Address: "127.0.0.1:3678",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build spotify driver: %v", err)
	}
	lineout, err := newLineoutDriver(1, models.OutputConfig{ID: "lo1", Driver: "lineout"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("build lineout driver: %v", err)
	}

	playable := SelectPlayOutputs([]Driver{spotify, lineout})
	if len(playable) != 1 || playable[0].Type() != "lineout" {
		t.Fatalf("playable = %v", playable)
	}
}

func TestDefaultProfile(t *testing.T) {
	oc := models.OutputConfig{Format: models.StreamProfile{Codec: "flac", Rate: 44100}}
	if got := defaultProfile(oc, pcm48); got.Codec != "flac" {
		t.Fatalf("profile = %+v", got)
	}
	if got := defaultProfile(models.OutputConfig{}, pcm48); got != pcm48 {
		t.Fatalf("fallback = %+v", got)
	}
}
