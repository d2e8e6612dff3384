package slimproto

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x02, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0, 0}
	header := make([]byte, 8)
	copy(header[0:4], "HELO")
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	buf.Write(header)
	buf.Write(payload)

	op, got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if op != "HELO" {
		t.Fatalf("op = %s", op)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %v", got)
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 8)
	copy(header[0:4], "STAT")
	binary.BigEndian.PutUint32(header[4:8], 1<<24)
	buf.Write(header)

	if _, _, err := readFrame(&buf); err == nil {
		t.Fatal("expected oversized frame rejection")
	}
}

func TestStrmFrameEmbedsHTTPRequest(t *testing.T) {
	frame := strmFrame('s', '0', 'f', "192.168.1.10", 7091, "/stream/3.flac")
	if frame[0] != 's' || frame[1] != '0' || frame[2] != 'f' {
		t.Fatalf("header = %v", frame[:3])
	}
	if got := binary.BigEndian.Uint16(frame[22:24]); got != 7091 {
		t.Fatalf("port = %d", got)
	}
	request := string(frame[24:])
	if !strings.HasPrefix(request, "GET /stream/3.flac HTTP/1.0\r\n") {
		t.Fatalf("request = %q", request)
	}
	if !strings.Contains(request, "Host: 192.168.1.10\r\n") {
		t.Fatalf("request lacks host header: %q", request)
	}
}

func TestStrmControlCarriesBarrier(t *testing.T) {
	frame := strmControl('u', 123456)
	if frame[0] != 'u' {
		t.Fatalf("command = %c", frame[0])
	}
	if got := binary.BigEndian.Uint32(frame[18:22]); got != 123456 {
		t.Fatalf("barrier = %d", got)
	}
}

func TestJiffiesExtrapolation(t *testing.T) {
	p := &Player{MAC: "aabbccddeeff"}
	now := time.Now()
	p.state.Jiffies = 1000
	p.state.ReceivedAt = now.Add(-200 * time.Millisecond)

	got := p.JiffiesAt(now)
	if got < 1190 || got > 1210 {
		t.Fatalf("jiffies = %d, want ~1200", got)
	}
}

func TestApplyStatParsesFixedOffsets(t *testing.T) {
	payload := make([]byte, 53)
	binary.BigEndian.PutUint32(payload[19:23], 4096)   // buffer fill
	binary.BigEndian.PutUint32(payload[35:39], 777000) // jiffies
	binary.BigEndian.PutUint32(payload[45:49], 92000)  // elapsed ms

	p := &Player{}
	p.applyStat(payload)
	st := p.State()
	if st.BufferFill != 4096 || st.Jiffies != 777000 {
		t.Fatalf("state = %+v", st)
	}
	if st.Elapsed != 92*time.Second {
		t.Fatalf("elapsed = %s", st.Elapsed)
	}
}
