package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func buildWAV(rate, channels, bits int, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*bits/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestWAVDecoder(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wav := buildWAV(44100, 2, 16, pcm)

	dec, err := Open("test.wav", io.NopCloser(bytes.NewReader(wav)))
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer dec.Close()

	f := dec.Format()
	if f.Rate != 44100 || f.Channels != 2 || f.Bits != 16 {
		t.Fatalf("unexpected format: %+v", f)
	}

	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("data mismatch: %v", got)
	}
}

func TestWAVDecoderRejectsGarbage(t *testing.T) {
	if _, err := Open("x.wav", io.NopCloser(bytes.NewReader([]byte("not a wav at all")))); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestOpenUnsupportedExtension(t *testing.T) {
	if _, err := Open("x.ogg", io.NopCloser(bytes.NewReader(nil))); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if Supported("x.ogg") {
		t.Fatal("ogg must not report as natively supported")
	}
	if !Supported("x.FLAC") {
		t.Fatal("extension check must be case insensitive")
	}
}

func TestPCMRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := Int16FromBytes(BytesFromInt16(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d: %d != %d", i, in[i], out[i])
		}
	}
}
