package engine

import (
	"strings"
	"testing"

	"github.com/friendsincode/bragi/internal/models"
)

func TestBuildArgsFileSource(t *testing.T) {
	args, err := buildArgs(
		models.PlaybackSource{Kind: models.SourceFile, Path: "/music/a.flac", StartMs: 91500},
		[]models.StreamProfile{{Codec: "pcm", Rate: 44100, Channels: 2, Bits: 16}},
	)
	if err != nil {
		t.Fatalf("build args: %v", err)
	}
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-re") {
		t.Fatal("file source must be paced with -re")
	}
	if !strings.Contains(joined, "-ss 91.500") {
		t.Fatalf("seek offset missing: %s", joined)
	}
	if !strings.Contains(joined, "-i /music/a.flac") {
		t.Fatalf("input missing: %s", joined)
	}
	if !strings.Contains(joined, "-f s16le") || !strings.HasSuffix(joined, "pipe:3") {
		t.Fatalf("pcm output wiring wrong: %s", joined)
	}
}

func TestBuildArgsURLWithHeaders(t *testing.T) {
	args, err := buildArgs(
		models.PlaybackSource{
			Kind:    models.SourceURL,
			Path:    "https://stream.example.com/a.mp3",
			Headers: map[string]string{"Authorization": "Bearer x"},
		},
		[]models.StreamProfile{{Codec: "mp3", Rate: 44100, Channels: 2, BitrateKbp: 192}},
	)
	if err != nil {
		t.Fatalf("build args: %v", err)
	}
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-headers Authorization: Bearer x\r\n") {
		t.Fatalf("headers missing: %q", joined)
	}
	if strings.Contains(joined, "-re") {
		t.Fatal("url source must not be paced with -re")
	}
	if !strings.Contains(joined, "libmp3lame") || !strings.Contains(joined, "-b:a 192k") {
		t.Fatalf("mp3 encoder args wrong: %s", joined)
	}
}

func TestBuildArgsPipeSource(t *testing.T) {
	args, err := buildArgs(
		models.PlaybackSource{
			Kind:   models.SourcePipe,
			Format: &models.PCMFormat{Rate: 48000, Channels: 2, Bits: 16},
		},
		[]models.StreamProfile{
			{Codec: "pcm", Rate: 48000, Channels: 2, Bits: 16},
			{Codec: "flac", Rate: 48000, Channels: 2},
		},
	)
	if err != nil {
		t.Fatalf("build args: %v", err)
	}
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-f s16le -ar 48000 -ac 2 -i pipe:0") {
		t.Fatalf("pipe input wiring wrong: %s", joined)
	}
	// Two profiles map to fd 3 and fd 4.
	if !strings.Contains(joined, "pipe:3") || !strings.Contains(joined, "pipe:4") {
		t.Fatalf("multi-output fds wrong: %s", joined)
	}
}

func TestBuildArgsRejectsUnknownCodec(t *testing.T) {
	_, err := buildArgs(
		models.PlaybackSource{Kind: models.SourceFile, Path: "/a.mp3"},
		[]models.StreamProfile{{Codec: "wma"}},
	)
	if err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := newTailBuffer(8)
	tb.consume(strings.NewReader("0123456789abcdef"))
	if got := tb.String(); got != "89abcdef" {
		t.Fatalf("tail = %q", got)
	}
}
