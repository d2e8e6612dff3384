package inputs

import (
	"bufio"
	"encoding/base64"
	"strings"
	"testing"
)

func TestReadDMAPItemWithPayload(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("Muscle Museum"))
	// 636f7265 = "core", 6d696e6d = "minm"
	stream := "<item><type>636f7265</type><code>6d696e6d</code><length>13</length>\n" +
		"<data encoding=\"base64\">\n" + payload + "</data></item>\n"

	it, err := readDMAPItem(bufio.NewReader(strings.NewReader(stream)))
	if err != nil {
		t.Fatalf("read item: %v", err)
	}
	if it.typ != "core" || it.code != "minm" {
		t.Fatalf("type/code = %q/%q", it.typ, it.code)
	}
	if string(it.data) != "Muscle Museum" {
		t.Fatalf("data = %q", it.data)
	}
}

func TestReadDMAPItemWithoutPayload(t *testing.T) {
	// 73736e63 = "ssnc", 7062656700? pbeg = 70626567
	stream := "<item><type>73736e63</type><code>70626567</code><length>0</length></item>\n"
	it, err := readDMAPItem(bufio.NewReader(strings.NewReader(stream)))
	if err != nil {
		t.Fatalf("read item: %v", err)
	}
	if it.code != "pbeg" || it.data != nil {
		t.Fatalf("item = %+v", it)
	}
}

func TestParseProgress(t *testing.T) {
	// start/current/end in RTP units at 44.1 kHz: 2 s elapsed of 10 s.
	elapsed, duration, ok := parseProgress("1000/89200/442000")
	if !ok {
		t.Fatal("parse failed")
	}
	if elapsed != 2000 {
		t.Fatalf("elapsed = %d, want 2000", elapsed)
	}
	if duration != 10000 {
		t.Fatalf("duration = %d, want 10000", duration)
	}

	if _, _, ok := parseProgress("bogus"); ok {
		t.Fatal("accepted malformed progress")
	}
}

func TestParseAirplayVolume(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"0.00,0,0,0", 100},
		{"-30.00,0,0,0", 0},
		{"-15.00,0,0,0", 50},
		{"-144.00,0,0,0", 0},
	}
	for _, tc := range cases {
		got, ok := parseAirplayVolume(tc.in)
		if !ok {
			t.Fatalf("%s: parse failed", tc.in)
		}
		if got != tc.want {
			t.Errorf("%s: volume = %d, want %d", tc.in, got, tc.want)
		}
	}
}
