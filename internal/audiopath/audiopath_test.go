package audiopath

import (
	"encoding/base64"
	"testing"

	"github.com/friendsincode/bragi/internal/models"
)

func TestParseProviderTypeID(t *testing.T) {
	p, err := Parse("spotify:track:4uLU6hMCjMI75M1A2tKUQC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Provider != ProviderSpotify || p.Type != "track" || p.ID != "4uLU6hMCjMI75M1A2tKUQC" {
		t.Fatalf("unexpected parse result: %+v", p)
	}
}

func TestParseAccountSuffix(t *testing.T) {
	p, err := Parse("spotify@alice:playlist:37i9dQZF1DXcBWIGoYBM5M")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Provider != ProviderSpotify {
		t.Fatalf("provider = %q", p.Provider)
	}
	if p.Account != "alice" {
		t.Fatalf("account = %q", p.Account)
	}
}

func TestParseRawURL(t *testing.T) {
	p, err := Parse("https://ice.somafm.com/groovesalad-128-mp3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.IsURL || p.Provider != ProviderURL {
		t.Fatalf("expected URL path, got %+v", p)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse("  "); err == nil {
		t.Fatal("expected error for empty audiopath")
	}
}

func TestBase64Unwrap(t *testing.T) {
	inner := "library:playlist:morning jazz"
	wrapped := "b64_" + base64.StdEncoding.EncodeToString([]byte(inner))

	p, err := Parse(wrapped)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Provider != ProviderLibrary || p.Type != "playlist" || p.ID != "morning jazz" {
		t.Fatalf("unexpected parse of wrapped path: %+v", p)
	}
}

func TestBase64UnwrapDepthBounded(t *testing.T) {
	s := "library:track:one"
	for i := 0; i < 6; i++ {
		s = "b64_" + base64.StdEncoding.EncodeToString([]byte(s))
	}
	// Six layers exceeds the bound; the decoder must stop, not loop.
	p, err := Parse(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Provider == ProviderLibrary {
		t.Fatal("expected decode to stop before reaching the innermost path")
	}
}

func TestParentpathSuffix(t *testing.T) {
	raw := WithParent("library:track:abc", "library:playlist:home", 7, true)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Parent == nil {
		t.Fatal("expected parent context")
	}
	if p.Parent.Parent != "library:playlist:home" {
		t.Fatalf("parent = %q", p.Parent.Parent)
	}
	if p.Parent.Index != 7 || !p.Parent.NoShuffle {
		t.Fatalf("unexpected parent context: %+v", p.Parent)
	}
	if p.ID != "abc" {
		t.Fatalf("suffix leaked into id: %q", p.ID)
	}
}

func TestParentpathUnencodedURIParent(t *testing.T) {
	cases := []struct {
		raw       string
		parent    string
		index     int
		noShuffle bool
	}{
		{"library:track:1/parentpath/http://example.com/pl/2/noshuffle", "http://example.com/pl", 2, true},
		{"library:track:1/parentpath/http://example.com/pl/2", "http://example.com/pl", 2, false},
		{"tunein:station:s1/parentpath/radios/0", "radios", 0, false},
		{"library:track:1/parentpath/albums/2024/5", "albums/2024", 5, false},
	}
	for _, tc := range cases {
		p, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if p.Parent == nil {
			t.Fatalf("%q: expected parent context", tc.raw)
		}
		if p.Parent.Parent != tc.parent {
			t.Fatalf("%q: parent = %q, want %q", tc.raw, p.Parent.Parent, tc.parent)
		}
		if p.Parent.Index != tc.index {
			t.Fatalf("%q: index = %d, want %d", tc.raw, p.Parent.Index, tc.index)
		}
		if p.Parent.NoShuffle != tc.noShuffle {
			t.Fatalf("%q: noshuffle = %v, want %v", tc.raw, p.Parent.NoShuffle, tc.noShuffle)
		}
	}
}

func TestNormalizeStripsWrappingAndParent(t *testing.T) {
	raw := WithParent("b64_"+base64.StdEncoding.EncodeToString([]byte("library:track:abc")), "parent", 0, false)
	got := Normalize(raw)
	if got != "library:track:abc" {
		t.Fatalf("normalize = %q", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		"b64_" + base64.StdEncoding.EncodeToString([]byte("library:track:x")),
		"https://ice.somafm.com/groovesalad-128-mp3",
		WithParent("tunein:station:s24939", "radios", 3, false),
		"library:playlist:b64_" + base64.StdEncoding.EncodeToString([]byte("late night")),
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestIsRadio(t *testing.T) {
	cases := []struct {
		raw      string
		duration int64
		want     bool
	}{
		{"tunein:station:s24939", 0, true},
		{"radio:station:custom1", 0, true},
		{"https://ice.somafm.com/groovesalad-128-mp3", 0, true},
		{"https://example.com/file.mp3", 213000, false},
		{"library:track:abc", 0, false},
		{"spotify:track:abc", 213000, false},
	}
	for _, tc := range cases {
		p, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got := IsRadio(p, tc.duration); got != tc.want {
			t.Fatalf("IsRadio(%q, %d) = %v, want %v", tc.raw, tc.duration, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want models.AudioType
	}{
		{"linein:input:1", models.AudioTypeLineIn},
		{"airplay:input:zone5", models.AudioTypeAirplay},
		{"spotify:track:abc", models.AudioTypeSpotify},
		{"tunein:station:s1", models.AudioTypeRadio},
		{"library:playlist:abc", models.AudioTypePlaylist},
		{"library:track:abc", models.AudioTypeFile},
		{"alert:sound:doorbell", models.AudioTypeAlert},
	}
	for _, tc := range cases {
		p, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got := Classify(p); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSanitizeStation(t *testing.T) {
	p, _ := Parse("tunein:station:s24939")

	if got := SanitizeStation("tunein:station:s24939", p); got != "" {
		t.Fatalf("station equal to audiopath should be dropped, got %q", got)
	}
	if got := SanitizeStation("spotify:track:abc", p); got != "" {
		t.Fatalf("provider-prefixed station should be dropped, got %q", got)
	}
	if got := SanitizeStation("4uLU6hMCjMI75M1A2tKUQC", p); got != "" {
		t.Fatalf("bare track id should be dropped, got %q", got)
	}
	if got := SanitizeStation("Groove Salad", p); got != "Groove Salad" {
		t.Fatalf("real station label should pass through, got %q", got)
	}
}

func TestProviderClassifiers(t *testing.T) {
	if !IsAppleMusic("applemusic@bob:album:123") {
		t.Fatal("applemusic with account should classify")
	}
	if !IsDeezer("deezer:track:9") {
		t.Fatal("deezer should classify")
	}
	if !IsTidal("tidal@x:track:9") {
		t.Fatal("tidal should classify")
	}
	if IsMusicAssistant("library:track:9") {
		t.Fatal("library must not classify as musicassistant")
	}
}
