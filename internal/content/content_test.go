package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/models"
)

func testLibrary(t *testing.T, root string) *Library {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Track{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewLibrary(root, db, zerolog.Nop())
}

func seedTracks(t *testing.T, l *Library, tracks ...models.Track) {
	t.Helper()
	for i := range tracks {
		if tracks[i].ID == "" {
			tracks[i].ID = tracks[i].Path
		}
		if err := l.db.Create(&tracks[i]).Error; err != nil {
			t.Fatalf("seed track: %v", err)
		}
	}
}

func TestLibrarySourceForTrack(t *testing.T) {
	l := testLibrary(t, "/music")
	seedTracks(t, l, models.Track{ID: "abc", Path: "Muse/Showbiz/01 Sunburn.flac", Title: "Sunburn"})

	p, err := audiopath.Parse("library:track:abc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	src, err := l.Source(context.Background(), p, 5000)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if src.Kind != models.SourceFile {
		t.Fatalf("kind = %s, want file", src.Kind)
	}
	want := filepath.Join("/music", "Muse/Showbiz/01 Sunburn.flac")
	if src.Path != want {
		t.Fatalf("path = %s, want %s", src.Path, want)
	}
	if src.StartMs != 5000 {
		t.Fatalf("start = %d, want 5000", src.StartMs)
	}
}

func TestLibrarySourceRejectsContainer(t *testing.T) {
	l := testLibrary(t, "/music")
	p, _ := audiopath.Parse("library:album:Muse|Showbiz")
	if _, err := l.Source(context.Background(), p, 0); err == nil {
		t.Fatal("expected error for container source")
	}
}

func TestLibraryBuildQueuePaging(t *testing.T) {
	l := testLibrary(t, "/music")
	seedTracks(t, l,
		models.Track{Path: "Muse/Showbiz/01.flac", Artist: "Muse", Album: "Showbiz", Title: "One"},
		models.Track{Path: "Muse/Showbiz/02.flac", Artist: "Muse", Album: "Showbiz", Title: "Two"},
		models.Track{Path: "Muse/Showbiz/03.flac", Artist: "Muse", Album: "Showbiz", Title: "Three"},
		models.Track{Path: "Muse/Origin/01.flac", Artist: "Muse", Album: "Origin", Title: "Other"},
	)

	p, _ := audiopath.Parse("library:album:Muse|Showbiz")
	items, hasMore, err := l.BuildQueue(context.Background(), p, 2)
	if err != nil {
		t.Fatalf("build queue: %v", err)
	}
	if len(items) != 2 || !hasMore {
		t.Fatalf("got %d items hasMore=%v, want 2 items hasMore=true", len(items), hasMore)
	}
	if items[0].Title != "One" || items[1].Title != "Two" {
		t.Fatalf("unexpected page order: %s, %s", items[0].Title, items[1].Title)
	}

	page, err := l.QueuePage(context.Background(), p, 2, 2)
	if err != nil {
		t.Fatalf("queue page: %v", err)
	}
	if len(page) != 1 || page[0].Title != "Three" {
		t.Fatalf("backfill page = %+v, want single item Three", page)
	}
}

func TestLibraryScanIndexesAndPrunes(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Muse", "Showbiz")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"01 Sunburn.wav", "02 Muscle Museum.wav"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("not-audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := testLibrary(t, root)
	res, err := l.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Indexed != 2 {
		t.Fatalf("indexed = %d, want 2", res.Indexed)
	}

	var tr models.Track
	if err := l.db.First(&tr, "path = ?", "Muse/Showbiz/01 Sunburn.wav").Error; err != nil {
		t.Fatalf("indexed track missing: %v", err)
	}
	if tr.Artist != "Muse" || tr.Album != "Showbiz" || tr.Title != "01 Sunburn" {
		t.Fatalf("derived metadata = %q/%q/%q", tr.Artist, tr.Album, tr.Title)
	}

	// Second scan with one file gone prunes its row and reindexes nothing.
	if err := os.Remove(filepath.Join(dir, "02 Muscle Museum.wav")); err != nil {
		t.Fatal(err)
	}
	res, err = l.Scan(context.Background())
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if res.Indexed != 0 || res.Removed != 1 {
		t.Fatalf("rescan = %+v, want 0 indexed 1 removed", res)
	}
}

func TestAlertSoundPathStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chime.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := alertSoundPath(dir, "chime")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.Join(dir, "chime.mp3") {
		t.Fatalf("resolved %s", got)
	}

	if _, err := alertSoundPath(dir, "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal rejection")
	}
}

func TestURLItemFallsBackToHost(t *testing.T) {
	r := newRadioResolver(nil, nil, zerolog.Nop())
	p, _ := audiopath.Parse("http://ice.example.com/stream.mp3")
	item, err := r.urlItem(context.Background(), p, "")
	if err != nil {
		t.Fatalf("url item: %v", err)
	}
	if item.Title != "ice.example.com" {
		t.Fatalf("title = %s", item.Title)
	}
	if item.AudioType != models.AudioTypeRadio {
		t.Fatalf("type = %s", item.AudioType)
	}
}

func TestScanSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "solo.wav")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	l := testLibrary(t, root)
	if _, err := l.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := l.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 0 {
		t.Fatalf("second scan reindexed %d files", res.Indexed)
	}
}
