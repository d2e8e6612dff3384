package storage

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
)

func testService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Favorite{}, &models.Recent{}, &models.CustomRadio{}, &models.ZoneSnapshot{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewService(db, events.NewBus(), zerolog.Nop())
}

func TestSaveFavoriteReplacesSlot(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	zone := 3

	if _, err := s.SaveFavorite(ctx, models.Favorite{ZoneID: &zone, Slot: 1, Title: "Old", Audiopath: "library:track:old"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveFavorite(ctx, models.Favorite{ZoneID: &zone, Slot: 1, Title: "New", Audiopath: "library:track:new"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	favs, err := s.ListFavorites(ctx, &zone)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(favs) != 1 {
		t.Fatalf("len = %d, want 1 (slot must be replaced)", len(favs))
	}
	if favs[0].Title != "New" {
		t.Fatalf("title = %q", favs[0].Title)
	}
}

func TestFavoriteScopesAreSeparate(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	zone := 1

	if _, err := s.SaveFavorite(ctx, models.Favorite{Slot: 0, Title: "Global"}); err != nil {
		t.Fatalf("save global: %v", err)
	}
	if _, err := s.SaveFavorite(ctx, models.Favorite{ZoneID: &zone, Slot: 0, Title: "Zoned"}); err != nil {
		t.Fatalf("save zoned: %v", err)
	}

	global, err := s.ListFavorites(ctx, nil)
	if err != nil {
		t.Fatalf("list global: %v", err)
	}
	if len(global) != 1 || global[0].Title != "Global" {
		t.Fatalf("global favorites = %+v", global)
	}

	zoned, err := s.ListFavorites(ctx, &zone)
	if err != nil {
		t.Fatalf("list zoned: %v", err)
	}
	if len(zoned) != 1 || zoned[0].Title != "Zoned" {
		t.Fatalf("zoned favorites = %+v", zoned)
	}
}

func TestSaveFavoriteRejectsBadSlot(t *testing.T) {
	s := testService(t)
	if _, err := s.SaveFavorite(context.Background(), models.Favorite{Slot: maxFavoriteSlots}); err == nil {
		t.Fatal("expected slot out of range error")
	}
}

func TestRecentsDedupAndCap(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		track := models.TrackMetadata{
			Title:     "T" + strconv.Itoa(i),
			Audiopath: "library:track:" + strconv.Itoa(i),
		}
		if err := s.AddRecent(ctx, 1, track); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	recents, err := s.ListRecents(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recents) != maxRecents {
		t.Fatalf("len = %d, want %d", len(recents), maxRecents)
	}
	if recents[0].Title != "T6" {
		t.Fatalf("newest = %q, want T6", recents[0].Title)
	}

	// Replay of an existing path moves it to the top without growing
	// the history. The base64-wrapped form canonicalizes to the same key.
	if err := s.AddRecent(ctx, 1, models.TrackMetadata{Title: "T4 again", Audiopath: "b64_bGlicmFyeTp0cmFjazo0"}); err != nil {
		t.Fatalf("add dup: %v", err)
	}
	recents, err = s.ListRecents(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recents) != maxRecents {
		t.Fatalf("len after dup = %d, want %d", len(recents), maxRecents)
	}
	if recents[0].Title != "T4 again" {
		t.Fatalf("newest after dup = %q", recents[0].Title)
	}
	for _, r := range recents[1:] {
		if r.Title == "T4" {
			t.Fatal("old entry for same canonical path survived")
		}
	}
}

func TestRadiosUpsertByName(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	first, err := s.SaveRadio(ctx, models.CustomRadio{Name: "Morning FM", URL: "http://a"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveRadio(ctx, models.CustomRadio{Name: "Morning FM", URL: "http://b"}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	radios, err := s.ListRadios(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(radios) != 1 {
		t.Fatalf("len = %d, want 1", len(radios))
	}
	if radios[0].URL != "http://b" {
		t.Fatalf("url = %q, want updated", radios[0].URL)
	}

	if err := s.DeleteRadio(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	radios, _ = s.ListRadios(ctx)
	if len(radios) != 0 {
		t.Fatalf("len after delete = %d", len(radios))
	}
}

func TestZoneSnapshotRoundTrip(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	if err := s.SaveZoneSnapshot(ctx, 2, []byte(`{"mode":"play"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveZoneSnapshot(ctx, 2, []byte(`{"mode":"stop"}`)); err != nil {
		t.Fatalf("save again: %v", err)
	}

	payload, err := s.LoadZoneSnapshot(ctx, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(payload) != `{"mode":"stop"}` {
		t.Fatalf("payload = %s", payload)
	}
}
