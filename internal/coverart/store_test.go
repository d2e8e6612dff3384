/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coverart

import (
	"net/http/httptest"
	"path"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestPutAndServeRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), "http://bragi.local", zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	payload := []byte("not-really-a-png")
	url, err := s.Put(1, payload, "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(url, "http://bragi.local/coverart/") {
		t.Fatalf("url = %s", url)
	}

	// Same image again is a no-op and yields the same URL.
	again, err := s.Put(1, payload, "image/png")
	if err != nil {
		t.Fatalf("repeat put: %v", err)
	}
	if again != url {
		t.Fatalf("repeat url = %s, want %s", again, url)
	}

	r := chi.NewRouter()
	r.Get("/coverart/{key}", s.Handler())
	req := httptest.NewRequest("GET", "/coverart/"+path.Base(url), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != string(payload) {
		t.Fatalf("served body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %s", ct)
	}
}

func TestPutRejectsEmptyAndOversized(t *testing.T) {
	s, err := NewStore(t.TempDir(), "http://bragi.local", zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Put(1, nil, "image/png"); err == nil {
		t.Fatal("empty payload accepted")
	}
	if _, err := s.Put(1, make([]byte, maxCoverBytes+1), "image/png"); err == nil {
		t.Fatal("oversized payload accepted")
	}
}
