/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi/internal/models"
)

// streamPrimeBytes is how much already-buffered audio a late joiner
// receives up front so HTTP renderers start without a gap.
const streamPrimeBytes = 64 * 1024

var streamMIME = map[string]string{
	"mp3":  "audio/mpeg",
	"flac": "audio/flac",
	"opus": "audio/ogg",
	"pcm":  "application/octet-stream",
}

// handleStream serves one encoded sub-stream of a zone's pipeline to an
// HTTP renderer. The URL carries zone and codec: /stream/3.mp3.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stream")
	ext := path.Ext(name)
	zoneID, err := strconv.Atoi(strings.TrimSuffix(name, ext))
	codec := strings.TrimPrefix(ext, ".")
	if err != nil || zoneID <= 0 || codec == "" {
		http.NotFound(w, r)
		return
	}

	sess, ok := a.engine.Session(zoneID)
	if !ok {
		http.Error(w, "no active stream", http.StatusNotFound)
		return
	}
	var profile models.StreamProfile
	found := false
	for _, p := range sess.Profiles {
		if p.Codec == codec {
			profile = p
			found = true
			break
		}
	}
	if !found {
		http.Error(w, "stream format not active", http.StatusNotFound)
		return
	}

	sub, err := a.engine.CreateStream(zoneID, profile, streamPrimeBytes, "http:"+r.RemoteAddr)
	if err != nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	mime := streamMIME[codec]
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
