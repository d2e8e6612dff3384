/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/friendsincode/bragi/internal/logbuffer"
	"github.com/friendsincode/bragi/internal/version"
)

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	if a.updates == nil {
		writeJSON(w, http.StatusOK, version.UpdateInfo{CurrentVersion: version.Version})
		return
	}
	writeJSON(w, http.StatusOK, a.updates.Info())
}

// handleLogs serves recent entries from the in-memory log ring. Newest
// first so an operator sees the failure before the noise.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeJSON(w, http.StatusOK, []logbuffer.LogEntry{})
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("q"),
		Limit:      200,
		Descending: true,
	}
	if z := r.URL.Query().Get("zone"); z != "" {
		zone, err := strconv.Atoi(z)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_zone_id")
			return
		}
		params.Zone = zone
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = limit
	}

	entries := a.logs.Query(params)
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
