/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/playback"
)

type playRequest struct {
	URI        string `json:"uri"`
	Type       string `json:"type,omitempty"`
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	Station    string `json:"station,omitempty"`
	Cover      string `json:"cover,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	StartIndex *int   `json:"start_index,omitempty"`
	SeekMs     int64  `json:"seek_ms,omitempty"`
	Volume     int    `json:"volume,omitempty"`
	NoShuffle  bool   `json:"no_shuffle,omitempty"`
}

type seekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

type commandRequest struct {
	Payload string `json:"payload,omitempty"`
}

type alertRequest struct {
	Sound  string `json:"sound"`
	Volume int    `json:"volume,omitempty"`
}

func zoneParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "zoneID"))
	return id, err == nil && id > 0
}

func (a *API) handleZonesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.zones.Snapshots(r.Context()))
}

func (a *API) handleZoneState(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	st, err := a.coordinator.Snapshot(r.Context(), zoneID)
	if err != nil {
		writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleZoneQueue(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	items, total, err := a.coordinator.GetQueue(r.Context(), zoneID, start, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"start": start,
		"total": total,
	})
}

func (a *API) handleZonePlay(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri_required")
		return
	}

	var meta *models.TrackMetadata
	if req.Title != "" || req.Artist != "" || req.Station != "" {
		meta = &models.TrackMetadata{
			Title:      req.Title,
			Artist:     req.Artist,
			Album:      req.Album,
			Station:    req.Station,
			Cover:      req.Cover,
			DurationMs: req.DurationMs,
		}
	}

	opts := playback.DefaultPlayOptions()
	if req.StartIndex != nil {
		opts.StartIndex = *req.StartIndex
	}
	opts.SeekMs = req.SeekMs
	opts.Volume = req.Volume
	opts.NoShuffle = req.NoShuffle

	if err := a.coordinator.PlayContent(r.Context(), zoneID, req.URI, req.Type, meta, opts); err != nil {
		a.logger.Warn().Err(err).Int("zone", zoneID).Str("uri", req.URI).Msg("play request failed")
		writeError(w, http.StatusBadGateway, "playback_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "playing"})
}

func (a *API) handleZoneStop(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	if err := a.coordinator.StopZone(r.Context(), zoneID, "api_stop"); err != nil {
		writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *API) handleZoneSeek(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.PositionMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_position")
		return
	}
	if err := a.coordinator.Seek(r.Context(), zoneID, req.PositionMs); err != nil {
		writeError(w, http.StatusConflict, "seek_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleZoneCommand(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	command := chi.URLParam(r, "command")

	// The payload body is optional; "volume" style commands carry one.
	var req commandRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := a.coordinator.HandleCommand(r.Context(), zoneID, command, req.Payload); err != nil {
		a.logger.Warn().Err(err).Int("zone", zoneID).Str("command", command).Msg("command failed")
		writeError(w, http.StatusConflict, "command_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleZoneAlert(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Sound == "" {
		writeError(w, http.StatusBadRequest, "sound_required")
		return
	}
	if err := a.coordinator.TriggerAlert(r.Context(), zoneID, req.Sound, req.Volume); err != nil {
		writeError(w, http.StatusBadGateway, "alert_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "alerting"})
}

func (a *API) handleZoneRecents(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	recents, err := a.store.ListRecents(r.Context(), zoneID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, recents)
}
