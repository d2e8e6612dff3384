/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/storage"
)

type favoriteRequest struct {
	ZoneID    *int   `json:"zone_id,omitempty"` // nil saves a global favorite
	Title     string `json:"title"`
	Audiopath string `json:"audiopath"`
	Cover     string `json:"cover,omitempty"`
	AudioType string `json:"audiotype,omitempty"`
}

type radioRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Cover string `json:"cover,omitempty"`
}

// zoneQuery reads the optional ?zone= scope of favorites endpoints.
func zoneQuery(r *http.Request) (*int, bool) {
	raw := r.URL.Query().Get("zone")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

func (a *API) handleFavoritesList(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone")
		return
	}
	favs, err := a.store.ListFavorites(r.Context(), zoneID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

func (a *API) handleFavoriteSave(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot")
		return
	}
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Audiopath == "" {
		writeError(w, http.StatusBadRequest, "audiopath_required")
		return
	}

	fav, err := a.store.SaveFavorite(r.Context(), models.Favorite{
		ZoneID:    req.ZoneID,
		Slot:      slot,
		Title:     req.Title,
		Audiopath: req.Audiopath,
		Cover:     req.Cover,
		AudioType: models.AudioType(req.AudioType),
	})
	if errors.Is(err, storage.ErrSlotOutOfRange) {
		writeError(w, http.StatusBadRequest, "slot_out_of_range")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, fav)
}

func (a *API) handleFavoriteDelete(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot")
		return
	}
	zoneID, ok := zoneQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone")
		return
	}
	if err := a.store.DeleteFavorite(r.Context(), zoneID, slot); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleRadiosList(w http.ResponseWriter, r *http.Request) {
	radios, err := a.store.ListRadios(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, radios)
}

func (a *API) handleRadioSave(w http.ResponseWriter, r *http.Request) {
	var req radioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name_and_url_required")
		return
	}

	radio, err := a.store.SaveRadio(r.Context(), models.CustomRadio{
		ID:    req.ID,
		Name:  req.Name,
		URL:   req.URL,
		Cover: req.Cover,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, radio)
}

func (a *API) handleRadioDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteRadio(r.Context(), chi.URLParam(r, "radioID")); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleLibraryFolder pages through one folder of the local library,
// mirroring the container browsing controllers use to build play URIs.
func (a *API) handleLibraryFolder(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("id")
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	items, total, err := a.content.GetMediaFolder(r.Context(), folderID, offset, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "folder_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"offset": offset,
		"total":  total,
	})
}

// handleLibraryScan kicks off a rescan of the music root. The scan runs
// detached; one at a time.
func (a *API) handleLibraryScan(w http.ResponseWriter, r *http.Request) {
	if !a.scanning.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "scan_in_progress")
		return
	}
	go func() {
		defer a.scanning.Store(false)
		if _, err := a.content.Library().Scan(context.Background()); err != nil {
			a.logger.Error().Err(err).Msg("library scan failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}
