/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi/internal/models"
)

type groupRequest struct {
	ID         string `json:"id,omitempty"`
	Backend    string `json:"backend"`
	LeaderZone int    `json:"leader"`
	Members    []int  `json:"members"`
	ExternalID string `json:"external_id,omitempty"`
}

func (a *API) handleGroupsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.tracker.List())
}

func (a *API) handleGroupSet(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.LeaderZone <= 0 {
		writeError(w, http.StatusBadRequest, "leader_required")
		return
	}

	rec, err := a.tracker.SetGroup(models.GroupRecord{
		ID:         req.ID,
		Backend:    req.Backend,
		LeaderZone: req.LeaderZone,
		Members:    req.Members,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		writeError(w, http.StatusConflict, "group_rejected")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	if !a.tracker.RemoveGroup(chi.URLParam(r, "groupID")) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleGroupLeave(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	if !a.tracker.RemoveZone(zoneID) {
		writeError(w, http.StatusNotFound, "not_grouped")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (a *API) handleDevicesList(w http.ResponseWriter, r *http.Request) {
	if a.discovery == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, a.discovery.Devices())
}
