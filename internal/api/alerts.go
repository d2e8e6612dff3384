/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi/internal/alerts"
	"github.com/friendsincode/bragi/internal/models"
)

type alertRuleRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	CronExpr string `json:"cron_expr"`
	Sound    string `json:"sound"`
	Zones    []int  `json:"zones"`
	Volume   int    `json:"volume,omitempty"`
	Enabled  bool   `json:"enabled"`
}

func (a *API) handleAlertRulesList(w http.ResponseWriter, r *http.Request) {
	rules, err := a.store.ListAlertRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) handleAlertRuleSave(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" || req.Sound == "" {
		writeError(w, http.StatusBadRequest, "name_and_sound_required")
		return
	}
	if len(req.Zones) == 0 {
		writeError(w, http.StatusBadRequest, "zones_required")
		return
	}
	if err := alerts.ValidateCronExpr(req.CronExpr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cron_expr")
		return
	}

	rule, err := a.store.SaveAlertRule(r.Context(), models.AlertRule{
		ID:       req.ID,
		Name:     req.Name,
		CronExpr: req.CronExpr,
		Sound:    req.Sound,
		Zones:    req.Zones,
		Volume:   req.Volume,
		Enabled:  req.Enabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleAlertRuleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if _, err := a.store.GetAlertRule(r.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := a.store.DeleteAlertRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
