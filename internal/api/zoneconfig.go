/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/zonecfg"
)

// Zone topology edits go through zonecfg.Manager.Update so the file on
// disk, the watcher and the live repository stay in lockstep.

func (a *API) handleZoneDefsList(w http.ResponseWriter, r *http.Request) {
	f, err := zonecfg.Load(a.cfg.ZoneConfig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "zone_config_unreadable")
		return
	}
	writeJSON(w, http.StatusOK, f.Zones)
}

func (a *API) handleZoneDefPut(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}
	var def models.ZoneDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if def.ID == 0 {
		def.ID = zoneID
	}
	if def.ID != zoneID {
		writeError(w, http.StatusBadRequest, "zone_id_mismatch")
		return
	}

	err := a.zonecfg.Update(r.Context(), func(f *zonecfg.File) error {
		for i := range f.Zones {
			if f.Zones[i].ID == zoneID {
				f.Zones[i] = def
				return nil
			}
		}
		f.Zones = append(f.Zones, def)
		return nil
	})
	if err != nil {
		a.logger.Warn().Err(err).Int("zone", zoneID).Msg("zone definition update rejected")
		writeError(w, http.StatusUnprocessableEntity, "zone_config_invalid")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (a *API) handleZoneDefDelete(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := zoneParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_zone_id")
		return
	}

	err := a.zonecfg.Update(r.Context(), func(f *zonecfg.File) error {
		kept := f.Zones[:0]
		found := false
		for _, def := range f.Zones {
			if def.ID == zoneID {
				found = true
				continue
			}
			kept = append(kept, def)
		}
		if !found {
			return fmt.Errorf("zone %d not configured", zoneID)
		}
		f.Zones = kept
		return nil
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "zone_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
