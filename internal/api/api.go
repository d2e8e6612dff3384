/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the HTTP admin surface: zone playback control, queue
// inspection, zone topology, favorites, radios, alert rules, groups and
// the WebSocket event feed. Output devices additionally pull their
// encoded audio from the unauthenticated /stream endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/auth"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/content"
	"github.com/friendsincode/bragi/internal/coverart"
	"github.com/friendsincode/bragi/internal/discovery"
	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/logbuffer"
	"github.com/friendsincode/bragi/internal/notify"
	"github.com/friendsincode/bragi/internal/playback"
	"github.com/friendsincode/bragi/internal/storage"
	"github.com/friendsincode/bragi/internal/version"
	"github.com/friendsincode/bragi/internal/zone"
	"github.com/friendsincode/bragi/internal/zonecfg"
)

// API exposes HTTP handlers.
type API struct {
	cfg         *config.Config
	logger      zerolog.Logger
	coordinator *playback.Coordinator
	zones       *zone.Repository
	store       *storage.Service
	content     *content.Service
	zonecfg     *zonecfg.Manager
	tracker     *group.Tracker
	hub         *notify.Hub
	engine      *engine.Engine
	covers      *coverart.Store
	discovery   *discovery.Browser
	bus         *events.Bus
	logs        *logbuffer.Buffer
	updates     *version.Checker
	jwtSecret   []byte
	scanning    atomic.Bool
}

// Deps carries the collaborators of the API.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Coordinator *playback.Coordinator
	Zones       *zone.Repository
	Store       *storage.Service
	Content     *content.Service
	ZoneConfig  *zonecfg.Manager
	Tracker     *group.Tracker
	Hub         *notify.Hub
	Engine      *engine.Engine
	Covers      *coverart.Store
	Discovery   *discovery.Browser // nil when discovery is disabled
	Bus         *events.Bus
	Logs        *logbuffer.Buffer // nil when log capture is off
	Updates     *version.Checker
}

// New creates the API router wrapper.
func New(d Deps) *API {
	return &API{
		cfg:         d.Config,
		logger:      d.Logger.With().Str("component", "api").Logger(),
		coordinator: d.Coordinator,
		zones:       d.Zones,
		store:       d.Store,
		content:     d.Content,
		zonecfg:     d.ZoneConfig,
		tracker:     d.Tracker,
		hub:         d.Hub,
		engine:      d.Engine,
		covers:      d.Covers,
		discovery:   d.Discovery,
		bus:         d.Bus,
		logs:        d.Logs,
		updates:     d.Updates,
		jwtSecret:   []byte(d.Config.JWTSigningKey),
	}
}

// Routes mounts API routes on the provided router. The stream and cover
// endpoints live outside /api/v1 because device renderers fetch them
// without credentials.
func (a *API) Routes(r chi.Router) {
	r.Get("/stream/{stream}", a.handleStream)
	r.Get("/coverart/{key}", a.covers.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/zones", func(r chi.Router) {
				r.Get("/", a.handleZonesList)
				r.Route("/{zoneID}", func(r chi.Router) {
					r.Get("/", a.handleZoneState)
					r.Get("/queue", a.handleZoneQueue)
					r.Get("/recents", a.handleZoneRecents)
					r.Post("/play", a.handleZonePlay)
					r.Post("/stop", a.handleZoneStop)
					r.Post("/seek", a.handleZoneSeek)
					r.Post("/alert", a.handleZoneAlert)
					r.Post("/command/{command}", a.handleZoneCommand)
				})
			})

			pr.Route("/config/zones", func(r chi.Router) {
				r.Get("/", a.handleZoneDefsList)
				r.With(a.requireRoles(auth.RoleAdmin)).Put("/{zoneID}", a.handleZoneDefPut)
				r.With(a.requireRoles(auth.RoleAdmin)).Delete("/{zoneID}", a.handleZoneDefDelete)
			})

			pr.Route("/favorites", func(r chi.Router) {
				r.Get("/", a.handleFavoritesList)
				r.Put("/{slot}", a.handleFavoriteSave)
				r.Delete("/{slot}", a.handleFavoriteDelete)
			})

			pr.Route("/radios", func(r chi.Router) {
				r.Get("/", a.handleRadiosList)
				r.With(a.requireRoles(auth.RoleAdmin)).Post("/", a.handleRadioSave)
				r.With(a.requireRoles(auth.RoleAdmin)).Delete("/{radioID}", a.handleRadioDelete)
			})

			pr.Route("/alerts", func(r chi.Router) {
				r.Get("/", a.handleAlertRulesList)
				r.With(a.requireRoles(auth.RoleAdmin)).Post("/", a.handleAlertRuleSave)
				r.With(a.requireRoles(auth.RoleAdmin)).Delete("/{ruleID}", a.handleAlertRuleDelete)
			})

			pr.Route("/groups", func(r chi.Router) {
				r.Get("/", a.handleGroupsList)
				r.Post("/", a.handleGroupSet)
				r.Delete("/{groupID}", a.handleGroupDelete)
				r.Delete("/zones/{zoneID}", a.handleGroupLeave)
			})

			pr.Get("/library/folders", a.handleLibraryFolder)
			pr.With(a.requireRoles(auth.RoleAdmin)).Post("/library/scan", a.handleLibraryScan)
			pr.Get("/devices", a.handleDevicesList)
			pr.Get("/version", a.handleVersion)
			pr.With(a.requireRoles(auth.RoleAdmin)).Get("/logs", a.handleLogs)
			pr.Get("/events", a.handleEventsWS)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

func (a *API) requireRoles(allowed ...string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (a *API) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	a.hub.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
