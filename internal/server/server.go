/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server assembles the daemon: database, playback core, output
// transports, input adapters, background workers and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi/internal/alerts"
	"github.com/friendsincode/bragi/internal/api"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/content"
	"github.com/friendsincode/bragi/internal/coverart"
	"github.com/friendsincode/bragi/internal/db"
	"github.com/friendsincode/bragi/internal/discovery"
	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/eventbus"
	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/inputs"
	"github.com/friendsincode/bragi/internal/logbuffer"
	"github.com/friendsincode/bragi/internal/mcache"
	"github.com/friendsincode/bragi/internal/notify"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/playback"
	"github.com/friendsincode/bragi/internal/sendspin"
	"github.com/friendsincode/bragi/internal/slimproto"
	"github.com/friendsincode/bragi/internal/snapcast"
	"github.com/friendsincode/bragi/internal/storage"
	"github.com/friendsincode/bragi/internal/telemetry"
	"github.com/friendsincode/bragi/internal/upnp"
	"github.com/friendsincode/bragi/internal/version"
	"github.com/friendsincode/bragi/internal/zone"
	"github.com/friendsincode/bragi/internal/zonecfg"
)

// groupBackends are the driver families with a grouping coordinator.
var groupBackends = []string{"airplay", "snapcast", "slimproto", "sendspin", "sonos"}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	bus         *events.Bus
	mcache      *mcache.Cache
	store       *storage.Service
	content     *content.Service
	engine      *engine.Engine
	outRouter   *output.Router
	factory     *output.Factory
	zones       *zone.Repository
	coordinator *playback.Coordinator
	inputs      *inputs.Manager
	hub         *notify.Hub
	covers      *coverart.Store
	zonecfg     *zonecfg.Manager
	tracker     *group.Tracker
	discovery   *discovery.Browser
	alerts      *alerts.Scheduler
	mirror      *eventbus.Mirror
	sendspin    *sendspin.Server
	slimproto   *slimproto.Server
	snapcast    *snapcast.Conn
	api         *api.API
	logs        *logbuffer.Buffer
	updates     *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logs may be nil
// when the caller does not capture log output.
func New(cfg *config.Config, logger zerolog.Logger, logs *logbuffer.Buffer) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("bragi-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket and audio stream connections.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.URL.Path, "/stream/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
		logs:   logs,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	if err := srv.zonecfg.LoadAndApply(context.Background()); err != nil {
		srv.stopBackgroundWorkers()
		return nil, fmt.Errorf("install zone config: %w", err)
	}

	srv.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: srv.router,
		// Keep a header deadline against slowloris; no full-body read or
		// write deadline so the long-running audio streams survive.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis metadata cache; a nil cache is valid and caches nothing.
	if s.cfg.RedisAddr != "" {
		s.mcache = mcache.New(mcache.Config{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		}, s.logger)
		s.DeferClose(func() error { return s.mcache.Close() })
	}

	s.store = storage.NewService(database, s.bus, s.logger)
	s.content = content.NewService(s.cfg, database, s.store, s.mcache, s.logger)

	s.engine = engine.New(s.cfg, s.logger)
	s.outRouter = output.NewRouter(s.cfg.DispatchTimeout, s.logger)
	s.tracker = group.NewTracker(s.logger)

	coordinators := make(map[string]*group.Coordinator, len(groupBackends))
	for _, backend := range groupBackends {
		coordinators[backend] = group.NewCoordinator(backend, s.tracker, s.logger)
	}

	// Shared output transports. The protocol listeners start in the
	// background workers; the snapcast connection dials lazily.
	if s.cfg.SnapcastAddr != "" {
		s.snapcast = snapcast.New(s.cfg.SnapcastAddr, s.logger)
		s.DeferClose(func() error { return s.snapcast.Close() })
	}
	s.slimproto = slimproto.NewServer(s.logger)
	s.sendspin = sendspin.NewServer("Bragi", uuid.NewString(), s.logger)
	soap := upnp.NewClient(s.cfg.DispatchTimeout)

	s.factory = output.NewFactory(s.cfg, s.snapcast, s.slimproto, s.sendspin, soap, coordinators, s.logger)
	s.zones = zone.NewRepository(s.logger)

	s.hub = notify.NewHub(s.logger, func(delta int) {
		telemetry.APIWebSocketConnections.Add(float64(delta))
	})

	s.coordinator = playback.New(playback.Deps{
		Config:   s.cfg,
		Logger:   s.logger,
		Zones:    s.zones,
		Engine:   s.engine,
		Router:   s.outRouter,
		Content:  s.content,
		Notifier: s.hub,
		Recents:  s.store,
		Tracker:  s.tracker,
		Bus:      s.bus,
	})

	// The input manager and the coordinator reference each other; the
	// manager gets the coordinator as sink, then is bound back.
	s.inputs = inputs.NewManager(s.cfg, s.coordinator, s.logger)
	s.coordinator.BindInputs(s.inputs)
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.inputs.Close(ctx)
	})

	baseURL := s.cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://" + s.cfg.HTTPAddr()
	}
	covers, err := coverart.NewStore(s.cfg.CoverCacheDir, baseURL, s.logger)
	if err != nil {
		return fmt.Errorf("cover store: %w", err)
	}
	s.covers = covers
	s.coordinator.SetCoverStore(covers)

	s.zonecfg = zonecfg.NewManager(s.cfg.ZoneConfig, s.zones, s.factory, s.inputs, s.coordinator.ShutdownHook(), s.logger)

	if s.cfg.DiscoveryEnabled {
		s.discovery = discovery.NewBrowser(s.logger)
	}

	s.alerts = alerts.NewScheduler(s.store, s.coordinator, s.bus, s.logger)
	s.updates = version.NewChecker(s.logger)

	if s.cfg.NATSUrl != "" {
		mirror, err := eventbus.NewMirror(s.cfg.NATSUrl, s.cfg.NATSSubjectPrefix, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("nats mirror: %w", err)
		}
		s.mirror = mirror
	}

	// Group changes fan out to the event bus and the notifier hub.
	s.tracker.OnChange(func(ev group.ChangeEvent) {
		switch ev.Kind {
		case group.ChangeNew:
			s.bus.Publish(events.EventGroupStart, groupPayload(ev))
		case group.ChangeRemove:
			s.bus.Publish(events.EventGroupEnd, groupPayload(ev))
		default:
			s.bus.Publish(events.EventGroupUpdate, groupPayload(ev))
		}
		members := ev.Record.Members
		if ev.Kind == group.ChangeRemove {
			members = nil
		}
		s.hub.GroupChanged(ev.Record.ID, members)
	})

	s.api = api.New(api.Deps{
		Config:      s.cfg,
		Logger:      s.logger,
		Coordinator: s.coordinator,
		Zones:       s.zones,
		Store:       s.store,
		Content:     s.content,
		ZoneConfig:  s.zonecfg,
		Tracker:     s.tracker,
		Hub:         s.hub,
		Engine:      s.engine,
		Covers:      s.covers,
		Discovery:   s.discovery,
		Bus:         s.bus,
		Logs:        s.logs,
		Updates:     s.updates,
	})

	return nil
}

func groupPayload(ev group.ChangeEvent) events.Payload {
	return events.Payload{
		"group_id": ev.Record.ID,
		"backend":  ev.Record.Backend,
		"leader":   ev.Record.LeaderZone,
		"members":  ev.Record.Members,
		"added":    ev.Added,
		"removed":  ev.Removed,
	}
}

// HTTPServer exposes the configured listener for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	// Stop every zone inside its serializer, then kill the pipelines.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.zones.Shutdown(ctx, s.coordinator.ShutdownHook()); err != nil {
		s.logger.Error().Err(err).Msg("zone shutdown reported errors")
	}
	cancel()
	s.engine.StopAll()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.updates.Start(ctx)

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.slimproto.Listen(ctx, s.cfg.SlimprotoPort); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("slimproto listener exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.sendspin.Listen(ctx, s.cfg.SendspinPort); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("sendspin listener exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.alerts.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("alert scheduler exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.zonecfg.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("zone config watcher exited")
		}
	}()

	if s.discovery != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.discovery.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("discovery browser exited")
			}
		}()
	}

	if s.mirror != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.mirror.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event mirror exited")
			}
		}()
	}

	// Index the music library at startup, then rescan periodically.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		scan := func() {
			if _, err := s.content.Library().Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("library scan failed")
			}
		}
		scan()
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scan()
			}
		}
	}()

	// Cover cache sweeper and connection pool metrics.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		sweep := time.NewTicker(time.Hour)
		metrics := time.NewTicker(30 * time.Second)
		defer sweep.Stop()
		defer metrics.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				s.covers.Sweep()
			case <-metrics.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Bridge storage cache events to connected controllers.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runCacheEventBridge(ctx)
	}()
}

// runCacheEventBridge forwards favorites/recents changes from the bus to
// the WebSocket hub so controllers refresh without polling.
func (s *Server) runCacheEventBridge(ctx context.Context) {
	favorites := s.bus.Subscribe(events.EventFavoritesUpdated)
	recents := s.bus.Subscribe(events.EventRecentsUpdated)
	defer s.bus.Unsubscribe(events.EventFavoritesUpdated, favorites)
	defer s.bus.Unsubscribe(events.EventRecentsUpdated, recents)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-favorites:
			s.hub.FavoritesChanged(payloadZone(payload))
		case payload := <-recents:
			s.hub.RecentsChanged(payloadZone(payload))
		}
	}
}

// payloadZone digs the zone id out of a bus payload; 0 means global.
func payloadZone(payload events.Payload) int {
	switch v := payload["zone_id"].(type) {
	case int:
		return v
	case *int:
		if v != nil {
			return *v
		}
	case float64:
		return int(v)
	}
	return 0
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
