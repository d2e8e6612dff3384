package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/auth"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/coverart"
	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/notify"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/playback"
	"github.com/friendsincode/bragi/internal/zone"
	"github.com/friendsincode/bragi/internal/zonecfg"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{
		JWTSigningKey:   "test-secret",
		ZoneConfig:      filepath.Join(t.TempDir(), "zones.json"),
		HandoffTimeout:  time.Second,
		DispatchTimeout: time.Second,
	}

	bus := events.NewBus()
	zones := zone.NewRepository(logger)
	eng := engine.New(cfg, logger)
	router := output.NewRouter(cfg.DispatchTimeout, logger)
	tracker := group.NewTracker(logger)
	hub := notify.NewHub(logger, nil)
	covers, err := coverart.NewStore(t.TempDir(), "http://127.0.0.1:7091", logger)
	if err != nil {
		t.Fatalf("cover store: %v", err)
	}

	coordinator := playback.New(playback.Deps{
		Config:   cfg,
		Logger:   logger,
		Zones:    zones,
		Engine:   eng,
		Router:   router,
		Notifier: hub,
		Tracker:  tracker,
		Bus:      bus,
	})
	factory := output.NewFactory(cfg, nil, nil, nil, nil, nil, logger)
	manager := zonecfg.NewManager(cfg.ZoneConfig, zones, factory, nil, coordinator.ShutdownHook(), logger)

	a := New(Deps{
		Config:      cfg,
		Logger:      logger,
		Coordinator: coordinator,
		Zones:       zones,
		ZoneConfig:  manager,
		Tracker:     tracker,
		Hub:         hub,
		Engine:      eng,
		Covers:      covers,
		Bus:         bus,
	})

	r := chi.NewRouter()
	a.Routes(r)
	return a, r
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := auth.Issue([]byte("test-secret"), auth.Claims{Name: "test", Roles: roles}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func doReq(t *testing.T, h http.Handler, method, target, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthIsPublic(t *testing.T) {
	_, h := newTestAPI(t)
	rr := doReq(t, h, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d", rr.Code)
	}
}

func TestZonesRequireAuth(t *testing.T) {
	_, h := newTestAPI(t)
	rr := doReq(t, h, http.MethodGet, "/api/v1/zones", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated zones = %d, want 401", rr.Code)
	}
}

func TestZonesListEmpty(t *testing.T) {
	_, h := newTestAPI(t)
	rr := doReq(t, h, http.MethodGet, "/api/v1/zones", token(t, auth.RoleController), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("zones = %d body=%s", rr.Code, rr.Body.String())
	}
	var states []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("expected no zones, got %d", len(states))
	}
}

func TestZoneStateBadID(t *testing.T) {
	_, h := newTestAPI(t)
	rr := doReq(t, h, http.MethodGet, "/api/v1/zones/abc", token(t, auth.RoleController), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad zone id = %d, want 400", rr.Code)
	}
}

func TestZoneConfigWriteNeedsAdminRole(t *testing.T) {
	_, h := newTestAPI(t)
	def := map[string]any{"id": 1, "name": "Kitchen", "outputs": []any{}}

	rr := doReq(t, h, http.MethodPut, "/api/v1/config/zones/1", token(t, auth.RoleController), def)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("controller config write = %d, want 403", rr.Code)
	}

	rr = doReq(t, h, http.MethodPut, "/api/v1/config/zones/1", token(t, auth.RoleAdmin), def)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin config write = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doReq(t, h, http.MethodGet, "/api/v1/config/zones", token(t, auth.RoleController), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("config list = %d", rr.Code)
	}
	var defs []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(defs) != 1 || defs[0]["name"] != "Kitchen" {
		t.Fatalf("defs = %v", defs)
	}
}

func TestGroupLifecycle(t *testing.T) {
	_, h := newTestAPI(t)
	admin := token(t, auth.RoleAdmin)

	rr := doReq(t, h, http.MethodPost, "/api/v1/groups", admin, map[string]any{
		"backend": "sendspin",
		"leader":  1,
		"members": []int{2, 3},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("group set = %d body=%s", rr.Code, rr.Body.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		t.Fatalf("group id missing: %v", rec)
	}

	rr = doReq(t, h, http.MethodGet, "/api/v1/groups", admin, nil)
	var list []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("groups = %d, want 1", len(list))
	}

	rr = doReq(t, h, http.MethodDelete, "/api/v1/groups/"+id, admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("group delete = %d", rr.Code)
	}
	rr = doReq(t, h, http.MethodDelete, "/api/v1/groups/"+id, admin, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete = %d, want 404", rr.Code)
	}
}

func TestStreamWithoutSessionIs404(t *testing.T) {
	_, h := newTestAPI(t)
	rr := doReq(t, h, http.MethodGet, "/stream/9.mp3", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("stream = %d, want 404", rr.Code)
	}
}

func TestDevicesWithoutDiscovery(t *testing.T) {
	_, h := newTestAPI(t)
	rr := doReq(t, h, http.MethodGet, "/api/v1/devices", token(t, auth.RoleController), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("devices = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "[]\n" {
		t.Fatalf("devices body = %q", got)
	}
}
