/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
// Per-zone topology lives in the zone config file, not here.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	BaseURL       string // Public base URL (e.g., http://192.168.1.50:7091)
	DBBackend     DatabaseBackend
	DBDSN         string
	DataDir       string // State root: zone config, cover cache, alert sounds
	MusicRoot     string // Local library root scanned by the library provider
	ZoneConfig    string // Path to zones.json
	AlertSoundDir string
	CoverCacheDir string
	FFmpegBin     string
	JWTSigningKey string

	// Playback tuning
	HandoffTimeout  time.Duration // Max wait for the first encoded chunk of a new pipeline
	DispatchTimeout time.Duration // Per-output budget for a routed command

	// Protocol listeners
	SendspinPort  int    // WebSocket streaming clients
	SlimprotoPort int    // Squeezelite/SlimProto players
	SnapcastAddr  string // JSON-RPC address of a snapserver, empty disables

	// Input adapters
	AirplayReceiverBin string // shairport-sync compatible receiver binary
	LineInDevice       string // ALSA capture device for the line-in input
	MusicAssistantURL  string // Music Assistant server, empty disables

	// Service discovery
	DiscoveryEnabled bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis metadata cache (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event mirror (optional)
	NATSUrl           string
	NATSSubjectPrefix string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"BRAGI_ENV", "AUDIOSRV_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"BRAGI_HTTP_BIND", "AUDIOSRV_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"BRAGI_HTTP_PORT", "AUDIOSRV_HTTP_PORT"}, 7091),
		BaseURL:       getEnvAny([]string{"BRAGI_BASE_URL", "AUDIOSRV_BASE_URL"}, ""),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"BRAGI_DB_BACKEND", "AUDIOSRV_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"BRAGI_DB_DSN", "AUDIOSRV_DB_DSN"}, ""),
		DataDir:       getEnvAny([]string{"BRAGI_DATA_DIR", "AUDIOSRV_DATA_DIR"}, "./data"),
		MusicRoot:     getEnvAny([]string{"BRAGI_MUSIC_ROOT", "AUDIOSRV_MUSIC_ROOT"}, ""),
		ZoneConfig:    getEnvAny([]string{"BRAGI_ZONE_CONFIG", "AUDIOSRV_ZONE_CONFIG"}, ""),
		AlertSoundDir: getEnvAny([]string{"BRAGI_ALERT_SOUND_DIR", "AUDIOSRV_ALERT_SOUND_DIR"}, ""),
		CoverCacheDir: getEnvAny([]string{"BRAGI_COVER_CACHE_DIR", "AUDIOSRV_COVER_CACHE_DIR"}, ""),
		FFmpegBin:     getEnvAny([]string{"BRAGI_FFMPEG_BIN", "AUDIOSRV_FFMPEG_BIN"}, "ffmpeg"),
		JWTSigningKey: getEnvAny([]string{"BRAGI_JWT_SIGNING_KEY", "AUDIOSRV_JWT_SIGNING_KEY"}, ""),

		HandoffTimeout:  time.Duration(getEnvIntAny([]string{"BRAGI_HANDOFF_TIMEOUT_MS", "AUDIOSRV_HANDOFF_TIMEOUT_MS"}, 8000)) * time.Millisecond,
		DispatchTimeout: time.Duration(getEnvIntAny([]string{"BRAGI_DISPATCH_TIMEOUT_MS", "AUDIOSRV_DISPATCH_TIMEOUT_MS"}, 2000)) * time.Millisecond,

		SendspinPort:  getEnvIntAny([]string{"BRAGI_SENDSPIN_PORT", "AUDIOSRV_SENDSPIN_PORT"}, 8927),
		SlimprotoPort: getEnvIntAny([]string{"BRAGI_SLIMPROTO_PORT", "AUDIOSRV_SLIMPROTO_PORT"}, 3483),
		SnapcastAddr:  getEnvAny([]string{"BRAGI_SNAPCAST_ADDR", "AUDIOSRV_SNAPCAST_ADDR"}, ""),

		AirplayReceiverBin: getEnvAny([]string{"BRAGI_AIRPLAY_RECEIVER_BIN", "AUDIOSRV_AIRPLAY_RECEIVER_BIN"}, "shairport-sync"),
		LineInDevice:       getEnvAny([]string{"BRAGI_LINEIN_DEVICE", "AUDIOSRV_LINEIN_DEVICE"}, "default"),
		MusicAssistantURL:  getEnvAny([]string{"BRAGI_MUSICASSISTANT_URL", "AUDIOSRV_MUSICASSISTANT_URL"}, ""),

		DiscoveryEnabled: getEnvBoolAny([]string{"BRAGI_DISCOVERY_ENABLED", "AUDIOSRV_DISCOVERY_ENABLED"}, true),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"BRAGI_TRACING_ENABLED", "AUDIOSRV_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BRAGI_OTLP_ENDPOINT", "AUDIOSRV_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BRAGI_TRACING_SAMPLE_RATE", "AUDIOSRV_TRACING_SAMPLE_RATE"}, 1.0),

		// Redis metadata cache
		RedisAddr:     getEnvAny([]string{"BRAGI_REDIS_ADDR", "AUDIOSRV_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"BRAGI_REDIS_PASSWORD", "AUDIOSRV_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"BRAGI_REDIS_DB", "AUDIOSRV_REDIS_DB"}, 0),

		// NATS event mirror
		NATSUrl:           getEnvAny([]string{"BRAGI_NATS_URL", "AUDIOSRV_NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"BRAGI_NATS_SUBJECT_PREFIX", "AUDIOSRV_NATS_SUBJECT_PREFIX"}, "bragi"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	// Paths default relative to the data dir so a bare daemon needs no env at all.
	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("BRAGI_DB_DSN must be provided for backend %q", cfg.DBBackend)
		}
		cfg.DBDSN = filepath.Join(cfg.DataDir, "bragi.db")
	}
	if cfg.ZoneConfig == "" {
		cfg.ZoneConfig = filepath.Join(cfg.DataDir, "zones.json")
	}
	if cfg.AlertSoundDir == "" {
		cfg.AlertSoundDir = filepath.Join(cfg.DataDir, "alerts")
	}
	if cfg.CoverCacheDir == "" {
		cfg.CoverCacheDir = filepath.Join(cfg.DataDir, "covers")
	}
	if cfg.MusicRoot == "" {
		cfg.MusicRoot = filepath.Join(cfg.DataDir, "music")
	}

	if cfg.JWTSigningKey == "" {
		if strings.EqualFold(cfg.Environment, "production") {
			return nil, fmt.Errorf("BRAGI_JWT_SIGNING_KEY or AUDIOSRV_JWT_SIGNING_KEY must be provided in production")
		}
		cfg.JWTSigningKey = "bragi-development-only"
	}

	if cfg.HandoffTimeout <= 0 {
		return nil, fmt.Errorf("BRAGI_HANDOFF_TIMEOUT_MS must be positive")
	}
	if cfg.DispatchTimeout <= 0 {
		return nil, fmt.Errorf("BRAGI_DISPATCH_TIMEOUT_MS must be positive")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use BRAGI_ENV (or AUDIOSRV_ENV)",
		"JWT_SIGNING_KEY": "use BRAGI_JWT_SIGNING_KEY (or AUDIOSRV_JWT_SIGNING_KEY)",
		"TRACING_ENABLED": "use BRAGI_TRACING_ENABLED (or AUDIOSRV_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use BRAGI_OTLP_ENDPOINT (or AUDIOSRV_OTLP_ENDPOINT)",
		"FFMPEG_BIN":      "use BRAGI_FFMPEG_BIN (or AUDIOSRV_FFMPEG_BIN)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the bind address for the HTTP listener.
func (c *Config) HTTPAddr() string {
	return c.HTTPBind + ":" + strconv.Itoa(c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
