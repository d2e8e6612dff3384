/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mcache is the optional Redis-backed metadata cache: resolved
// track metadata and radio tune-in results. Redis being down never
// breaks playback; the cache trips a circuit breaker and callers fall
// through to the provider.
package mcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

const (
	// DefaultMetadataTTL covers resolved track metadata.
	DefaultMetadataTTL = time.Hour
	// DefaultRadioTTL covers tune-in URL resolutions, which rotate.
	DefaultRadioTTL = 10 * time.Minute

	keyMetadata = "bragi:cache:meta:"  // + canonical audiopath
	keyRadioURL = "bragi:cache:radio:" // + station id

	// breakerCooldown is how long the cache stays disabled after a
	// Redis error before probing again.
	breakerCooldown = 30 * time.Second
)

// Config tunes the cache connection.
type Config struct {
	Addr     string
	Password string
	DB       int

	MetadataTTL time.Duration
	RadioTTL    time.Duration
}

// Cache is the Redis metadata cache. A nil *Cache is valid and caches
// nothing, so wiring stays unconditional.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu            sync.RWMutex
	disabledUntil time.Time
}

// New connects to Redis. An unreachable Redis yields a disabled cache,
// not an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = DefaultMetadataTTL
	}
	if cfg.RadioTTL <= 0 {
		cfg.RadioTTL = DefaultRadioTTL
	}
	c := &Cache{
		logger: logger.With().Str("component", "mcache").Logger(),
		config: cfg,
	}
	if cfg.Addr == "" {
		return c
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis unavailable, metadata cache disabled")
		c.trip()
		return c
	}
	c.logger.Info().Str("addr", cfg.Addr).Msg("metadata cache connected")
	return c
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) available() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().After(c.disabledUntil)
}

func (c *Cache) trip() {
	c.mu.Lock()
	c.disabledUntil = time.Now().Add(breakerCooldown)
	c.mu.Unlock()
}

// GetMetadata returns cached track metadata for a canonical audiopath.
func (c *Cache) GetMetadata(ctx context.Context, canonical string) (*models.TrackMetadata, bool) {
	if !c.available() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, keyMetadata+canonical).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Msg("cache get failed")
			c.trip()
		}
		return nil, false
	}
	var meta models.TrackMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false
	}
	return &meta, true
}

// SetMetadata stores resolved track metadata.
func (c *Cache) SetMetadata(ctx context.Context, canonical string, meta models.TrackMetadata) {
	if !c.available() {
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyMetadata+canonical, raw, c.config.MetadataTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("cache set failed")
		c.trip()
	}
}

// GetRadioURL returns a cached tune-in resolution.
func (c *Cache) GetRadioURL(ctx context.Context, stationID string) (string, bool) {
	if !c.available() {
		return "", false
	}
	url, err := c.client.Get(ctx, keyRadioURL+stationID).Result()
	if err != nil {
		if err != redis.Nil {
			c.trip()
		}
		return "", false
	}
	return url, url != ""
}

// SetRadioURL stores a tune-in resolution.
func (c *Cache) SetRadioURL(ctx context.Context, stationID, url string) {
	if !c.available() {
		return
	}
	if err := c.client.Set(ctx, keyRadioURL+stationID, url, c.config.RadioTTL).Err(); err != nil {
		c.trip()
	}
}

// Invalidate drops a single metadata entry, used when a library rescan
// rewrites a track.
func (c *Cache) Invalidate(ctx context.Context, canonical string) {
	if !c.available() {
		return
	}
	c.client.Del(ctx, keyMetadata+canonical)
}
