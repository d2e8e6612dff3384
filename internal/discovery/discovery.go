/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package discovery browses mDNS for renderable devices on the LAN so
// the admin surface can offer them when building zone configs. Results
// are advisory; zones reference devices by address, not by discovery.
package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// browseWindow is how long one sweep listens per service type.
const browseWindow = 6 * time.Second

// sweepInterval spaces periodic re-sweeps.
const sweepInterval = 5 * time.Minute

// deviceTTL expires devices that stopped announcing.
const deviceTTL = 15 * time.Minute

// Device is one discovered renderer.
type Device struct {
	Kind     string            `json:"kind"` // airplay, cast, sonos
	Name     string            `json:"name"`
	Host     string            `json:"host"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	TXT      map[string]string `json:"txt,omitempty"`
	Airplay2 bool              `json:"airplay2,omitempty"`
	LastSeen time.Time         `json:"last_seen"`
}

// browsed maps mDNS service types to device kinds.
var browsed = map[string]string{
	"_raop._tcp":       "airplay",
	"_airplay._tcp":    "airplay",
	"_googlecast._tcp": "cast",
	"_sonos._tcp":      "sonos",
}

// Browser runs periodic sweeps and keeps the device table.
type Browser struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	devices map[string]Device // keyed by kind+instance
}

// NewBrowser creates an empty browser.
func NewBrowser(logger zerolog.Logger) *Browser {
	return &Browser{
		logger:  logger.With().Str("component", "discovery").Logger(),
		devices: make(map[string]Device),
	}
}

// Run sweeps immediately, then on the interval, until ctx ends.
func (b *Browser) Run(ctx context.Context) error {
	b.Sweep(ctx)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Sweep(ctx)
			b.expire()
		}
	}
}

// Sweep browses every service type once.
func (b *Browser) Sweep(ctx context.Context) {
	for service, kind := range browsed {
		b.browseOne(ctx, service, kind)
	}
}

func (b *Browser) browseOne(ctx context.Context, service, kind string) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("mdns resolver failed")
		return
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			b.record(kind, entry)
		}
	}()

	bctx, cancel := context.WithTimeout(ctx, browseWindow)
	defer cancel()
	if err := resolver.Browse(bctx, service, "local.", entries); err != nil {
		b.logger.Warn().Err(err).Str("service", service).Msg("mdns browse failed")
		return
	}
	<-bctx.Done()
	<-done
}

func (b *Browser) record(kind string, entry *zeroconf.ServiceEntry) {
	dev := Device{
		Kind:     kind,
		Name:     cleanInstanceName(kind, entry.Instance),
		Host:     strings.TrimSuffix(entry.HostName, "."),
		Port:     entry.Port,
		TXT:      parseTXT(entry.Text),
		LastSeen: time.Now(),
	}
	if len(entry.AddrIPv4) > 0 {
		dev.Address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		dev.Address = entry.AddrIPv6[0].String()
	}
	if kind == "airplay" {
		dev.Airplay2 = isAirplay2(dev.TXT)
	}

	key := kind + "/" + entry.Instance
	b.mu.Lock()
	b.devices[key] = dev
	b.mu.Unlock()
	b.logger.Debug().Str("kind", kind).Str("name", dev.Name).Str("addr", dev.Address).Msg("device seen")
}

func (b *Browser) expire() {
	cutoff := time.Now().Add(-deviceTTL)
	b.mu.Lock()
	for key, dev := range b.devices {
		if dev.LastSeen.Before(cutoff) {
			delete(b.devices, key)
		}
	}
	b.mu.Unlock()
}

// Devices returns the current table sorted by kind then name.
func (b *Browser) Devices() []Device {
	b.mu.RLock()
	out := make([]Device, 0, len(b.devices))
	for _, dev := range b.devices {
		out = append(out, dev)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// parseTXT splits key=value records; bare keys map to "".
func parseTXT(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	out := make(map[string]string, len(records))
	for _, rec := range records {
		k, v, _ := strings.Cut(rec, "=")
		out[k] = v
	}
	return out
}

// cleanInstanceName strips the RAOP mac prefix convention
// ("AABBCCDDEEFF@Kitchen Speaker" -> "Kitchen Speaker").
func cleanInstanceName(kind, instance string) string {
	if kind == "airplay" {
		if _, name, ok := strings.Cut(instance, "@"); ok {
			return name
		}
	}
	return instance
}

// isAirplay2 checks the features TXT bitmask for the transient-pairing
// bit (48) that AirPlay 2 receivers advertise.
func isAirplay2(txt map[string]string) bool {
	features, ok := txt["features"]
	if !ok {
		features = txt["ft"]
	}
	if features == "" {
		return false
	}
	// Format is "0xLOW,0xHIGH" or a single hex value.
	low, high, hasHigh := strings.Cut(features, ",")
	lo, err := parseHex(low)
	if err != nil {
		return false
	}
	var bits uint64 = lo
	if hasHigh {
		hi, err := parseHex(high)
		if err == nil {
			bits |= hi << 32
		}
	}
	return bits&(1<<48) != 0
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// HostAddr joins address and port for dialing.
func (d Device) HostAddr() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}
