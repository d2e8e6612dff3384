/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/group"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/sendspin"
	"github.com/friendsincode/bragi/internal/slimproto"
	"github.com/friendsincode/bragi/internal/snapcast"
	"github.com/friendsincode/bragi/internal/upnp"
)

// Factory builds zone output drivers from their static config, sharing
// the transport servers and clients that outlive any single driver.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger

	Snapcast  *snapcast.Conn   // nil when no snapserver is configured
	Slimproto *slimproto.Server
	Sendspin  *sendspin.Server
	UPnP      *upnp.Client

	coordinators map[string]*group.Coordinator
}

// NewFactory wires the shared transports.
func NewFactory(cfg *config.Config, snap *snapcast.Conn, slim *slimproto.Server, send *sendspin.Server, soap *upnp.Client, coords map[string]*group.Coordinator, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:          cfg,
		logger:       logger,
		Snapcast:     snap,
		Slimproto:    slim,
		Sendspin:     send,
		UPnP:         soap,
		coordinators: coords,
	}
}

// Build constructs one driver for a zone. Unknown driver names and
// missing transports fail zone configuration up front rather than at
// first play.
func (f *Factory) Build(zoneID int, zoneName string, oc models.OutputConfig) (Driver, error) {
	logger := f.logger.With().Int("zone", zoneID).Str("output", oc.Driver).Logger()
	switch oc.Driver {
	case "airplay":
		return newAirplayDriver(zoneID, zoneName, oc, f.coordinators["airplay"], logger)
	case "snapcast":
		if f.Snapcast == nil {
			return nil, fmt.Errorf("snapcast output configured but no snapserver address set")
		}
		return newSnapcastDriver(zoneID, oc, f.Snapcast, f.coordinators["snapcast"], logger)
	case "slimproto":
		return newSlimprotoDriver(zoneID, oc, f.Slimproto, f.cfg, f.coordinators["slimproto"], logger)
	case "sendspin":
		return newSendspinDriver(zoneID, oc, f.Sendspin, f.coordinators["sendspin"], logger)
	case "sonos":
		return newSonosDriver(zoneID, oc, f.UPnP, f.coordinators["sonos"], logger)
	case "cast":
		return newCastDriver(zoneID, oc, logger)
	case "dlna":
		return newDLNADriver(zoneID, oc, f.UPnP, logger)
	case "spotify":
		return newSpotifyDriver(zoneID, oc, logger)
	case "lineout":
		return newLineoutDriver(zoneID, oc, logger)
	default:
		return nil, fmt.Errorf("unknown output driver %q", oc.Driver)
	}
}

// BuildZone constructs every output of a zone definition. One bad
// output fails the whole zone so a typo is caught immediately.
func (f *Factory) BuildZone(def models.ZoneDefinition) ([]Driver, error) {
	drivers := make([]Driver, 0, len(def.Outputs))
	for _, oc := range def.Outputs {
		d, err := f.Build(def.ID, def.Name, oc)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", oc.ID, err)
		}
		drivers = append(drivers, d)
	}
	return drivers, nil
}

// defaultProfile fills an output's format from the zone default when
// the config leaves it empty.
func defaultProfile(oc models.OutputConfig, fallback models.StreamProfile) models.StreamProfile {
	if oc.Format.Codec != "" {
		return oc.Format
	}
	return fallback
}

var pcm44 = models.StreamProfile{Codec: "pcm", Rate: 44100, Channels: 2, Bits: 16, ChunkMs: 20}
var pcm48 = models.StreamProfile{Codec: "pcm", Rate: 48000, Channels: 2, Bits: 16, ChunkMs: 20}
var mp3Stream = models.StreamProfile{Codec: "mp3", Rate: 44100, Channels: 2, Bits: 16, BitrateKbp: 320, ChunkMs: 100}
var flacStream = models.StreamProfile{Codec: "flac", Rate: 44100, Channels: 2, Bits: 16, ChunkMs: 100}
