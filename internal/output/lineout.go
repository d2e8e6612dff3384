/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/models"
)

// otoContexts caches one oto context per PCM format; oto allows a single
// context per process configuration.
var (
	otoMu   sync.Mutex
	otoCtxs = map[string]*oto.Context{}
)

func otoContextFor(profile models.StreamProfile) (*oto.Context, error) {
	key := fmt.Sprintf("%d/%d", profile.Rate, profile.Channels)
	otoMu.Lock()
	defer otoMu.Unlock()
	if ctx, ok := otoCtxs[key]; ok {
		return ctx, nil
	}
	op := &oto.NewContextOptions{
		SampleRate:   profile.Rate,
		ChannelCount: profile.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	otoCtxs[key] = ctx
	return ctx, nil
}

// lineoutDriver renders the zone's PCM sub-stream on the local sound
// device, the wired amplifier path.
type lineoutDriver struct {
	zoneID  int
	id      string
	profile models.StreamProfile
	logger  zerolog.Logger

	mu     sync.Mutex
	player *oto.Player
	sub    *engine.Subscriber
	volume float64
}

func newLineoutDriver(zoneID int, oc models.OutputConfig, logger zerolog.Logger) (Driver, error) {
	return &lineoutDriver{
		zoneID:  zoneID,
		id:      oc.ID,
		profile: defaultProfile(oc, pcm44),
		logger:  logger,
		volume:  1.0,
	}, nil
}

func (d *lineoutDriver) Type() string { return "lineout" }
func (d *lineoutDriver) ID() string   { return d.id }

func (d *lineoutDriver) StreamProfile() models.StreamProfile { return d.profile }

func (d *lineoutDriver) PreferredOutput() PreferredOutput {
	return PreferredOutput{
		SampleRate: d.profile.Rate,
		Channels:   d.profile.Channels,
		BitDepth:   d.profile.Bits,
	}
}

// subReader adapts a stream subscriber to io.Reader for oto, applying
// the software volume scale in place.
type subReader struct {
	sub  *engine.Subscriber
	rest []byte
	vol  func() float64
}

func (r *subReader) Read(p []byte) (int, error) {
	for len(r.rest) == 0 {
		chunk, ok := <-r.sub.C
		if !ok {
			return 0, io.EOF
		}
		r.rest = chunk
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	scalePCM(p[:n], r.vol())
	return n, nil
}

// scalePCM applies a linear gain to little-endian s16 samples.
func scalePCM(buf []byte, gain float64) {
	if gain >= 0.999 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		scaled := int32(float64(sample) * gain)
		if scaled > 32767 {
			scaled = 32767
		}
		if scaled < -32768 {
			scaled = -32768
		}
		buf[i] = byte(uint16(scaled))
		buf[i+1] = byte(uint16(scaled) >> 8)
	}
}

func (d *lineoutDriver) Play(ctx context.Context, sess *Session) error {
	otoCtx, err := otoContextFor(d.profile)
	if err != nil {
		return err
	}
	sub, err := sess.Engine.CreateStream(d.zoneID, d.profile, sess.Prebuffer, "lineout:"+d.id)
	if err != nil {
		return fmt.Errorf("attach lineout stream: %w", err)
	}

	d.mu.Lock()
	if d.player != nil {
		d.player.Close()
	}
	if d.sub != nil {
		d.sub.Close()
	}
	d.sub = sub
	reader := &subReader{sub: sub, vol: d.currentVolume}
	d.player = otoCtx.NewPlayer(reader)
	d.player.Play()
	d.mu.Unlock()
	return nil
}

func (d *lineoutDriver) currentVolume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *lineoutDriver) Pause(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Pause()
	}
	return nil
}

func (d *lineoutDriver) Resume(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Play()
	}
	return nil
}

func (d *lineoutDriver) Stop(ctx context.Context, sess *Session) error {
	d.mu.Lock()
	player := d.player
	sub := d.sub
	d.player = nil
	d.sub = nil
	d.mu.Unlock()

	if player != nil {
		player.Close()
	}
	if sub != nil {
		sub.Close()
	}
	return nil
}

func (d *lineoutDriver) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	d.mu.Lock()
	d.volume = float64(level) / 100
	d.mu.Unlock()
	return nil
}

func (d *lineoutDriver) LatencyMs() int {
	// oto default device buffer.
	return 50
}

func (d *lineoutDriver) Dispose(ctx context.Context) error {
	return d.Stop(ctx, nil)
}
