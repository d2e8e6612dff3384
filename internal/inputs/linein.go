/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inputs

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

// lineIn captures an ALSA device through ffmpeg and feeds the raw PCM
// to the zone's pipeline as a pipe source.
type lineIn struct {
	ffmpegBin string
	device    string
	sink      Sink
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[int]*lineInSession
}

type lineInSession struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func newLineIn(ffmpegBin, device string, sink Sink, logger zerolog.Logger) *lineIn {
	return &lineIn{
		ffmpegBin: ffmpegBin,
		device:    device,
		sink:      sink,
		logger:    logger.With().Str("input", "linein").Logger(),
		sessions:  make(map[int]*lineInSession),
	}
}

func (l *lineIn) Label() models.InputSource { return models.SourceLineIn }

// Start begins capturing. target overrides the configured device, so a
// zone can bind a specific capture card.
func (l *lineIn) Start(ctx context.Context, zone ZoneInfo, target string) error {
	device := l.device
	if d := zone.Options["linein_device"]; d != "" {
		device = d
	}
	if target != "" {
		device = target
	}

	l.mu.Lock()
	if _, running := l.sessions[zone.ID]; running {
		l.mu.Unlock()
		return nil
	}

	capCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(capCtx, l.ffmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa", "-i", device,
		"-f", "s16le", "-ar", "44100", "-ac", "2",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		l.mu.Unlock()
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		l.mu.Unlock()
		return fmt.Errorf("start capture: %w", err)
	}
	sess := &lineInSession{cmd: cmd, cancel: cancel}
	l.sessions[zone.ID] = sess
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		if l.sessions[zone.ID] == sess {
			delete(l.sessions, zone.ID)
		}
		l.mu.Unlock()
		l.logger.Debug().Err(err).Int("zone", zone.ID).Msg("capture exited")
		l.sink.StopExternalPlayback(zone.ID, models.SourceLineIn, "capture_exit")
	}()

	source := &models.PlaybackSource{
		Kind:   models.SourcePipe,
		Reader: stdout,
		Format: &models.PCMFormat{Rate: 44100, Channels: 2, Bits: 16},
	}
	meta := models.TrackMetadata{
		Title:     "Line In",
		Station:   zone.Name + " line in",
		AudioType: models.AudioTypeLineIn,
	}
	if err := l.sink.StartExternalPlayback(ctx, zone.ID, models.SourceLineIn, source, meta); err != nil {
		l.Stop(ctx, zone.ID, "start_rejected")
		return err
	}
	l.logger.Info().Int("zone", zone.ID).Str("device", device).Msg("line-in capture started")
	return nil
}

func (l *lineIn) Stop(_ context.Context, zoneID int, reason string) error {
	l.mu.Lock()
	sess, ok := l.sessions[zoneID]
	if ok {
		delete(l.sessions, zoneID)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	l.logger.Info().Int("zone", zoneID).Str("reason", reason).Msg("stopping line-in capture")
	sess.cancel()
	return nil
}

func (l *lineIn) Close(ctx context.Context) error {
	l.mu.Lock()
	ids := make([]int, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	for _, id := range ids {
		l.Stop(ctx, id, "shutdown")
	}
	return nil
}
