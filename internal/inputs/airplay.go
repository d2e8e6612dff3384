/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inputs

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/playback"
)

// airplayReceiver supervises one shairport-sync process per enabled
// zone. The receiver announces itself under the zone name; raw PCM
// arrives on its stdout and session/metadata events on the DMAP
// metadata pipe.
type airplayReceiver struct {
	bin    string
	sink   Sink
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[int]*airplaySession
}

type airplaySession struct {
	zoneID int
	name   string
	cmd    *exec.Cmd
	pipe   string
	cancel context.CancelFunc
}

func newAirplayReceiver(bin string, sink Sink, logger zerolog.Logger) *airplayReceiver {
	return &airplayReceiver{
		bin:      bin,
		sink:     sink,
		logger:   logger.With().Str("input", "airplay").Logger(),
		sessions: make(map[int]*airplaySession),
	}
}

func (a *airplayReceiver) Label() models.InputSource { return models.SourceAirplay }

// Start launches the receiver for a zone. AirPlay sessions begin when a
// sender connects, so Start only brings the receiver up; the metadata
// pipe drives the actual playback callbacks.
func (a *airplayReceiver) Start(ctx context.Context, zone ZoneInfo, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, running := a.sessions[zone.ID]; running {
		return nil
	}

	pipe := filepath.Join(os.TempDir(), fmt.Sprintf("bragi-airplay-%d", zone.ID))
	if err := syscall.Mkfifo(pipe, 0o600); err != nil && !os.IsExist(err) {
		return fmt.Errorf("create metadata pipe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, a.bin,
		"--name", zone.Name,
		"--output", "stdout",
		"--metadata-pipename", pipe,
		"--get-coverart",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("receiver stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start receiver: %w", err)
	}

	sess := &airplaySession{zoneID: zone.ID, name: zone.Name, cmd: cmd, pipe: pipe, cancel: cancel}
	a.sessions[zone.ID] = sess

	go a.watchMetadata(runCtx, zone.ID, pipe, stdout)
	go func() {
		err := cmd.Wait()
		a.logger.Debug().Err(err).Int("zone", zone.ID).Msg("receiver exited")
		a.mu.Lock()
		if a.sessions[zone.ID] == sess {
			delete(a.sessions, zone.ID)
		}
		a.mu.Unlock()
		a.sink.StopExternalPlayback(zone.ID, models.SourceAirplay, "receiver_exit")
	}()

	a.logger.Info().Int("zone", zone.ID).Str("name", zone.Name).Msg("airplay receiver up")
	return nil
}

// Stop tears the receiver down.
func (a *airplayReceiver) Stop(_ context.Context, zoneID int, reason string) error {
	a.mu.Lock()
	sess, ok := a.sessions[zoneID]
	if ok {
		delete(a.sessions, zoneID)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	a.logger.Info().Int("zone", zoneID).Str("reason", reason).Msg("stopping airplay receiver")
	sess.cancel()
	os.Remove(sess.pipe)
	return nil
}

func (a *airplayReceiver) Close(ctx context.Context) error {
	a.mu.Lock()
	ids := make([]int, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.Stop(ctx, id, "shutdown")
	}
	return nil
}

// SyncZoneName restarts the receiver under the new announce name.
func (a *airplayReceiver) SyncZoneName(zoneID int, name string) {
	a.mu.Lock()
	sess, ok := a.sessions[zoneID]
	a.mu.Unlock()
	if !ok || sess.name == name {
		return
	}
	a.Stop(context.Background(), zoneID, "rename")
	a.Start(context.Background(), ZoneInfo{ID: zoneID, Name: name, Enabled: map[string]bool{"airplay": true}}, "")
}

// watchMetadata parses the receiver's DMAP metadata pipe. Session begin
// hands stdout to the coordinator as a pipe source; subsequent items
// merge into the zone's metadata.
func (a *airplayReceiver) watchMetadata(ctx context.Context, zoneID int, pipe string, audio io.Reader) {
	f, err := os.OpenFile(pipe, os.O_RDONLY, 0)
	if err != nil {
		a.logger.Warn().Err(err).Int("zone", zoneID).Msg("open metadata pipe failed")
		return
	}
	defer f.Close()

	pending := models.TrackMetadata{AudioType: models.AudioTypeAirplay}
	r := bufio.NewReader(f)
	for ctx.Err() == nil {
		item, err := readDMAPItem(r)
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				a.logger.Debug().Err(err).Int("zone", zoneID).Msg("metadata pipe read failed")
			}
			return
		}
		switch item.code {
		case "pbeg":
			format := &models.PCMFormat{Rate: 44100, Channels: 2, Bits: 16}
			src := &models.PlaybackSource{Kind: models.SourcePipe, Reader: io.NopCloser(audio), Format: format}
			meta := pending
			if meta.Title == "" {
				meta.Title = "AirPlay"
			}
			if err := a.sink.StartExternalPlayback(ctx, zoneID, models.SourceAirplay, src, meta); err != nil {
				a.logger.Warn().Err(err).Int("zone", zoneID).Msg("airplay session start rejected")
			}
		case "pend":
			pending = models.TrackMetadata{AudioType: models.AudioTypeAirplay}
			a.sink.StopExternalPlayback(zoneID, models.SourceAirplay, "sender_disconnect")
		case "prsm":
			a.sink.ResumeFromInput(zoneID, models.SourceAirplay)
		case "pfls":
			a.sink.PauseFromInput(zoneID, models.SourceAirplay)
		case "minm":
			pending.Title = string(item.data)
			a.sink.UpdateInputMetadata(zoneID, models.SourceAirplay, models.TrackMetadata{Title: pending.Title})
		case "asar":
			pending.Artist = string(item.data)
			a.sink.UpdateInputMetadata(zoneID, models.SourceAirplay, models.TrackMetadata{Artist: pending.Artist})
		case "asal":
			pending.Album = string(item.data)
			a.sink.UpdateInputMetadata(zoneID, models.SourceAirplay, models.TrackMetadata{Album: pending.Album})
		case "PICT":
			if len(item.data) > 0 {
				a.sink.UpdateInputCover(zoneID, models.SourceAirplay, playback.CoverArtPayload{
					Data: item.data,
					MIME: sniffImageMIME(item.data),
				})
			}
		case "prgr":
			if elapsed, duration, ok := parseProgress(string(item.data)); ok {
				a.sink.UpdateInputTiming(zoneID, models.SourceAirplay, elapsed, duration)
			}
		case "pvol":
			if vol, ok := parseAirplayVolume(string(item.data)); ok {
				a.sink.UpdateInputVolume(zoneID, models.SourceAirplay, vol)
			}
		}
	}
}

type dmapItem struct {
	typ  string
	code string
	data []byte
}

// readDMAPItem reads one <item> element of the shairport-sync metadata
// stream: hex-encoded type and code, then an optional base64 payload.
func readDMAPItem(r *bufio.Reader) (dmapItem, error) {
	line, err := readNonEmptyLine(r)
	if err != nil {
		return dmapItem{}, err
	}
	var it dmapItem
	it.typ = hexField(line, "<type>", "</type>")
	it.code = hexField(line, "<code>", "</code>")
	if it.code == "" {
		return dmapItem{}, fmt.Errorf("metadata item without code: %q", line)
	}

	length := 0
	if s := textField(line, "<length>", "</length>"); s != "" {
		length, _ = strconv.Atoi(s)
	}
	if length == 0 {
		return it, nil
	}

	// Payload follows on a <data encoding="base64"> block terminated by
	// </data></item>.
	var b64 strings.Builder
	for {
		data, err := readNonEmptyLine(r)
		if err != nil {
			return dmapItem{}, err
		}
		data = strings.TrimSpace(data)
		if strings.HasPrefix(data, "<data") {
			continue
		}
		end := strings.Contains(data, "</data>")
		data = strings.ReplaceAll(data, "</data>", "")
		data = strings.ReplaceAll(data, "</item>", "")
		b64.WriteString(data)
		if end {
			break
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return dmapItem{}, fmt.Errorf("decode %s payload: %w", it.code, err)
	}
	it.data = decoded
	return it, nil
}

func readNonEmptyLine(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// hexField extracts a tag value and decodes it from the hex-encoded
// fourcc shairport-sync emits.
func hexField(line, open, close string) string {
	raw := textField(line, open, close)
	if raw == "" {
		return ""
	}
	n, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return ""
	}
	return string([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

func textField(line, open, close string) string {
	i := strings.Index(line, open)
	if i < 0 {
		return ""
	}
	rest := line[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// parseProgress decodes the prgr payload "start/current/end" given in
// RTP units at 44.1 kHz.
func parseProgress(s string) (elapsedMs, durationMs int64, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return 0, 0, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	cur, err2 := strconv.ParseInt(parts[1], 10, 64)
	end, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || end < start {
		return 0, 0, false
	}
	return (cur - start) * 1000 / 44100, (end - start) * 1000 / 44100, true
}

// parseAirplayVolume maps the sender's dB volume (-30..0, -144 = mute)
// onto the 0..100 scale.
func parseAirplayVolume(s string) (int, bool) {
	first, _, _ := strings.Cut(strings.TrimSpace(s), ",")
	db, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return 0, false
	}
	if db <= -144 {
		return 0, true
	}
	if db > 0 {
		db = 0
	}
	if db < -30 {
		db = -30
	}
	return int((db + 30) / 30 * 100), true
}

func sniffImageMIME(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	}
	return "application/octet-stream"
}
