/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
)

// pipeline manages one ffmpeg decode/encode process for a zone. Each
// requested profile is written to its own extra file descriptor (fd 3
// upward) so a single process feeds every sub-stream.
type pipeline struct {
	bin    string
	logger zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
	stderr  *tailBuffer
}

func newPipeline(bin string, logger zerolog.Logger) *pipeline {
	return &pipeline{bin: bin, logger: logger, stderr: newTailBuffer(2048)}
}

// start launches ffmpeg for source and wires one handler per profile.
// Handlers run on their own goroutines and receive the read end of the
// profile's pipe.
func (p *pipeline) start(ctx context.Context, source models.PlaybackSource, profiles []models.StreamProfile, handlers []func(io.Reader)) error {
	if len(profiles) == 0 || len(profiles) != len(handlers) {
		return fmt.Errorf("profile/handler count mismatch")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.done != nil {
		select {
		case <-p.done:
			// Previous process has exited, ok to start new one
		default:
			return fmt.Errorf("pipeline already running")
		}
	}

	args, err := buildArgs(source, profiles)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Stdout = nil
	if source.Kind == models.SourcePipe {
		if source.Reader == nil {
			return fmt.Errorf("pipe source without reader")
		}
		cmd.Stdin = source.Reader
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	readers := make([]*os.File, 0, len(profiles))
	writers := make([]*os.File, 0, len(profiles))
	closeAll := func() {
		for _, f := range readers {
			f.Close()
		}
		for _, f := range writers {
			f.Close()
		}
	}
	for range profiles {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll()
			return fmt.Errorf("create output pipe: %w", err)
		}
		readers = append(readers, r)
		writers = append(writers, w)
	}
	cmd.ExtraFiles = writers

	if err := cmd.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start pipeline: %w", err)
	}

	// Close write ends in the parent; ffmpeg owns them now.
	for _, w := range writers {
		w.Close()
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	p.exitErr = nil

	go p.stderr.consume(stderr)

	for i, handler := range handlers {
		go func(h func(io.Reader), r *os.File) {
			h(r)
			r.Close()
		}(handler, readers[i])
	}

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(done)
		if err != nil {
			p.logger.Debug().Err(err).Msg("pipeline exited")
		} else {
			p.logger.Info().Msg("pipeline finished")
		}
	}(p.done, cmd)

	return nil
}

// waitDone returns a channel closed when the process exits.
func (p *pipeline) waitDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *pipeline) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *pipeline) stderrTail() string {
	return p.stderr.String()
}

// pause suspends the process so decoding stops consuming the source.
func (p *pipeline) pause() error {
	return p.signal(syscall.SIGSTOP)
}

// resume continues a suspended process.
func (p *pipeline) resume() error {
	return p.signal(syscall.SIGCONT)
}

func (p *pipeline) signal(sig syscall.Signal) error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return fmt.Errorf("pipeline not running")
	}
	select {
	case <-done:
		return fmt.Errorf("pipeline already exited")
	default:
	}
	return cmd.Process.Signal(sig)
}

// stop terminates the process, escalating to SIGKILL after a grace
// period.
func (p *pipeline) stop() {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	if cmd == nil || done == nil {
		return
	}

	select {
	case <-done:
		return
	default:
	}

	if cmd.Process != nil {
		// A stopped process cannot handle SIGINT; wake it first.
		_ = cmd.Process.Signal(syscall.SIGCONT)
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
	}
}

// buildArgs assembles the ffmpeg invocation: one input, one encoded
// output per profile on fd 3 upward.
func buildArgs(source models.PlaybackSource, profiles []models.StreamProfile) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch source.Kind {
	case models.SourceFile:
		// Pace file decode at realtime so downstream consumers see a
		// live stream, and seek before demux for fast starts.
		args = append(args, "-re")
		if source.StartMs > 0 {
			args = append(args, "-ss", formatSeconds(source.StartMs))
		}
		args = append(args, "-i", source.Path)
	case models.SourceURL:
		if len(source.Headers) > 0 {
			args = append(args, "-headers", joinHeaders(source.Headers))
		}
		if source.StartMs > 0 {
			args = append(args, "-ss", formatSeconds(source.StartMs))
		}
		args = append(args, "-i", source.Path)
	case models.SourcePipe:
		if source.Format != nil {
			args = append(args,
				"-f", pcmFormatName(source.Format.Bits),
				"-ar", strconv.Itoa(source.Format.Rate),
				"-ac", strconv.Itoa(source.Format.Channels),
			)
		}
		args = append(args, "-i", "pipe:0")
	default:
		return nil, fmt.Errorf("unknown source kind %q", source.Kind)
	}

	for i, profile := range profiles {
		out, err := profileArgs(profile)
		if err != nil {
			return nil, err
		}
		args = append(args, out...)
		args = append(args, "pipe:"+strconv.Itoa(3+i))
	}
	return args, nil
}

func profileArgs(p models.StreamProfile) ([]string, error) {
	args := []string{"-map", "0:a"}
	if p.Rate > 0 {
		args = append(args, "-ar", strconv.Itoa(p.Rate))
	}
	if p.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(p.Channels))
	}
	switch p.Codec {
	case "pcm":
		args = append(args, "-f", pcmFormatName(p.Bits))
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", bitrateArg(p.BitrateKbp, 192), "-f", "mp3")
	case "aac":
		args = append(args, "-c:a", "aac", "-b:a", bitrateArg(p.BitrateKbp, 160), "-f", "adts")
	case "flac":
		args = append(args, "-c:a", "flac", "-f", "flac")
	case "opus":
		args = append(args, "-c:a", "libopus", "-b:a", bitrateArg(p.BitrateKbp, 128), "-f", "ogg")
	default:
		return nil, fmt.Errorf("unknown stream codec %q", p.Codec)
	}
	return args, nil
}

func pcmFormatName(bits int) string {
	switch bits {
	case 24:
		return "s24le"
	case 32:
		return "s32le"
	default:
		return "s16le"
	}
}

func bitrateArg(kbps, def int) string {
	if kbps <= 0 {
		kbps = def
	}
	return strconv.Itoa(kbps) + "k"
}

func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000.0, 'f', 3, 64)
}

func joinHeaders(h map[string]string) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(h[k])
		b.WriteString("\r\n")
	}
	return b.String()
}

// tailBuffer keeps the last max bytes written, for error diagnostics.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) consume(r io.Reader) {
	chunk := make([]byte, 512)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.buf = append(t.buf, chunk[:n]...)
			if len(t.buf) > t.max {
				t.buf = t.buf[len(t.buf)-t.max:]
			}
			t.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
