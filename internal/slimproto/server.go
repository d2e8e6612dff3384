/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slimproto implements the server side of the SlimProto control
// protocol spoken by Squeezebox and squeezelite players. Control runs
// over TCP; the audio itself is fetched by the player over HTTP from
// the zone stream endpoint named in the strm command.
package slimproto

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// readTimeout drops players that stop sending STAT heartbeats.
	readTimeout = 60 * time.Second

	// helloTimeout bounds the initial HELO wait.
	helloTimeout = 10 * time.Second
)

// PlayerState mirrors what the player last reported.
type PlayerState struct {
	Connected  bool
	Jiffies    uint32 // player millisecond clock
	ReceivedAt time.Time
	BufferFill uint32
	Elapsed    time.Duration
}

// Player is one connected SlimProto device, keyed by its MAC.
type Player struct {
	MAC      string
	DeviceID byte
	Revision byte

	mu    sync.Mutex
	conn  net.Conn
	state PlayerState
}

// Observer is notified of player arrivals and departures, letting the
// output driver bind zones to MACs as they appear.
type Observer interface {
	PlayerConnected(mac string)
	PlayerDisconnected(mac string)
}

// Server accepts SlimProto connections and exposes the command surface
// the output driver needs.
type Server struct {
	logger   zerolog.Logger
	observer Observer

	mu      sync.RWMutex
	players map[string]*Player
}

// NewServer builds an empty server; SetObserver before Listen.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		logger:  logger.With().Str("component", "slimproto").Logger(),
		players: make(map[string]*Player),
	}
}

// SetObserver installs the arrival/departure callback.
func (s *Server) SetObserver(o Observer) { s.observer = o }

// Listen accepts players on port until ctx ends.
func (s *Server) Listen(ctx context.Context, port int) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("slimproto listen: %w", err)
	}
	s.logger.Info().Int("port", port).Msg("slimproto listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serve(ctx, conn)
	}
}

// Player returns the connected player with the given MAC.
func (s *Server) Player(mac string) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[mac]
	return p, ok
}

// Players lists connected MACs.
func (s *Server) Players() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	macs := make([]string, 0, len(s.players))
	for mac := range s.players {
		macs = append(macs, mac)
	}
	return macs
}

// serve handles one player connection: HELO, then the frame loop.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	op, payload, err := readFrame(conn)
	if err != nil || op != "HELO" || len(payload) < 10 {
		s.logger.Debug().Err(err).Str("op", op).Msg("connection without valid HELO")
		return
	}

	p := &Player{
		DeviceID: payload[0],
		Revision: payload[1],
		MAC:      hex.EncodeToString(payload[2:8]),
		conn:     conn,
	}
	p.state.Connected = true

	s.mu.Lock()
	if old, dup := s.players[p.MAC]; dup {
		old.mu.Lock()
		old.conn.Close()
		old.mu.Unlock()
	}
	s.players[p.MAC] = p
	s.mu.Unlock()

	s.logger.Info().Str("mac", p.MAC).Uint8("device", p.DeviceID).Msg("slimproto player connected")
	if s.observer != nil {
		s.observer.PlayerConnected(p.MAC)
	}

	defer func() {
		s.mu.Lock()
		if s.players[p.MAC] == p {
			delete(s.players, p.MAC)
		}
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.PlayerDisconnected(p.MAC)
		}
		s.logger.Info().Str("mac", p.MAC).Msg("slimproto player disconnected")
	}()

	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		op, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		switch op {
		case "STAT":
			p.applyStat(payload)
		case "BYE!":
			return
		case "RESP", "META", "DSCO", "SETD":
			// Informational; nothing to track yet.
		}
	}
}

// applyStat records the player clock and buffer state from a STAT frame.
func (p *Player) applyStat(payload []byte) {
	// STAT layout: event(4) ... buffer_fullness @ offset 11+4+4=19? The
	// fields used here sit at fixed offsets of the v1 frame: fullness at
	// 19, jiffies at 35, elapsed_ms at 45.
	if len(payload) < 49 {
		return
	}
	p.mu.Lock()
	p.state.BufferFill = binary.BigEndian.Uint32(payload[19:23])
	p.state.Jiffies = binary.BigEndian.Uint32(payload[35:39])
	p.state.Elapsed = time.Duration(binary.BigEndian.Uint32(payload[45:49])) * time.Millisecond
	p.state.ReceivedAt = time.Now()
	p.mu.Unlock()
}

// State returns the last reported player state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// JiffiesAt extrapolates the player clock to t.
func (p *Player) JiffiesAt(t time.Time) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.ReceivedAt.IsZero() {
		return 0
	}
	return p.state.Jiffies + uint32(t.Sub(p.state.ReceivedAt).Milliseconds())
}

// Stream tells the player to fetch and play an HTTP stream. formatByte
// is the SlimProto format code ('p' pcm, 'm' mp3, 'f' flac). With
// autostart false the player buffers and waits for Unpause, which is
// how grouped starts line up.
func (p *Player) Stream(host string, port int, path string, formatByte byte, autostart bool) error {
	start := byte('0')
	if autostart {
		start = '1'
	}
	cmd := strmFrame('s', start, formatByte, host, port, path)
	return p.send("strm", cmd)
}

// Pause halts output immediately.
func (p *Player) Pause() error {
	return p.send("strm", strmControl('p', 0))
}

// Unpause resumes output. A non-zero atJiffies delays the resume until
// the player clock reaches it, the barrier grouped zones use.
func (p *Player) Unpause(atJiffies uint32) error {
	return p.send("strm", strmControl('u', atJiffies))
}

// Stop flushes the player.
func (p *Player) Stop() error {
	return p.send("strm", strmControl('q', 0))
}

// RequestStatus solicits an immediate STAT, refreshing the jiffies
// estimate before computing a group barrier.
func (p *Player) RequestStatus() error {
	return p.send("strm", strmControl('t', 0))
}

// SetVolume applies a 0-100 volume on both channels using the fixed
// point gain field.
func (p *Player) SetVolume(level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	// audg: old gain L/R (ignored by modern firmware), dvc+preamp, then
	// 16.16 fixed point gain per channel.
	gain := uint32(level) * 65536 / 100
	payload := make([]byte, 18)
	binary.BigEndian.PutUint32(payload[0:4], uint32(level)*128/100)
	binary.BigEndian.PutUint32(payload[4:8], uint32(level)*128/100)
	payload[8] = 1    // dvc enabled
	payload[9] = 255  // preamp
	binary.BigEndian.PutUint32(payload[10:14], gain)
	binary.BigEndian.PutUint32(payload[14:18], gain)
	return p.send("audg", payload)
}

// send writes one server frame: 2-byte length, 4-byte opcode, payload.
func (p *Player) send(op string, payload []byte) error {
	if len(op) != 4 {
		return fmt.Errorf("opcode %q must be 4 bytes", op)
	}
	frame := make([]byte, 2+4+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], uint16(4+len(payload)))
	copy(frame[2:6], op)
	copy(frame[6:], payload)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("player %s not connected", p.MAC)
	}
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := p.conn.Write(frame)
	return err
}

// readFrame reads one client frame: 4-byte opcode, 4-byte BE length,
// payload.
func readFrame(r io.Reader) (string, []byte, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, err
	}
	op := string(header[0:4])
	length := binary.BigEndian.Uint32(header[4:8])
	if length > 1<<20 {
		return "", nil, fmt.Errorf("oversized %s frame: %d bytes", op, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return op, payload, nil
}

// strmFrame builds a strm 's' command with the embedded HTTP request
// the player issues to fetch audio.
func strmFrame(command, autostart, formatByte byte, host string, port int, path string) []byte {
	header := make([]byte, 24)
	header[0] = command
	header[1] = autostart
	header[2] = formatByte
	header[3] = '?' // pcm sample size: self-describing container
	header[4] = '?' // pcm sample rate
	header[5] = '?' // pcm channels
	header[6] = '?' // pcm endianness
	header[7] = 1   // threshold: start buffering after 1 KB
	// bytes 8..17: spdif, trans period/type, flags, output threshold,
	// reserved; zero works for HTTP streaming.
	// bytes 18..21: replay gain (unused for 's')
	binary.BigEndian.PutUint16(header[22:24], uint16(port))

	request := "GET " + path + " HTTP/1.0\r\nHost: " + host + "\r\n\r\n"
	return append(header, []byte(request)...)
}

// strmControl builds the short strm commands; atJiffies rides in the
// replay gain field for timed unpause.
func strmControl(command byte, atJiffies uint32) []byte {
	header := make([]byte, 24)
	header[0] = command
	header[1] = '0'
	binary.BigEndian.PutUint32(header[18:22], atJiffies)
	return header
}
