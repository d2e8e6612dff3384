/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// raopFramesPerPacket is the AirPlay packet size in sample frames.
const raopFramesPerPacket = 352

// Receiver generations. AirPlay 2 devices usually keep the legacy RAOP
// surface alive; the probe result mostly informs error reporting when
// they do not.
const (
	protoRAOP     = "raop"
	protoAirPlay2 = "airplay2"
)

// classifyReceiver reads the OPTIONS Public header: AirPlay 2 receivers
// advertise the peer/anchor methods legacy RAOP never had.
func classifyReceiver(public string) string {
	for _, m := range strings.Split(public, ",") {
		switch strings.ToUpper(strings.TrimSpace(m)) {
		case "SETPEERS", "SETRATEANCHORTIME":
			return protoAirPlay2
		}
	}
	return protoRAOP
}

// raopSession is one RTSP control connection plus the UDP audio flow to
// a single AirPlay receiver. Audio is unencrypted ALAC-framed PCM,
// which shairport-style receivers negotiate via the SDP.
type raopSession struct {
	host   string
	port   int
	logger zerolog.Logger

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	cseq      int
	sessionID string
	audioConn *net.UDPConn
	protocol  string

	// RTP flow state, owned by the pump goroutine after start.
	seq       uint16
	timestamp uint32
	ssrc      uint32
}

func newRAOPSession(host string, port int, logger zerolog.Logger) *raopSession {
	if port == 0 {
		port = 5000
	}
	return &raopSession{
		host:   host,
		port:   port,
		logger: logger,
		seq:    uint16(rand.Intn(1 << 16)),
		ssrc:   rand.Uint32(),
	}
}

// roundTrip sends one RTSP request and parses the response headers.
func (s *raopSession) roundTrip(method, uri string, headers map[string]string, body []byte) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, fmt.Errorf("raop session not connected")
	}
	s.cseq++

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", s.cseq)
	fmt.Fprintf(&b, "User-Agent: iTunes/11.0 (bragi)\r\n")
	if s.sessionID != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", s.sessionID)
	}
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if len(body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")

	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.conn.Write([]byte(b.String())); err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if _, err := s.conn.Write(body); err != nil {
			return nil, err
		}
	}

	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	status, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(status), " ", 3)
	if len(parts) < 2 || parts[1] != "200" {
		return nil, fmt.Errorf("%s: %s", method, strings.TrimSpace(status))
	}

	resp := make(map[string]string)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			resp[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
	if cl := resp["content-length"]; cl != "" {
		n, _ := strconv.Atoi(cl)
		if n > 0 {
			if _, err := io.CopyN(io.Discard, s.reader, int64(n)); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

// connect dials RTSP and walks ANNOUNCE / SETUP / RECORD, leaving the
// session ready for audio packets.
func (s *raopSession) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("dial raop %s: %w", s.host, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.mu.Unlock()

	localIP := conn.LocalAddr().(*net.TCPAddr).IP.String()
	sid := rand.Uint32()
	uri := fmt.Sprintf("rtsp://%s/%d", localIP, sid)

	// Probe the receiver generation before committing to the legacy
	// handshake. Receivers that reject OPTIONS are treated as RAOP.
	proto := protoRAOP
	if opts, err := s.roundTrip("OPTIONS", "*", nil, nil); err == nil {
		proto = classifyReceiver(opts["public"])
	}
	s.mu.Lock()
	s.protocol = proto
	s.mu.Unlock()

	sdp := strings.Join([]string{
		"v=0",
		fmt.Sprintf("o=iTunes %d 0 IN IP4 %s", sid, localIP),
		"s=iTunes",
		fmt.Sprintf("c=IN IP4 %s", s.host),
		"t=0 0",
		"m=audio 0 RTP/AVP 96",
		"a=rtpmap:96 AppleLossless",
		fmt.Sprintf("a=fmtp:96 %d 0 16 40 10 14 2 255 0 0 44100", raopFramesPerPacket),
		"",
	}, "\r\n")

	if _, err := s.roundTrip("ANNOUNCE", uri, map[string]string{
		"Content-Type": "application/sdp",
	}, []byte(sdp)); err != nil {
		s.close()
		if proto == protoAirPlay2 {
			return fmt.Errorf("announce rejected, receiver is AirPlay 2 without RAOP fallback: %w", err)
		}
		return fmt.Errorf("announce: %w", err)
	}

	resp, err := s.roundTrip("SETUP", uri, map[string]string{
		"Transport": "RTP/AVP/UDP;unicast;interleaved=0-1;mode=record;control_port=0;timing_port=0",
	}, nil)
	if err != nil {
		s.close()
		return fmt.Errorf("setup: %w", err)
	}
	s.mu.Lock()
	s.sessionID = resp["session"]
	s.mu.Unlock()

	serverPort := transportParam(resp["transport"], "server_port")
	if serverPort == 0 {
		serverPort = 6000
	}
	raddr := &net.UDPAddr{IP: net.ParseIP(s.host), Port: serverPort}
	if raddr.IP == nil {
		ips, err := net.LookupIP(s.host)
		if err != nil || len(ips) == 0 {
			s.close()
			return fmt.Errorf("resolve %s: %w", s.host, err)
		}
		raddr.IP = ips[0]
	}
	audioConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		s.close()
		return fmt.Errorf("audio socket: %w", err)
	}
	s.mu.Lock()
	s.audioConn = audioConn
	s.mu.Unlock()

	if _, err := s.roundTrip("RECORD", uri, map[string]string{
		"Range":    "npt=0-",
		"RTP-Info": fmt.Sprintf("seq=%d;rtptime=%d", s.seq, s.timestamp),
	}, nil); err != nil {
		s.close()
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

func transportParam(transport, key string) int {
	for _, part := range strings.Split(transport, ";") {
		if k, v, ok := strings.Cut(part, "="); ok && strings.TrimSpace(k) == key {
			n, _ := strconv.Atoi(strings.TrimSpace(v))
			return n
		}
	}
	return 0
}

// sendFrames transmits one packet of sample frames. pcm must hold
// exactly raopFramesPerPacket stereo s16le frames; shorter final chunks
// are zero padded.
func (s *raopSession) sendFrames(pcm []byte, first bool) error {
	s.mu.Lock()
	conn := s.audioConn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("audio flow not running")
	}

	payload := alacFrame(pcm)
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         first,
			PayloadType:    96,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := conn.Write(raw); err != nil {
		return err
	}
	s.seq++
	s.timestamp += raopFramesPerPacket
	return nil
}

// alacFrame wraps raw PCM in the ALAC no-compression escape: element
// header bits, then big-endian samples. Receivers decode this as
// verbatim PCM.
func alacFrame(pcm []byte) []byte {
	frames := raopFramesPerPacket
	out := make([]byte, 3+frames*4)
	// 0x20: single channel-pair element, uncompressed escape bit set in
	// the following header bits (0b0010 0000 0000 0010).
	out[0] = 0x20
	out[1] = 0x00
	out[2] = 0x02

	// Input is little-endian s16 interleaved; ALAC carries big-endian.
	for i := 0; i < frames*2; i++ {
		var sample uint16
		if i*2+1 < len(pcm) {
			sample = binary.LittleEndian.Uint16(pcm[i*2:])
		}
		binary.BigEndian.PutUint16(out[3+i*2:], sample)
	}
	return out
}

// setVolume sends the AirPlay dB volume. level is 0-100; 0 maps to the
// -144 mute sentinel.
func (s *raopSession) setVolume(level int) error {
	db := -144.0
	if level > 0 {
		if level > 100 {
			level = 100
		}
		db = -30 + float64(level)*30/100
	}
	body := fmt.Sprintf("volume: %.6f\r\n", db)
	_, err := s.roundTrip("SET_PARAMETER", "*", map[string]string{
		"Content-Type": "text/parameters",
	}, []byte(body))
	return err
}

// setMetadata pushes DMAP track info to the receiver display.
func (s *raopSession) setMetadata(title, artist, album string) error {
	body := dmapTrackItem(title, artist, album)
	_, err := s.roundTrip("SET_PARAMETER", "*", map[string]string{
		"Content-Type": "application/x-dmap-tagged",
		"RTP-Info":     fmt.Sprintf("rtptime=%d", s.timestamp),
	}, body)
	return err
}

// dmapTrackItem builds a dmap.listingitem with name/artist/album tags.
func dmapTrackItem(title, artist, album string) []byte {
	inner := append(dmapString("minm", title), dmapString("asar", artist)...)
	inner = append(inner, dmapString("asal", album)...)
	out := make([]byte, 8+len(inner))
	copy(out[0:4], "mlit")
	binary.BigEndian.PutUint32(out[4:8], uint32(len(inner)))
	copy(out[8:], inner)
	return out
}

func dmapString(code, value string) []byte {
	out := make([]byte, 8+len(value))
	copy(out[0:4], code)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(value)))
	copy(out[8:], value)
	return out
}

// receiverProtocol reports the generation the OPTIONS probe detected.
func (s *raopSession) receiverProtocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.protocol == "" {
		return protoRAOP
	}
	return s.protocol
}

// flush interrupts playback keeping the session, for pause.
func (s *raopSession) flush() error {
	_, err := s.roundTrip("FLUSH", "*", map[string]string{
		"RTP-Info": fmt.Sprintf("seq=%d;rtptime=%d", s.seq, s.timestamp),
	}, nil)
	return err
}

// teardown ends the RTSP session and closes sockets.
func (s *raopSession) teardown() {
	if s.conn != nil {
		s.roundTrip("TEARDOWN", "*", nil, nil)
	}
	s.close()
}

func (s *raopSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioConn != nil {
		s.audioConn.Close()
		s.audioConn = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
	s.sessionID = ""
}
