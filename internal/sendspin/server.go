/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sendspin implements the WebSocket streaming transport for
// Sendspin players. Zones publish timestamped audio chunks; connected
// players are assigned to zones and render at the embedded server-time
// timestamps after syncing their clock.
package sendspin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/codec"
	"github.com/friendsincode/bragi/internal/models"
)

const (
	protocolVersion = 1

	// bufferAheadMs is how far ahead of the wall clock chunk timestamps
	// are stamped, giving players a render cushion.
	bufferAheadMs = 500

	// leadWindowMs is how much recent audio a late joiner is replayed so
	// it starts inside the cushion instead of waiting for fresh chunks.
	leadWindowMs = 150

	clientSendDepth = 100
	writeDeadline   = 10 * time.Second
)

// client is one connected player.
type client struct {
	id     string
	name   string
	conn   *websocket.Conn
	roles  []string
	player *PlayerSupport

	send chan any

	mu      sync.Mutex
	codec   string
	opusEnc *codec.OpusEncoder
	state   string
	volume  int
	muted   bool
	zoneID  int // 0 = unassigned
}

// stamped is one chunk with its play-at time.
type stamped struct {
	at   int64
	data []byte
}

// zoneStream is the live feed of one zone.
type zoneStream struct {
	zoneID  int
	profile models.StreamProfile
	meta    models.TrackMetadata
	lead    []stamped
	cancel  context.CancelFunc
}

// Server is the Sendspin endpoint. Output drivers start and stop zone
// streams; players connect and get the stream of their assigned zone.
type Server struct {
	name     string
	serverID string
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	clockStart time.Time

	mu          sync.RWMutex
	clients     map[string]*client
	streams     map[int]*zoneStream
	assignments map[string]int // client id -> zone

	httpServer *http.Server
}

// NewServer builds the endpoint. serverID is stable across restarts so
// players regroup correctly.
func NewServer(name, serverID string, logger zerolog.Logger) *Server {
	return &Server{
		name:       name,
		serverID:   serverID,
		logger:     logger.With().Str("component", "sendspin").Logger(),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clockStart: time.Now(),
		clients:    make(map[string]*client),
		streams:    make(map[int]*zoneStream),
		assignments: make(map[string]int),
	}
}

// Listen serves the WebSocket endpoint on its own port until ctx ends.
func (s *Server) Listen(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sendspin", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(port)),
		Handler: mux,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()
	s.logger.Info().Int("port", port).Msg("sendspin listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// AssignClient binds a player to a zone. Called from zone configuration
// with the client ids of the zone's sendspin output.
func (s *Server) AssignClient(clientID string, zoneID int) {
	s.mu.Lock()
	s.assignments[clientID] = zoneID
	c := s.clients[clientID]
	if c != nil {
		c.mu.Lock()
		c.zoneID = zoneID
		c.mu.Unlock()
	}
	stream := s.streams[zoneID]
	s.mu.Unlock()

	if c != nil && stream != nil {
		s.attachToStream(c, stream)
	}
}

// UnassignClient detaches a player from its zone.
func (s *Server) UnassignClient(clientID string) {
	s.mu.Lock()
	delete(s.assignments, clientID)
	c := s.clients[clientID]
	s.mu.Unlock()
	if c != nil {
		c.mu.Lock()
		c.zoneID = 0
		c.mu.Unlock()
		s.sendJSON(c, "stream/end", StreamEnd{Roles: []string{"player"}})
	}
}

// ConnectedClients lists the ids of currently connected players.
func (s *Server) ConnectedClients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// StartStream begins publishing a zone's encoded feed. chunks is the
// engine subscriber channel; the stream ends when it closes or
// StopStream is called.
func (s *Server) StartStream(zoneID int, profile models.StreamProfile, meta models.TrackMetadata, chunks <-chan []byte) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if old := s.streams[zoneID]; old != nil {
		old.cancel()
	}
	stream := &zoneStream{zoneID: zoneID, profile: profile, meta: meta, cancel: cancel}
	s.streams[zoneID] = stream

	var attach []*client
	for _, c := range s.clients {
		c.mu.Lock()
		if c.zoneID == zoneID {
			attach = append(attach, c)
		}
		c.mu.Unlock()
	}
	s.mu.Unlock()

	for _, c := range attach {
		s.attachToStream(c, stream)
	}

	go s.pump(ctx, stream, chunks)
}

// StopStream ends a zone's feed and tells its players to flush.
func (s *Server) StopStream(zoneID int) {
	s.mu.Lock()
	stream := s.streams[zoneID]
	if stream != nil {
		stream.cancel()
		delete(s.streams, zoneID)
	}
	var players []*client
	for _, c := range s.clients {
		c.mu.Lock()
		if c.zoneID == zoneID {
			players = append(players, c)
		}
		c.mu.Unlock()
	}
	s.mu.Unlock()

	for _, c := range players {
		s.sendJSON(c, "stream/end", StreamEnd{Roles: []string{"player"}})
	}
}

// UpdateMetadata pushes new track metadata to a zone's players.
func (s *Server) UpdateMetadata(zoneID int, meta models.TrackMetadata) {
	s.mu.Lock()
	if stream := s.streams[zoneID]; stream != nil {
		stream.meta = meta
	}
	players := s.zonePlayers(zoneID)
	s.mu.Unlock()

	state := s.metadataState(meta)
	for _, c := range players {
		s.sendJSON(c, "server/state", ServerState{Metadata: state})
	}
}

// SetPlaybackState mirrors the zone transport state to its players.
func (s *Server) SetPlaybackState(zoneID int, state string) {
	s.mu.Lock()
	players := s.zonePlayers(zoneID)
	s.mu.Unlock()
	groupID := fmt.Sprintf("%s-zone-%d", s.serverID, zoneID)
	for _, c := range players {
		s.sendJSON(c, "group/update", GroupUpdate{GroupID: &groupID, PlaybackState: &state})
	}
}

// SetVolume pushes a zone volume to its players via the controller
// command channel.
func (s *Server) SetVolume(zoneID int, level int) {
	s.mu.Lock()
	players := s.zonePlayers(zoneID)
	s.mu.Unlock()
	for _, c := range players {
		s.sendJSON(c, "server/command", map[string]any{
			"player": map[string]any{"command": "volume", "volume": level},
		})
	}
}

// zonePlayers must be called with s.mu held.
func (s *Server) zonePlayers(zoneID int) []*client {
	var players []*client
	for _, c := range s.clients {
		c.mu.Lock()
		if c.zoneID == zoneID {
			players = append(players, c)
		}
		c.mu.Unlock()
	}
	return players
}

// pump stamps, encodes and fans chunks out, maintaining the late-joiner
// lead window.
func (s *Server) pump(ctx context.Context, stream *zoneStream, chunks <-chan []byte) {
	chunkMs := stream.profile.ChunkMs
	if chunkMs <= 0 {
		chunkMs = 20
	}
	leadChunks := leadWindowMs / chunkMs
	if leadChunks < 1 {
		leadChunks = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-chunks:
			if !ok {
				s.StopStream(stream.zoneID)
				return
			}
			at := s.clockMicros() + bufferAheadMs*1000

			s.mu.Lock()
			stream.lead = append(stream.lead, stamped{at: at, data: data})
			if len(stream.lead) > leadChunks {
				stream.lead = stream.lead[len(stream.lead)-leadChunks:]
			}
			players := s.zonePlayers(stream.zoneID)
			s.mu.Unlock()

			for _, c := range players {
				s.sendChunk(c, at, data)
			}
		}
	}
}

// sendChunk encodes per the client's negotiated codec and enqueues the
// binary frame, dropping on a full queue.
func (s *Server) sendChunk(c *client, at int64, pcm []byte) {
	c.mu.Lock()
	enc := c.opusEnc
	c.mu.Unlock()

	payload := pcm
	if enc != nil {
		samples := bytesToInt16(pcm)
		if len(samples) != enc.FrameSamples() {
			return
		}
		encoded, err := enc.Encode(samples)
		if err != nil {
			return
		}
		payload = encoded
	}

	select {
	case c.send <- encodeChunk(at, payload):
	default:
		// Slow player; it resyncs from the timestamps.
	}
}

// handleWS runs one connection: hello handshake, then the message loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "client/hello" {
		s.logger.Debug().Msg("connection without client/hello")
		return
	}
	hello, err := decodePayload[ClientHello](msg.Payload)
	if err != nil || hello.ClientID == "" || hello.Name == "" {
		s.logger.Debug().Err(err).Msg("malformed client/hello")
		return
	}

	c := &client{
		id:     hello.ClientID,
		name:   hello.Name,
		conn:   conn,
		roles:  hello.SupportedRoles,
		player: hello.PlayerSupport,
		send:   make(chan any, clientSendDepth),
		state:  "synchronized",
		volume: 100,
	}

	s.mu.Lock()
	if _, dup := s.clients[c.id]; dup {
		s.mu.Unlock()
		s.logger.Warn().Str("client", c.id).Msg("duplicate client id rejected")
		return
	}
	s.clients[c.id] = c
	if zoneID, ok := s.assignments[c.id]; ok {
		c.zoneID = zoneID
	}
	stream := s.streams[c.zoneID]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.mu.Lock()
		if c.opusEnc != nil {
			c.opusEnc = nil
		}
		c.mu.Unlock()
		s.logger.Info().Str("client", c.name).Msg("sendspin player disconnected")
	}()

	s.sendJSON(c, "server/hello", ServerHello{
		ServerID:    s.serverID,
		Name:        s.name,
		Version:     protocolVersion,
		ActiveRoles: activateRoles(hello.SupportedRoles),
	})

	go s.writer(c)

	if stream != nil && hasRole(c.roles, "player") {
		s.attachToStream(c, stream)
	}
	s.logger.Info().Str("client", c.name).Int("zone", c.zoneID).Msg("sendspin player connected")

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "client/time":
			s.handleTimeSync(c, msg.Payload)
		case "client/state":
			if st, err := decodePayload[ClientState](msg.Payload); err == nil && st.Player != nil {
				c.mu.Lock()
				c.state = st.Player.State
				c.volume = st.Player.Volume
				c.muted = st.Player.Muted
				c.mu.Unlock()
			}
		case "client/goodbye":
			if gb, err := decodePayload[ClientGoodbye](msg.Payload); err == nil {
				s.logger.Debug().Str("client", c.name).Str("reason", gb.Reason).Msg("player goodbye")
			}
			return
		}
	}
}

// writer owns all socket writes for one client.
func (s *Server) writer(c *client) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			if raw, isBin := msg.([]byte); isBin {
				err = c.conn.WriteMessage(websocket.BinaryMessage, raw)
			} else {
				err = c.conn.WriteJSON(msg)
			}
			if err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// attachToStream negotiates the codec, announces the format and replays
// the lead window.
func (s *Server) attachToStream(c *client, stream *zoneStream) {
	chosen := negotiateCodec(c.player, stream.profile)

	var enc *codec.OpusEncoder
	if chosen == "opus" {
		chunkMs := stream.profile.ChunkMs
		if chunkMs <= 0 {
			chunkMs = 20
		}
		e, err := codec.NewOpusEncoder(stream.profile.Rate, stream.profile.Channels, chunkMs)
		if err != nil {
			s.logger.Warn().Err(err).Str("client", c.name).Msg("opus encoder unavailable, using pcm")
			chosen = "pcm"
		} else {
			enc = e
		}
	}

	c.mu.Lock()
	c.codec = chosen
	c.opusEnc = enc
	c.mu.Unlock()

	s.sendJSON(c, "stream/start", StreamStart{Player: &StreamStartPlayer{
		Codec:      chosen,
		SampleRate: stream.profile.Rate,
		Channels:   stream.profile.Channels,
		BitDepth:   stream.profile.Bits,
	}})
	s.sendJSON(c, "server/state", ServerState{Metadata: s.metadataState(stream.meta)})

	groupID := fmt.Sprintf("%s-zone-%d", s.serverID, stream.zoneID)
	playing := "playing"
	s.sendJSON(c, "group/update", GroupUpdate{GroupID: &groupID, PlaybackState: &playing})

	// Replay the lead window so the player starts within the cushion.
	s.mu.Lock()
	lead := make([]stamped, len(stream.lead))
	copy(lead, stream.lead)
	s.mu.Unlock()
	for _, ch := range lead {
		s.sendChunk(c, ch.at, ch.data)
	}
}

func (s *Server) handleTimeSync(c *client, payload any) {
	received := s.clockMicros()
	ct, err := decodePayload[ClientTime](payload)
	if err != nil {
		return
	}
	s.sendJSON(c, "server/time", ServerTime{
		ClientTransmitted: ct.ClientTransmitted,
		ServerReceived:    received,
		ServerTransmitted: s.clockMicros(),
	})
}

func (s *Server) sendJSON(c *client, msgType string, payload any) {
	select {
	case c.send <- Message{Type: msgType, Payload: payload}:
	default:
	}
}

func (s *Server) metadataState(meta models.TrackMetadata) *MetadataState {
	state := &MetadataState{Timestamp: s.clockMicros()}
	if meta.Title != "" {
		state.Title = &meta.Title
	}
	if meta.Artist != "" {
		state.Artist = &meta.Artist
	}
	if meta.Album != "" {
		state.Album = &meta.Album
	}
	if meta.Cover != "" {
		state.ArtURL = &meta.Cover
	}
	return state
}

// clockMicros is the monotonic server clock all timestamps share.
func (s *Server) clockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

// negotiateCodec picks the richest format the player accepts: PCM at
// the stream's native layout first, then Opus at 48 kHz.
func negotiateCodec(support *PlayerSupport, profile models.StreamProfile) string {
	if support == nil {
		return "pcm"
	}
	for _, f := range support.SupportedFormats {
		if f.Codec == "pcm" && f.SampleRate == profile.Rate && f.BitDepth == profile.Bits {
			return "pcm"
		}
	}
	for _, f := range support.SupportedFormats {
		if f.Codec == "opus" && profile.Rate == 48000 {
			return "opus"
		}
	}
	return "pcm"
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role || strings.HasPrefix(r, role+"@") {
			return true
		}
	}
	return false
}

// activateRoles keeps the first version of each role family we serve.
func activateRoles(supported []string) []string {
	seen := make(map[string]bool)
	var active []string
	for _, role := range supported {
		family, _, _ := strings.Cut(role, "@")
		if seen[family] {
			continue
		}
		switch family {
		case "player", "metadata", "artwork", "controller":
			seen[family] = true
			active = append(active, role)
		}
	}
	return active
}

// bytesToInt16 reinterprets little-endian s16 PCM bytes as samples.
func bytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
