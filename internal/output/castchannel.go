/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protowire"
)

// CASTV2 namespaces.
const (
	castNSConnection = "urn:x-cast:com.google.cast.tp.connection"
	castNSHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	castNSReceiver   = "urn:x-cast:com.google.cast.receiver"
	castNSMedia      = "urn:x-cast:com.google.cast.media"

	castSender   = "sender-bragi"
	castReceiver = "receiver-0"

	// castMediaApp is the default media receiver application.
	castMediaApp = "CC1AD845"
)

// castMessage is the CASTV2 protobuf envelope. Encoded by hand with
// protowire; the message has five scalar fields and we only ever use
// UTF-8 payloads.
type castMessage struct {
	SourceID      string
	DestinationID string
	Namespace     string
	PayloadUTF8   string
}

// marshalCastMessage encodes the envelope: protocol_version(1)=0,
// source_id(2), destination_id(3), namespace(4), payload_type(5)=0,
// payload_utf8(6).
func marshalCastMessage(m castMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.SourceID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.DestinationID)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, m.Namespace)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, m.PayloadUTF8)
	return b
}

// unmarshalCastMessage decodes the fields we read back.
func unmarshalCastMessage(data []byte) (castMessage, error) {
	var m castMessage
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(data)
			if n >= 0 {
				switch num {
				case 2:
					m.SourceID = string(v)
				case 3:
					m.DestinationID = string(v)
				case 4:
					m.Namespace = string(v)
				case 6:
					m.PayloadUTF8 = string(v)
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		data = data[n:]
	}
	return m, nil
}

// castConn is one authenticated-enough CASTV2 channel: TLS with the
// device's self-signed cert, 4-byte big-endian length framing.
type castConn struct {
	addr   string
	logger zerolog.Logger

	mu        sync.Mutex
	conn      net.Conn
	requestID int
	pending   map[int]chan map[string]any

	transportID    string
	mediaSessionID float64
}

func newCastConn(addr string, logger zerolog.Logger) *castConn {
	return &castConn{
		addr:      addr,
		logger:    logger,
		requestID: 1,
		pending:   make(map[int]chan map[string]any),
	}
}

func (c *castConn) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 5 * time.Second},
		// Cast devices present self-signed certs.
		Config: &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect cast device %s: %w", c.addr, err)
	}
	c.conn = conn
	go c.readLoop(conn)

	if err := c.sendLocked(castReceiver, castNSConnection, map[string]any{"type": "CONNECT"}); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *castConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.transportID = ""
	c.mediaSessionID = 0
}

func (c *castConn) readLoop(conn net.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.transportID = ""
			c.mediaSessionID = 0
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header)
		if length > 1<<20 {
			return
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(conn, raw); err != nil {
			return
		}
		msg, err := unmarshalCastMessage(raw)
		if err != nil {
			continue
		}
		c.handle(conn, msg)
	}
}

func (c *castConn) handle(conn net.Conn, msg castMessage) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(msg.PayloadUTF8), &payload); err != nil {
		return
	}
	msgType, _ := payload["type"].(string)

	if msg.Namespace == castNSHeartbeat && msgType == "PING" {
		c.mu.Lock()
		c.sendLocked(msg.SourceID, castNSHeartbeat, map[string]any{"type": "PONG"})
		c.mu.Unlock()
		return
	}

	// Track the media session from unsolicited status too.
	if msgType == "MEDIA_STATUS" {
		if statuses, ok := payload["status"].([]any); ok && len(statuses) > 0 {
			if st, ok := statuses[0].(map[string]any); ok {
				if sid, ok := st["mediaSessionId"].(float64); ok {
					c.mu.Lock()
					c.mediaSessionID = sid
					c.mu.Unlock()
				}
			}
		}
	}

	if reqID, ok := payload["requestId"].(float64); ok {
		c.mu.Lock()
		ch, ok := c.pending[int(reqID)]
		if ok {
			delete(c.pending, int(reqID))
		}
		c.mu.Unlock()
		if ok {
			ch <- payload
		}
	}
}

// sendLocked writes one framed message; c.mu must be held.
func (c *castConn) sendLocked(destination, namespace string, payload map[string]any) error {
	if c.conn == nil {
		return fmt.Errorf("cast channel closed")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := marshalCastMessage(castMessage{
		SourceID:      castSender,
		DestinationID: destination,
		Namespace:     namespace,
		PayloadUTF8:   string(raw),
	})
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(frame)))
	copy(buf[4:], frame)
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = c.conn.Write(buf)
	return err
}

// request sends a payload with a requestId and waits for the matching
// response.
func (c *castConn) request(ctx context.Context, destination, namespace string, payload map[string]any) (map[string]any, error) {
	c.mu.Lock()
	id := c.requestID
	c.requestID++
	payload["requestId"] = id
	ch := make(chan map[string]any, 1)
	c.pending[id] = ch
	err := c.sendLocked(destination, namespace, payload)
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cast channel closed mid-request")
		}
		return resp, nil
	}
}

// launchMedia ensures the default media receiver runs and a virtual
// connection to its transport exists. Returns the transport id.
func (c *castConn) launchMedia(ctx context.Context) (string, error) {
	c.mu.Lock()
	transport := c.transportID
	c.mu.Unlock()
	if transport != "" {
		return transport, nil
	}

	resp, err := c.request(ctx, castReceiver, castNSReceiver, map[string]any{
		"type":  "LAUNCH",
		"appId": castMediaApp,
	})
	if err != nil {
		return "", err
	}
	transport = transportFromStatus(resp)
	if transport == "" {
		// LAUNCH answers with RECEIVER_STATUS once the app is up; poll
		// once more in case the first status predates it.
		resp, err = c.request(ctx, castReceiver, castNSReceiver, map[string]any{"type": "GET_STATUS"})
		if err != nil {
			return "", err
		}
		transport = transportFromStatus(resp)
	}
	if transport == "" {
		return "", fmt.Errorf("media receiver did not start")
	}

	c.mu.Lock()
	c.transportID = transport
	err = c.sendLocked(transport, castNSConnection, map[string]any{"type": "CONNECT"})
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return transport, nil
}

func transportFromStatus(payload map[string]any) string {
	status, ok := payload["status"].(map[string]any)
	if !ok {
		return ""
	}
	apps, ok := status["applications"].([]any)
	if !ok {
		return ""
	}
	for _, a := range apps {
		app, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if app["appId"] == castMediaApp {
			if tid, ok := app["transportId"].(string); ok {
				return tid
			}
		}
	}
	return ""
}

func (c *castConn) sessionID() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaSessionID
}
