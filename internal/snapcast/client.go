/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package snapcast is a JSON-RPC client for a snapserver control port.
// Zones map onto snapcast groups: the output driver points a group at
// the zone's stream and moves clients between groups.
package snapcast

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const dialTimeout = 5 * time.Second

// rpcRequest / rpcResponse are JSON-RPC 2.0 frames, newline delimited
// on the snapserver TCP control port.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"` // set on notifications
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("snapserver rpc error %d: %s", e.Code, e.Message)
}

// Group is a snapserver client group.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	StreamID string   `json:"stream_id"`
	Muted    bool     `json:"muted"`
	Clients  []Client `json:"clients"`
}

// Client is one snapcast client.
type Client struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Host      struct {
		Name string `json:"name"`
		MAC  string `json:"mac"`
	} `json:"host"`
	Config struct {
		Volume struct {
			Percent int  `json:"percent"`
			Muted   bool `json:"muted"`
		} `json:"volume"`
	} `json:"config"`
}

// Status is the server topology snapshot.
type Status struct {
	Groups  []Group `json:"groups"`
	Streams []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"streams"`
}

// Conn is a persistent control connection.
type Conn struct {
	addr   string
	logger zerolog.Logger

	mu      sync.Mutex
	conn    net.Conn
	nextID  int
	pending map[int]chan rpcResponse
}

// New creates a lazily connecting client.
func New(addr string, logger zerolog.Logger) *Conn {
	return &Conn{
		addr:    addr,
		logger:  logger.With().Str("component", "snapcast").Logger(),
		nextID:  1,
		pending: make(map[int]chan rpcResponse),
	}
}

// Close drops the control connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Conn) connect(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connect snapserver %s: %w", c.addr, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	c.logger.Info().Str("addr", c.addr).Msg("snapserver connected")
	return conn, nil
}

func (c *Conn) readLoop(conn net.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		for id, ch := range c.pending {
			ch <- rpcResponse{Error: &rpcError{Code: -1, Message: "connection closed"}}
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Method != "" {
			// Server notification; topology is re-pulled on demand.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call performs one request/response exchange.
func (c *Conn) call(ctx context.Context, method string, params any, result any) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	raw, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

// GetStatus pulls the server topology.
func (c *Conn) GetStatus(ctx context.Context) (*Status, error) {
	var result struct {
		Server Status `json:"server"`
	}
	if err := c.call(ctx, "Server.GetStatus", nil, &result); err != nil {
		return nil, err
	}
	return &result.Server, nil
}

// SetGroupStream points a group at a stream id.
func (c *Conn) SetGroupStream(ctx context.Context, groupID, streamID string) error {
	return c.call(ctx, "Group.SetStream", map[string]string{
		"id":        groupID,
		"stream_id": streamID,
	}, nil)
}

// SetGroupClients replaces a group's client membership.
func (c *Conn) SetGroupClients(ctx context.Context, groupID string, clientIDs []string) error {
	return c.call(ctx, "Group.SetClients", map[string]any{
		"id":      groupID,
		"clients": clientIDs,
	}, nil)
}

// SetGroupMute mutes or unmutes a whole group.
func (c *Conn) SetGroupMute(ctx context.Context, groupID string, mute bool) error {
	return c.call(ctx, "Group.SetMute", map[string]any{
		"id":   groupID,
		"mute": mute,
	}, nil)
}

// SetClientVolume sets one client's volume percent.
func (c *Conn) SetClientVolume(ctx context.Context, clientID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return c.call(ctx, "Client.SetVolume", map[string]any{
		"id": clientID,
		"volume": map[string]any{
			"percent": percent,
			"muted":   false,
		},
	}, nil)
}

// GroupForClient finds the group currently containing a client.
func (c *Conn) GroupForClient(ctx context.Context, clientID string) (*Group, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	for i := range status.Groups {
		for _, cl := range status.Groups[i].Clients {
			if cl.ID == clientID {
				return &status.Groups[i], nil
			}
		}
	}
	return nil, fmt.Errorf("client %s not found on snapserver", clientID)
}
