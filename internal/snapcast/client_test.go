package snapcast

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSnapserver answers every request from a canned handler.
func fakeSnapserver(t *testing.T, handle func(req rpcRequest) any) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req rpcRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			resp := map[string]any{
				"id":      req.ID,
				"jsonrpc": "2.0",
				"result":  handle(req),
			}
			raw, _ := json.Marshal(resp)
			conn.Write(append(raw, '\n'))
		}
	}()
	return ln.Addr().String()
}

func TestGetStatusParsesTopology(t *testing.T) {
	addr := fakeSnapserver(t, func(req rpcRequest) any {
		if req.Method != "Server.GetStatus" {
			t.Errorf("method = %s", req.Method)
		}
		return map[string]any{
			"server": map[string]any{
				"groups": []map[string]any{
					{
						"id":        "g1",
						"stream_id": "zone-3",
						"clients": []map[string]any{
							{"id": "kitchen", "connected": true},
						},
					},
				},
				"streams": []map[string]any{
					{"id": "zone-3", "status": "playing"},
				},
			},
		}
	})

	c := New(addr, zerolog.Nop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if len(status.Groups) != 1 || status.Groups[0].StreamID != "zone-3" {
		t.Fatalf("groups = %+v", status.Groups)
	}
	if status.Groups[0].Clients[0].ID != "kitchen" {
		t.Fatalf("clients = %+v", status.Groups[0].Clients)
	}
}

func TestGroupForClient(t *testing.T) {
	addr := fakeSnapserver(t, func(req rpcRequest) any {
		return map[string]any{
			"server": map[string]any{
				"groups": []map[string]any{
					{"id": "g1", "clients": []map[string]any{{"id": "den"}}},
					{"id": "g2", "clients": []map[string]any{{"id": "porch"}}},
				},
			},
		}
	})

	c := New(addr, zerolog.Nop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g, err := c.GroupForClient(ctx, "porch")
	if err != nil {
		t.Fatalf("group for client: %v", err)
	}
	if g.ID != "g2" {
		t.Fatalf("group = %s", g.ID)
	}
	if _, err := c.GroupForClient(ctx, "attic"); err == nil {
		t.Fatal("expected missing client error")
	}
}

func TestSetClientVolumeClamps(t *testing.T) {
	got := make(chan int, 1)
	addr := fakeSnapserver(t, func(req rpcRequest) any {
		params := req.Params.(map[string]any)
		volume := params["volume"].(map[string]any)
		got <- int(volume["percent"].(float64))
		return map[string]any{}
	})

	c := New(addr, zerolog.Nop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SetClientVolume(ctx, "den", 150); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if v := <-got; v != 100 {
		t.Fatalf("percent = %d, want 100", v)
	}
}
