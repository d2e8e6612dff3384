/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/slimproto"
)

func TestClassifyReceiver(t *testing.T) {
	cases := []struct {
		public string
		want   string
	}{
		{"ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, TEARDOWN, OPTIONS, GET_PARAMETER, SET_PARAMETER", protoRAOP},
		{"ANNOUNCE, SETUP, RECORD, SETPEERS, SETRATEANCHORTIME, TEARDOWN", protoAirPlay2},
		{"setpeers", protoAirPlay2},
		{"", protoRAOP},
	}
	for _, tc := range cases {
		if got := classifyReceiver(tc.public); got != tc.want {
			t.Fatalf("classify %q = %s, want %s", tc.public, got, tc.want)
		}
	}
}

func TestStartLeadScalesWithMembers(t *testing.T) {
	solo := startLeadFor(1)
	if solo != airplayStartLead {
		t.Fatalf("solo lead = %s", solo)
	}
	if got := startLeadFor(3); got != airplayStartLead+2*airplayStartLeadPerMember {
		t.Fatalf("trio lead = %s", got)
	}
	if startLeadFor(0) != solo {
		t.Fatal("zero members should behave like a solo flow")
	}
}

func TestLeaderStreamIDPrefersConfiguredStream(t *testing.T) {
	d, err := newSnapcastDriver(4, models.OutputConfig{
		ID:      "sn1",
		Driver:  "snapcast",
		Address: "kitchen-client",
		Options: map[string]string{"stream": "house-mix"},
	}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("build snapcast driver: %v", err)
	}
	if got := leaderStreamID(d.(*snapcastDriver)); got != "house-mix" {
		t.Fatalf("stream id = %s", got)
	}
	if got := leaderStreamID(&slimprotoDriver{zoneID: 7}); got != "zone-7" {
		t.Fatalf("fallback stream id = %s", got)
	}
}

func TestSlimprotoPendingMembersDrainOnRelease(t *testing.T) {
	leader := &slimprotoDriver{zoneID: 1}
	member := &slimprotoDriver{zoneID: 2}

	if leader.isReleased() {
		t.Fatal("fresh driver must not report released")
	}
	leader.addPending(member)
	got := leader.takePending()
	if len(got) != 1 || got[0] != member {
		t.Fatalf("pending = %v", got)
	}
	if len(leader.takePending()) != 0 {
		t.Fatal("pending must drain on take")
	}
}

func TestWaitBufferReadyBounded(t *testing.T) {
	// A player with no live connection can never report readiness; the
	// wait must come back fast instead of stalling the group start.
	p := &slimproto.Player{MAC: "0011aabbccdd"}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	if waitBufferReady(ctx, p) {
		t.Fatal("disconnected player reported ready")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took %s", elapsed)
	}
}
