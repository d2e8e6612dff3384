/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"testing"
	"time"
)

func TestAllowPositionPush(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		lastAt time.Time
		lastMs int64
		posMs  int64
		want   bool
	}{
		{"moved after window", now.Add(-2 * time.Second), 1000, 3000, true},
		{"moved inside window", now.Add(-200 * time.Millisecond), 1000, 1200, false},
		{"unchanged after window", now.Add(-2 * time.Second), 1000, 1000, false},
		{"seek back after window", now.Add(-2 * time.Second), 5000, 0, true},
	}
	for _, tc := range cases {
		if got := allowPositionPush(tc.lastAt, tc.lastMs, now, tc.posMs); got != tc.want {
			t.Fatalf("%s: allow = %v, want %v", tc.name, got, tc.want)
		}
	}
}
