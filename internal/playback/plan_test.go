/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"testing"

	"github.com/friendsincode/bragi/internal/audiopath"
	"github.com/friendsincode/bragi/internal/config"
	"github.com/friendsincode/bragi/internal/engine"
	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/zone"
)

type fakeFormatOutput struct {
	prebuffer int
}

func (f *fakeFormatOutput) Type() string { return "fake" }
func (f *fakeFormatOutput) ID() string   { return "fake1" }

func (f *fakeFormatOutput) Play(ctx context.Context, sess *output.Session) error   { return nil }
func (f *fakeFormatOutput) Pause(ctx context.Context, sess *output.Session) error  { return nil }
func (f *fakeFormatOutput) Resume(ctx context.Context, sess *output.Session) error { return nil }
func (f *fakeFormatOutput) Stop(ctx context.Context, sess *output.Session) error   { return nil }
func (f *fakeFormatOutput) SetVolume(ctx context.Context, level int) error         { return nil }
func (f *fakeFormatOutput) Dispose(ctx context.Context) error                      { return nil }

func (f *fakeFormatOutput) PreferredOutput() output.PreferredOutput {
	return output.PreferredOutput{SampleRate: 48000, Channels: 2, BitDepth: 16, PrebufferBytes: f.prebuffer}
}

func TestBuildPlanPrebufferFollowsPrimaryOutput(t *testing.T) {
	var c Coordinator
	out := &fakeFormatOutput{prebuffer: 256 << 10}
	zc := &zone.Context{ID: 1, Name: "den", Outputs: []output.Driver{out}}

	p, err := audiopath.Parse("library:track:abc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	meta := models.TrackMetadata{Title: "T", DurationMs: 180000}
	plan := c.buildPlan(zc, zc.Outputs, p, "library:track:abc", meta, DefaultPlayOptions())
	if plan.Prebuffer != 256<<10 {
		t.Fatalf("prebuffer = %d", plan.Prebuffer)
	}
	if plan.Preferred.Rate != 48000 {
		t.Fatalf("rate = %d", plan.Preferred.Rate)
	}
}

func TestBuildPlanRadioClampsPrebuffer(t *testing.T) {
	var c Coordinator
	out := &fakeFormatOutput{prebuffer: 256 << 10}
	zc := &zone.Context{ID: 1, Outputs: []output.Driver{out}}

	p, err := audiopath.Parse("http://ice.example.com/groove")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	plan := c.buildPlan(zc, zc.Outputs, p, "http://ice.example.com/groove", models.TrackMetadata{}, DefaultPlayOptions())
	if !plan.IsRadio {
		t.Fatal("url without duration must classify as radio")
	}
	if plan.Prebuffer != radioPrebufferBytes {
		t.Fatalf("prebuffer = %d, want clamp to %d", plan.Prebuffer, radioPrebufferBytes)
	}
}

func TestOutputSessionCarriesPrebuffer(t *testing.T) {
	c := Coordinator{cfg: &config.Config{BaseURL: "http://bragi.local:8080"}}
	zc := &zone.Context{ID: 3, Name: "attic"}
	sess := &engine.Session{ID: "sess-1"}

	out := c.outputSession(zc, sess, Plan{Prebuffer: 4096, Preferred: models.StreamProfile{Codec: "flac"}})
	if out.Prebuffer != 4096 {
		t.Fatalf("session prebuffer = %d", out.Prebuffer)
	}
}
