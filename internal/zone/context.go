/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package zone owns the per-zone state records and the serializer that
// gives every zone a single total order of mutations. All playback
// logic runs inside Repository.Do / Repository.Post closures; nothing
// outside the serializer may touch a Context.
package zone

import (
	"time"

	"github.com/friendsincode/bragi/internal/models"
	"github.com/friendsincode/bragi/internal/output"
	"github.com/friendsincode/bragi/internal/queue"
)

// Context is the unit of state for one zone. It is owned by the zone's
// serializer goroutine; fields carry no locks because exactly one task
// runs at a time.
type Context struct {
	ID        int
	Name      string
	SourceMac string

	// Def is the immutable config snapshot the zone was installed with.
	// A config change retires this Context and installs a fresh one.
	Def models.ZoneDefinition

	State models.ZoneState
	Queue *queue.Queue

	// Outputs is the ordered renderer list. Replaced only during zone
	// reconfigure, which runs inside the serializer like everything else.
	Outputs []output.Driver
	// ActiveOutput names the Type of the primary output, "" when the
	// zone has no outputs. Always present in Outputs when set.
	ActiveOutput string

	// InputMode says who feeds the zone right now; ActiveInput gates
	// input-adapter callbacks: a callback whose label does not match is
	// dropped without touching state.
	InputMode   models.InputSource
	ActiveInput models.InputSource

	// IsRadio mirrors the classification of the current item; radio
	// sessions pin time/duration to zero.
	IsRadio bool

	// FillCancel aborts the in-flight background queue fill, if any.
	FillCancel func()

	// Alert holds the pre-alert snapshot while an alert sound interrupts
	// the zone.
	Alert *AlertSnapshot

	// Dispatch throttling stamps. Read and written only by serializer
	// tasks, so plain fields suffice.
	LastBroadcast  time.Time
	LastPositionAt time.Time
	LastPositionMs int64
	LastMetadataAt time.Time
}

// AlertSnapshot captures what a zone was doing before an alert sound
// interrupted it, so the coordinator can restore playback afterwards.
type AlertSnapshot struct {
	State        models.ZoneState
	Items        []models.QueueItem
	CurrentIndex int
	TakenAt      time.Time
}

// New builds a freshly installed zone context in mode stop.
func New(def models.ZoneDefinition) *Context {
	defVol, _, _ := def.VolumePolicy()
	now := time.Now()
	return &Context{
		ID:        def.ID,
		Name:      def.Name,
		SourceMac: def.SourceMac,
		Def:       def,
		Queue:     queue.New(),
		State: models.ZoneState{
			ZoneID:      def.ID,
			Mode:        models.ModeStop,
			Repeat:      models.RepeatOff,
			Authority:   models.AuthorityLocal,
			Volume:      defVol,
			Power:       models.PowerOff,
			ClientState: models.PowerOff,
			UpdatedAt:   now,
		},
	}
}

// Snapshot projects the queue-derived fields into State and returns a
// copy safe to hand outside the serializer.
func (c *Context) Snapshot() models.ZoneState {
	st := c.State
	st.QIndex = c.Queue.CurrentIndex()
	st.QLen = c.Queue.Len()
	st.Shuffle = c.Queue.Shuffle()
	st.Repeat = c.Queue.Repeat()
	st.Authority = c.Queue.Authority()
	if item, ok := c.Queue.Current(); ok {
		st.QID = item.UniqueID
	} else {
		st.QID = ""
	}
	st.Source = c.InputMode
	return st
}

// Touch bumps the state timestamp after a mutation.
func (c *Context) Touch() {
	c.State.UpdatedAt = time.Now()
}

// ClampVolume applies the zone volume policy to a requested level.
func (c *Context) ClampVolume(level int) int {
	_, _, max := c.Def.VolumePolicy()
	if level < 0 {
		return 0
	}
	if level > max {
		return max
	}
	return level
}

// VolumeStep returns the configured relative-volume increment.
func (c *Context) VolumeStep() int {
	_, step, _ := c.Def.VolumePolicy()
	return step
}

// FindOutput returns the first output of the given transport type.
func (c *Context) FindOutput(typ string) (output.Driver, bool) {
	for _, out := range c.Outputs {
		if out.Type() == typ {
			return out, true
		}
	}
	return nil, false
}

// PrimaryOutput returns the active output when set, else the first
// configured output.
func (c *Context) PrimaryOutput() (output.Driver, bool) {
	if c.ActiveOutput != "" {
		if out, ok := c.FindOutput(c.ActiveOutput); ok {
			return out, true
		}
	}
	if len(c.Outputs) > 0 {
		return c.Outputs[0], true
	}
	return nil, false
}

// CancelFill invalidates any background queue fill before a rebuild.
func (c *Context) CancelFill() {
	if c.FillCancel != nil {
		c.FillCancel()
		c.FillCancel = nil
	}
}
