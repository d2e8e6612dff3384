/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "fmt"

// ErrorKind classifies playback failures for the notifier and logs.
type ErrorKind string

const (
	KindNoOutputConfigured ErrorKind = "no_output_configured"
	KindEngineStartFailed  ErrorKind = "engine_start_failed"
	KindStreamUnavailable  ErrorKind = "stream_unavailable"
	KindOutputError        ErrorKind = "output_error"
	KindQueueEnd           ErrorKind = "queue_end"
	KindQueueInvalidNext   ErrorKind = "queue_invalid_next"
	KindQueueNextFailed    ErrorKind = "queue_next_failed"
	KindGroupBroadcast     ErrorKind = "group_broadcast_failed"
)

// ErrorSource says which side of the pipeline failed.
type ErrorSource string

const (
	SourcePlayer ErrorSource = "player"
	SourceOutput ErrorSource = "output"
)

// Error is the typed playback failure carried through the zone
// serializer and surfaced to the notifier.
type Error struct {
	Kind     ErrorKind
	Source   ErrorSource
	Provider string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, source ErrorSource, provider string, err error) *Error {
	return &Error{Kind: kind, Source: source, Provider: provider, Err: err}
}

func (e *Error) withReason(format string, args ...any) *Error {
	e.Reason = fmt.Sprintf(format, args...)
	return e
}
