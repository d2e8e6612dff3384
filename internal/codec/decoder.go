/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package codec provides native decoders and encoders for the stream
// paths that bypass the subprocess pipeline: probing local files and
// producing per-client Opus frames.
package codec

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/friendsincode/bragi/internal/models"
)

// StreamDecoder reads encoded audio and yields interleaved little-endian
// signed PCM at the format it reports.
type StreamDecoder interface {
	io.Reader
	Format() models.PCMFormat
	Close() error
}

// Open returns a decoder for the file extension of name. The reader is
// owned by the decoder afterwards.
func Open(name string, r io.ReadCloser) (StreamDecoder, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return newMP3(r)
	case ".flac":
		return newFLAC(r)
	case ".wav":
		return newWAV(r)
	default:
		return nil, fmt.Errorf("no native decoder for %q", filepath.Ext(name))
	}
}

// Supported reports whether Open can handle the file natively.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".flac", ".wav":
		return true
	}
	return false
}
