/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// probeDuration reads enough of a file to compute its play length in
// milliseconds. Formats without a cheap native probe report zero, which
// downstream treats as unknown rather than radio (library items always
// carry file type).
func probeDuration(path string) (int64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return probeMP3(path)
	case ".flac":
		return probeFLAC(path)
	}
	return 0, nil
}

func probeMP3(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("mp3 decode %s: %w", filepath.Base(path), err)
	}
	rate := int64(dec.SampleRate())
	if rate <= 0 {
		return 0, fmt.Errorf("mp3 %s reports no sample rate", filepath.Base(path))
	}
	// Length is decoded byte count: 16-bit stereo regardless of source.
	samples := dec.Length() / 4
	return samples * 1000 / rate, nil
}

func probeFLAC(path string) (int64, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return 0, fmt.Errorf("flac open %s: %w", filepath.Base(path), err)
	}
	defer stream.Close()

	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return 0, fmt.Errorf("flac %s has no stream info", filepath.Base(path))
	}
	return int64(info.NSamples) * 1000 / int64(info.SampleRate), nil
}
