/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package codec

import (
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/friendsincode/bragi/internal/models"
)

// mp3Decoder wraps go-mp3, which always yields 16-bit stereo PCM.
type mp3Decoder struct {
	dec *mp3.Decoder
	src io.ReadCloser
}

func newMP3(r io.ReadCloser) (StreamDecoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open mp3: %w", err)
	}
	return &mp3Decoder{dec: dec, src: r}, nil
}

func (d *mp3Decoder) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

func (d *mp3Decoder) Format() models.PCMFormat {
	return models.PCMFormat{Rate: d.dec.SampleRate(), Channels: 2, Bits: 16}
}

func (d *mp3Decoder) Close() error {
	return d.src.Close()
}
