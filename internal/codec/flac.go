/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package codec

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/friendsincode/bragi/internal/models"
)

// flacDecoder converts FLAC frames to interleaved 16-bit PCM.
type flacDecoder struct {
	stream *flac.Stream
	src    io.ReadCloser
	rest   []byte // leftover bytes of the last decoded frame
}

func newFLAC(r io.ReadCloser) (StreamDecoder, error) {
	stream, err := flac.New(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open flac: %w", err)
	}
	return &flacDecoder{stream: stream, src: r}, nil
}

func (d *flacDecoder) Read(p []byte) (int, error) {
	for len(d.rest) == 0 {
		frame, err := d.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		d.rest = interleaveFrame(frame.Subframes, int(d.stream.Info.BitsPerSample))
	}
	n := copy(p, d.rest)
	d.rest = d.rest[n:]
	return n, nil
}

func (d *flacDecoder) Format() models.PCMFormat {
	return models.PCMFormat{
		Rate:     int(d.stream.Info.SampleRate),
		Channels: int(d.stream.Info.NChannels),
		Bits:     16,
	}
}

func (d *flacDecoder) Close() error {
	return d.src.Close()
}

// interleaveFrame flattens per-channel subframe samples into 16-bit LE
// PCM, shifting higher bit depths down.
func interleaveFrame(subframes []*frame.Subframe, bits int) []byte {
	if len(subframes) == 0 {
		return nil
	}
	shift := bits - 16
	n := len(subframes[0].Samples)
	out := make([]byte, 0, n*len(subframes)*2)
	for i := 0; i < n; i++ {
		for _, sf := range subframes {
			s := sf.Samples[i]
			if shift > 0 {
				s >>= shift
			} else if shift < 0 {
				s <<= -shift
			}
			out = append(out, byte(s), byte(s>>8))
		}
	}
	return out
}
