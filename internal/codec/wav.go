/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/friendsincode/bragi/internal/models"
)

// wavDecoder strips the RIFF header and passes the data chunk through.
type wavDecoder struct {
	src    io.ReadCloser
	data   io.Reader
	format models.PCMFormat
}

func newWAV(r io.ReadCloser) (StreamDecoder, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		r.Close()
		return nil, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		r.Close()
		return nil, fmt.Errorf("not a wav file")
	}

	var format models.PCMFormat
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			r.Close()
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			chunk := make([]byte, size)
			if _, err := io.ReadFull(r, chunk); err != nil {
				r.Close()
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(chunk) < 16 {
				r.Close()
				return nil, fmt.Errorf("short fmt chunk")
			}
			format = models.PCMFormat{
				Channels: int(binary.LittleEndian.Uint16(chunk[2:4])),
				Rate:     int(binary.LittleEndian.Uint32(chunk[4:8])),
				Bits:     int(binary.LittleEndian.Uint16(chunk[14:16])),
			}
		case "data":
			if format.Rate == 0 {
				r.Close()
				return nil, fmt.Errorf("wav data chunk before fmt chunk")
			}
			return &wavDecoder{
				src:    r,
				data:   io.LimitReader(r, int64(size)),
				format: format,
			}, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				r.Close()
				return nil, fmt.Errorf("skip chunk %q: %w", id, err)
			}
		}
	}
}

func (d *wavDecoder) Read(p []byte) (int, error) { return d.data.Read(p) }

func (d *wavDecoder) Format() models.PCMFormat { return d.format }

func (d *wavDecoder) Close() error { return d.src.Close() }
