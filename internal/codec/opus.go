/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet the encoder may produce.
const maxOpusPacket = 4000

// OpusEncoder turns fixed-size 16-bit PCM frames into Opus packets.
// Frame size follows from the sample rate and the chunk length the
// caller negotiated (usually 20 ms).
type OpusEncoder struct {
	enc       *opus.Encoder
	channels  int
	frameSize int // samples per channel per frame
}

// NewOpusEncoder creates an encoder for the given stream layout.
func NewOpusEncoder(sampleRate, channels, frameMs int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:       enc,
		channels:  channels,
		frameSize: sampleRate * frameMs / 1000,
	}, nil
}

// FrameSamples returns the interleaved sample count of one input frame.
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSize * e.channels
}

// Encode compresses one interleaved PCM frame. The input length must
// equal FrameSamples.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.FrameSamples() {
		return nil, fmt.Errorf("opus frame length %d, want %d", len(pcm), e.FrameSamples())
	}
	buf := make([]byte, maxOpusPacket)
	n, err := e.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return buf[:n], nil
}

// OpusDecoder expands Opus packets back into interleaved 16-bit PCM.
type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
}

// NewOpusDecoder creates a decoder for the given stream layout.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode expands one packet. The returned slice is valid until the next
// call.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	pcm := make([]int16, 5760*d.channels) // max opus frame at 48kHz
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcm[:n*d.channels], nil
}
