// Package audio holds the PCM plumbing shared by capture, synthesis and
// playback: sample formats, frame conversion, and the bounded [Relay] that
// carries captured bytes to the transcription stream.
//
// Output devices implement [Sink]. Device-backed implementations live in
// audio/device.
package audio

import (
	"context"
	"time"
)

// Encoding names the sample encoding of raw PCM bytes.
type Encoding string

const (
	// EncodingF32LE is interleaved little-endian IEEE-754 float32 samples.
	// This is what the capture device delivers.
	EncodingF32LE Encoding = "pcm_f32le"

	// EncodingS16LE is interleaved little-endian signed 16-bit samples
	// (often called linear16).
	EncodingS16LE Encoding = "pcm_s16le"
)

// BytesPerSample returns the width of one sample in bytes, or 0 for an
// unknown encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingF32LE:
		return 4
	case EncodingS16LE:
		return 2
	default:
		return 0
	}
}

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool { return e.BytesPerSample() > 0 }

// Format describes the sample rate, channel count and sample encoding of an
// audio stream.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// FrameBytes returns the size in bytes of one interleaved frame (one sample
// per channel).
func (f Format) FrameBytes() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// AudioFrame is a chunk of raw PCM flowing through the pipeline, from the
// capture callback into the relay or from a synthesis stream to the output
// device.
type AudioFrame struct {
	// Data holds interleaved PCM samples in Encoding.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for capture, 16000 for synthesis).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Encoding of Data. An empty value is treated as EncodingS16LE.
	Encoding Encoding

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's format descriptor.
func (f AudioFrame) Format() Format {
	enc := f.Encoding
	if enc == "" {
		enc = EncodingS16LE
	}
	return Format{SampleRate: f.SampleRate, Channels: f.Channels, Encoding: enc}
}

// Sink is an audio output that accepts raw PCM in its own [Format].
//
// Write queues PCM for playback and may block under backpressure. Wait blocks
// until everything written so far has been played or ctx is cancelled.
type Sink interface {
	Write(p []byte) (int, error)
	Wait(ctx context.Context) error
	Format() Format
}
