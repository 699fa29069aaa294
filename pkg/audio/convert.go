package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter converts AudioFrames to a target format. It logs a warning
// on the first format mismatch and validates PCM data alignment.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: downmix, then resample, then re-encode, then upmix. Float
// input is narrowed to 16-bit before resampling.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := frame.Format()
	target := c.Target
	if target.Encoding == "" {
		target.Encoding = EncodingS16LE
	}

	if src.FrameBytes() == 0 || len(frame.Data)%src.FrameBytes() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: partial frame in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", formatString(src),
			)
		})
		return AudioFrame{
			SampleRate: target.SampleRate,
			Channels:   target.Channels,
			Encoding:   target.Encoding,
			Timestamp:  frame.Timestamp,
		}
	}

	if src == target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(src),
			"to", formatString(target),
		)
	})

	pcm := frame.Data
	cur := src

	if cur.Channels == 2 && target.Channels == 1 {
		if cur.Encoding == EncodingF32LE {
			pcm = StereoToMonoF32(pcm)
		} else {
			pcm = StereoToMono(pcm)
		}
		cur.Channels = 1
	}

	if cur.SampleRate != target.SampleRate {
		if cur.Encoding == EncodingF32LE {
			pcm = F32ToS16(pcm)
			cur.Encoding = EncodingS16LE
		}
		if cur.Channels == 2 {
			pcm = ResampleStereo16(pcm, cur.SampleRate, target.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, cur.SampleRate, target.SampleRate)
		}
		cur.SampleRate = target.SampleRate
	}

	if cur.Encoding != target.Encoding {
		if cur.Encoding == EncodingF32LE {
			pcm = F32ToS16(pcm)
		} else {
			pcm = S16ToF32(pcm)
		}
		cur.Encoding = target.Encoding
	}

	if cur.Channels == 1 && target.Channels == 2 {
		pcm = MonoToStereo(pcm, cur.Encoding.BytesPerSample())
		cur.Channels = 2
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: cur.SampleRate,
		Channels:   cur.Channels,
		Encoding:   cur.Encoding,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMonoF32 downmixes interleaved 2-channel little-endian float32 PCM to
// mono by averaging each left/right pair. Trailing bytes that do not form a
// whole stereo frame are ignored. The returned slice is always freshly
// allocated with length (len(pcm)/8)*4; the input is not modified.
func StereoToMonoF32(pcm []byte) []byte {
	frames := len(pcm) / 8
	out := make([]byte, frames*4)
	for i := range frames {
		l := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*8:]))
		r := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*8+4:]))
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits((l+r)/2))
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair. width is the
// sample size in bytes (2 for S16, 4 for F32).
func MonoToStereo(pcm []byte, width int) []byte {
	if width <= 0 {
		return nil
	}
	n := len(pcm) / width
	out := make([]byte, n*width*2)
	for i := range n {
		s := pcm[i*width : (i+1)*width]
		copy(out[i*width*2:], s)
		copy(out[i*width*2+width:], s)
	}
	return out
}

// F32ToS16 converts little-endian float32 samples in [-1, 1] to little-endian
// int16. Out-of-range samples are clipped; NaN becomes silence.
func F32ToS16(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		f := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		var s int32
		switch {
		case math.IsNaN(float64(f)):
			s = 0
		case f >= 1:
			s = math.MaxInt16
		case f <= -1:
			s = math.MinInt16
		default:
			s = int32(f * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(s)))
	}
	return out
}

// S16ToF32 converts little-endian int16 samples to little-endian float32 in
// [-1, 1].
func S16ToF32(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(s)/32768))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// ResampleStereo16 is [ResampleMono16] for interleaved 16-bit stereo PCM;
// left and right are interpolated independently.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx
		if srcIdx+1 < srcFrames {
			next = srcIdx + 1
		}
		for ch := range 2 {
			s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*4+ch*2:]))
			s1 := int16(binary.LittleEndian.Uint16(pcm[next*4+ch*2:]))
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			binary.LittleEndian.PutUint16(out[i*4+ch*2:], uint16(v))
		}
	}
	return out
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns a human-readable string for a format,
// e.g. "48000Hz stereo pcm_f32le".
func formatString(f Format) string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %s", f.SampleRate, ch, f.Encoding)
}
