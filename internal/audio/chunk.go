// Package audio captures fixed-duration PCM chunks from an opened input device.
//
// The Recorder owns a Device exclusively and turns its interleaved int16 stream
// into normalized float32 chunks with a monotonically increasing sequence number.
// Devices are constructed by the caller: MalgoDevice for live capture, WAVDevice
// and FLACDevice for file replay.
package audio

import "time"

// Chunk is a fixed-duration segment of captured audio.
// len(Samples) == frames(Duration, SampleRate) * Channels; a short device read
// is zero-padded and flagged Partial.
type Chunk struct {
	Samples    []float32 // normalized -1..1, interleaved when Channels > 1
	SampleRate int
	Channels   int
	Duration   time.Duration
	StartTime  time.Time // capture start
	Seq        uint64    // 1-based, monotonic per Recorder
	Partial    bool      // true when the device delivered less than Duration
	Source     string    // device name
}

// Frames returns the number of sample frames in the chunk
func (c *Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Mono returns the chunk downmixed to a single channel.
// Mono chunks return their own sample slice.
func (c *Chunk) Mono() []float32 {
	if c.Channels <= 1 {
		return c.Samples
	}
	frames := c.Frames()
	out := make([]float32, frames)
	scale := 1 / float32(c.Channels)
	for i := range frames {
		var sum float32
		for ch := range c.Channels {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum * scale
	}
	return out
}

// samplesFor returns the interleaved sample count for duration at rate and channels
func samplesFor(duration time.Duration, rate, channels int) int {
	frames := int(int64(duration) * int64(rate) / int64(time.Second))
	return frames * channels
}

// int16ToFloat32 converts interleaved PCM to normalized floats
func int16ToFloat32(dst []float32, src []int16) {
	for i, s := range src {
		dst[i] = float32(s) / 32768.0
	}
}

// float32ToInt16 converts a normalized float sample back to PCM, clipping out of range values
func float32ToInt16(f float32) int16 {
	switch {
	case f >= 1:
		return 32767
	case f <= -1:
		return -32768
	default:
		return int16(f * 32768)
	}
}
