package audio

import "context"

// Format describes the PCM stream delivered by a Device
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int // bit depth of the underlying source; Read always delivers int16
}

// Device is an opened, readable audio input.
//
// Read fills buf with interleaved int16 samples, blocking until at least one
// sample is available, ctx is done, or the stream fails. It returns io.EOF when
// a finite source is exhausted. A Device is not safe for concurrent reads.
type Device interface {
	Read(ctx context.Context, buf []int16) (int, error)
	Format() Format
	Name() string
	Close() error
}
