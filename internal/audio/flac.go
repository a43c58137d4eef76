package audio

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/flac"

	"github.com/tphakala/birdnet-edge/internal/errors"
)

// FLACDevice replays a FLAC file as a capture device
type FLACDevice struct {
	mu      sync.Mutex
	file    *os.File
	decoder *flac.Decoder
	format  Format
	shift   uint
	pending []int16 // decoded samples not yet handed to Read
	name    string
}

// NewFLACDevice opens path and reads the stream header
func NewFLACDevice(path string) (*FLACDevice, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "open_flac").
			Context("path", path).
			Build()
	}

	decoder, err := flac.NewDecoder(file)
	if err != nil {
		_ = file.Close()
		return nil, &DeviceError{Device: path, Op: "open", Err: errors.Join(ErrUnsupportedFormat, err)}
	}

	shift, err := narrowShift(decoder.BitsPerSample)
	if err != nil {
		_ = file.Close()
		return nil, &DeviceError{Device: path, Op: "open", Err: err}
	}

	return &FLACDevice{
		file:    file,
		decoder: decoder,
		format: Format{
			SampleRate: decoder.SampleRate,
			Channels:   decoder.NChannels,
			BitDepth:   decoder.BitsPerSample,
		},
		shift: shift,
		name:  filepath.Base(path),
	}, nil
}

// Read implements Device
func (d *FLACDevice) Read(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.decoder == nil {
		return 0, ErrDeviceDisconnected
	}

	for len(d.pending) == 0 {
		frame, err := d.decoder.Next()
		if err != nil {
			return 0, err // io.EOF at end of stream
		}
		d.pending = d.decodeFrame(frame)
	}

	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// decodeFrame converts interleaved little-endian samples to int16
func (d *FLACDevice) decodeFrame(frame []byte) []int16 {
	bytesPerSample := d.format.BitDepth / 8
	out := make([]int16, 0, len(frame)/bytesPerSample)
	for i := 0; i+bytesPerSample <= len(frame); i += bytesPerSample {
		var sample int32
		switch d.format.BitDepth {
		case 16:
			sample = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
		case 24:
			sample = int32(frame[i]) | int32(frame[i+1])<<8 | int32(int8(frame[i+2]))<<16
		case 32:
			sample = int32(binary.LittleEndian.Uint32(frame[i:]))
		}
		out = append(out, int16(sample>>d.shift))
	}
	return out
}

// Format implements Device
func (d *FLACDevice) Format() Format { return d.format }

// Name implements Device
func (d *FLACDevice) Name() string { return d.name }

// Close implements Device
func (d *FLACDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.decoder = nil
	d.pending = nil
	return err
}
