package audio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/birdnet-edge/internal/errors"
)

// WAVDevice replays a WAV file as a capture device. It returns io.EOF once the
// file is exhausted.
type WAVDevice struct {
	mu      sync.Mutex
	file    *os.File
	decoder *wav.Decoder
	format  Format
	shift   uint // bits to drop when narrowing to 16 bit
	intBuf  *audio.IntBuffer
	name    string
}

// NewWAVDevice opens path and validates its header
func NewWAVDevice(path string) (*WAVDevice, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "open_wav").
			Context("path", path).
			Build()
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		_ = file.Close()
		return nil, &DeviceError{Device: path, Op: "open", Err: ErrUnsupportedFormat}
	}

	bitDepth := int(decoder.BitDepth)
	shift, err := narrowShift(bitDepth)
	if err != nil {
		_ = file.Close()
		return nil, &DeviceError{Device: path, Op: "open", Err: err}
	}

	if err := decoder.FwdToPCM(); err != nil {
		_ = file.Close()
		return nil, &DeviceError{Device: path, Op: "open", Err: err}
	}

	return &WAVDevice{
		file:    file,
		decoder: decoder,
		format: Format{
			SampleRate: int(decoder.SampleRate),
			Channels:   int(decoder.NumChans),
			BitDepth:   bitDepth,
		},
		shift: shift,
		name:  filepath.Base(path),
	}, nil
}

// narrowShift returns the right shift that maps bitDepth samples into int16 range
func narrowShift(bitDepth int) (uint, error) {
	switch bitDepth {
	case 16:
		return 0, nil
	case 24:
		return 8, nil
	case 32:
		return 16, nil
	default:
		return 0, errors.Newf("unsupported bit depth %d: %w", bitDepth, ErrUnsupportedFormat).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("bit_depth", bitDepth).
			Build()
	}
}

// Read implements Device
func (d *WAVDevice) Read(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.decoder == nil {
		return 0, ErrDeviceDisconnected
	}

	if d.intBuf == nil || len(d.intBuf.Data) < len(buf) {
		d.intBuf = &audio.IntBuffer{
			Format: &audio.Format{NumChannels: d.format.Channels, SampleRate: d.format.SampleRate},
			Data:   make([]int, len(buf)),
		}
	}
	d.intBuf.Data = d.intBuf.Data[:len(buf)]

	n, err := d.decoder.PCMBuffer(d.intBuf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i := range n {
		buf[i] = int16(d.intBuf.Data[i] >> d.shift)
	}
	return n, nil
}

// Format implements Device
func (d *WAVDevice) Format() Format { return d.format }

// Name implements Device
func (d *WAVDevice) Name() string { return d.name }

// Close implements Device
func (d *WAVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.decoder = nil
	return err
}
