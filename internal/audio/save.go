package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/birdnet-edge/internal/errors"
)

// SaveChunkWAV writes c as a 16-bit PCM WAV file, creating parent directories
func SaveChunkWAV(path string, c *Chunk) error {
	if c == nil || len(c.Samples) == 0 {
		return errors.Newf("no audio to save").
			Component("audio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "create_directory").
			Context("path", path).
			Build()
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath) //nolint:gosec // path is built from configuration
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "create_file").
			Context("path", tmpPath).
			Build()
	}

	channels := max(c.Channels, 1)
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(float32ToInt16(s))
	}

	enc := wav.NewEncoder(f, c.SampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: c.SampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}

	writeErr := enc.Write(buf)
	if writeErr == nil {
		writeErr = enc.Close()
	}
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return errors.New(fmt.Errorf("encode wav: %w", writeErr)).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "write_wav").
			Context("path", path).
			Build()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "rename").
			Context("path", path).
			Build()
	}
	return nil
}
