package audio

import (
	"context"
	"encoding/hex"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// ringSeconds is how much audio the capture ring holds before dropping the oldest samples
const ringSeconds = 10

// MalgoConfig configures a live capture device
type MalgoConfig struct {
	DeviceName string // exact name, decoded id or substring; empty for the default device
	SampleRate int
	Channels   int
}

// MalgoDevice captures S16 PCM from a soundcard through miniaudio
type MalgoDevice struct {
	name    string
	format  Format
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	ring    *captureRing
	closeMu sync.Mutex
	closed  bool
}

// DeviceInfo describes a capture device found by EnumerateDevices
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// getBackendForPlatform returns the malgo backend for the current platform
func getBackendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system %s", runtime.GOOS).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("os", runtime.GOOS).
			Build()
	}
}

func initMalgoContext() (*malgo.AllocatedContext, error) {
	backend, err := getBackendForPlatform()
	if err != nil {
		return nil, err
	}
	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Context("backend", runtime.GOOS).
			Build()
	}
	return malgoCtx, nil
}

// EnumerateDevices lists available capture devices
func EnumerateDevices() ([]DeviceInfo, error) {
	malgoCtx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}

	return devices, nil
}

// selectDevice finds a device by exact name, decoded id or name substring
func selectDevice(devices []malgo.DeviceInfo, deviceName string) (*malgo.DeviceInfo, error) {
	if deviceName == "" || deviceName == "default" || deviceName == "sysdefault" {
		for i := range devices {
			if devices[i].IsDefault == 1 {
				return &devices[i], nil
			}
		}
		if len(devices) > 0 {
			return &devices[0], nil
		}
	}

	for i := range devices {
		if devices[i].Name() == deviceName {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if decodeDeviceID(devices[i].ID.String()) == deviceName {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if strings.Contains(devices[i].Name(), deviceName) {
			return &devices[i], nil
		}
	}

	return nil, errors.Newf("capture device %q not found: %w", deviceName, ErrDeviceUnavailable).
		Component("audio").
		Category(errors.CategoryAudioSource).
		Context("device_name", deviceName).
		Context("available_devices", len(devices)).
		Build()
}

// decodeDeviceID turns ALSA hex encoded ids into readable strings such as "hw:1,0"
func decodeDeviceID(id string) string {
	decoded, err := hex.DecodeString(id)
	if err != nil {
		return id
	}
	return strings.TrimRight(string(decoded), "\x00")
}

// NewMalgoDevice opens and starts a capture device
func NewMalgoDevice(cfg MalgoConfig) (*MalgoDevice, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	malgoCtx, err := initMalgoContext()
	if err != nil {
		return nil, err
	}
	cleanupCtx := func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		cleanupCtx()
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}

	info, err := selectDevice(infos, cfg.DeviceName)
	if err != nil {
		cleanupCtx()
		return nil, err
	}

	d := &MalgoDevice{
		name: info.Name(),
		format: Format{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			BitDepth:   16,
		},
		ctx:  malgoCtx,
		ring: newCaptureRing(cfg.SampleRate * cfg.Channels * 2 * ringSeconds),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			d.ring.write(pInput)
		},
		Stop: func() {
			GetLogger().Warn("capture device stopped", logger.String("device", d.name))
			d.ring.close()
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		cleanupCtx()
		return nil, errors.Newf("init capture device %q: %w (%w)", d.name, err, ErrDeviceUnavailable).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_device").
			Build()
	}
	d.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		cleanupCtx()
		return nil, errors.Newf("start capture device %q: %w (%w)", d.name, err, ErrDeviceUnavailable).
			Component("audio").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_device").
			Build()
	}

	GetLogger().Info("capture device started",
		logger.String("device", d.name),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("channels", cfg.Channels))

	return d, nil
}

// Read implements Device
func (d *MalgoDevice) Read(ctx context.Context, buf []int16) (int, error) {
	return d.ring.read(ctx, buf)
}

// Format implements Device
func (d *MalgoDevice) Format() Format { return d.format }

// Name implements Device
func (d *MalgoDevice) Name() string { return d.name }

// DroppedBytes returns how much audio was discarded because reads fell behind
func (d *MalgoDevice) DroppedBytes() uint64 { return d.ring.droppedBytes() }

// Close stops capture and releases the miniaudio context
func (d *MalgoDevice) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	start := time.Now()
	d.ring.close()
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
	}
	GetLogger().Debug("capture device closed",
		logger.String("device", d.name),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}
