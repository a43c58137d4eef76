package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper isolates tests that go through the global viper instance
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		SetConfigFile("")
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	resetViper(t)

	SetConfigFile(writeConfig(t, `
node:
  id: edge-test
  idscheme: uuid
dispatch:
  host: 10.0.0.2
  maxretries: 3
  backoffbase: 250ms
`))

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "edge-test", settings.Node.ID)
	assert.Equal(t, IDSchemeUUID, settings.Node.IDScheme)
	assert.Equal(t, "10.0.0.2", settings.Dispatch.Host)
	assert.Equal(t, 3, settings.Dispatch.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, settings.Dispatch.BackoffBase)

	// untouched keys keep their defaults
	assert.Equal(t, 50555, settings.Dispatch.Port)
	assert.Equal(t, 3*time.Second, settings.Audio.ChunkDuration)
	assert.Equal(t, 48000, settings.Audio.SampleRate)
	assert.InDelta(t, 0.7, settings.Inference.Threshold, 1e-9)
	assert.Equal(t, 10*time.Second, settings.Inference.Timeout)
	assert.Equal(t, FormatJSON, settings.Dispatch.Format)

	assert.Same(t, settings, GetSettings())
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("BIRDNET_EDGE_COLLECTOR_HOST", "192.168.1.50")
	t.Setenv("BIRDNET_EDGE_COLLECTOR_PORT", "6001")
	t.Setenv("BIRDNET_EDGE_CONFIDENCE_THRESHOLD", "0.55")
	t.Setenv("BIRDNET_EDGE_INFERENCE_TIMEOUT", "4s")

	SetConfigFile(writeConfig(t, "node:\n  id: edge-env\n"))

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", settings.Dispatch.Host)
	assert.Equal(t, 6001, settings.Dispatch.Port)
	assert.InDelta(t, 0.55, settings.Inference.Threshold, 1e-9)
	assert.Equal(t, 4*time.Second, settings.Inference.Timeout)
}

func TestLoad_DefaultNodeID(t *testing.T) {
	resetViper(t)

	SetConfigFile(writeConfig(t, "debug: false\n"))

	settings, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, settings.Node.ID)
}

func TestLoad_InvalidSettings(t *testing.T) {
	resetViper(t)

	SetConfigFile(writeConfig(t, `
node:
  id: edge-bad
dispatch:
  maxretries: 0
`))

	_, err := Load()
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "dispatch.maxretries")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	resetViper(t)

	SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestEmbeddedDefaultConfigIsValid(t *testing.T) {
	resetViper(t)

	data, err := GetDefaultConfig()
	require.NoError(t, err)
	SetConfigFile(writeConfig(t, string(data)))

	settings, err := Load()
	require.NoError(t, err)
	assert.Equal(t, IDSchemeSequence, settings.Node.IDScheme)
	assert.Equal(t, TransportUDP, settings.Dispatch.Transport)
	assert.Equal(t, "0.0.0.0:50555", settings.Collector.Listen)
	assert.Equal(t, 65535, settings.Collector.MaxPacketSize)
	assert.False(t, settings.Notification.Enabled)
	assert.Equal(t, 10, settings.Notification.AbandonThreshold)
	assert.Equal(t, 5*time.Minute, settings.Notification.AbandonWindow)
}

func TestSaveYAMLConfig_RoundTrip(t *testing.T) {
	resetViper(t)

	original := validSettings()
	original.Node.ID = "edge-saved"
	original.Dispatch.BackoffMax = 45 * time.Second
	original.Dispatch.Format = FormatMsgpack

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveYAMLConfig(path, original))

	SetConfigFile(path)
	loaded, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "edge-saved", loaded.Node.ID)
	assert.Equal(t, 45*time.Second, loaded.Dispatch.BackoffMax)
	assert.Equal(t, FormatMsgpack, loaded.Dispatch.Format)
	assert.Equal(t, original.Audio.ChunkDuration, loaded.Audio.ChunkDuration)
}

func TestSettings_Location(t *testing.T) {
	t.Parallel()

	s := validSettings()
	assert.Equal(t, time.Local, s.Location())

	s.Node.Timezone = "Europe/Helsinki"
	assert.Equal(t, "Europe/Helsinki", s.Location().String())

	s.Node.Timezone = "Not/AZone"
	assert.Equal(t, time.Local, s.Location())
}

func TestSettings_LoggerConfig(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Logging.File.Enabled = true
	s.Logging.File.Path = "logs/x.log"

	cfg := s.LoggerConfig()
	assert.Equal(t, "info", cfg.DefaultLevel)
	assert.True(t, cfg.FileOutput.Enabled)
	assert.Equal(t, "logs/x.log", cfg.FileOutput.Path)

	s.Debug = true
	assert.Equal(t, "debug", s.LoggerConfig().DefaultLevel)
}
