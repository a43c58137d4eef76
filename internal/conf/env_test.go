package conf

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		wantErr bool
	}{
		{"true", false},
		{"0", false},
		{" TRUE ", false},
		{"\tf\n", false},
		{"yes", true},
		{"", true},
		{"0.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			err := validateEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid boolean value")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		validate func(string) error
		value    string
		wantErr  bool
	}{
		{"latitude ok", validateEnvLatitude, "60.17", false},
		{"latitude range", validateEnvLatitude, "-91", true},
		{"longitude ok", validateEnvLongitude, "24.94", false},
		{"longitude parse", validateEnvLongitude, "east", true},
		{"threshold ok", validateEnvUnitInterval, "0.7", false},
		{"threshold range", validateEnvUnitInterval, "1.01", true},
		{"port ok", validateEnvPort, "50555", false},
		{"port zero", validateEnvPort, "0", true},
		{"port parse", validateEnvPort, "udp", true},
		{"duration ok", validateEnvDuration, "1500ms", false},
		{"duration bare number", validateEnvDuration, "5", true},
		{"duration negative", validateEnvDuration, "-1s", true},
		{"retries ok", validateEnvPositiveInt, "5", false},
		{"retries zero", validateEnvPositiveInt, "0", true},
		{"host name", validateEnvHost, "collector.local", false},
		{"host ipv6", validateEnvHost, "fd00::1", false},
		{"host with port", validateEnvHost, "collector.local:50555", true},
		{"host url", validateEnvHost, "udp://collector", true},
		{"scheme ok", validateEnvIDScheme, "timestamp", false},
		{"scheme bad", validateEnvIDScheme, "ulid", true},
		{"format ok", validateEnvFormat, "msgpack", false},
		{"format bad", validateEnvFormat, "protobuf", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBindEnvVars_ReportsInvalidValues(t *testing.T) {
	resetViper(t)
	t.Setenv("BIRDNET_EDGE_COLLECTOR_PORT", "not-a-port")
	t.Setenv("BIRDNET_EDGE_LATITUDE", "45.5")

	err := bindEnvVars()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIRDNET_EDGE_COLLECTOR_PORT")
	assert.NotContains(t, err.Error(), "BIRDNET_EDGE_LATITUDE")

	// bindings are in place even when a value is rejected
	assert.Equal(t, "45.5", viper.GetString("node.latitude"))
}

func TestEnvBindingsUsePrefix(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, b := range getEnvBindings() {
		assert.Regexp(t, `^BIRDNET_EDGE_[A-Z_]+$`, b.EnvVar)
		assert.False(t, seen[b.EnvVar], "duplicate binding %s", b.EnvVar)
		seen[b.EnvVar] = true
	}
}
