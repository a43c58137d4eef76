// env.go - Environment variable configuration and validation for birdnet-edge
package conf

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "BIRDNET_EDGE_"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Node
		{"node.id", EnvPrefix + "NODE_ID", nil},
		{"node.idscheme", EnvPrefix + "ID_SCHEME", validateEnvIDScheme},
		{"node.latitude", EnvPrefix + "LATITUDE", validateEnvLatitude},
		{"node.longitude", EnvPrefix + "LONGITUDE", validateEnvLongitude},

		// Capture
		{"audio.source", EnvPrefix + "AUDIO_SOURCE", nil},
		{"audio.device", EnvPrefix + "AUDIO_DEVICE", nil},
		{"audio.chunkduration", EnvPrefix + "CHUNK_DURATION", validateEnvDuration},
		{"audio.samplerate", EnvPrefix + "SAMPLE_RATE", validateEnvPositiveInt},

		// Inference
		{"inference.modelpath", EnvPrefix + "MODEL_PATH", nil},
		{"inference.labelpath", EnvPrefix + "LABEL_PATH", nil},
		{"inference.threshold", EnvPrefix + "CONFIDENCE_THRESHOLD", validateEnvUnitInterval},
		{"inference.timeout", EnvPrefix + "INFERENCE_TIMEOUT", validateEnvDuration},

		// Dispatch
		{"dispatch.host", EnvPrefix + "COLLECTOR_HOST", validateEnvHost},
		{"dispatch.port", EnvPrefix + "COLLECTOR_PORT", validateEnvPort},
		{"dispatch.maxretries", EnvPrefix + "MAX_RETRIES", validateEnvPositiveInt},
		{"dispatch.backoffbase", EnvPrefix + "RETRY_BACKOFF_BASE", validateEnvDuration},
		{"dispatch.backoffmax", EnvPrefix + "RETRY_BACKOFF_MAX", validateEnvDuration},
		{"dispatch.format", EnvPrefix + "WIRE_FORMAT", validateEnvFormat},

		// Collector
		{"collector.listen", EnvPrefix + "COLLECTOR_LISTEN", nil},
		{"collector.store.dsn", EnvPrefix + "COLLECTOR_DSN", nil},

		// Error reporting
		{"sentry.enabled", EnvPrefix + "SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", EnvPrefix + "SENTRY_DSN", nil},

		{"debug", EnvPrefix + "DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvLatitude(value string) error {
	lat, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %g", lat)
	}
	return nil
}

func validateEnvLongitude(value string) error {
	lng, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %g", lng)
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("value must be between 0 and 1, got %g", v)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if v < 1 {
		return fmt.Errorf("value must be positive, got %d", v)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvHost(value string) error {
	if strings.ContainsAny(value, " /") {
		return fmt.Errorf("host must be a hostname or IP address, got '%s'", value)
	}
	if strings.Contains(value, ":") && net.ParseIP(value) == nil {
		return fmt.Errorf("host must not include a port, got '%s'", value)
	}
	return nil
}

func validateEnvIDScheme(value string) error {
	if !slices.Contains([]string{IDSchemeSequence, IDSchemeUUID, IDSchemeTimestamp}, value) {
		return fmt.Errorf("id scheme must be one of sequence, uuid, timestamp, got '%s'", value)
	}
	return nil
}

func validateEnvFormat(value string) error {
	if value != FormatJSON && value != FormatMsgpack {
		return fmt.Errorf("wire format must be json or msgpack, got '%s'", value)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
