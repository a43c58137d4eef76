// config.go: This file contains the configuration for the birdnet-edge node and collector. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdnet-edge/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Event id schemes. The scheme is fixed per deployment because collectors
// deduplicate on event_id.
const (
	IDSchemeSequence  = "sequence"  // {node_id}-{seq}-{unix_ms}
	IDSchemeUUID      = "uuid"      // random 128-bit token
	IDSchemeTimestamp = "timestamp" // YYYYMMDDTHHMMSS.ffffffZ_<8 hex>
)

// Audio sources
const (
	SourceMalgo = "malgo"
	SourceWAV   = "wav"
	SourceFLAC  = "flac"
)

// Dispatch transports and wire formats
const (
	TransportUDP  = "udp"
	TransportMQTT = "mqtt"

	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Collector store drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// NodeSettings identifies the node and where it is deployed.
type NodeSettings struct {
	ID        string  // node identifier, defaults to the hostname
	IDScheme  string  // event id scheme: sequence, uuid or timestamp
	Latitude  float64 // deployment latitude
	Longitude float64 // deployment longitude
	Timezone  string  // IANA timezone for local_time, "Local" for the host zone
}

// SaveDetectionsSettings controls saving chunks that produced an event.
type SaveDetectionsSettings struct {
	Enabled bool   // true to write a WAV clip per event
	Path    string // directory for saved clips
}

// AudioSettings contains the capture configuration.
type AudioSettings struct {
	Source            string        // malgo, wav or flac
	Device            string        // capture device name or substring, empty for the default device
	File              string        // input file for wav and flac sources
	ChunkDuration     time.Duration // fixed duration of every chunk
	SampleRate        int           // capture sample rate
	Channels          int           // capture channel count
	DiscardPartial    bool          // skip chunks padded after a short read
	MaxDeviceFailures int           // consecutive capture failures before the node exits
	DeviceRetryDelay  time.Duration // initial delay between capture retries
	DeviceRetryMax    time.Duration // cap for the doubling capture retry delay
	SaveDetections    SaveDetectionsSettings
}

// InferenceSettings contains the model configuration.
type InferenceSettings struct {
	ModelPath   string        // path to the tflite model
	LabelPath   string        // path to the labels file
	Threshold   float64       // minimum confidence for a detection to be kept
	Sensitivity float64       // sigmoid sensitivity, 1.0 is neutral
	Threads     int           // interpreter threads, 0 for auto
	Timeout     time.Duration // per chunk inference timeout
	TopN        int           // max detections kept per analysis window
}

// AckSettings configures application level acknowledgement of UDP datagrams.
type AckSettings struct {
	Enabled bool          // wait for {"ack":"<event_id>"} after each send
	Timeout time.Duration // how long to wait for the ack
}

// JournalSettings configures the local record of abandoned events.
type JournalSettings struct {
	Enabled bool   // true to record abandoned events
	Path    string // sqlite database file
}

// MQTTSettings configures the MQTT transport.
type MQTTSettings struct {
	Broker         string        // MQTT broker URL, e.g. tcp://localhost:1883
	Topic          string        // topic prefix, the node id is appended
	Username       string        // MQTT username
	Password       string        // MQTT password
	QoS            int           // publish QoS, 0 to 2
	Retain         bool          // retain flag for published events
	ConnectTimeout time.Duration // connect and publish wait timeout
}

// DispatchSettings contains the delivery configuration.
type DispatchSettings struct {
	Transport     string        // udp or mqtt
	Host          string        // collector host for udp
	Port          int           // collector port for udp
	Format        string        // json or msgpack
	MaxRetries    int           // maximum total send attempts per event
	BackoffBase   time.Duration // delay before the second attempt, doubled afterwards
	BackoffMax    time.Duration // cap for the retry delay
	QueueSize     int           // bounded dispatch queue capacity
	ShutdownGrace time.Duration // time allowed to drain the queue on shutdown
	RateLimit     float64       // max sends per second, 0 for unlimited
	DSCP          int           // DSCP value for outgoing datagrams, 0 to disable
	Ack           AckSettings
	Journal       JournalSettings
	MQTT          MQTTSettings
}

// StoreSettings configures the collector database.
type StoreSettings struct {
	Driver string // sqlite or mysql
	Path   string // sqlite database file
	DSN    string // mysql data source name
}

// CollectorSettings contains the UDP collector configuration.
type CollectorSettings struct {
	Listen        string        // listen address, e.g. 0.0.0.0:50555
	MaxPacketSize int           // receive buffer per datagram
	Ack           bool          // reply {"ack":"<event_id>"} to the sender
	DedupTTL      time.Duration // how long a seen event_id is remembered
	ReceiveBuffer int           // socket receive buffer size in bytes, 0 for the OS default
	Store         StoreSettings
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose /metrics
	Listen  string // listen address for the metrics endpoint
}

// NotificationSettings configures operator alerts sent through shoutrrr.
type NotificationSettings struct {
	Enabled          bool          // true to send alerts
	URLs             []string      // shoutrrr service URLs, e.g. telegram://token@telegram?chats=123
	Timeout          time.Duration // per send timeout
	Cooldown         time.Duration // minimum gap between alerts of the same kind
	AbandonThreshold int           // abandoned events within the window that raise an alert
	AbandonWindow    time.Duration // window for counting abandoned events
}

// SentrySettings configures opt-in error reporting.
type SentrySettings struct {
	Enabled    bool    // true to report errors to Sentry
	DSN        string  // Sentry DSN
	SampleRate float64 // error sample rate, 0 to 1
}

// FileLogSettings configures the JSON log file.
type FileLogSettings struct {
	Enabled bool
	Path    string
	Level   string
}

// LoggingSettings configures the central logger.
type LoggingSettings struct {
	Level        string            // default level: trace, debug, info, warn, error
	Timezone     string            // timezone for console timestamps
	File         FileLogSettings   // JSON log file output
	ModuleLevels map[string]string // per module level overrides
}

// Settings contains all configuration options for birdnet-edge.
type Settings struct {
	Debug bool // true to enable debug mode

	Node         NodeSettings
	Audio        AudioSettings
	Inference    InferenceSettings
	Dispatch     DispatchSettings
	Collector    CollectorSettings
	Telemetry    TelemetrySettings
	Notification NotificationSettings
	Sentry       SentrySettings
	Logging      LoggingSettings
}

// LoggerConfig converts the logging section into a logger configuration.
func (s *Settings) LoggerConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}
	return &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Logging.Timezone,
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level},
		FileOutput: &logger.FileOutput{
			Enabled: s.Logging.File.Enabled,
			Path:    s.Logging.File.Path,
			Level:   s.Logging.File.Level,
		},
		ModuleLevels: s.Logging.ModuleLevels,
	}
}

// Location returns the node timezone, falling back to the host zone.
func (s *Settings) Location() *time.Location {
	switch s.Node.Timezone {
	case "", "Local":
		return time.Local
	}
	loc, err := time.LoadLocation(s.Node.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFile       string
)

// SetConfigFile selects an explicit config file instead of the default search paths.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFile = path
}

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.Node.ID == "" {
		settings.Node.ID = defaultNodeID()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigType("yaml")

	// function defined in defaults.go
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")
	defaultConfig, err := GetDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetDefaultConfig returns the embedded default config.yaml.
func GetDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the most recently loaded settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file in the same directory first so the replace is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// cross-device rename, fall back to copy & delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "birdnet-edge"
	}
	return hostname
}
