// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/birdnet-edge/internal/logger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateNodeSettings,
		validateAudioSettings,
		validateInferenceSettings,
		validateDispatchSettings,
		validateCollectorSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if n := &settings.Notification; n.Enabled {
		if len(n.URLs) == 0 {
			ve.Errors = append(ve.Errors, "notification.urls must list at least one URL when notifications are enabled")
		}
		if n.AbandonThreshold < 1 {
			ve.Errors = append(ve.Errors, "notification.abandonthreshold must be at least 1")
		}
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateNodeSettings(settings *Settings) error {
	var errs []string
	node := &settings.Node

	if strings.TrimSpace(node.ID) == "" {
		errs = append(errs, "node.id must not be empty")
	}
	// node ids are embedded in sequence event ids and MQTT topics
	if strings.ContainsAny(node.ID, "/#+ ") {
		errs = append(errs, fmt.Sprintf("node.id %q must not contain spaces or MQTT wildcard characters", node.ID))
	}

	switch node.IDScheme {
	case IDSchemeSequence, IDSchemeUUID, IDSchemeTimestamp:
	default:
		errs = append(errs, fmt.Sprintf("node.idscheme must be sequence, uuid or timestamp, got %q", node.IDScheme))
	}

	if node.Latitude < -90 || node.Latitude > 90 {
		errs = append(errs, fmt.Sprintf("node.latitude must be between -90 and 90, got %g", node.Latitude))
	}
	if node.Longitude < -180 || node.Longitude > 180 {
		errs = append(errs, fmt.Sprintf("node.longitude must be between -180 and 180, got %g", node.Longitude))
	}

	return joinErrs("node", errs)
}

func validateAudioSettings(settings *Settings) error {
	var errs []string
	audio := &settings.Audio

	switch audio.Source {
	case SourceMalgo:
	case SourceWAV, SourceFLAC:
		if audio.File == "" {
			errs = append(errs, fmt.Sprintf("audio.file is required for the %s source", audio.Source))
		}
	default:
		errs = append(errs, fmt.Sprintf("audio.source must be malgo, wav or flac, got %q", audio.Source))
	}

	if audio.ChunkDuration <= 0 {
		errs = append(errs, "audio.chunkduration must be positive")
	}
	if audio.SampleRate <= 0 {
		errs = append(errs, "audio.samplerate must be positive")
	}
	if audio.Channels < 1 || audio.Channels > 2 {
		errs = append(errs, fmt.Sprintf("audio.channels must be 1 or 2, got %d", audio.Channels))
	}
	if audio.MaxDeviceFailures < 1 {
		errs = append(errs, "audio.maxdevicefailures must be at least 1")
	}
	if audio.DeviceRetryDelay <= 0 {
		errs = append(errs, "audio.deviceretrydelay must be positive")
	}
	if audio.DeviceRetryMax < audio.DeviceRetryDelay {
		errs = append(errs, "audio.deviceretrymax must not be smaller than audio.deviceretrydelay")
	}
	if audio.SaveDetections.Enabled && audio.SaveDetections.Path == "" {
		errs = append(errs, "audio.savedetections.path is required when saving detections")
	}

	return joinErrs("audio", errs)
}

func validateInferenceSettings(settings *Settings) error {
	var errs []string
	inf := &settings.Inference

	if inf.Threshold < 0 || inf.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("inference.threshold must be between 0 and 1, got %g", inf.Threshold))
	}
	if inf.Sensitivity < 0.1 || inf.Sensitivity > 1.5 {
		errs = append(errs, fmt.Sprintf("inference.sensitivity must be between 0.1 and 1.5, got %g", inf.Sensitivity))
	}
	if inf.Threads < 0 {
		errs = append(errs, "inference.threads must not be negative")
	}
	if inf.Timeout <= 0 {
		errs = append(errs, "inference.timeout must be positive")
	}
	if inf.TopN < 1 {
		errs = append(errs, "inference.topn must be at least 1")
	}

	// inference slower than a chunk means cycles are skipped; legal but worth knowing
	if inf.Timeout > settings.Audio.ChunkDuration && settings.Audio.ChunkDuration > 0 {
		GetLogger().Debug("inference timeout exceeds chunk duration",
			logger.Duration("timeout", inf.Timeout),
			logger.Duration("chunk_duration", settings.Audio.ChunkDuration))
	}

	return joinErrs("inference", errs)
}

func validateDispatchSettings(settings *Settings) error {
	var errs []string
	d := &settings.Dispatch

	switch d.Transport {
	case TransportUDP:
		if d.Host == "" {
			errs = append(errs, "dispatch.host is required for the udp transport")
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("dispatch.port must be between 1 and 65535, got %d", d.Port))
		}
	case TransportMQTT:
		if d.MQTT.Broker == "" {
			errs = append(errs, "dispatch.mqtt.broker is required for the mqtt transport")
		}
		if d.MQTT.Topic == "" {
			errs = append(errs, "dispatch.mqtt.topic is required for the mqtt transport")
		}
		if d.MQTT.QoS < 0 || d.MQTT.QoS > 2 {
			errs = append(errs, fmt.Sprintf("dispatch.mqtt.qos must be 0, 1 or 2, got %d", d.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Sprintf("dispatch.transport must be udp or mqtt, got %q", d.Transport))
	}

	if d.Format != FormatJSON && d.Format != FormatMsgpack {
		errs = append(errs, fmt.Sprintf("dispatch.format must be json or msgpack, got %q", d.Format))
	}
	if d.MaxRetries < 1 {
		errs = append(errs, "dispatch.maxretries must be at least 1")
	}
	if d.BackoffBase <= 0 {
		errs = append(errs, "dispatch.backoffbase must be positive")
	}
	if d.BackoffMax < d.BackoffBase {
		errs = append(errs, "dispatch.backoffmax must not be smaller than dispatch.backoffbase")
	}
	if d.QueueSize < 1 {
		errs = append(errs, "dispatch.queuesize must be at least 1")
	}
	if d.ShutdownGrace < 0 {
		errs = append(errs, "dispatch.shutdowngrace must not be negative")
	}
	if d.RateLimit < 0 {
		errs = append(errs, "dispatch.ratelimit must not be negative")
	}
	if d.DSCP < 0 || d.DSCP > 63 {
		errs = append(errs, fmt.Sprintf("dispatch.dscp must be between 0 and 63, got %d", d.DSCP))
	}
	if d.Ack.Enabled && d.Ack.Timeout <= 0 {
		errs = append(errs, "dispatch.ack.timeout must be positive when acks are enabled")
	}
	if d.Journal.Enabled && d.Journal.Path == "" {
		errs = append(errs, "dispatch.journal.path is required when the journal is enabled")
	}

	return joinErrs("dispatch", errs)
}

func validateCollectorSettings(settings *Settings) error {
	var errs []string
	c := &settings.Collector

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("collector.listen %q is not a host:port address: %v", c.Listen, err))
	}
	if c.MaxPacketSize < 512 || c.MaxPacketSize > 65535 {
		errs = append(errs, fmt.Sprintf("collector.maxpacketsize must be between 512 and 65535, got %d", c.MaxPacketSize))
	}
	if c.DedupTTL <= 0 {
		errs = append(errs, "collector.dedupttl must be positive")
	}
	if c.ReceiveBuffer < 0 {
		errs = append(errs, "collector.receivebuffer must not be negative")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "collector.store.path is required for sqlite")
		}
	case DriverMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, "collector.store.dsn is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("collector.store.driver must be sqlite or mysql, got %q", c.Store.Driver))
	}

	return joinErrs("collector", errs)
}

func joinErrs(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings errors: %s", section, strings.Join(errs, "; "))
}
