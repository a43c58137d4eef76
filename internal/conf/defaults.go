// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("node.id", "")
	viper.SetDefault("node.idscheme", IDSchemeSequence)
	viper.SetDefault("node.latitude", 0.000)
	viper.SetDefault("node.longitude", 0.000)
	viper.SetDefault("node.timezone", "Local")

	viper.SetDefault("audio.source", SourceMalgo)
	viper.SetDefault("audio.device", "")
	viper.SetDefault("audio.file", "")
	viper.SetDefault("audio.chunkduration", 3*time.Second)
	viper.SetDefault("audio.samplerate", 48000)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.discardpartial", false)
	viper.SetDefault("audio.maxdevicefailures", 5)
	viper.SetDefault("audio.deviceretrydelay", 1*time.Second)
	viper.SetDefault("audio.deviceretrymax", 30*time.Second)
	viper.SetDefault("audio.savedetections.enabled", false)
	viper.SetDefault("audio.savedetections.path", "clips/")

	viper.SetDefault("inference.modelpath", "model/BirdNET_GLOBAL_6K_V2.4_Model_FP32.tflite")
	viper.SetDefault("inference.labelpath", "model/labels_en.txt")
	viper.SetDefault("inference.threshold", 0.7)
	viper.SetDefault("inference.sensitivity", 1.0)
	viper.SetDefault("inference.threads", 0)
	viper.SetDefault("inference.timeout", 10*time.Second)
	viper.SetDefault("inference.topn", 10)

	viper.SetDefault("dispatch.transport", TransportUDP)
	viper.SetDefault("dispatch.host", "127.0.0.1")
	viper.SetDefault("dispatch.port", 50555)
	viper.SetDefault("dispatch.format", FormatJSON)
	viper.SetDefault("dispatch.maxretries", 5)
	viper.SetDefault("dispatch.backoffbase", 500*time.Millisecond)
	viper.SetDefault("dispatch.backoffmax", 30*time.Second)
	viper.SetDefault("dispatch.queuesize", 64)
	viper.SetDefault("dispatch.shutdowngrace", 5*time.Second)
	viper.SetDefault("dispatch.ratelimit", 0.0)
	viper.SetDefault("dispatch.dscp", 0)
	viper.SetDefault("dispatch.ack.enabled", false)
	viper.SetDefault("dispatch.ack.timeout", 2*time.Second)
	viper.SetDefault("dispatch.journal.enabled", false)
	viper.SetDefault("dispatch.journal.path", "dispatch_journal.db")
	viper.SetDefault("dispatch.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("dispatch.mqtt.topic", "birdnet-edge")
	viper.SetDefault("dispatch.mqtt.username", "")
	viper.SetDefault("dispatch.mqtt.password", "")
	viper.SetDefault("dispatch.mqtt.qos", 1)
	viper.SetDefault("dispatch.mqtt.retain", false)
	viper.SetDefault("dispatch.mqtt.connecttimeout", 10*time.Second)

	viper.SetDefault("collector.listen", "0.0.0.0:50555")
	viper.SetDefault("collector.maxpacketsize", 65535)
	viper.SetDefault("collector.ack", true)
	viper.SetDefault("collector.dedupttl", 10*time.Minute)
	viper.SetDefault("collector.receivebuffer", 1<<20)
	viper.SetDefault("collector.store.driver", DriverSQLite)
	viper.SetDefault("collector.store.path", "collector.db")
	viper.SetDefault("collector.store.dsn", "")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.timeout", 10*time.Second)
	viper.SetDefault("notification.cooldown", 15*time.Minute)
	viper.SetDefault("notification.abandonthreshold", 10)
	viper.SetDefault("notification.abandonwindow", 5*time.Minute)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.file.enabled", false)
	viper.SetDefault("logging.file.path", "logs/birdnet-edge.log")
	viper.SetDefault("logging.file.level", "info")
}
