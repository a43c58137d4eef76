// Package node implements the node command: capture, classify and dispatch.
package node

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-edge/internal/audio"
	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/dispatch"
	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/inference"
	"github.com/tphakala/birdnet-edge/internal/logger"
	"github.com/tphakala/birdnet-edge/internal/notification"
	"github.com/tphakala/birdnet-edge/internal/observability"
	"github.com/tphakala/birdnet-edge/internal/pipeline"
	"github.com/tphakala/birdnet-edge/internal/telemetry"
)

const (
	sentryFlushTimeout  = 2 * time.Second
	failureAlertTimeout = 15 * time.Second
)

// Command creates the node command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run the capture, inference and dispatch pipeline",
		Long:  "Capture fixed-length audio chunks, classify them and send one event per chunk with detections to the collector.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags binds command line overrides to their config keys
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("source", "", "Audio source: malgo, wav or flac")
	flags.String("file", "", "Input file for wav and flac sources")
	flags.String("device", "", "Capture device name or substring")
	flags.String("model", "", "Path to the tflite model")
	flags.String("labels", "", "Path to the labels file")
	flags.Float64("threshold", 0, "Minimum detection confidence")
	flags.String("transport", "", "Dispatch transport: udp or mqtt")
	flags.String("host", "", "Collector host")
	flags.Int("port", 0, "Collector port")
	flags.String("format", "", "Wire format: json or msgpack")

	bindings := map[string]string{
		"source":    "audio.source",
		"file":      "audio.file",
		"device":    "audio.device",
		"model":     "inference.modelpath",
		"labels":    "inference.labelpath",
		"threshold": "inference.threshold",
		"transport": "dispatch.transport",
		"host":      "dispatch.host",
		"port":      "dispatch.port",
		"format":    "dispatch.format",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run wires the node components and blocks until the pipeline stops
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("node")
	defer telemetry.Flush(sentryFlushTimeout)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	device, err := openDevice(settings)
	if err != nil {
		return err
	}
	recorder := audio.NewRecorder(device)
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warn("failed to close audio device", logger.Error(err))
		}
	}()

	model, err := inference.NewBirdNETModel(inference.BirdNETConfig{
		ModelPath:   settings.Inference.ModelPath,
		LabelPath:   settings.Inference.LabelPath,
		Sensitivity: settings.Inference.Sensitivity,
		Threads:     settings.Inference.Threads,
		TopN:        settings.Inference.TopN,
	})
	if err != nil {
		return err
	}
	defer func() { _ = model.Close() }()

	adapter := inference.NewAdapter(model, inference.AdapterConfig{
		Threshold: settings.Inference.Threshold,
		Timeout:   settings.Inference.Timeout,
	})

	builder, err := event.NewBuilder(event.BuilderConfig{
		NodeID:    settings.Node.ID,
		IDScheme:  settings.Node.IDScheme,
		Latitude:  settings.Node.Latitude,
		Longitude: settings.Node.Longitude,
		Location:  settings.Location(),
		Model:     model.Name(),
	}, time.Now())
	if err != nil {
		return err
	}

	codec, err := event.NewCodec(settings.Dispatch.Format)
	if err != nil {
		return err
	}

	transport, err := newTransport(settings)
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	dispatchOpts := []dispatch.Option{dispatch.WithObserver(metrics.Dispatch)}
	var notifier *notification.Notifier
	if settings.Notification.Enabled {
		notifier, err = notification.New(notification.ConfigFromSettings(settings))
		if err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(notifier))
	}

	dispatcher := dispatch.NewDispatcher(transport, codec, dispatch.Config{
		MaxAttempts: settings.Dispatch.MaxRetries,
		BackoffBase: settings.Dispatch.BackoffBase,
		BackoffMax:  settings.Dispatch.BackoffMax,
	}, dispatchOpts...)

	var workerOpts []dispatch.WorkerOption
	if settings.Dispatch.Journal.Enabled {
		journal, err := dispatch.OpenJournal(settings.Dispatch.Journal.Path)
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()
		workerOpts = append(workerOpts, dispatch.WithJournal(journal))
	}

	worker := dispatch.NewWorker(dispatcher, dispatch.WorkerConfig{
		QueueSize:     settings.Dispatch.QueueSize,
		ShutdownGrace: settings.Dispatch.ShutdownGrace,
		RateLimit:     settings.Dispatch.RateLimit,
	}, workerOpts...)

	pipelineCfg := pipeline.Config{
		ChunkDuration:     settings.Audio.ChunkDuration,
		DiscardPartial:    settings.Audio.DiscardPartial,
		MaxDeviceFailures: settings.Audio.MaxDeviceFailures,
		DeviceRetryDelay:  settings.Audio.DeviceRetryDelay,
		DeviceRetryMax:    settings.Audio.DeviceRetryMax,
	}
	if settings.Audio.SaveDetections.Enabled {
		pipelineCfg.SaveDir = settings.Audio.SaveDetections.Path
	}
	coordinator := pipeline.NewCoordinator(pipelineCfg, recorder, adapter, builder, worker,
		pipeline.WithObserver(metrics.Pipeline))

	log.Info("node starting",
		logger.String("node_id", settings.Node.ID),
		logger.String("device", device.Name()),
		logger.String("model", model.Name()),
		logger.String("transport", transport.Name()),
		logger.String("format", codec.Name()))

	g, gctx := errgroup.WithContext(ctx)

	// the worker drains after the pipeline stops, the endpoint outlives both
	workerCtx, stopWorker := context.WithCancel(gctx)
	endpointCtx, stopEndpoint := context.WithCancel(gctx)
	defer stopWorker()
	defer stopEndpoint()

	g.Go(func() error {
		defer stopWorker()
		return coordinator.Run(gctx)
	})
	g.Go(func() error {
		defer stopEndpoint()
		return worker.Run(workerCtx)
	})
	if settings.Telemetry.Enabled {
		endpoint, err := telemetry.NewEndpoint(settings, metrics.Gatherer())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return endpoint.Run(endpointCtx)
		})
	}

	if notifier != nil {
		g.Go(func() error {
			return notifier.Run(endpointCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("node stopped with error", logger.Error(err))
		if notifier != nil {
			alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureAlertTimeout)
			if nerr := notifier.ReportFailure(alertCtx, err); nerr != nil {
				log.Warn("failed to send failure notification", logger.Error(nerr))
			}
			cancel()
		}
		return err
	}
	log.Info("node stopped")
	return nil
}

func openDevice(settings *conf.Settings) (audio.Device, error) {
	switch settings.Audio.Source {
	case conf.SourceWAV:
		return audio.NewWAVDevice(settings.Audio.File)
	case conf.SourceFLAC:
		return audio.NewFLACDevice(settings.Audio.File)
	case "", conf.SourceMalgo:
		return audio.NewMalgoDevice(audio.MalgoConfig{
			DeviceName: settings.Audio.Device,
			SampleRate: settings.Audio.SampleRate,
			Channels:   settings.Audio.Channels,
		})
	default:
		return nil, fmt.Errorf("unknown audio source %q", settings.Audio.Source)
	}
}

func newTransport(settings *conf.Settings) (dispatch.Transport, error) {
	d := &settings.Dispatch
	switch d.Transport {
	case "", conf.TransportUDP:
		return dispatch.NewUDPTransport(dispatch.UDPConfig{
			Host:       d.Host,
			Port:       d.Port,
			AckEnabled: d.Ack.Enabled,
			AckTimeout: d.Ack.Timeout,
			DSCP:       d.DSCP,
		}), nil
	case conf.TransportMQTT:
		return dispatch.NewMQTTTransport(dispatch.MQTTConfig{
			Broker:         d.MQTT.Broker,
			Topic:          d.MQTT.Topic,
			NodeID:         settings.Node.ID,
			Username:       d.MQTT.Username,
			Password:       d.MQTT.Password,
			QoS:            byte(d.MQTT.QoS), //nolint:gosec // validated to 0..2
			Retain:         d.MQTT.Retain,
			ConnectTimeout: d.MQTT.ConnectTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown dispatch transport %q", d.Transport)
	}
}
