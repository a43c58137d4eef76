// Package telemetry provides opt-in error reporting and the metrics endpoint
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// sentryInitialized tracks whether Sentry has been initialized
var sentryInitialized atomic.Bool

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	Container    bool   `json:"container"`
	BoardModel   string `json:"board_model,omitempty"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

// collectPlatformInfo gathers privacy-safe platform information for telemetry
func collectPlatformInfo() PlatformInfo {
	info := PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		Container:    conf.RunningInContainer(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	// board model is only meaningful on SBCs
	if runtime.GOOS == "linux" && (runtime.GOARCH == "arm64" || runtime.GOARCH == "arm") {
		info.BoardModel = conf.GetBoardModel()
	}

	return info
}

// InitSentry initializes Sentry when explicitly enabled in settings (opt-in)
func InitSentry(settings *conf.Settings, version string) error {
	return initSentry(settings, version, nil)
}

// initSentry allows tests to inject a transport
func initSentry(settings *conf.Settings, version string, transport sentry.Transport) error {
	if !settings.Sentry.Enabled {
		GetLogger().Debug("sentry error reporting is disabled")
		return nil
	}

	sampleRate := settings.Sentry.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // hostname is not reported
		Release:          fmt.Sprintf("birdnet-edge@%s", version),
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	configureSentryScope(settings, version)
	sentryInitialized.Store(true)

	GetLogger().Info("sentry error reporting enabled",
		logger.String("node_id", settings.Node.ID),
		logger.Float64("sample_rate", sampleRate))

	return nil
}

// applyPrivacyFilters strips host identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = logger.RedactSensitiveData(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = logger.RedactSensitiveData(event.Exception[i].Value)
	}

	return event
}

func configureSentryScope(settings *conf.Settings, version string) {
	platformInfo := collectPlatformInfo()

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("node_id", settings.Node.ID)
		scope.SetTag("os", platformInfo.OS)
		scope.SetTag("arch", platformInfo.Architecture)
		scope.SetTag("container", fmt.Sprintf("%t", platformInfo.Container))
		if platformInfo.BoardModel != "" {
			scope.SetTag("board_model", platformInfo.BoardModel)
		}

		scope.SetContext("application", map[string]any{
			"name":      "birdnet-edge",
			"version":   version,
			"transport": settings.Dispatch.Transport,
		})
		scope.SetContext("platform", map[string]any{
			"os":           platformInfo.OS,
			"architecture": platformInfo.Architecture,
			"container":    platformInfo.Container,
			"board_model":  platformInfo.BoardModel,
			"num_cpu":      platformInfo.NumCPU,
			"go_version":   platformInfo.GoVersion,
		})
	})
}

// Flush waits for queued Sentry events to be sent. It is a no-op when Sentry is not enabled.
func Flush(timeout time.Duration) bool {
	if !sentryInitialized.Load() {
		return true
	}
	return sentry.Flush(timeout)
}
