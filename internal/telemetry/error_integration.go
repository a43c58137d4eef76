// Package telemetry - integration with the error handling system
package telemetry

import (
	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/errors"
)

// InitializeErrorIntegration routes enhanced errors to Sentry when it is enabled
func InitializeErrorIntegration(settings *conf.Settings) {
	enabled := settings != nil && settings.Sentry.Enabled && sentryInitialized.Load()

	nodeID := ""
	if settings != nil {
		nodeID = settings.Node.ID
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(enabled, nodeID))
}
