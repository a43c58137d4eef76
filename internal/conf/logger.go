// Package conf provides configuration management for birdnet-edge.
package conf

import "github.com/tphakala/birdnet-edge/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time because configuration
// is loaded before the central logger is installed.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
