package dispatch

import (
	"sync"

	"github.com/tphakala/birdnet-edge/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the dispatch package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("dispatch")
	})
	return serviceLogger
}
