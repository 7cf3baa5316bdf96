package datastore

import (
	"log/slog"
	"sync"

	"github.com/examtrack/examtrack-go/internal/logging"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// getLogger returns the shared datastore logger, creating it on first use.
func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = logging.ForService("datastore")
		if logger == nil {
			logger = slog.Default().With("service", "datastore")
		}
	})
	return logger
}
