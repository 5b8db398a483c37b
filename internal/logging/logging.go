// Package logging configures the shared logrus logger.
package logging

import (
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/config"
)

// Setup applies level and format to a new logger writing to out.
// A nil out writes to stderr.
func Setup(cfg config.LogConfig, out io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}

	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return logger, nil
}
