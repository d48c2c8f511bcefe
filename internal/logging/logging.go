// Package logging configures the logrus logger shared by the zort commands.
package logging

import (
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/zerfoo/zort/internal/config"
)

// New returns a logger writing to w at the configured level and format.
// Unknown levels fall back to info; any format other than "json" is text.
func New(cfg config.LoggerConfig, w io.Writer) *log.Logger {
	logger := log.New()
	logger.SetOutput(w)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	return logger
}
