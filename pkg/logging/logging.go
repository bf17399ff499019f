// Package logging configures the process-wide structured logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger from the LOG_LEVEL/LOG_FORMAT style
// settings carried on config.Config, without importing pkg/config to
// avoid a dependency cycle with packages config itself may need to log
// from during construction.
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}
