// internal/utils/logger.go
package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// SetupLogger configures the global logrus logger. JSON output is used in
// production unless a format is forced.
func SetupLogger(environment, level, format string) {
	logrus.SetOutput(os.Stdout)

	if format == "" {
		format = "text"
		if environment == "production" {
			format = "json"
		}
	}

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logrus.WithField("level", level).Warn("Unknown log level, falling back to info")
	}
	logrus.SetLevel(lvl)
}
