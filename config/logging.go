package config

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the log settings.
func NewLogger(c *Config, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if c.Debug {
		level = logrus.DebugLevel
	}
	l.SetLevel(level)
	return l
}
