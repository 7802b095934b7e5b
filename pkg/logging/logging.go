// Package logging configures structured JSON logging for all services.
// Every record carries timestamp, level, service, logger and message
// fields; stages attach event_id and trace_id per event.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Field keys shared across services.
const (
	FieldService = "service"
	FieldLogger  = "logger"
	FieldEventID = "event_id"
	FieldTraceID = "trace_id"
)

// New returns the root log entry for a service. The level comes from
// LOG_LEVEL (default info).
func New(service string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger.WithField(FieldService, service)
}

// Named attaches a component name to an entry.
func Named(entry *logrus.Entry, name string) *logrus.Entry {
	return entry.WithField(FieldLogger, name)
}
