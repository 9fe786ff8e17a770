package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry pre-tagged with the owning component
type Logger struct {
	*logrus.Entry
}

// NewLogger creates a new JSON logger scoped to a component of the economy
// service. Level comes from LOG_LEVEL (debug/info/warn/error), default info.
func NewLogger(component string) *Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return &Logger{Entry: log.WithField("component", component)}
}

// WithUserID adds the external user id to the entry
func (l *Logger) WithUserID(userID string) *logrus.Entry {
	return l.WithField("user_id", userID)
}

// WithTxID adds a ledger transaction id to the entry
func (l *Logger) WithTxID(txID string) *logrus.Entry {
	return l.WithField("tx_id", txID)
}
