package logger

import (
	"crm-sync-platform/internal/config"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new structured logger instance
func NewLogger(cfg *config.Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return &Logger{Logger: log}
}

// WithPass adds the synchronization pass id to log entries
func (l *Logger) WithPass(passID string) *logrus.Entry {
	return l.WithField("pass_id", passID)
}

// WithEntityType adds the entity type to log entries
func (l *Logger) WithEntityType(entityType string) *logrus.Entry {
	return l.WithField("entity_type", entityType)
}

// WithRecord adds the record's composite key to log entries
func (l *Logger) WithRecord(txTypeSrcID string) *logrus.Entry {
	return l.WithField("tx_type_src_id", txTypeSrcID)
}

// WithObject adds the CRM object type and id to log entries
func (l *Logger) WithObject(objectType, objectID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"object_type": objectType,
		"object_id":   objectID,
	})
}
