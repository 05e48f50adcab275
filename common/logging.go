// Package common provides centralized logging infrastructure shared by every
// ragctl component. It mirrors the output-routing approach used across the
// rest of the platform: error-level records go to stderr, everything else to
// stdout, so container log collectors can treat the two streams differently.
package common

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus-formatted records to stdout or stderr based
// on their level, without parsing the entry itself.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) ||
		bytes.Contains(p, []byte(`"level":"error"`)) || bytes.Contains(p, []byte(`"level":"fatal"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logrus instance. Every package logs through it
// (or a *ContextLogger derived from it) rather than the stdlib log package,
// except where a component owns its own short-lived process (the worker
// pool's goroutine bookkeeping logs via stdlib log, matching the teacher).
var Logger = NewLogger(DefaultLoggerConfig())

// LoggerConfig configures a logrus.Logger instance.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // "json" or "text"
}

// DefaultLoggerConfig returns sensible defaults for local development; cmd/
// binaries override Level/Format from config.Settings at startup.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{Level: "info", Format: "text"}
}

// NewLogger builds a logrus.Logger configured per cfg, with the output
// splitter installed.
func NewLogger(cfg LoggerConfig) *logrus.Logger {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	logger.SetOutput(&OutputSplitter{})
	return logger
}

// ContextLogger carries a fixed set of structured fields (component,
// request_id, job_id, ...) through a call chain.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger returns a ContextLogger seeded with fields, using Logger
// if logger is nil.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) with(fields logrus.Fields) *ContextLogger {
	next := make(logrus.Fields, len(cl.fields)+len(fields))
	for k, v := range cl.fields {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: next}
}

// WithField returns a derived logger with one additional field.
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.with(logrus.Fields{key: value})
}

// WithFields returns a derived logger with additional fields.
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	return cl.with(logrus.Fields(fields))
}

// WithError attaches an error field.
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }

func (cl *ContextLogger) Debugf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Debugf(format, args...)
}
func (cl *ContextLogger) Infof(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Infof(format, args...)
}
func (cl *ContextLogger) Warnf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Warnf(format, args...)
}
func (cl *ContextLogger) Errorf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Errorf(format, args...)
}

// ComponentLogger returns a ContextLogger tagged with the owning component
// name, the convention every package in this module follows at construction
// time (e.g. ingest.NewProcessor, retrieval.NewRetriever).
func ComponentLogger(component string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{"component": component})
}
