package cdpdrive

import (
	"github.com/sirupsen/logrus"
)

// NewLogrusLogf returns a logf function backed by logger, for use with
// WithConnLogf/WithLogf; NewLogrusErrf returns the matching errf for
// WithConnErrf/WithErrorf. logf logs at Debug, errf at Error -- matching how connection-level chatter (frame
// dumps, domain reconciliation) is expected to be mostly silent in
// production while still being available when debugging a session.
func NewLogrusLogf(logger *logrus.Logger) func(string, ...interface{}) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(format string, args ...interface{}) {
		logger.Debugf(format, args...)
	}
}

// NewLogrusErrf is NewLogrusLogf's Error-level counterpart.
func NewLogrusErrf(logger *logrus.Logger) func(string, ...interface{}) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(format string, args ...interface{}) {
		logger.Errorf(format, args...)
	}
}

// NewFieldLogf is like NewLogrusLogf, but every message carries the given
// fields -- useful for tagging a Browser or Tab's log output with a
// target id or session label the way a caller juggling several tabs at
// once would want to tell them apart in aggregate log output.
func NewFieldLogf(logger *logrus.Logger, fields logrus.Fields) func(string, ...interface{}) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(fields)
	return func(format string, args ...interface{}) {
		entry.Debugf(format, args...)
	}
}
