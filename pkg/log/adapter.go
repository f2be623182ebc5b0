package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger on top of a logrus entry.
// Badger's info-level chatter (compactions, value log replays) is logged at debug.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(trim(f), v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warnf(trim(f), v...) }

// Infof logs badger info output at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(trim(f), v...) }

// Debugf logs a debug message
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Debugf(trim(f), v...) }

// badger terminates its format strings with a newline
func trim(f string) string { return strings.TrimRight(f, "\n") }

// New builds the process logger: text output with full timestamps at the given level.
// An unparsable level falls back to info and is reported as the second return value.
func New(level string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		return logger, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}
