package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logrus.NewEntry(logger), buf
}

func TestBadgerLogrusAdapter_Methods(t *testing.T) {
	entry, buf := newBufferEntry(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Errorf("error %s\n", "test")
	adapter.Warningf("warning %d\n", 42)
	adapter.Infof("replaying value log\n")
	adapter.Debugf("debug")

	out := buf.String()
	assert.Contains(t, out, "level=error msg=\"error test\"")
	assert.Contains(t, out, "level=warning msg=\"warning 42\"")
	assert.NotContains(t, out, "replaying", "badger info is demoted below info level")
	assert.NotContains(t, out, `\n`)
}

func TestBadgerLogrusAdapter_InfoVisibleAtDebug(t *testing.T) {
	entry, buf := newBufferEntry(logrus.DebugLevel)
	NewBadgerLogrusAdapter(entry).Infof("compaction done")
	assert.Contains(t, buf.String(), "level=debug msg=\"compaction done\"")
}

func TestNew(t *testing.T) {
	logger, err := New("debug", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger, err = New("loud", io.Discard)
	assert.Error(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
