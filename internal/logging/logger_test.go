package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return NewLogger(&Config{
		Level:   level,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
				Sync:   true,
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
				Sync:   true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, NewLogger(tt.config))
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug).WithSession("abc")

	logger.Info("test message")
	assert.Contains(t, buf.String(), "session=abc")
	assert.Equal(t, "abc", logger.Session())

	buf.Reset()
	queueLogger := logger.WithQueue(3)
	queueLogger.Info("queue message")

	output := buf.String()
	assert.Contains(t, output, "session=abc")
	assert.Contains(t, output, "qid=3")
	assert.Equal(t, "abc", queueLogger.Session())

	buf.Reset()
	queueLogger.WithCommand(0x01, 7).Debug("staged")
	output = buf.String()
	assert.Contains(t, output, "opcode=0x01")
	assert.Contains(t, output, "cid=7")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithError(errors.New("test error")).Error("operation failed")
	assert.Contains(t, buf.String(), "test error")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelWarn)

	logger.Info("hidden")
	logger.Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	logger.Warnf("over limit: %d", 9)
	assert.Contains(t, buf.String(), "over limit: 9")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(newTestLogger(&buf, LevelDebug))
	defer SetDefault(nil)

	Debug("debug message", "key", "value")
	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "key=value")

	for _, fn := range []func(string, ...any){Info, Warn, Error} {
		buf.Reset()
		fn("plain message")
		assert.True(t, strings.Contains(buf.String(), "plain message"))
	}
}

func TestAsyncWriterFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	aw := newAsyncWriter(&buf, 4)

	for i := 0; i < 10; i++ {
		_, err := aw.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, aw.Close())
	assert.Equal(t, strings.Repeat("x", 10), buf.String())

	_, err := aw.Write([]byte("y"))
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	Nop().Error("dropped", "k", 1)
}
