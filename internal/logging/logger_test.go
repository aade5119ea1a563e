package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"console", "json", "github", ""} {
		logger, err := NewLogger("debug", format)
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	_, err := NewLogger("loud", "console")
	require.Error(t, err)
}

func TestGitHubEncoderPrefixesWorkflowCommands(t *testing.T) {
	enc := NewGitHubEncoder(zapcore.EncoderConfig{MessageKey: "msg"})

	cases := map[zapcore.Level]string{
		zapcore.DebugLevel: "::debug::",
		zapcore.WarnLevel:  "::warning::",
		zapcore.ErrorLevel: "::error::",
	}
	for level, prefix := range cases {
		buf, err := enc.EncodeEntry(zapcore.Entry{Level: level, Time: time.Now(), Message: "hello"}, []zapcore.Field{zap.String("command_id", "c1")})
		require.NoError(t, err)
		line := buf.String()
		require.True(t, strings.HasPrefix(line, prefix), line)
		require.Contains(t, line, "hello")
		require.Contains(t, line, "c1")
	}

	buf, err := enc.Clone().EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: "plain"}, nil)
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(buf.String(), "::"))
}
