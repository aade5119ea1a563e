package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const githubEncoding = "github"

var bufferPool = buffer.NewPool()

func init() {
	// Registration only fails on a duplicate name.
	_ = zap.RegisterEncoder(githubEncoding, func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
		return NewGitHubEncoder(cfg), nil
	})
}

// NewLogger builds a zap logger based on level/format settings.
// Format "github" writes console lines prefixed with workflow commands so warnings
// and errors surface as annotations in the Actions UI.
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case githubEncoding:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = ""
		cfg.EncoderConfig.LevelKey = ""
		cfg.DisableStacktrace = true
	default:
		cfg = zap.NewDevelopmentConfig()
		format = "console"
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.Encoding = strings.ToLower(format)
	cfg.OutputPaths = []string{"stdout"}

	return cfg.Build()
}

// GitHubEncoder wraps the console encoder and prefixes each entry with the
// workflow command matching its level.
type GitHubEncoder struct {
	zapcore.Encoder
}

// NewGitHubEncoder constructs a GitHubEncoder over a console encoder.
func NewGitHubEncoder(cfg zapcore.EncoderConfig) *GitHubEncoder {
	return &GitHubEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

func (e *GitHubEncoder) Clone() zapcore.Encoder {
	return &GitHubEncoder{Encoder: e.Encoder.Clone()}
}

func (e *GitHubEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line, err := e.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}
	prefix := workflowCommand(ent.Level)
	if prefix == "" {
		return line, nil
	}
	out := bufferPool.Get()
	out.AppendString(prefix)
	_, _ = out.Write(line.Bytes())
	line.Free()
	return out, nil
}

func workflowCommand(level zapcore.Level) string {
	switch {
	case level == zapcore.DebugLevel:
		return "::debug::"
	case level == zapcore.WarnLevel:
		return "::warning::"
	case level >= zapcore.ErrorLevel:
		return "::error::"
	default:
		return ""
	}
}
