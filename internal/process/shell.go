package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result carries buffered output and the normalised exit code.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Shell runs script command lines through a shell interpreter.
type Shell struct {
	Program string        // defaults to "sh"
	Timeout time.Duration // 0 means no limit
	Logger  *zap.Logger
	Metrics interface {
		RecordScript(script string, exitCode int, duration time.Duration)
	}
}

// Run executes command in dir via "<program> -c". A non-zero exit is a normal
// outcome and is returned with a nil error. The error is non-nil only when the
// process could not be started; the result then carries exit code 1.
func (s *Shell) Run(ctx context.Context, label, command, dir string) (Result, error) {
	logger := s.logger().With(zap.String("script", label))
	program := s.Program
	if program == "" {
		program = "sh"
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	logger.Info("executing script", zap.String("command", command), zap.String("dir", dir))

	cmd := exec.CommandContext(ctx, program, "-c", command)
	cmd.Dir = dir
	if s.Timeout > 0 {
		// Children that inherited the output pipes must not hold Run open past the deadline.
		cmd.WaitDelay = time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}

	if res.Stdout != "" {
		logger.Info("script stdout", zap.String("stdout", res.Stdout))
	}
	if res.Stderr != "" {
		logger.Warn("script stderr", zap.String("stderr", res.Stderr))
	}
	if err != nil {
		logger.Warn("script error", zap.Error(err))
	}
	logger.Info("script exited", zap.Int("exit_code", res.ExitCode))

	if s.Metrics != nil {
		s.Metrics.RecordScript(strings.ToLower(label), res.ExitCode, time.Since(start))
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, err
	}
	return res, nil
}

// exitCode maps a Run error to a process exit code. Processes killed by a
// signal report -1 from ExitCode and are normalised to 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

func (s *Shell) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
