package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tusk-run/tusk-runner/internal/command"
	"github.com/tusk-run/tusk-runner/internal/config"
	"github.com/tusk-run/tusk-runner/internal/process"
	"github.com/tusk-run/tusk-runner/internal/render"
)

// Messages reported when a command lacks data its actions require.
const (
	ErrMissingContents      = "File contents are required for write action"
	ErrMissingTestFilePaths = "Test file paths are required for coverage action"
)

// Shell runs a rendered script in a directory.
type Shell interface {
	Run(ctx context.Context, label, command, dir string) (process.Result, error)
}

// RenderFunc evaluates a script template.
type RenderFunc func(template string, vars render.Vars) (string, error)

// Metrics receives per-action accounting.
type Metrics interface {
	RecordAction(action, outcome string)
}

// Executor performs the actions of file commands.
type Executor struct {
	Scripts config.ScriptsConfig
	// Root is the run root (the workspace checkout). Relative command paths resolve against it.
	Root    string
	Shell   Shell
	Render  RenderFunc
	Logger  *zap.Logger
	Metrics Metrics
}

// outcome is the last observed result of an action.
type outcome struct {
	stdout   string
	stderr   string
	exitCode int
}

func failure(msg string) outcome {
	return outcome{stderr: msg, exitCode: 1}
}

// Execute runs the requested actions in canonical order and summarises the last
// one that ran. It never returns an error: failures are part of the result.
func (e *Executor) Execute(ctx context.Context, cmd *command.FileCommand) *command.FileCommandResult {
	logger := e.logger().With(zap.String("command_id", cmd.ID))
	out := e.run(ctx, logger, cmd)

	res := &command.FileCommandResult{
		CommandID:   cmd.ID,
		ExitCode:    out.exitCode,
		Stdout:      out.stdout,
		Stderr:      out.stderr,
		CompletedAt: time.Now().UTC(),
	}
	if out.exitCode != 0 {
		res.Error = out.stderr
	}
	return res
}

func (e *Executor) run(ctx context.Context, logger *zap.Logger, cmd *command.FileCommand) outcome {
	data := cmd.Data
	baseDir, err := e.baseDir(data.AppDir)
	if err != nil {
		logger.Error("failed to resolve base directory", zap.Error(err))
		return failure(err.Error())
	}

	target := e.resolve(baseDir, data.FilePath)
	fullFilePath := relativeTo(baseDir, target)
	logger.Info("resolved file path", zap.String("base_dir", baseDir), zap.String("file", fullFilePath))
	if data.OriginalFilePath != "" {
		logger.Info("resolved original file path", zap.String("original_file", relativeTo(baseDir, e.resolve(baseDir, data.OriginalFilePath))))
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		logger.Error("failed to create parent directory", zap.Error(err))
		return failure(err.Error())
	}

	var last outcome

	if cmd.Has(command.ActionWrite) {
		logger.Info("writing file")
		contents, ok := data.Contents()
		if !ok {
			logger.Error(ErrMissingContents)
			e.record(command.ActionWrite, "fail")
			return failure(ErrMissingContents)
		}
		if err := os.WriteFile(target, []byte(contents), 0o644); err != nil {
			logger.Error("failed to write file", zap.Error(err))
			e.record(command.ActionWrite, "fail")
			return failure(err.Error())
		}
		logger.Info("file written", zap.String("file", fullFilePath))
		e.record(command.ActionWrite, "ok")
	}

	if cmd.Has(command.ActionLint) {
		if e.Scripts.Lint == "" {
			logger.Debug("lint requested but no lint script configured")
			e.record(command.ActionLint, "skipped")
		} else {
			logger.Info("linting file")
			last = e.script(ctx, logger, command.ActionLint, e.Scripts.Lint, render.Variables(fullFilePath, nil), baseDir)
		}
	}

	if cmd.Has(command.ActionRead) {
		logger.Info("reading file")
		contents, err := os.ReadFile(target)
		if err != nil {
			logger.Error("failed to read file", zap.Error(err))
			last = failure(err.Error())
			e.record(command.ActionRead, "fail")
		} else {
			logger.Debug("file contents", zap.String("contents", string(contents)))
			last = outcome{stdout: string(contents)}
			e.record(command.ActionRead, "ok")
		}
	}

	if cmd.Has(command.ActionTest) {
		logger.Info("testing file")
		last = e.script(ctx, logger, command.ActionTest, e.Scripts.Test, render.Variables(fullFilePath, nil), baseDir)
	}

	if cmd.Has(command.ActionCoverage) {
		if e.Scripts.Coverage == "" {
			logger.Debug("coverage requested but no coverage script configured")
			e.record(command.ActionCoverage, "skipped")
		} else {
			logger.Info("generating coverage report")
			if len(data.TestFilePaths) == 0 {
				logger.Error(ErrMissingTestFilePaths)
				e.record(command.ActionCoverage, "fail")
				return failure(ErrMissingTestFilePaths)
			}
			rel := make([]string, 0, len(data.TestFilePaths))
			for _, p := range data.TestFilePaths {
				rel = append(rel, relativeTo(baseDir, e.resolve(baseDir, p)))
			}
			last = e.script(ctx, logger, command.ActionCoverage, e.Scripts.Coverage, render.Variables(fullFilePath, rel), baseDir)
		}
	}

	return last
}

// script renders and runs one scripted action. Render and start failures are
// recorded as exit code 1 with the error text as stderr.
func (e *Executor) script(ctx context.Context, logger *zap.Logger, action command.FileAction, tmpl string, vars render.Vars, dir string) outcome {
	renderFn := e.Render
	if renderFn == nil {
		renderFn = render.Render
	}

	line, err := renderFn(tmpl, vars)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to render %s script", action), zap.Error(err))
		e.record(action, "fail")
		return failure(err.Error())
	}

	res, err := e.Shell.Run(ctx, string(action), line, dir)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to execute %s command", action), zap.Error(err))
		e.record(action, "fail")
		return failure(err.Error())
	}

	if res.ExitCode == 0 {
		e.record(action, "ok")
	} else {
		e.record(action, "fail")
		if action == command.ActionTest || action == command.ActionCoverage {
			if names := failingTests(res.Stdout + "\n" + res.Stderr); len(names) > 0 {
				logger.Warn(fmt.Sprintf("%s script reported failing tests", action), zap.Strings("tests", names))
			}
		}
	}
	return outcome{stdout: res.Stdout, stderr: res.Stderr, exitCode: res.ExitCode}
}

// baseDir picks the app directory, then the run root, then the working directory.
func (e *Executor) baseDir(appDir string) (string, error) {
	dir := appDir
	if dir == "" {
		dir = e.Root
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = wd
	}
	if !filepath.IsAbs(dir) && e.Root != "" && dir == appDir {
		dir = filepath.Join(e.Root, dir)
	}
	return filepath.Abs(dir)
}

// resolve makes p absolute. Relative paths are taken from the run root, or from
// baseDir when no root is configured.
func (e *Executor) resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	root := e.Root
	if root == "" {
		root = baseDir
	}
	if abs, err := filepath.Abs(filepath.Join(root, p)); err == nil {
		return abs
	}
	return filepath.Join(root, p)
}

// relativeTo expresses target relative to baseDir, falling back to the absolute
// path when no relative form exists.
func relativeTo(baseDir, target string) string {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return target
	}
	return rel
}

func (e *Executor) record(action command.FileAction, outcome string) {
	if e.Metrics != nil {
		e.Metrics.RecordAction(string(action), outcome)
	}
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
