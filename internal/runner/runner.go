package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tusk-run/tusk-runner/internal/command"
	"github.com/tusk-run/tusk-runner/internal/transport"
)

// ErrTooManyPollErrors ends a run whose consecutive poll failures used up the error budget.
var ErrTooManyPollErrors = errors.New("too many consecutive poll errors")

const (
	DefaultPollingDuration      = 1800 * time.Second
	DefaultPollingInterval      = 5 * time.Second
	DefaultErrorDelay           = 5 * time.Second
	DefaultMaxConsecutiveErrors = 5
)

// Loop states reported by Status.
const (
	StatePending    = "pending"
	StatePolling    = "polling"
	StateTerminated = "terminated"
	StateExpired    = "expired"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

// Client is the server surface the loop needs.
type Client interface {
	Poll(ctx context.Context, runID string, meta command.RunnerMetadata) ([]command.Command, error)
	Ack(ctx context.Context, runID, commandID string) (command.Command, error)
	SubmitResult(ctx context.Context, runID string, result command.Result) error
}

// Executor turns a file command into its result.
type Executor interface {
	Execute(ctx context.Context, cmd *command.FileCommand) *command.FileCommandResult
}

// Metrics receives loop accounting.
type Metrics interface {
	RecordPoll(outcome string)
	RecordCommand(kind, outcome string)
	IncInFlight()
	DecInFlight()
}

// Config tunes the loop. Zero values take the defaults above.
type Config struct {
	RunID                string
	Metadata             command.RunnerMetadata
	PollingDuration      time.Duration
	PollingInterval      time.Duration
	ErrorDelay           time.Duration
	MaxConsecutiveErrors int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.PollingDuration <= 0 {
		c.PollingDuration = DefaultPollingDuration
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = DefaultErrorDelay
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = transport.SleepContext
	}
	return c
}

// Status is a point-in-time view of the loop.
type Status struct {
	RunID             string
	State             string
	Polls             int64
	ConsecutiveErrors int
	InFlight          int64
	Completed         int64
	Failed            int64
	StartedAt         time.Time
	Deadline          time.Time
}

// Loop polls the server and dispatches commands until terminated, expired or failed.
type Loop struct {
	cfg      Config
	client   Client
	executor Executor
	logger   *zap.Logger
	metrics  Metrics

	inflight sync.WaitGroup

	mu          sync.Mutex
	state       string
	consecutive int
	startedAt   time.Time
	deadline    time.Time

	polls     atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New constructs a Loop.
func New(cfg Config, client Client, executor Executor, logger *zap.Logger, metrics Metrics) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:      cfg,
		client:   client,
		executor: executor,
		logger:   logger.With(zap.String("run_id", cfg.RunID)),
		metrics:  metrics,
		state:    StatePending,
	}
}

// Run drives the loop. It returns nil when a terminate command arrives or the
// polling deadline passes, ErrTooManyPollErrors when the error budget is spent,
// and the context error on cancellation. Commands already dispatched keep
// running after Run returns; use Wait to drain them.
func (l *Loop) Run(ctx context.Context) error {
	start := l.cfg.Now()
	deadline := start.Add(l.cfg.PollingDuration)
	l.mu.Lock()
	l.startedAt, l.deadline, l.state = start, deadline, StatePolling
	l.mu.Unlock()

	l.logger.Info("polling for commands",
		zap.Duration("polling_duration", l.cfg.PollingDuration),
		zap.Duration("polling_interval", l.cfg.PollingInterval))

	for l.cfg.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return l.finish(StateCancelled, err)
		}

		done, err := l.iterate(ctx)
		if err != nil {
			return l.finish(StateFailed, err)
		}
		if done {
			return l.finish(StateTerminated, nil)
		}

		if err := l.cfg.Sleep(ctx, l.cfg.PollingInterval); err != nil {
			return l.finish(StateCancelled, err)
		}
	}

	l.logger.Info("polling duration elapsed")
	return l.finish(StateExpired, nil)
}

// iterate performs one poll and reacts to it. done reports a terminate command.
func (l *Loop) iterate(ctx context.Context) (done bool, err error) {
	l.polls.Add(1)
	cmds, err := l.client.Poll(ctx, l.cfg.RunID, l.cfg.Metadata)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		if transport.IsTimeout(err) {
			l.logger.Debug("poll timed out", zap.Error(err))
			l.recordPoll("timeout")
			return false, nil
		}
		l.recordPoll("error")

		l.mu.Lock()
		l.consecutive++
		count := l.consecutive
		l.mu.Unlock()

		l.logger.Error("failed to poll commands",
			zap.Int("consecutive_errors", count),
			zap.Int("max_consecutive_errors", l.cfg.MaxConsecutiveErrors),
			zap.Error(err))
		if count >= l.cfg.MaxConsecutiveErrors {
			return false, fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyPollErrors, count, err)
		}
		if err := l.cfg.Sleep(ctx, l.cfg.ErrorDelay); err != nil && ctx.Err() == nil {
			return false, err
		}
		return false, nil
	}

	l.mu.Lock()
	l.consecutive = 0
	l.mu.Unlock()

	if len(cmds) == 0 {
		l.recordPoll("empty")
		return false, nil
	}
	l.recordPoll("ok")

	if term, ok := command.FindTerminate(cmds); ok {
		l.terminate(ctx, term)
		return true, nil
	}

	files := command.FileCommands(cmds)
	if len(files) > 0 {
		l.logger.Info("dispatching commands", zap.Int("count", len(files)))
		l.dispatch(ctx, files)
	}
	return false, nil
}

func (l *Loop) terminate(ctx context.Context, cmd *command.RunnerCommand) {
	logger := l.logger.With(zap.String("command_id", cmd.ID))
	if _, err := l.client.Ack(ctx, l.cfg.RunID, cmd.ID); err != nil {
		logger.Error("failed to ack terminate command", zap.Error(err))
	}
	logger.Info("received terminate command, stopping")

	res := &command.RunnerCommandResult{CommandID: cmd.ID, CompletedAt: l.cfg.Now().UTC()}
	if err := l.client.SubmitResult(ctx, l.cfg.RunID, res); err != nil {
		logger.Warn("failed to report terminate result", zap.Error(err))
		l.recordCommand(command.TypeRunner, "fail")
		return
	}
	l.recordCommand(command.TypeRunner, "ok")
}

// dispatch starts every command of a batch and returns without waiting for them.
// Commands run on a context detached from ctx's cancellation.
func (l *Loop) dispatch(ctx context.Context, cmds []*command.FileCommand) {
	ctx = context.WithoutCancel(ctx)
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()

		var g errgroup.Group
		for _, cmd := range cmds {
			g.Go(func() error {
				return l.process(ctx, cmd)
			})
		}
		if err := g.Wait(); err != nil {
			l.logger.Warn("batch finished with errors", zap.Error(err))
		}
	}()
}

// process acks, executes and reports a single file command.
func (l *Loop) process(ctx context.Context, cmd *command.FileCommand) (err error) {
	logger := l.logger.With(zap.String("command_id", cmd.ID))

	l.running.Add(1)
	if l.metrics != nil {
		l.metrics.IncInFlight()
	}
	defer func() {
		l.running.Add(-1)
		if l.metrics != nil {
			l.metrics.DecInFlight()
		}
		if err != nil {
			l.failed.Add(1)
			l.recordCommand(command.TypeFile, "fail")
			return
		}
		l.completed.Add(1)
		l.recordCommand(command.TypeFile, "ok")
	}()

	if _, err := l.client.Ack(ctx, l.cfg.RunID, cmd.ID); err != nil {
		logger.Error("failed to ack command", zap.Error(err))
		return fmt.Errorf("ack %s: %w", cmd.ID, err)
	}

	res := l.executor.Execute(ctx, cmd)
	logger.Info("command executed", zap.Int("exit_code", res.ExitCode))

	if err := l.client.SubmitResult(ctx, l.cfg.RunID, res); err != nil {
		logger.Error("failed to submit command result", zap.Error(err))
		return fmt.Errorf("submit %s: %w", cmd.ID, err)
	}
	return nil
}

// Wait blocks until all dispatched commands have finished.
func (l *Loop) Wait() {
	l.inflight.Wait()
}

// Status reports a snapshot of the loop.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		RunID:             l.cfg.RunID,
		State:             l.state,
		Polls:             l.polls.Load(),
		ConsecutiveErrors: l.consecutive,
		InFlight:          l.running.Load(),
		Completed:         l.completed.Load(),
		Failed:            l.failed.Load(),
		StartedAt:         l.startedAt,
		Deadline:          l.deadline,
	}
}

func (l *Loop) finish(state string, err error) error {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	return err
}

func (l *Loop) recordPoll(outcome string) {
	if l.metrics != nil {
		l.metrics.RecordPoll(outcome)
	}
}

func (l *Loop) recordCommand(kind command.Type, outcome string) {
	if l.metrics != nil {
		l.metrics.RecordCommand(string(kind), outcome)
	}
}
