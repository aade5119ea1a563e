package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tusk-run/tusk-runner/internal/command"
	"github.com/tusk-run/tusk-runner/internal/config"
	"github.com/tusk-run/tusk-runner/internal/daemon"
	"github.com/tusk-run/tusk-runner/internal/executor"
	"github.com/tusk-run/tusk-runner/internal/logging"
	"github.com/tusk-run/tusk-runner/internal/observability"
	"github.com/tusk-run/tusk-runner/internal/process"
	"github.com/tusk-run/tusk-runner/internal/render"
	"github.com/tusk-run/tusk-runner/internal/rpc"
	statusrpc "github.com/tusk-run/tusk-runner/internal/rpc/status"
	"github.com/tusk-run/tusk-runner/internal/runner"
	"github.com/tusk-run/tusk-runner/internal/transport"
	"github.com/tusk-run/tusk-runner/internal/version"
)

// NewRunCmd polls the server for commands until terminated or the polling duration ends.
func NewRunCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the server and execute test commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAgent(ctx, cfg, logger)
		},
	}

	addConfigFlags(cmd.Flags())
	return cmd
}

// runAgent wires the components and drives one run.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger = logger.With(zap.String("run_id", cfg.Run.ID))
	metrics := observability.NewMetrics()

	client := transport.NewClient(transport.Options{
		BaseURL:    cfg.Server.URL,
		AuthToken:  cfg.Server.AuthToken,
		Timeout:    cfg.Server.Timeout,
		MaxRetries: cfg.Server.MaxRetries,
		UserAgent:  version.UserAgent(),
	}, logger.Named("transport"), metrics)

	exec := &executor.Executor{
		Scripts: cfg.Scripts,
		Root:    cfg.Workspace.Root,
		Shell: &process.Shell{
			Program: cfg.Scripts.Shell,
			Timeout: cfg.Scripts.Timeout,
			Logger:  logger.Named("shell"),
			Metrics: metrics,
		},
		Render:  render.Render,
		Logger:  logger.Named("executor"),
		Metrics: metrics,
	}

	loop := runner.New(runner.Config{
		RunID: cfg.Run.ID,
		Metadata: command.RunnerMetadata{
			GithubRepo: cfg.GitHub.Repository,
			GithubRef:  cfg.GitHub.Ref,
			CommitSha:  cfg.Run.CommitSha,
		},
		PollingDuration: cfg.Run.PollingDuration,
		PollingInterval: cfg.Run.PollingInterval,
	}, client, exec, logger.Named("runner"), metrics)

	// The status server outlives the loop until in-flight commands drain.
	statusCtx, stopStatus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopStatus()
	var g errgroup.Group
	if cfg.Status.Addr != "" {
		srv := daemon.NewServer(cfg.Status, statusrpc.ProviderFunc(func() rpc.StatusResponse {
			return statusResponse(loop.Status())
		}), metrics, logger.Named("status"))
		g.Go(func() error { return srv.Run(statusCtx) })
	}

	runErr := loop.Run(ctx)
	logger.Info("waiting for in-flight commands")
	loop.Wait()

	stopStatus()
	if err := g.Wait(); err != nil {
		logger.Warn("status server stopped with error", zap.Error(err))
	}

	switch {
	case runErr == nil:
		logger.Info("run finished", zap.String("state", loop.Status().State))
		return nil
	case errors.Is(runErr, context.Canceled):
		logger.Warn("run interrupted")
		return fmt.Errorf("run %s interrupted: %w", cfg.Run.ID, runErr)
	default:
		logger.Error("run failed", zap.Error(runErr))
		return fmt.Errorf("run %s: %w", cfg.Run.ID, runErr)
	}
}

func statusResponse(st runner.Status) rpc.StatusResponse {
	return rpc.StatusResponse{
		RunID:             st.RunID,
		State:             st.State,
		Polls:             st.Polls,
		ConsecutiveErrors: st.ConsecutiveErrors,
		InFlight:          st.InFlight,
		Completed:         st.Completed,
		Failed:            st.Failed,
		StartedAt:         st.StartedAt,
		Deadline:          st.Deadline,
		Version:           version.Version,
	}
}
