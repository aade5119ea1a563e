package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tusk-run/tusk-runner/internal/config"
	"github.com/tusk-run/tusk-runner/internal/version"
)

// Options holds global CLI options.
type Options struct {
	ConfigPath string
}

// NewRootCmd constructs the base CLI command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "tusk-runner",
		Short:         "Tusk runner – executes server-issued test commands inside CI",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: ./tusk-runner.yaml or configs/tusk-runner.yaml when present)")

	cmd.AddCommand(NewRunCmd(opts))
	cmd.AddCommand(NewDoctorCmd(opts))
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addConfigFlags registers the flags config.Load binds over file and environment values.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("run-id", "", "Run identifier issued by the server")
	fs.String("commit-sha", "", "Commit under test")
	fs.String("polling-duration", "", "How long to poll for commands (e.g. 30m or seconds)")
	fs.String("polling-interval", "", "Delay between polls (e.g. 5s or seconds)")
	fs.String("server-url", "", "Base URL of the coordinating server")
	fs.String("auth-token", "", "Bearer token for the coordinating server")
	fs.String("test-script", "", "Test script template, e.g. \"npx jest {{file}}\"")
	fs.String("lint-script", "", "Lint script template (optional)")
	fs.String("coverage-script", "", "Coverage script template (optional)")
	fs.String("workspace", "", "Workspace root that relative paths resolve against")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("log-format", "", "Log format: console, json, github")
	fs.String("status-addr", "", "Listen address of the local status server (empty disables it)")
}

// loadConfig wraps config loading with shared options.
func loadConfig(opts *Options, flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, flags)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
