package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tusk-run/tusk-runner/internal/render"
)

// NewDoctorCmd returns a health-check command validating config and script templates.
func NewDoctorCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and script templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}

			scripts := []struct{ name, tmpl string }{
				{"test", cfg.Scripts.Test},
				{"lint", cfg.Scripts.Lint},
				{"coverage", cfg.Scripts.Coverage},
			}
			for _, s := range scripts {
				if s.tmpl == "" {
					continue
				}
				if err := render.Check(s.tmpl); err != nil {
					return fmt.Errorf("%s script: %w", s.name, err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Run: %s, server: %s\n", cfg.Run.ID, cfg.Server.URL)
			fmt.Fprintf(out, "Polling: %s every %s, retries: %d\n", cfg.Run.PollingDuration, cfg.Run.PollingInterval, cfg.Server.MaxRetries)
			fmt.Fprintf(out, "Scripts: test=%t lint=%t coverage=%t, shell: %s\n",
				cfg.Scripts.Test != "", cfg.Scripts.Lint != "", cfg.Scripts.Coverage != "", cfg.Scripts.Shell)
			statusAddr := cfg.Status.Addr
			if statusAddr == "" {
				statusAddr = "disabled"
			}
			fmt.Fprintf(out, "Status server: %s, metrics: %v\n", statusAddr, cfg.Status.MetricsEnabled)
			return nil
		},
	}

	addConfigFlags(cmd.Flags())
	return cmd
}
