package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bufbuild/connect-go"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/tusk-run/tusk-runner/internal/rpc"
	statusrpc "github.com/tusk-run/tusk-runner/internal/rpc/status"
)

// NewStatusCmd queries the status server of a running agent.
func NewStatusCmd() *cobra.Command {
	var addr, runID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the poll loop status of a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := statusrpc.NewClient(buildH2CClient(), statusURL(addr))
			resp, err := client.CallUnary(ctx, connect.NewRequest(&rpc.StatusRequest{RunID: runID}))
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			renderStatus(cmd, resp.Msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9464", "Address of the agent status server")
	cmd.Flags().StringVar(&runID, "run-id", "", "Expected run identifier (optional)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func statusURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func renderStatus(cmd *cobra.Command, st *rpc.StatusResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", st.RunID, st.State)
	fmt.Fprintf(out, "Polls: %d (consecutive errors: %d)\n", st.Polls, st.ConsecutiveErrors)
	fmt.Fprintf(out, "Commands: %d in flight, %d completed, %d failed\n", st.InFlight, st.Completed, st.Failed)
	if !st.Deadline.IsZero() {
		fmt.Fprintf(out, "Deadline: %s\n", st.Deadline.Format(time.RFC3339))
	}
	if st.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", st.Version)
	}
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
