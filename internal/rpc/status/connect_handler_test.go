package status

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bufbuild/connect-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/tusk-run/tusk-runner/internal/rpc"
)

func h2cClient() *http.Client {
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

func startServer(t *testing.T, provider Provider) string {
	t.Helper()
	path, handler := NewConnectHandler(provider)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}
	server := httptest.NewUnstartedServer(h2c.NewHandler(mux, &http2.Server{}))
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)
	return server.URL
}

func TestGetStatusReturnsSnapshot(t *testing.T) {
	url := startServer(t, ProviderFunc(func() rpc.StatusResponse {
		return rpc.StatusResponse{RunID: "run-1", State: "polling", Polls: 7, InFlight: 2}
	}))

	client := NewClient(h2cClient(), url)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&rpc.StatusRequest{}))
	require.NoError(t, err)
	require.Equal(t, "run-1", resp.Msg.RunID)
	require.Equal(t, "polling", resp.Msg.State)
	require.EqualValues(t, 7, resp.Msg.Polls)
	require.EqualValues(t, 2, resp.Msg.InFlight)
}

func TestGetStatusRejectsOtherRun(t *testing.T) {
	url := startServer(t, ProviderFunc(func() rpc.StatusResponse {
		return rpc.StatusResponse{RunID: "run-1"}
	}))

	client := NewClient(h2cClient(), url)
	_, err := client.CallUnary(context.Background(), connect.NewRequest(&rpc.StatusRequest{RunID: "run-2"}))
	require.Error(t, err)
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}
