package daemon

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tusk-run/tusk-runner/internal/config"
	"github.com/tusk-run/tusk-runner/internal/observability"
	"github.com/tusk-run/tusk-runner/internal/rpc"
	statusrpc "github.com/tusk-run/tusk-runner/internal/rpc/status"
)

func polling() statusrpc.Provider {
	return statusrpc.ProviderFunc(func() rpc.StatusResponse {
		return rpc.StatusResponse{RunID: "run-1", State: "polling"}
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthReportsLoopState(t *testing.T) {
	srv := NewServer(config.StatusConfig{}, polling(), nil, nil)

	rec := get(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","state":"polling"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.RecordPoll("ok")

	enabled := NewServer(config.StatusConfig{MetricsEnabled: true}, polling(), metrics, nil)
	rec := get(t, enabled.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `tusk_runner_polls_total{outcome="ok"} 1`)

	disabled := NewServer(config.StatusConfig{MetricsEnabled: false}, polling(), metrics, nil)
	require.Equal(t, http.StatusNotFound, get(t, disabled.Handler(), "/metrics").Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}
	srv := NewServer(config.StatusConfig{}, polling(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), "polling")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
