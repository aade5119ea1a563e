package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordPoll("ok")
	m.RecordRequest("poll", "2xx")
	m.RecordRetry("ack")
	m.RecordCommand("file", "ok")
	m.IncInFlight()
	m.DecInFlight()
	m.RecordAction("write", "ok")
	m.RecordScript("test", 0, time.Second)
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	m.RecordPoll("timeout")
	m.RecordPoll("timeout")
	m.RecordRetry("")
	m.RecordAction("lint", "fail")
	m.IncInFlight()
	m.IncInFlight()
	m.DecInFlight()
	m.RecordScript("test", 2, 150*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Polls.WithLabelValues("timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("lint", "fail")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsInFlight))
	require.Equal(t, 1, testutil.CollectAndCount(m.ScriptDuration))
}
