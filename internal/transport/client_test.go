package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tusk-run/tusk-runner/internal/command"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, sleep *sleepRecorder) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts := Options{BaseURL: srv.URL + "/", AuthToken: "tok", MaxRetries: DefaultMaxRetries}
	if sleep != nil {
		opts.Sleep = sleep.Sleep
	}
	return NewClient(opts, nil, nil)
}

func TestPollSendsMetadataAndDecodesCommands(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/poll-commands", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.Header.Get("X-Request-Id"))
		q := r.URL.Query()
		require.Equal(t, "run-1", q.Get("runId"))
		require.Equal(t, "acme/app", q.Get("runnerMetadata[githubRepo]"))
		require.Equal(t, "abc", q.Get("runnerMetadata[commitSha]"))
		require.False(t, q.Has("runnerMetadata[githubRef]"))

		_, _ = w.Write([]byte(`{"commands":[
			{"id":"c1","type":"file","createdAt":"2024-05-01T10:00:00Z","actions":["read"],"data":{"filePath":"a.ts"}},
			{"id":"c2","type":"runner","createdAt":"2024-05-01T10:00:00Z","actions":["terminate"]},
			{"id":"c3","type":"other"}
		]}`))
	}, nil)

	cmds, err := client.Poll(context.Background(), "run-1", command.RunnerMetadata{GithubRepo: "acme/app", CommitSha: "abc"})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, command.TypeFile, cmds[0].Kind())
	require.Equal(t, command.TypeRunner, cmds[1].Kind())
}

func TestPollTimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewClient(Options{BaseURL: srv.URL, AuthToken: "tok", Timeout: 50 * time.Millisecond}, nil, nil)
	_, err := client.Poll(context.Background(), "run-1", command.RunnerMetadata{})
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}

func TestPollIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	sleeps := &sleepRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, sleeps)

	_, err := client.Poll(context.Background(), "run-1", command.RunnerMetadata{})
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
	require.False(t, IsTimeout(err))
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, sleeps.delays)
}

func TestSubmitResultRetriesOn503WithBackoff(t *testing.T) {
	var calls atomic.Int32
	sleeps := &sleepRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/command-result", r.URL.Path)
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.JSONEq(t, `"run-1"`, string(body["runId"]))
		require.Contains(t, string(body["result"]), `"type":"file"`)

		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, sleeps)

	err := client.SubmitResult(context.Background(), "run-1", &command.FileCommandResult{CommandID: "c1"})
	require.NoError(t, err)
	require.EqualValues(t, 4, calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.delays)
}

func TestSubmitResultGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	sleeps := &sleepRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, sleeps)

	err := client.SubmitResult(context.Background(), "run-1", &command.RunnerCommandResult{CommandID: "r1"})
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
	require.EqualValues(t, 4, calls.Load())
	require.Len(t, sleeps.delays, 3)
}

func TestAckDoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	sleeps := &sleepRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}, sleeps)

	_, err := client.Ack(context.Background(), "run-1", "c1")
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.StatusCode)
	require.Contains(t, se.Error(), "nope")
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, sleeps.delays)
}

func TestAckEchoesCommandAndAllowsRepeats(t *testing.T) {
	var mu sync.Mutex
	var acked []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ack-command", r.URL.Path)
		var req ackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		acked = append(acked, req.CommandID)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"` + req.CommandID + `","type":"file","actions":["read"],"data":{"filePath":"a"}}`))
	}, nil)

	for i := 0; i < 2; i++ {
		echo, err := client.Ack(context.Background(), "run-1", "c1")
		require.NoError(t, err)
		require.Equal(t, "c1", echo.CommandID())
	}
	require.Equal(t, []string{"c1", "c1"}, acked)
}

func TestAckNonOKSuccessIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}, nil)

	echo, err := client.Ack(context.Background(), "run-1", "c1")
	require.NoError(t, err)
	require.Nil(t, echo)
}
