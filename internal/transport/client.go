package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tusk-run/tusk-runner/internal/command"
)

// Endpoint names, also used as metric labels.
const (
	EndpointPoll   = "poll-commands"
	EndpointAck    = "ack-command"
	EndpointResult = "command-result"
)

// DefaultTimeout bounds each HTTP attempt.
const DefaultTimeout = 5 * time.Second

// Metrics receives request accounting.
type Metrics interface {
	RecordRequest(endpoint, status string)
	RecordRetry(endpoint string)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	AuthToken  string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	HTTPClient *http.Client
	// Sleep overrides the backoff wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to the coordinating server.
type Client struct {
	baseURL   string
	authToken string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	policy    Policy
	logger    *zap.Logger
	metrics   Metrics
}

// NewClient constructs a Client with defaults applied.
func NewClient(opts Options, logger *zap.Logger, metrics Metrics) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "tusk-runner"
	}

	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		authToken: opts.AuthToken,
		userAgent: userAgent,
		timeout:   timeout,
		http:      httpClient,
		logger:    logger,
		metrics:   metrics,
	}
	c.policy = DefaultPolicy(opts.MaxRetries)
	if opts.Sleep != nil {
		c.policy.Sleep = opts.Sleep
	}
	return c
}

type pollResponse struct {
	Commands []json.RawMessage `json:"commands"`
}

type ackRequest struct {
	RunID     string `json:"runId"`
	CommandID string `json:"commandId"`
}

type resultRequest struct {
	RunID  string         `json:"runId"`
	Result command.Result `json:"result"`
}

// Poll fetches pending commands for the run. It is not retried; a timeout is
// reported as an error that satisfies IsTimeout.
func (c *Client) Poll(ctx context.Context, runID string, meta command.RunnerMetadata) ([]command.Command, error) {
	q := url.Values{}
	q.Set("runId", runID)
	for k, v := range meta.Fields() {
		q.Set("runnerMetadata["+k+"]", v)
	}

	body, _, err := c.do(ctx, EndpointPoll, http.MethodGet, q, nil)
	if err != nil {
		return nil, err
	}

	var resp pollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	cmds, skipped, err := command.DecodeCommands(resp.Commands)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		c.logger.Warn("skipping command of unknown type", zap.String("command_id", s.ID), zap.String("type", s.Type))
	}
	return cmds, nil
}

// Ack acknowledges a command before it is executed and returns the server's echo
// of it, which may be nil when the server sends none.
func (c *Client) Ack(ctx context.Context, runID, commandID string) (command.Command, error) {
	return Retry(ctx, c.retryPolicy(EndpointAck), func(ctx context.Context) (command.Command, error) {
		body, status, err := c.do(ctx, EndpointAck, http.MethodPost, nil, ackRequest{RunID: runID, CommandID: commandID})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			c.logger.Warn("failed to ack command, server is probably not running",
				zap.String("command_id", commandID), zap.Int("status", status))
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, nil
		}
		echo, err := command.DecodeCommand(body)
		if err != nil {
			c.logger.Debug("ack echo not decodable", zap.String("command_id", commandID), zap.Error(err))
			return nil, nil
		}
		return echo, nil
	})
}

// SubmitResult reports the outcome of a command.
func (c *Client) SubmitResult(ctx context.Context, runID string, result command.Result) error {
	_, err := Retry(ctx, c.retryPolicy(EndpointResult), func(ctx context.Context) (struct{}, error) {
		_, status, err := c.do(ctx, EndpointResult, http.MethodPost, nil, resultRequest{RunID: runID, Result: result})
		if err != nil {
			return struct{}{}, err
		}
		if status != http.StatusOK {
			c.logger.Warn("failed to send command result, server is probably not running",
				zap.String("command_id", result.ResultCommandID()), zap.Int("status", status))
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Client) retryPolicy(endpoint string) Policy {
	p := c.policy
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		if c.metrics != nil {
			c.metrics.RecordRetry(endpoint)
		}
		c.logger.Info("server unavailable, retrying",
			zap.String("endpoint", endpoint),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Error(err))
	}
	return p
}

// do performs one HTTP attempt bounded by the client timeout. Any 2xx status
// is success; the status is returned so callers can flag non-200 answers.
func (c *Client) do(ctx context.Context, endpoint, method string, query url.Values, payload interface{}) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", requestID)

	c.logger.Debug("sending request", zap.String("endpoint", endpoint), zap.String("request_id", requestID))

	res, err := c.http.Do(req)
	if err != nil {
		c.record(endpoint, classifyErr(err))
		return nil, 0, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		c.record(endpoint, classifyErr(err))
		return nil, res.StatusCode, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	c.record(endpoint, fmt.Sprintf("%dxx", res.StatusCode/100))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.StatusCode, &StatusError{Endpoint: endpoint, StatusCode: res.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, res.StatusCode, nil
}

func (c *Client) record(endpoint, status string) {
	if c.metrics != nil {
		c.metrics.RecordRequest(endpoint, status)
	}
}

func classifyErr(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	return "error"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
