package rpc

import "time"

// StatusRequest asks a running agent for its loop status. RunID is optional and,
// when set, must match the agent's run.
type StatusRequest struct {
	RunID string `json:"run_id,omitempty"`
}

// StatusResponse describes the poll loop of a running agent.
type StatusResponse struct {
	RunID             string    `json:"run_id"`
	State             string    `json:"state"` // pending|polling|terminated|expired|failed|cancelled
	Polls             int64     `json:"polls"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	InFlight          int64     `json:"in_flight"`
	Completed         int64     `json:"completed"`
	Failed            int64     `json:"failed"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	Deadline          time.Time `json:"deadline,omitempty"`
	Version           string    `json:"version,omitempty"`
}
