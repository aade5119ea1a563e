package command

import (
	"encoding/json"
	"time"
)

// Result is the outcome reported for a processed command. It is implemented by
// *FileCommandResult and *RunnerCommandResult only.
type Result interface {
	ResultCommandID() string
	isResult()
}

// FileCommandResult summarises the last action executed for a file command.
type FileCommandResult struct {
	CommandID   string    `json:"commandId"`
	ExitCode    int       `json:"exitCode"`
	Error       string    `json:"error,omitempty"`
	Stdout      string    `json:"stdout"`
	Stderr      string    `json:"stderr"`
	CompletedAt time.Time `json:"completedAt"`
}

func (r *FileCommandResult) ResultCommandID() string { return r.CommandID }
func (r *FileCommandResult) isResult()               {}

// MarshalJSON adds the type discriminator.
func (r *FileCommandResult) MarshalJSON() ([]byte, error) {
	type alias FileCommandResult
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeFile, (*alias)(r)})
}

// RunnerCommandResult confirms a runner command was handled.
type RunnerCommandResult struct {
	CommandID   string    `json:"commandId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (r *RunnerCommandResult) ResultCommandID() string { return r.CommandID }
func (r *RunnerCommandResult) isResult()               {}

// MarshalJSON adds the type discriminator.
func (r *RunnerCommandResult) MarshalJSON() ([]byte, error) {
	type alias RunnerCommandResult
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeRunner, (*alias)(r)})
}

// RunnerMetadata describes the CI job hosting the agent. It is sent with every poll.
type RunnerMetadata struct {
	GithubRepo string `json:"githubRepo,omitempty"`
	GithubRef  string `json:"githubRef,omitempty"`
	CommitSha  string `json:"commitSha,omitempty"`
}

// Fields returns the metadata as key/value pairs, skipping empty values.
func (m RunnerMetadata) Fields() map[string]string {
	out := make(map[string]string, 3)
	if m.GithubRepo != "" {
		out["githubRepo"] = m.GithubRepo
	}
	if m.GithubRef != "" {
		out["githubRef"] = m.GithubRef
	}
	if m.CommitSha != "" {
		out["commitSha"] = m.CommitSha
	}
	return out
}
