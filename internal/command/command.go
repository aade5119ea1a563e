package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates command and result variants on the wire.
type Type string

const (
	TypeFile   Type = "file"
	TypeRunner Type = "runner"
)

// FileAction is a step a file command can request.
type FileAction string

const (
	ActionWrite    FileAction = "write"
	ActionRead     FileAction = "read"
	ActionLint     FileAction = "lint"
	ActionTest     FileAction = "test"
	ActionCoverage FileAction = "coverage"
)

// CanonicalOrder is the order actions execute in, whatever order the server lists them.
var CanonicalOrder = []FileAction{ActionWrite, ActionLint, ActionRead, ActionTest, ActionCoverage}

// RunnerAction is a control directive addressed to the agent itself.
type RunnerAction string

const (
	ActionTerminate RunnerAction = "terminate"
)

// Command is a unit of work fetched from the server. It is implemented by
// *FileCommand and *RunnerCommand only.
type Command interface {
	CommandID() string
	Kind() Type
	isCommand()
}

// FileCommandData carries the file-oriented payload of a command.
type FileCommandData struct {
	FilePath         string   `json:"filePath"`
	FileContents     *string  `json:"fileContents,omitempty"`
	OriginalFilePath string   `json:"originalFilePath,omitempty"`
	AppDir           string   `json:"appDir,omitempty"`
	TestFilePaths    []string `json:"testFilePaths,omitempty"`
}

// Contents returns the file contents and whether they were supplied.
// An empty string counts as not supplied.
func (d FileCommandData) Contents() (string, bool) {
	if d.FileContents == nil || *d.FileContents == "" {
		return "", false
	}
	return *d.FileContents, true
}

// FileCommand asks the agent to act on a single file.
type FileCommand struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Actions   []FileAction    `json:"actions"`
	Data      FileCommandData `json:"data"`
}

func (c *FileCommand) CommandID() string { return c.ID }
func (c *FileCommand) Kind() Type        { return TypeFile }
func (c *FileCommand) isCommand()        {}

// Has reports whether the command requested the action.
func (c *FileCommand) Has(action FileAction) bool {
	for _, a := range c.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// RunnerCommand controls the agent's lifetime.
type RunnerCommand struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Actions   []RunnerAction `json:"actions"`
}

func (c *RunnerCommand) CommandID() string { return c.ID }
func (c *RunnerCommand) Kind() Type        { return TypeRunner }
func (c *RunnerCommand) isCommand()        {}

// Terminates reports whether the command carries a terminate action.
func (c *RunnerCommand) Terminates() bool {
	for _, a := range c.Actions {
		if a == ActionTerminate {
			return true
		}
	}
	return false
}

// MarshalJSON adds the type discriminator.
func (c *FileCommand) MarshalJSON() ([]byte, error) {
	type alias FileCommand
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeFile, (*alias)(c)})
}

// MarshalJSON adds the type discriminator.
func (c *RunnerCommand) MarshalJSON() ([]byte, error) {
	type alias RunnerCommand
	return json.Marshal(struct {
		Type Type `json:"type"`
		*alias
	}{TypeRunner, (*alias)(c)})
}

// UnknownTypeError is returned for a command whose type this agent does not handle.
type UnknownTypeError struct {
	ID   string
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("command %q has unknown type %q", e.ID, e.Type)
}

// DecodeCommand decodes a single command using its type discriminator.
func DecodeCommand(raw json.RawMessage) (Command, error) {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch Type(head.Type) {
	case TypeFile:
		var c FileCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode file command %q: %w", head.ID, err)
		}
		return &c, nil
	case TypeRunner:
		var c RunnerCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode runner command %q: %w", head.ID, err)
		}
		return &c, nil
	default:
		return nil, &UnknownTypeError{ID: head.ID, Type: head.Type}
	}
}

// DecodeCommands decodes a batch. Commands of an unknown type are returned
// separately so the caller can report and skip them; any other decode failure
// fails the whole batch.
func DecodeCommands(raws []json.RawMessage) ([]Command, []*UnknownTypeError, error) {
	cmds := make([]Command, 0, len(raws))
	var skipped []*UnknownTypeError
	for _, raw := range raws {
		c, err := DecodeCommand(raw)
		if err != nil {
			if u, ok := err.(*UnknownTypeError); ok {
				skipped = append(skipped, u)
				continue
			}
			return nil, nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, skipped, nil
}

// FindTerminate returns the first runner command in the batch that carries a
// terminate action.
func FindTerminate(cmds []Command) (*RunnerCommand, bool) {
	for _, c := range cmds {
		if rc, ok := c.(*RunnerCommand); ok && rc.Terminates() {
			return rc, true
		}
	}
	return nil, false
}

// FileCommands filters a batch down to its file commands, preserving order.
func FileCommands(cmds []Command) []*FileCommand {
	out := make([]*FileCommand, 0, len(cmds))
	for _, c := range cmds {
		if fc, ok := c.(*FileCommand); ok {
			out = append(out, fc)
		}
	}
	return out
}
