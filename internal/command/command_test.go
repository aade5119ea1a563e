package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeCommandsDiscriminatesVariants(t *testing.T) {
	payload := `[
		{"id":"f1","type":"file","createdAt":"2024-05-01T10:00:00.000Z","actions":["test","write"],
		 "data":{"filePath":"/work/a.test.ts","fileContents":"x","testFilePaths":["/work/a.test.ts"]}},
		{"id":"r1","type":"runner","createdAt":"2024-05-01T10:00:01.000Z","actions":["terminate"]},
		{"id":"z1","type":"mystery"}
	]`
	var raws []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &raws))

	cmds, skipped, err := DecodeCommands(raws)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Len(t, skipped, 1)
	require.Equal(t, "z1", skipped[0].ID)

	fc, ok := cmds[0].(*FileCommand)
	require.True(t, ok)
	require.Equal(t, "f1", fc.CommandID())
	require.True(t, fc.Has(ActionWrite))
	require.True(t, fc.Has(ActionTest))
	require.False(t, fc.Has(ActionRead))
	contents, ok := fc.Data.Contents()
	require.True(t, ok)
	require.Equal(t, "x", contents)
	require.Equal(t, 2024, fc.CreatedAt.Year())

	rc, ok := cmds[1].(*RunnerCommand)
	require.True(t, ok)
	require.True(t, rc.Terminates())
}

func TestDecodeCommandRejectsMalformed(t *testing.T) {
	_, err := DecodeCommand(json.RawMessage(`{"id":"f1","type":"file","actions":"write"}`))
	require.Error(t, err)
}

func TestContentsTreatsEmptyAsMissing(t *testing.T) {
	empty := ""
	_, ok := FileCommandData{FileContents: &empty}.Contents()
	require.False(t, ok)
	_, ok = FileCommandData{}.Contents()
	require.False(t, ok)
}

func TestFindTerminateAndFilter(t *testing.T) {
	batch := []Command{
		&FileCommand{ID: "f1"},
		&RunnerCommand{ID: "r0"},
		&RunnerCommand{ID: "r1", Actions: []RunnerAction{ActionTerminate}},
		&FileCommand{ID: "f2"},
	}
	rc, ok := FindTerminate(batch)
	require.True(t, ok)
	require.Equal(t, "r1", rc.ID)

	files := FileCommands(batch)
	require.Len(t, files, 2)
	require.Equal(t, "f2", files[1].ID)

	_, ok = FindTerminate(nil)
	require.False(t, ok)
}

func TestResultMarshalCarriesType(t *testing.T) {
	data, err := json.Marshal(&FileCommandResult{CommandID: "f1", ExitCode: 0, Stdout: "ok"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "file", out["type"])
	require.Equal(t, "f1", out["commandId"])
	require.NotContains(t, out, "error")

	data, err = json.Marshal(&RunnerCommandResult{CommandID: "r1"})
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"runner"`)
}

func TestMetadataFieldsSkipsEmpty(t *testing.T) {
	fields := RunnerMetadata{GithubRepo: "acme/app", CommitSha: "abc"}.Fields()
	require.Equal(t, map[string]string{"githubRepo": "acme/app", "commitSha": "abc"}, fields)
}
