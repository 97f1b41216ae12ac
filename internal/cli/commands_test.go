package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/stackscope/internal/api"
)

// resetFlags restores every flag below cmd to its default so rootCmd can
// be executed repeatedly within one test binary
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns its output
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	apiAddrExplicitlySet = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "stackscope version dev\n", out)
}

func TestStatusCommand(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "status", "--addr", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: running")
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "manual")
}

func TestStatusCommand_JSON(t *testing.T) {
	ts, _ := startAPI(t)

	out, err := execute(t, "status", "--addr", ts.URL, "--json")
	require.NoError(t, err)

	var resp struct {
		Status   api.StatusResponse    `json:"status"`
		Sessions []api.SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "running", resp.Status.Status)
	require.Len(t, resp.Sessions, 1)
}

func TestStatusCommand_NotRunning(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := execute(t, "status", "--addr", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Is stackscope running?")
}

func TestRecordsCommand(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "records", "manual", "--addr", ts.URL, "-s", "error", "--collapse")
	require.NoError(t, err)
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "(x2)")
	assert.NotContains(t, out, "hello")
	assert.NotContains(t, out, "careful")
}

func TestRecordsCommand_Lines(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "records", "manual", "--addr", ts.URL, "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.NotContains(t, out, "careful")
	assert.Contains(t, out, "(showing 1 of 4 matching records, 4 total)")
}

func TestRecordsCommand_Stacks(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "records", "manual", "--addr", ts.URL, "--stacks", "-s", "warning")
	require.NoError(t, err)
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "Game.Enemy:Spawn ()")
}

func TestRecordsCommand_JSON(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "records", "manual", "--addr", ts.URL, "--json", "--search", "care")
	require.NoError(t, err)

	var resp api.RecordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "careful", resp.Records[0].Message)
	assert.Equal(t, 4, resp.TotalCount)
}

func TestRecordsCommand_DefaultSessionMissing(t *testing.T) {
	ts, _ := startAPI(t)

	_, err := execute(t, "records", "--addr", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_NOT_FOUND")
}

func TestTreeCommand(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "tree", "manual", "--addr", ts.URL, "--sort", "error", "--expand", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "FRAME")
	assert.Contains(t, out, "Game.Loop.Update")
	assert.Contains(t, out, "Game.Player.Die")
	assert.Contains(t, out, "4 records")

	out, err = execute(t, "tree", "manual", "--addr", ts.URL, "--collapse", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "Game.Player.Die")
}

func TestTreeCommand_Search(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "tree", "manual", "--addr", ts.URL, "--search", "Spawn")
	require.NoError(t, err)
	assert.Contains(t, out, "Game.Enemy.Spawn")
	assert.NotContains(t, out, "Game.Loop.Update")
	assert.Contains(t, out, `(search: "Spawn")`)

	out, err = execute(t, "tree", "manual", "--addr", ts.URL, "--search", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Game.Loop.Update")
	assert.NotContains(t, out, "(search:")
}

func TestTreeCommand_JSON(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "tree", "manual", "--addr", ts.URL, "--json")
	require.NoError(t, err)

	var tree api.TreeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Equal(t, 4, tree.Total)
	assert.NotEmpty(t, tree.Rows)
}

func TestExportCommand(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "export", "manual", "--addr", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "careful")

	out, err = execute(t, "export", "manual", "--addr", ts.URL, "-s", "error", "--collapse")
	require.NoError(t, err)
	assert.Contains(t, out, "[ERROR] boom (x2)")
	assert.NotContains(t, out, "hello")
}

func TestExportCommand_ToFile(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)
	path := filepath.Join(t.TempDir(), "export.txt")

	out, err := execute(t, "export", "manual", "--addr", ts.URL, "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported manual to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
	assert.Contains(t, string(data), "hello")
}

func TestAddCommand(t *testing.T) {
	ts, manual := startAPI(t)

	out, err := execute(t, "add", "manual", "spawn failed", "--addr", ts.URL, "--severity", "warning", "--stack", stackB)
	require.NoError(t, err)
	assert.Contains(t, out, "spawn failed")
	assert.Contains(t, out, "WARNING")

	require.Equal(t, 1, manual.Store().Len())
	rec, err := manual.Store().Record(0)
	require.NoError(t, err)
	assert.Equal(t, "warning", rec.Severity.String())
	require.Len(t, rec.Frames, 1)
}

func TestSendCommand_NoTransport(t *testing.T) {
	ts, _ := startAPI(t)

	_, err := execute(t, "send", "manual", "hello", "--addr", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NO_TRANSPORT")
}

func TestSelectCommand(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "select", "manual", "0", "--addr", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "Game.Player.Die")
	assert.Contains(t, out, "Assets/Player.cs:42")

	selected, ok := manual.Store().Selected()
	require.True(t, ok)
	assert.Equal(t, 0, selected.Seq)

	_, err = execute(t, "select", "manual", "first", "--addr", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid record number")
}

func TestClearCommand(t *testing.T) {
	ts, manual := startAPI(t)
	seed(t, manual)

	out, err := execute(t, "clear", "manual", "--addr", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "Cleared session: manual\n", out)
	assert.Equal(t, 0, manual.Store().Len())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 7*time.Minute, "2h7m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func TestSessionArg(t *testing.T) {
	assert.Equal(t, "default", sessionArg(nil))
	assert.Equal(t, "default", sessionArg([]string{""}))
	assert.Equal(t, "editor", sessionArg([]string{"editor"}))
}

func TestClientCommandsAreAnnotated(t *testing.T) {
	for _, cmd := range []*cobra.Command{statusCmd, recordsCmd, treeCmd, exportCmd, clearCmd, sendCmd, addCmd, selectCmd, stopCmd} {
		_, ok := cmd.Annotations[clientAnnotation]
		assert.True(t, ok, strings.Fields(cmd.Use)[0])
	}
	for _, cmd := range []*cobra.Command{serveCmd, importCmd, emitCmd, versionCmd} {
		_, ok := cmd.Annotations[clientAnnotation]
		assert.False(t, ok, strings.Fields(cmd.Use)[0])
	}
}
