package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/ids"
	"github.com/roach88/zenddiff/internal/store"
	"github.com/roach88/zenddiff/internal/testutil"
)

func newTestRun(format string, script testutil.Script) *RunOptions {
	return &RunOptions{
		RootOptions: &RootOptions{Format: format},
		Interpreter: testutil.NewScriptedInterpreter(script),
		IDs:         ids.NewSequenceGenerator("run"),
	}
}

func openTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunAgreeingConfigsFindsNothing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")

	out, err := execute(t, newRunCommand(newTestRun("text", testutil.Echo)),
		"--db", dbPath,
		"--corpus", testCorpus(t),
		"--workers", "2",
		"--iterations", "6",
		"--seed", "11",
		"--pair", testPair,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-0001: 6 iteration(s)")
	assert.NotContains(t, out, "bug ")

	st := openTestStore(t, dbPath)
	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-0001", runs[0].ID)
	assert.Equal(t, int64(11), runs[0].MasterSeed)
	assert.Equal(t, store.RunFinished, runs[0].Status)

	bugs, err := st.ListBugs(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, bugs)
}

func TestRunRecordsBugsAndExitsOne(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")

	out, err := execute(t, newRunCommand(newTestRun("json", byConfig)),
		"--db", dbPath,
		"--corpus", testCorpus(t),
		"--workers", "1",
		"--iterations", "2",
		"--seed", "3",
		"--pair", testPair,
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "bug(s) found")

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RunID    string           `json:"run_id"`
			Counters map[string]int64 `json:"counters"`
			Bugs     []string         `json:"bugs"`
		} `json:"data"`
		Error *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeBugsFound, resp.Error.Code)
	assert.Equal(t, "run-0001", resp.Data.RunID)
	assert.NotEmpty(t, resp.Data.Bugs)

	st := openTestStore(t, dbPath)
	bugs, err := st.ListBugs(context.Background(), store.Filter{RunID: "run-0001"})
	require.NoError(t, err)
	assert.NotEmpty(t, bugs)
	for _, b := range bugs {
		assert.Equal(t, "jit-off", b.LeftConfig)
		assert.Equal(t, "jit-on-tracing", b.RightConfig)
	}
}

func TestRunEmptyCorpus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")

	_, err := execute(t, newRunCommand(newTestRun("text", testutil.Echo)),
		"--db", dbPath,
		"--corpus", t.TempDir(),
		"--iterations", "1",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "seed corpus is empty")
}

func TestRunUsesImportedSeeds(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")
	_, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath, testCorpus(t))
	require.NoError(t, err)

	out, err := execute(t, newRunCommand(newTestRun("text", testutil.Echo)),
		"--db", dbPath,
		"--iterations", "2",
		"--workers", "1",
		"--pair", testPair,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "2 iteration(s)")
}

func TestRunInvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad pair", []string{"--pair", "jit-off"}, "invalid pair"},
		{"unknown config", []string{"--pair", "jit-off,jit-nope"}, "unknown config"},
		{"quorum above reruns", []string{"--reruns", "2", "--quorum", "3"}, "exceeds"},
		{"bad duration", []string{"--duration", "soon"}, "run.duration"},
		{"no workers", []string{"--workers", "0"}, "workers must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--db", filepath.Join(t.TempDir(), "zenddiff.db"), "--corpus", testCorpus(t)}, tt.args...)
			_, err := execute(t, newRunCommand(newTestRun("text", testutil.Echo)), args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunMissingConfigFile(t *testing.T) {
	_, err := execute(t, newRunCommand(newTestRun("text", testutil.Echo)),
		"--config", filepath.Join(t.TempDir(), "missing.cue"),
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "from-config.db")
	cfgPath := writeFile(t, dir, "run.cue", `
run: {
	workers:    1
	iterations: 3
	seed:       5
}
store: db: "`+dbPath+`"
pairs: [["jit-off", "jit-on-function"]]
`)

	out, err := execute(t, newRunCommand(newTestRun("text", testutil.Echo)),
		"--config", cfgPath,
		"--corpus", testCorpus(t),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "3 iteration(s)")

	st := openTestStore(t, dbPath)
	run, err := st.GetRun(context.Background(), "run-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(5), run.MasterSeed)
}
