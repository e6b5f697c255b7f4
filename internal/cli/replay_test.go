package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/store"
	"github.com/roach88/zenddiff/internal/testutil"
)

func newTestReplay(format string, script testutil.Script) *ReplayOptions {
	return &ReplayOptions{
		RootOptions: &RootOptions{Format: format},
		Interpreter: testutil.NewScriptedInterpreter(script),
	}
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := execute(t, newReplayCommand(newTestReplay("text", testutil.Echo)), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No bugs found in database.")
}

func TestReplayEmptyDatabaseJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := execute(t, newReplayCommand(newTestReplay("json", testutil.Echo)), "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllReproduced)
	assert.Empty(t, resp.Data.Bugs)
}

func TestReplayReproducesStoredBugs(t *testing.T) {
	dbPath, _ := populatedDatabase(t)

	out, err := execute(t, newReplayCommand(newTestReplay("text", byConfig)), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary:")
	assert.Contains(t, out, "jit-off/jit-on-tracing")
	assert.Contains(t, out, "Reproduced: 5/5")
	assert.Contains(t, out, "✓ All bugs reproduced")
}

func TestReplayFixedInterpreter(t *testing.T) {
	dbPath, _ := populatedDatabase(t)

	out, err := execute(t, newReplayCommand(newTestReplay("text", testutil.Echo)), "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Some bugs no longer reproduce")
}

func TestReplayJSONReportsEachBug(t *testing.T) {
	dbPath, _ := populatedDatabase(t)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	bugs, err := st.ListBugs(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, bugs)
	require.NoError(t, st.Close())

	out, err := execute(t, newReplayCommand(newTestReplay("json", testutil.Echo)), "--db", dbPath, bugs[0].ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeReplay, resp.Error.Code)
	require.Len(t, resp.Data.Bugs, 1)
	assert.Equal(t, bugs[0].ID, resp.Data.Bugs[0].ID)
	assert.False(t, resp.Data.Bugs[0].Reproduced)
	assert.Equal(t, 0, resp.Data.Bugs[0].Reproductions)
}

func TestReplayUnknownBug(t *testing.T) {
	dbPath, _ := populatedDatabase(t)

	_, err := execute(t, newReplayCommand(newTestReplay("text", byConfig)), "--db", dbPath, "no-such-bug")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no-such-bug")
}

func TestReplayFiltersByRun(t *testing.T) {
	dbPath, _ := populatedDatabase(t)

	out, err := execute(t, newReplayCommand(newTestReplay("text", byConfig)), "--db", dbPath, "--run", "run-9999")
	require.NoError(t, err)
	assert.Contains(t, out, "No bugs found in database.")
}

func TestReplayRegenerate(t *testing.T) {
	dbPath, corpus := populatedDatabase(t)

	out, err := execute(t, newReplayCommand(newTestReplay("json", byConfig)),
		"--db", dbPath,
		"--corpus", corpus,
		"--regenerate",
	)
	require.NoError(t, err)

	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Data.Bugs)
	for _, b := range resp.Data.Bugs {
		require.NotNil(t, b.Regenerated, b.ID)
		assert.True(t, *b.Regenerated, b.Error)
		assert.True(t, b.Reproduced)
	}
}

func TestReplayRegenerateDifferentCorpus(t *testing.T) {
	dbPath, _ := populatedDatabase(t)

	other := t.TempDir()
	writeFile(t, other, "other.php", "<?php\necho intdiv(7, 2);\n")

	out, err := execute(t, newReplayCommand(newTestReplay("json", byConfig)),
		"--db", dbPath,
		"--corpus", other,
		"--regenerate",
	)
	require.NoError(t, err)

	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Data.Bugs)
	for _, b := range resp.Data.Bugs {
		require.NotNil(t, b.Regenerated)
		assert.False(t, *b.Regenerated)
		assert.NotEmpty(t, b.Error)
	}
}
