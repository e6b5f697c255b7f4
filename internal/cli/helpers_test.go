package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/ids"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/testutil"
)

const testPair = "jit-off,jit-on-tracing"

// writeFile creates dir/name with content.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testCorpus writes a small valid corpus.
func testCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "add.php", "<?php\n$a = 0.1;\n$b = 0.2;\necho $a + $b;\n")
	writeFile(t, dir, "loop.php", "<?php\n$s = 0;\nfor ($i = 0; $i < 10; $i++) {\n    $s += $i;\n}\necho $s;\n")
	writeFile(t, dir, "str.php", "<?php\n$x = \"12\";\necho $x * 2;\n")
	return dir
}

// execute runs cmd with args and returns everything written to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

// byConfig prints the config name, so every pair disagrees on every run.
func byConfig(_ ir.InstrumentedProgram, cfg ir.ExecutionConfig, _ int) ir.ExecutionRecord {
	return testutil.Normal(cfg.Name)
}

// populatedDatabase runs a short fuzzing run in which every candidate is a
// bug and returns the database path and the corpus it drew from.
func populatedDatabase(t *testing.T) (dbPath, corpus string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "zenddiff.db")
	corpus = testCorpus(t)

	cmd := newRunCommand(&RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Interpreter: testutil.NewScriptedInterpreter(byConfig),
		IDs:         ids.NewSequenceGenerator("run"),
	})

	_, err := execute(t, cmd,
		"--db", dbPath,
		"--corpus", corpus,
		"--workers", "1",
		"--iterations", "3",
		"--seed", "7",
		"--pair", testPair,
	)
	require.Error(t, err)
	require.Equal(t, ExitFailure, GetExitCode(err))
	return dbPath, corpus
}
