package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/store"
)

func TestSeedsImportDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")
	corpus := testCorpus(t)
	apis := writeFile(t, t.TempDir(), "apis.json", `[{"name": "intdiv", "arity": 2}, {"name": "round", "arity": 1}]`)

	out, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath, "--apis", apis, corpus)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 of 3 seed(s) and 2 builtin(s)")

	st := openTestStore(t, dbPath)
	seeds, err := st.LoadSeeds(context.Background())
	require.NoError(t, err)
	assert.Len(t, seeds, 3)
	stored, err := st.LoadAPIs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.API{{Name: "intdiv", Arity: 2}, {Name: "round", Arity: 1}}, stored)
}

func TestSeedsImportIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")
	corpus := testCorpus(t)

	_, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath, corpus)
	require.NoError(t, err)

	out, err := execute(t, NewSeedsCommand(&RootOptions{Format: "json"}), "import", "--db", dbPath, corpus)
	require.NoError(t, err)

	var resp struct {
		Data ImportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Data.Loaded)
	assert.Equal(t, 0, resp.Data.Imported)
	assert.Empty(t, resp.Data.Quarantined)
}

func TestSeedsImportReportsQuarantine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")
	corpus := testCorpus(t)
	writeFile(t, corpus, "empty.php", "<?php\n")

	out, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath, corpus)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 of 3 seed(s)")
	assert.Contains(t, out, "Quarantined (1):")
	assert.Contains(t, out, "empty.php")
}

func TestSeedsImportNeedsOneSource(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")

	_, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "give either a corpus directory or --git")

	_, err = execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath, "--git", "https://example.invalid/php-src.git", testCorpus(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "give either a corpus directory or --git")
}

func TestSeedsImportInvalidAPIs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "zenddiff.db")
	apis := writeFile(t, t.TempDir(), "apis.json", `{"name": "intdiv"}`)

	_, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "import", "--db", dbPath, "--apis", apis, testCorpus(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid builtins file")
}

func TestSeedsCheckValidCorpus(t *testing.T) {
	out, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "check", testCorpus(t))
	require.NoError(t, err)
	assert.Contains(t, out, "3 valid seed(s)")
}

func TestSeedsCheckQuarantined(t *testing.T) {
	corpus := testCorpus(t)
	writeFile(t, corpus, "empty.php", "<?php\n")

	out, err := execute(t, NewSeedsCommand(&RootOptions{Format: "json"}), "check", corpus)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 seed(s) quarantined")

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeQuarantined, resp.Error.Code)
	assert.Equal(t, 3, resp.Data.Valid)
	require.Len(t, resp.Data.Quarantined, 1)
	assert.Contains(t, resp.Data.Quarantined[0].Path, "empty.php")
}

func TestSeedsCheckMissingDirectory(t *testing.T) {
	_, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "check", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeedsCheckLintsWithPHP(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter is a shell script")
	}
	// Stands in for "php -n -l FILE": rejects any program mentioning readonly.
	php := writeFile(t, t.TempDir(), "php", `#!/bin/sh
if grep -q readonly "$3"; then
  echo "PHP Parse error: syntax error, unexpected identifier in $3 on line 2"
  exit 255
fi
echo "No syntax errors detected in $3"
`)
	require.NoError(t, os.Chmod(php, 0755))

	corpus := testCorpus(t)
	writeFile(t, corpus, "readonly.php", `<?php
$readonly = 1;
echo $readonly;
`)

	out, err := execute(t, NewSeedsCommand(&RootOptions{Format: "text"}), "check", "--php", php, corpus)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "3 valid seed(s)")
	assert.Contains(t, out, "readonly.php: executor: php -l: PHP Parse error")
}
