package seed

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGitClonesLocalRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available for local transport")
	}

	repoDir := t.TempDir()
	repo, err := git.PlainInit(repoDir, false)
	require.NoError(t, err)

	writeFile(t, repoDir, "tests/basic/echo.php", "<?php echo 'hi';\n")
	writeFile(t, repoDir, "README", "not a seed\n")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("corpus", &git.CommitOptions{
		Author: &object.Signature{Name: "zenddiff", Email: "zenddiff@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	res, err := LoadGit(context.Background(), GitSource{URL: repoDir, Subdir: "tests"})
	require.NoError(t, err)
	require.Len(t, res.Seeds, 1)
	assert.Equal(t, "basic/echo.php", res.Seeds[0].Name)
}

func TestLoadGitRejectsEscapingSubdir(t *testing.T) {
	_, err := LoadGit(context.Background(), GitSource{URL: "https://example.invalid/repo.git", Subdir: "../etc"})
	assert.Error(t, err)
}
