package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitSource names a corpus inside a git repository, typically the php-src
// test suite.
type GitSource struct {
	URL string

	// Ref is a branch or tag name. Empty means the remote HEAD.
	Ref string

	// Subdir restricts loading to a directory inside the checkout.
	Subdir string

	// Depth limits history; 0 clones everything.
	Depth int
}

// LoadGit clones src into a temporary directory and loads the
// corpus from it. The checkout is removed before returning.
func LoadGit(ctx context.Context, src GitSource) (*LoadResult, error) {
	if src.URL == "" {
		return nil, fmt.Errorf("git source: url is required")
	}
	if strings.Contains(src.Subdir, "..") {
		return nil, fmt.Errorf("git source: subdir must stay inside the repository: %s", src.Subdir)
	}

	dir, err := os.MkdirTemp("", "zenddiff-corpus-")
	if err != nil {
		return nil, fmt.Errorf("git source: %w", err)
	}
	defer os.RemoveAll(dir)

	opts := &git.CloneOptions{
		URL:          src.URL,
		Depth:        src.Depth,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if src.Ref != "" {
		opts.ReferenceName = resolveRef(src.Ref)
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		// A bare name may be a tag rather than a branch.
		if src.Ref == "" || strings.HasPrefix(src.Ref, "refs/") {
			return nil, fmt.Errorf("cloning %s: %w", src.URL, err)
		}
		_ = os.RemoveAll(dir)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("git source: %w", mkErr)
		}
		opts.ReferenceName = plumbing.NewTagReferenceName(src.Ref)
		if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
			return nil, fmt.Errorf("cloning %s at %s: %w", src.URL, src.Ref, err)
		}
	}

	return LoadDir(filepath.Join(dir, filepath.FromSlash(src.Subdir)))
}

func resolveRef(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}
