package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/zenddiff/internal/phpsyntax"
)

// PHPLinter checks syntax with the interpreter's own "php -l". It catches
// grammar drift between the bundled parser and the binary under test.
type PHPLinter struct {
	Binary  string
	Timeout time.Duration
}

// Lint implements phpsyntax.Linter.
func (l PHPLinter) Lint(ctx context.Context, src string) error {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dir, err := os.MkdirTemp("", "zenddiff-lint-*")
	if err != nil {
		return fmt.Errorf("executor: lint workdir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, programFile)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return fmt.Errorf("executor: lint write: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, l.Binary, "-n", "-l", path)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			msg := strings.TrimSpace(strings.ReplaceAll(out.String(), path, programFile))
			return fmt.Errorf("executor: php -l: %s", msg)
		}
		return fmt.Errorf("executor: php -l: %w", err)
	}
	return nil
}

var _ phpsyntax.Linter = PHPLinter{}
