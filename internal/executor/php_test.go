//go:build unix

package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/ir"
)

// fakePHP stands in for the interpreter: it picks a behavior from a keyword
// in the program file, which is always its last argument.
const fakePHP = `#!/bin/sh
for prog; do :; done
case "$(cat "$prog")" in
*SLEEP*) sleep 5 ;;
*SEGV*) kill -SEGV $$ ;;
*ASAN*) echo "==1==ERROR: AddressSanitizer: heap-use-after-free" >&2 ;;
*ECHOERR*) echo "runtime error: bad input"; echo "Assertion that x > 0 failed, AddressSanitizer"; echo "runtime error: bad input" >&2 ;;
*SELFKILL*) kill -KILL $$ ;;
*PWD*) pwd ;;
*LATIN*) printf 'caf\351' ;;
*NOISY*) i=0; while [ $i -lt 100 ]; do printf '0123456789'; i=$((i+1)); done ;;
*)
  printf 'hello'
  echo '{"id":"p1","depth":0,"vars":[["a",{"t":"int","v":"1"}]]}' > "$ZENDDIFF_PROBE_OUT"
  exit 3
  ;;
esac
`

func writeFakePHP(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "php")
	require.NoError(t, os.WriteFile(path, []byte(fakePHP), 0o755))
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFake(t *testing.T, opts ...Option) *PHP {
	t.Helper()
	base := []Option{WithMinFreeMemory(0), WithLogger(quietLogger()), WithTempDir(t.TempDir())}
	return NewPHP(writeFakePHP(t), append(base, opts...)...)
}

func program(src string) ir.InstrumentedProgram {
	return ir.InstrumentedProgram{
		Candidate: ir.CandidateProgram{ID: "c1", Source: src},
		Source:    src,
	}
}

var jitOff = ir.ExecutionConfig{Name: "jit-off", Flags: map[string]string{"opcache.jit": "off"}}

func TestRunNormal(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php echo 1;"), jitOff, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "jit-off", rec.Config)
	assert.Equal(t, "hello", rec.Stdout)
	assert.Equal(t, ir.ExitStatus{Kind: ir.StatusNormal, ExitCode: 3}, rec.Status)
	require.Len(t, rec.Snapshots, 1)
	assert.Equal(t, "p1", rec.Snapshots[0].ProbeID)
	assert.False(t, rec.ProbeOverflow)
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	p := newFake(t)
	start := time.Now()
	rec, err := p.Run(context.Background(), program("<?php SLEEP"), jitOff, 200*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusTimeout, rec.Status.Kind)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunSignalIsCrash(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php SEGV"), jitOff, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusCrash, rec.Status.Kind)
	assert.Equal(t, "segmentation fault", rec.Status.Signal)
}

func TestRunSanitizerOutputIsCrash(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php ASAN"), jitOff, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusCrash, rec.Status.Kind)
	assert.Equal(t, "asan", rec.Status.Reason)
	assert.True(t, rec.Status.Sanitizer)
	assert.Equal(t, 0, rec.Status.ExitCode)
}

func TestRunProgramTextIsNotCrash(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php ECHOERR"), jitOff, 5*time.Second)
	require.NoError(t, err)

	assert.Contains(t, rec.Stdout, "runtime error: bad input")
	assert.Equal(t, ir.ExitStatus{Kind: ir.StatusNormal, ExitCode: 0}, rec.Status)
}

func TestRunSelfKillIsCrashNotTimeout(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php SELFKILL"), jitOff, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusCrash, rec.Status.Kind)
	assert.Equal(t, "killed", rec.Status.Signal)
}

func TestTimedOutNeedsDeliveredKill(t *testing.T) {
	exited := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, exited.Run())
	assert.False(t, timedOut(true, exited.ProcessState), "exited before the kill landed")
	assert.False(t, timedOut(false, exited.ProcessState))

	killed := exec.Command("sh", "-c", "kill -KILL $$")
	require.Error(t, killed.Run())
	assert.True(t, timedOut(true, killed.ProcessState))
	assert.False(t, timedOut(false, killed.ProcessState), "killed by something else")
	assert.False(t, timedOut(true, nil))
}

func TestRunReplacesWorkdir(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php PWD"), jitOff, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, WorkdirPlaceholder+"\n", rec.Stdout)
}

func TestRunDecodesLatin1(t *testing.T) {
	p := newFake(t)
	rec, err := p.Run(context.Background(), program("<?php LATIN"), jitOff, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "café", rec.Stdout)
}

func TestRunCapsOutput(t *testing.T) {
	p := newFake(t, WithMaxOutput(100))
	rec, err := p.Run(context.Background(), program("<?php NOISY"), jitOff, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 100+len(TruncatedMarker), len(rec.Stdout))
	assert.Contains(t, rec.Stdout, TruncatedMarker)
}

func TestRunRemovesWorkdir(t *testing.T) {
	tmp := t.TempDir()
	p := newFake(t, WithTempDir(tmp))
	_, err := p.Run(context.Background(), program("<?php echo 1;"), jitOff, 5*time.Second)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), program("<?php SLEEP"), jitOff, 100*time.Millisecond)
	require.NoError(t, err)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunMissingBinaryIsSpawnError(t *testing.T) {
	p := NewPHP(filepath.Join(t.TempDir(), "no-such-php"),
		WithMinFreeMemory(0), WithLogger(quietLogger()), WithSpawnRetry(2, time.Millisecond))
	_, err := p.Run(context.Background(), program("<?php"), jitOff, time.Second)
	require.Error(t, err)
	assert.True(t, IsSpawnError(err))

	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Attempts)
	assert.Equal(t, "jit-off", se.Config)
}

func TestRunLowMemoryIsSpawnError(t *testing.T) {
	orig := virtualMemory
	virtualMemory = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Available: 1 << 20}, nil
	}
	t.Cleanup(func() { virtualMemory = orig })

	p := newFake(t, WithMinFreeMemory(64<<20), WithSpawnRetry(1, time.Millisecond))
	_, err := p.Run(context.Background(), program("<?php"), jitOff, time.Second)
	require.Error(t, err)
	assert.True(t, IsSpawnError(err))
	assert.Contains(t, err.Error(), "low memory")
}

func TestRunCanceledContext(t *testing.T) {
	p := newFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, program("<?php"), jitOff, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsSpawnError(err))
}

func TestArgsOrder(t *testing.T) {
	p := NewPHP("php")
	prog := program("<?php")
	prog.Candidate.INI = map[string]string{"precision": "14", "opcache.jit": "tracing"}
	cfg := ir.ExecutionConfig{Name: "x", Flags: map[string]string{"opcache.jit": "off", "opcache.enable_cli": "1"}}

	args := p.Args(prog, cfg, "/w")
	assert.Equal(t, []string{
		"-n",
		"-d", "auto_prepend_file=/w/prelude.php",
		"-d", "opcache.jit=tracing",
		"-d", "precision=14",
		"-d", "opcache.enable_cli=1",
		"-d", "opcache.jit=off",
		"/w/main.php",
	}, args)
}
