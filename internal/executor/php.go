package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/probe"
)

const (
	programFile = "main.php"
	preludeFile = "prelude.php"
	probeFile   = "probes.jsonl"
)

// PHP runs programs with a PHP CLI binary.
type PHP struct {
	binary string
	opts   Options
}

// NewPHP creates an interpreter for binary.
func NewPHP(binary string, opts ...Option) *PHP {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PHP{binary: binary, opts: o}
}

// Binary returns the interpreter path.
func (p *PHP) Binary() string {
	return p.binary
}

// Run implements Interpreter. Failures to start the process are retried
// with exponential backoff before a *SpawnError is returned.
func (p *PHP) Run(ctx context.Context, prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, timeout time.Duration) (ir.ExecutionRecord, error) {
	backoff := p.opts.Backoff
	for attempt := 1; ; attempt++ {
		rec, err := p.runOnce(ctx, prog, cfg, timeout)
		if err == nil {
			return rec, nil
		}
		if ctx.Err() != nil {
			return ir.ExecutionRecord{}, ctx.Err()
		}
		if attempt >= p.opts.SpawnAttempts {
			return ir.ExecutionRecord{}, &SpawnError{Config: cfg.Name, Attempts: attempt, Err: err}
		}
		p.opts.Logger.Warn("spawn failed, retrying",
			"config", cfg.Name, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ir.ExecutionRecord{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Args returns the interpreter arguments for one run. Candidate INI
// settings come first so the configuration's flags win.
func (p *PHP) Args(prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, dir string) []string {
	args := append([]string(nil), p.opts.BaseArgs...)
	args = append(args, "-d", "auto_prepend_file="+filepath.Join(dir, preludeFile))
	args = append(args, iniArgs(prog.Candidate.INI)...)
	args = append(args, iniArgs(cfg.Flags)...)
	return append(args, filepath.Join(dir, programFile))
}

func iniArgs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, "-d", k+"="+m[k])
	}
	return out
}

func (p *PHP) env(cfg ir.ExecutionConfig, dir string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	return append(env, probe.OutputEnv+"="+filepath.Join(dir, probeFile))
}

// runOnce performs one execution. Its error return is reserved for spawn
// failures; everything the program does is captured in the record.
func (p *PHP) runOnce(ctx context.Context, prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, timeout time.Duration) (ir.ExecutionRecord, error) {
	if err := checkMemory(p.opts.MinFreeMemory); err != nil {
		return ir.ExecutionRecord{}, err
	}

	dir, err := os.MkdirTemp(p.opts.TempDir, "zenddiff-*")
	if err != nil {
		return ir.ExecutionRecord{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, programFile), []byte(prog.Source), 0o644); err != nil {
		return ir.ExecutionRecord{}, fmt.Errorf("write program: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, preludeFile), []byte(probe.Prelude(p.opts.Limits)), 0o644); err != nil {
		return ir.ExecutionRecord{}, fmt.Errorf("write prelude: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.binary, p.Args(prog, cfg, dir)...)
	cmd.Dir = dir
	cmd.Env = p.env(cfg, dir)
	stdout := &cappedBuffer{max: p.opts.MaxOutput}
	stderr := &cappedBuffer{max: p.opts.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	var killed atomic.Bool
	setProcessGroup(cmd, &killed)
	cmd.WaitDelay = p.opts.WaitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ir.ExecutionRecord{}, fmt.Errorf("start %s: %w", p.binary, err)
	}
	waitErr := cmd.Wait()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return ir.ExecutionRecord{}, ctx.Err()
	}

	rec := ir.ExecutionRecord{
		Config:   cfg.Name,
		Stdout:   cleanOutput(stdout.Bytes(), dir, stdout.truncated),
		Stderr:   cleanOutput(stderr.Bytes(), dir, stderr.truncated),
		Duration: duration,
	}

	switch {
	case timedOut(killed.Load(), cmd.ProcessState):
		rec.Status = ir.ExitStatus{Kind: ir.StatusTimeout, ExitCode: -1}
	default:
		rec.Status = exitStatus(cmd.ProcessState)
		if waitErr != nil && cmd.ProcessState == nil {
			return ir.ExecutionRecord{}, fmt.Errorf("wait %s: %w", p.binary, waitErr)
		}
	}
	if rec.Status.Kind != ir.StatusTimeout {
		if pat, ok := p.opts.Crash.Find(rec.Stderr); ok {
			rec.Status.Kind = ir.StatusCrash
			rec.Status.Reason = pat.Name
			rec.Status.Sanitizer = pat.Sanitizer
		}
	}

	snaps, overflow, err := readProbeFile(filepath.Join(dir, probeFile), p.opts.Limits.MaxSnapshots)
	if err != nil {
		p.opts.Logger.Warn("unreadable probe output", "config", cfg.Name, "candidate", prog.Candidate.ID, "error", err)
	}
	rec.Snapshots = snaps
	rec.ProbeOverflow = overflow
	return rec, nil
}

// timedOut reports whether the run ended because the deadline kill landed.
// A process that exits by itself just as the deadline passes is not a
// timeout.
func timedOut(killed bool, state *os.ProcessState) bool {
	return killed && diedOfKill(state)
}

func readProbeFile(path string, max int) ([]ir.Snapshot, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	return probe.ReadSnapshots(f, max)
}

// cappedBuffer keeps the first max bytes written to it and discards the
// rest without failing the writer.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(b []byte) (int, error) {
	room := c.max - c.buf.Len()
	if c.max > 0 && len(b) > room {
		if room > 0 {
			c.buf.Write(b[:room])
		}
		c.truncated = true
		return len(b), nil
	}
	return c.buf.Write(b)
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}

var _ Interpreter = (*PHP)(nil)
