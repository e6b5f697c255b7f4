package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/zenddiff/internal/ir"
)

// Record stores a confirmed bug and returns its ID.
// Uses ON CONFLICT(id) DO NOTHING: recording the same bug again is a no-op
// that returns the same ID.
func (s *Store) Record(ctx context.Context, bug ir.BugRecord) (string, error) {
	if bug.ID == "" {
		return "", fmt.Errorf("record bug: empty id")
	}
	if bug.Verdict.Divergence == nil {
		return "", fmt.Errorf("record bug %s: verdict has no divergence", bug.ID)
	}
	record, err := marshalRecord(bug)
	if err != nil {
		return "", fmt.Errorf("record bug %s: %w", bug.ID, err)
	}

	d := bug.Verdict.Divergence
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bugs
		(id, seq, run_id, candidate_id, left_config, right_config, kind, probe_id, detail,
		 confirmations, reruns, quorum, source, record)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM bugs), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		bug.ID,
		nullable(bug.RunID),
		bug.Candidate.ID,
		bug.Pair.Left.Name,
		bug.Pair.Right.Name,
		string(d.Kind),
		d.ProbeID,
		bug.Verdict.Detail,
		bug.Confirmations,
		bug.Reruns,
		bug.Quorum,
		bug.Candidate.Source,
		record,
	)
	if err != nil {
		return "", fmt.Errorf("record bug %s: %w", bug.ID, err)
	}
	return bug.ID, nil
}

// RecordStability stores a stability finding and returns its ID.
// Idempotent like Record.
func (s *Store) RecordStability(ctx context.Context, f ir.StabilityFinding) (string, error) {
	if f.ID == "" {
		return "", fmt.Errorf("record stability: empty id")
	}
	record, err := marshalRecord(f)
	if err != nil {
		return "", fmt.Errorf("record stability %s: %w", f.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stability_findings
		(id, seq, run_id, candidate_id, kind, side, left_config, right_config, record)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM stability_findings), ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		f.ID,
		nullable(f.RunID),
		f.Candidate.ID,
		string(f.Kind),
		string(f.Side),
		f.Pair.Left.Name,
		f.Pair.Right.Name,
		record,
	)
	if err != nil {
		return "", fmt.Errorf("record stability %s: %w", f.ID, err)
	}
	return f.ID, nil
}

// ImportSeeds stores seeds, skipping IDs already present. Returns how many
// were inserted.
func (s *Store) ImportSeeds(ctx context.Context, seeds []ir.SeedProgram) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import seeds: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted := 0
	for _, seed := range seeds {
		meta, err := marshalRecord(seed.Meta)
		if err != nil {
			return 0, fmt.Errorf("import seed %s: %w", seed.Name, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO seeds (id, seq, name, source, meta, fusable)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM seeds), ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, seed.ID, seed.Name, seed.Source, meta, seed.Fusable)
		if err != nil {
			return 0, fmt.Errorf("import seed %s: %w", seed.Name, err)
		}
		n, err := countRows(res)
		if err != nil {
			return 0, fmt.Errorf("import seed %s: %w", seed.Name, err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import seeds: commit: %w", err)
	}
	return inserted, nil
}

// API is a builtin function entry for the api-call mutation.
type API struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// ImportAPIs stores builtin entries; an existing name keeps its arity.
func (s *Store) ImportAPIs(ctx context.Context, apis []API) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import apis: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted := 0
	for _, a := range apis {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO apis (name, arity) VALUES (?, ?)
			ON CONFLICT(name) DO NOTHING
		`, a.Name, a.Arity)
		if err != nil {
			return 0, fmt.Errorf("import api %s: %w", a.Name, err)
		}
		n, err := countRows(res)
		if err != nil {
			return 0, fmt.Errorf("import api %s: %w", a.Name, err)
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import apis: commit: %w", err)
	}
	return inserted, nil
}

// countRows reads how many rows a statement touched.
func countRows(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Run is one fuzzing run.
type Run struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	MasterSeed  int64           `json:"master_seed"`
	Config      json.RawMessage `json:"config"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Status      string          `json:"status"`
	Stats       json.RawMessage `json:"stats"`
	ToolVersion string          `json:"tool_version"`
}

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// BeginRun inserts a run in the running state.
func (s *Store) BeginRun(ctx context.Context, id string, masterSeed int64, config any, startedAt time.Time) error {
	cfg, err := marshalRecord(config)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seq, master_seed, config, started_at, status, tool_version)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs), ?, ?, ?, ?, ?)
	`, id, masterSeed, cfg, startedAt.UTC().Format(time.RFC3339Nano), RunRunning, ir.ToolVersion)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun marks a running run as finished or failed and stores its
// counters. Finishing a run twice is an error.
func (s *Store) FinishRun(ctx context.Context, id, status string, stats any, finishedAt time.Time) error {
	data, err := marshalRecord(stats)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, stats = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, status, data, finishedAt.UTC().Format(time.RFC3339Nano), id, RunRunning)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}
