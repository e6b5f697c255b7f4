package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/zenddiff/internal/ir"
)

// BugSummary is the indexed view of a bug row, without the full record.
type BugSummary struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	RunID         string            `json:"run_id,omitempty"`
	CandidateID   string            `json:"candidate_id"`
	LeftConfig    string            `json:"left_config"`
	RightConfig   string            `json:"right_config"`
	Kind          ir.DivergenceKind `json:"kind"`
	ProbeID       string            `json:"probe_id,omitempty"`
	Detail        string            `json:"detail,omitempty"`
	Confirmations int               `json:"confirmations"`
	Reruns        int               `json:"reruns"`
	Quorum        int               `json:"quorum"`
}

// StabilitySummary is the indexed view of a stability finding row.
type StabilitySummary struct {
	ID          string           `json:"id"`
	Seq         int64            `json:"seq"`
	RunID       string           `json:"run_id,omitempty"`
	CandidateID string           `json:"candidate_id"`
	Kind        ir.StabilityKind `json:"kind"`
	Side        ir.Side          `json:"side"`
	LeftConfig  string           `json:"left_config"`
	RightConfig string           `json:"right_config"`
}

// Filter narrows list queries. Zero values match everything.
type Filter struct {
	RunID string
	Kind  string
	Limit int
}

func (f Filter) where() (string, []any) {
	clause := "WHERE 1=1"
	var args []any
	if f.RunID != "" {
		clause += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		clause += " AND kind = ?"
		args = append(args, f.Kind)
	}
	return clause, args
}

func (f Filter) limit() string {
	if f.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return ""
}

// GetBug returns the full record of a bug. Returns ErrNotFound if absent.
func (s *Store) GetBug(ctx context.Context, id string) (ir.BugRecord, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM bugs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.BugRecord{}, fmt.Errorf("get bug %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.BugRecord{}, fmt.Errorf("get bug %s: %w", id, err)
	}
	var bug ir.BugRecord
	if err := unmarshalRecord(record, &bug); err != nil {
		return ir.BugRecord{}, fmt.Errorf("get bug %s: %w", id, err)
	}
	return bug, nil
}

// ListBugs returns bug summaries in insertion order.
// ORDER BY seq ASC, id COLLATE BINARY ASC.
func (s *Store) ListBugs(ctx context.Context, f Filter) ([]BugSummary, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, run_id, candidate_id, left_config, right_config, kind,
		       probe_id, detail, confirmations, reruns, quorum
		FROM bugs `+where+`
		ORDER BY seq ASC, id COLLATE BINARY ASC`+f.limit(), args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()

	var bugs []BugSummary
	for rows.Next() {
		var b BugSummary
		var runID sql.NullString
		var kind string
		if err := rows.Scan(&b.ID, &b.Seq, &runID, &b.CandidateID, &b.LeftConfig, &b.RightConfig,
			&kind, &b.ProbeID, &b.Detail, &b.Confirmations, &b.Reruns, &b.Quorum); err != nil {
			return nil, fmt.Errorf("list bugs: scan: %w", err)
		}
		b.RunID = runID.String
		b.Kind = ir.DivergenceKind(kind)
		bugs = append(bugs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bugs: rows: %w", err)
	}
	return bugs, nil
}

// GetStability returns the full record of a stability finding.
func (s *Store) GetStability(ctx context.Context, id string) (ir.StabilityFinding, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM stability_findings WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.StabilityFinding{}, fmt.Errorf("get stability finding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.StabilityFinding{}, fmt.Errorf("get stability finding %s: %w", id, err)
	}
	var f ir.StabilityFinding
	if err := unmarshalRecord(record, &f); err != nil {
		return ir.StabilityFinding{}, fmt.Errorf("get stability finding %s: %w", id, err)
	}
	return f, nil
}

// ListStability returns stability finding summaries in insertion order.
func (s *Store) ListStability(ctx context.Context, f Filter) ([]StabilitySummary, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, run_id, candidate_id, kind, side, left_config, right_config
		FROM stability_findings `+where+`
		ORDER BY seq ASC, id COLLATE BINARY ASC`+f.limit(), args...)
	if err != nil {
		return nil, fmt.Errorf("list stability findings: %w", err)
	}
	defer rows.Close()

	var out []StabilitySummary
	for rows.Next() {
		var sf StabilitySummary
		var runID sql.NullString
		var kind, side string
		if err := rows.Scan(&sf.ID, &sf.Seq, &runID, &sf.CandidateID, &kind, &side,
			&sf.LeftConfig, &sf.RightConfig); err != nil {
			return nil, fmt.Errorf("list stability findings: scan: %w", err)
		}
		sf.RunID = runID.String
		sf.Kind = ir.StabilityKind(kind)
		sf.Side = ir.Side(side)
		out = append(out, sf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stability findings: rows: %w", err)
	}
	return out, nil
}

// LoadSeeds returns every stored seed in import order.
func (s *Store) LoadSeeds(ctx context.Context) ([]ir.SeedProgram, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source, meta, fusable
		FROM seeds
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}
	defer rows.Close()

	var seeds []ir.SeedProgram
	for rows.Next() {
		var seed ir.SeedProgram
		var meta string
		if err := rows.Scan(&seed.ID, &seed.Name, &seed.Source, &meta, &seed.Fusable); err != nil {
			return nil, fmt.Errorf("load seeds: scan: %w", err)
		}
		if err := unmarshalRecord(meta, &seed.Meta); err != nil {
			return nil, fmt.Errorf("load seed %s: %w", seed.Name, err)
		}
		seeds = append(seeds, seed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load seeds: rows: %w", err)
	}
	return seeds, nil
}

// LoadAPIs returns the builtin entries sorted by name.
func (s *Store) LoadAPIs(ctx context.Context) ([]API, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, arity FROM apis ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("load apis: %w", err)
	}
	defer rows.Close()

	var apis []API
	for rows.Next() {
		var a API
		if err := rows.Scan(&a.Name, &a.Arity); err != nil {
			return nil, fmt.Errorf("load apis: scan: %w", err)
		}
		apis = append(apis, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load apis: rows: %w", err)
	}
	return apis, nil
}

// GetRun returns a run. Returns ErrNotFound if absent.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, master_seed, config, started_at, finished_at, status, stats, tool_version
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns all runs in start order.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, master_seed, config, started_at, finished_at, status, stats, tool_version
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: rows: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var config, stats, started string
	var finished sql.NullString
	if err := sc.Scan(&r.ID, &r.Seq, &r.MasterSeed, &config, &started, &finished,
		&r.Status, &stats, &r.ToolVersion); err != nil {
		return Run{}, err
	}
	r.Config = json.RawMessage(config)
	r.Stats = json.RawMessage(stats)

	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	if finished.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
		r.FinishedAt = &ft
	}
	return r, nil
}
