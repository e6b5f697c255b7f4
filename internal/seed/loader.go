package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/phpsyntax"
)

// Quarantined is a corpus file that failed validation. It is reported and
// never handed to the mutator.
type Quarantined struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// LoadResult holds the outcome of loading a corpus directory.
type LoadResult struct {
	Seeds       []ir.SeedProgram
	Quarantined []Quarantined
}

// ValidationError explains why a seed was quarantined.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// LoadDir walks dir for .php seeds (with optional .yaml sidecars) and .phpt
// test files. Files are visited in lexical order so IDs and ordering are
// stable across runs. Only I/O failures on the directory itself are
// returned as errors; bad seeds are quarantined.
func LoadDir(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path is not a directory: %s", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".php", ".phpt":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning corpus: %w", err)
	}
	sort.Strings(paths)

	result := &LoadResult{}
	for _, path := range paths {
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		var s ir.SeedProgram
		var loadErr error
		if filepath.Ext(path) == ".phpt" {
			s, loadErr = loadPHPT(path, rel)
		} else {
			s, loadErr = loadPHP(path, rel)
		}
		if loadErr != nil {
			result.Quarantined = append(result.Quarantined, Quarantined{Path: rel, Reason: loadErr.Error()})
			continue
		}
		result.Seeds = append(result.Seeds, s)
	}
	return result, nil
}

// LoadFile loads one .php (with its sidecar) or .phpt file. The seed is
// named after the file's base name.
func LoadFile(path string) (ir.SeedProgram, error) {
	name := filepath.Base(path)
	if filepath.Ext(path) == ".phpt" {
		return loadPHPT(path, name)
	}
	return loadPHP(path, name)
}

// AsCandidate wraps a seed as an unmutated candidate, for commands that
// run a single file.
func AsCandidate(s ir.SeedProgram) ir.CandidateProgram {
	return ir.CandidateProgram{
		ID:       s.ID,
		Source:   s.Source,
		SeedIDs:  []string{s.ID},
		Fusion:   ir.FusionSingle,
		INI:      s.Meta.INI,
		Features: s.Meta.Features,
		Expect:   s.Meta.Expect,
	}
}

func loadPHP(path, name string) (ir.SeedProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.SeedProgram{}, err
	}

	var meta ir.SeedMeta
	sidecar := strings.TrimSuffix(path, ".php") + ".yaml"
	if raw, err := os.ReadFile(sidecar); err == nil {
		meta, err = decodeMeta(raw)
		if err != nil {
			return ir.SeedProgram{}, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ir.SeedProgram{}, err
	}

	return NewSeed(name, string(data), meta)
}

func decodeMeta(raw []byte) (ir.SeedMeta, error) {
	var meta ir.SeedMeta
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&meta); err != nil {
		return ir.SeedMeta{}, &ValidationError{Field: "meta", Message: fmt.Sprintf("invalid sidecar: %v", err)}
	}
	return meta, nil
}

// NewSeed validates a program and its metadata and returns a SeedProgram
// with a content-addressed ID.
func NewSeed(name, source string, meta ir.SeedMeta) (ir.SeedProgram, error) {
	source = NormalizeSource(source)
	if strings.TrimSpace(strings.TrimPrefix(source, "<?php")) == "" {
		return ir.SeedProgram{}, &ValidationError{Field: "source", Message: "empty program"}
	}
	if meta.Weight < 0 {
		return ir.SeedProgram{}, &ValidationError{Field: "weight", Message: "must not be negative"}
	}
	for _, f := range meta.Features {
		if strings.TrimSpace(f) == "" {
			return ir.SeedProgram{}, &ValidationError{Field: "features", Message: "empty feature name"}
		}
	}
	for k := range meta.INI {
		if strings.TrimSpace(k) == "" || strings.ContainsAny(k, "= \t\n") {
			return ir.SeedProgram{}, &ValidationError{Field: "ini", Message: fmt.Sprintf("invalid key %q", k)}
		}
	}

	file, err := phpsyntax.Parse(source)
	if err != nil {
		return ir.SeedProgram{}, &ValidationError{Field: "source", Message: err.Error()}
	}

	id, err := ir.SeedID(name, source)
	if err != nil {
		return ir.SeedProgram{}, err
	}
	return ir.SeedProgram{
		ID:      id,
		Name:    name,
		Source:  source,
		Meta:    meta,
		Fusable: file.Fusable(),
	}, nil
}

// NormalizeSource converts line endings, drops a trailing close tag and
// guarantees a leading open tag.
func NormalizeSource(src string) string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.TrimPrefix(src, "\uFEFF")
	src = strings.TrimLeft(src, " \t\n")
	if body := strings.TrimRight(src, " \t\n"); strings.HasSuffix(body, "?>") {
		src = strings.TrimRight(strings.TrimSuffix(body, "?>"), " \t\n") + "\n"
	}
	if !strings.HasPrefix(strings.ToLower(src), "<?php") {
		return "<?php\n" + src
	}
	return src
}
