package mutate

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/phpsyntax"
	"github.com/roach88/zenddiff/internal/seed"
)

// ErrEmptyCorpus is returned when there is nothing to draw seeds from.
var ErrEmptyCorpus = errors.New("mutate: corpus is empty")

// ErrReplayMismatch is returned when replaying a candidate over the current
// corpus does not rebuild the same program.
var ErrReplayMismatch = errors.New("mutate: replay produced a different candidate")

// Mutator turns seeds into candidate programs.
//
// A Mutator owns a parser and is not safe for concurrent use; each worker
// builds its own. The corpus is shared read-only.
type Mutator struct {
	corpus *seed.Corpus
	opts   Options
	ops    []Operator
	total  int
	parser *phpsyntax.Parser
}

// New creates a Mutator over corpus.
func New(corpus *seed.Corpus, opts ...Option) (*Mutator, error) {
	if corpus == nil || corpus.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Mutator{corpus: corpus, opts: o}
	for _, op := range Operators() {
		if w, ok := o.Weights[op.Name]; ok {
			op.Weight = w
		}
		if op.Weight <= 0 {
			continue
		}
		m.ops = append(m.ops, op)
		m.total += op.Weight
	}

	p, err := phpsyntax.NewParser()
	if err != nil {
		return nil, fmt.Errorf("mutate: %w", err)
	}
	m.parser = p
	return m, nil
}

// Close releases the parser.
func (m *Mutator) Close() {
	m.parser.Close()
}

// Generate builds one candidate from rngSeed. The same seed over the same
// corpus yields the same source and operator sequence, which is how stored
// bugs are replayed.
//
// The returned candidate always parses: a mutation whose result fails to
// re-parse is discarded and another operator is tried.
func (m *Mutator) Generate(rngSeed int64) (ir.CandidateProgram, error) {
	rng := rand.New(rand.NewSource(rngSeed))

	fz, err := m.fuse(rng)
	if err != nil {
		return ir.CandidateProgram{}, err
	}

	file, err := m.parser.Parse(fz.source)
	if err != nil {
		// Fusion of valid fragments should always parse; fall back to the
		// first seed alone if it does not.
		m.opts.Logger.Debug("fusion produced invalid program", "mode", fz.mode, "error", err)
		fz = fusion{source: fz.seeds[0].Source, seeds: fz.seeds[:1], mode: ir.FusionSingle}
		if file, err = m.parser.Parse(fz.source); err != nil {
			return ir.CandidateProgram{}, fmt.Errorf("mutate: seed %s does not parse: %w", fz.seeds[0].Name, err)
		}
	}

	var applied []string
	var startup map[string]string
	steps := 0
	if m.total > 0 && m.opts.MaxOps > 0 {
		steps = 1 + rng.Intn(m.opts.MaxOps)
	}
	for i := 0; i < steps; i++ {
		for attempt := 0; attempt < m.opts.Retries; attempt++ {
			op := m.pick(rng)
			if op.Startup != nil {
				startup = setINI(startup, op, rng)
				applied = append(applied, op.Name)
				break
			}
			out, ok := op.Apply(file, rng, &m.opts)
			if !ok {
				continue
			}
			next, err := m.parser.Parse(out)
			if err != nil {
				m.opts.Logger.Debug("mutation discarded", "operator", op.Name, "error", err)
				continue
			}
			file = next
			applied = append(applied, op.Name)
			break
		}
	}

	seedIDs := make([]string, len(fz.seeds))
	for i, s := range fz.seeds {
		seedIDs[i] = s.ID
	}
	ini, features := mergeSeedMeta(fz.seeds)
	ini = mergeINI(startup, ini)
	c := ir.CandidateProgram{
		ID:        m.opts.IDs.Generate(),
		Source:    file.Source,
		SeedIDs:   seedIDs,
		Fusion:    fz.mode,
		Operators: applied,
		RNGSeed:   rngSeed,
		INI:       ini,
		Features:  features,
	}
	if fz.mode == ir.FusionSingle && len(applied) == 0 {
		c.Expect = fz.seeds[0].Meta.Expect
	}
	return c, nil
}

// Replay rebuilds c from its RNG seed. The corpus must hold the same seeds
// in the same order as when c was generated; otherwise ErrReplayMismatch is
// returned along with what the current corpus produced.
func (m *Mutator) Replay(c ir.CandidateProgram) (ir.CandidateProgram, error) {
	got, err := m.Generate(c.RNGSeed)
	if err != nil {
		return ir.CandidateProgram{}, err
	}
	if !slices.Equal(got.SeedIDs, c.SeedIDs) || got.Source != c.Source {
		return got, fmt.Errorf("%w: candidate %s", ErrReplayMismatch, c.ID)
	}
	got.ID = c.ID
	return got, nil
}

// Mutation is the result of applying named operators to one program.
type Mutation struct {
	Source  string
	Applied []string

	// INI holds the startup settings drawn by INI operators.
	INI map[string]string
}

// Mutate applies the named operators in order to src, drawing randomness
// from rngSeed. Operators that do not apply or break the program are
// skipped. Used by the single-file commands.
func (m *Mutator) Mutate(src string, names []string, rngSeed int64) (Mutation, error) {
	rng := rand.New(rand.NewSource(rngSeed))
	file, err := m.parser.Parse(src)
	if err != nil {
		return Mutation{}, err
	}
	byName := make(map[string]Operator)
	for _, op := range Operators() {
		byName[op.Name] = op
	}

	var res Mutation
	for _, name := range names {
		op, ok := byName[name]
		if !ok {
			return Mutation{}, fmt.Errorf("mutate: unknown operator %q", name)
		}
		if op.Startup != nil {
			res.INI = setINI(res.INI, op, rng)
			res.Applied = append(res.Applied, name)
			continue
		}
		out, ok := op.Apply(file, rng, &m.opts)
		if !ok {
			continue
		}
		next, err := m.parser.Parse(out)
		if err != nil {
			continue
		}
		file = next
		res.Applied = append(res.Applied, name)
	}
	res.Source = file.Source
	return res, nil
}

// setINI draws a startup setting from op into ini, allocating it on first
// use.
func setINI(ini map[string]string, op Operator, rng *rand.Rand) map[string]string {
	if ini == nil {
		ini = make(map[string]string)
	}
	k, v := op.Startup(rng)
	ini[k] = v
	return ini
}

// mergeINI overlays the seeds' own settings on the drawn ones: a seed that
// needs a setting keeps it.
func mergeINI(drawn, seeds map[string]string) map[string]string {
	if len(drawn) == 0 {
		return seeds
	}
	for k, v := range seeds {
		drawn[k] = v
	}
	return drawn
}

// pick draws an operator by weight.
func (m *Mutator) pick(rng *rand.Rand) Operator {
	x := rng.Intn(m.total)
	for _, op := range m.ops {
		if x < op.Weight {
			return op
		}
		x -= op.Weight
	}
	return m.ops[len(m.ops)-1]
}
