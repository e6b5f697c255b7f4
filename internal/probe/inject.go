package probe

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/phpsyntax"
)

// InjectError reports a candidate whose instrumented form no longer parses.
type InjectError struct {
	CandidateID string
	Err         error
}

func (e *InjectError) Error() string {
	return fmt.Sprintf("probe: instrumenting %s: %v", e.CandidateID, e.Err)
}

func (e *InjectError) Unwrap() error {
	return e.Err
}

// IsInjectError checks if an error is an InjectError.
func IsInjectError(err error) bool {
	var ie *InjectError
	return errors.As(err, &ie)
}

// Injector inserts probe calls into candidate programs. It owns a parser
// and is not safe for concurrent use.
type Injector struct {
	parser *phpsyntax.Parser
}

// NewInjector creates an Injector.
func NewInjector() (*Injector, error) {
	p, err := phpsyntax.NewParser()
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	return &Injector{parser: p}, nil
}

// Close releases the parser.
func (in *Injector) Close() {
	in.parser.Close()
}

// site is one planned probe. Its edits are rendered once the ID is known.
type site struct {
	offset int
	kind   ir.ProbeKind
	line   int
	render func(id string) []phpsyntax.Edit
}

// Instrument returns c with probes inserted after every top-level statement,
// around every return and at the end of every function body. Probe IDs are
// p1, p2, ... in source order, so both runs of a pair agree on them.
func (in *Injector) Instrument(c ir.CandidateProgram) (ir.InstrumentedProgram, error) {
	file, err := in.parser.Parse(c.Source)
	if err != nil {
		return ir.InstrumentedProgram{}, &InjectError{CandidateID: c.ID, Err: err}
	}

	sites := plan(file)

	order := make([]int, len(sites))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sites[order[a]].offset < sites[order[b]].offset
	})
	ids := make([]string, len(sites))
	probes := make([]ir.ProbeSite, len(sites))
	for n, i := range order {
		id := fmt.Sprintf("p%d", n+1)
		ids[i] = id
		probes[n] = ir.ProbeSite{ID: id, Kind: sites[i].kind, Line: sites[i].line}
	}

	// Edits keep planning order so that, at equal offsets, a closing brace
	// of a wrapped return lands before a following statement probe.
	var edits []phpsyntax.Edit
	for i, s := range sites {
		edits = append(edits, s.render(ids[i])...)
	}
	out := phpsyntax.ApplyEdits(c.Source, edits)

	if err := in.parser.Validate(out); err != nil {
		return ir.InstrumentedProgram{}, &InjectError{CandidateID: c.ID, Err: err}
	}
	return ir.InstrumentedProgram{Candidate: c, Source: out, Probes: probes}, nil
}

func plan(f *phpsyntax.File) []site {
	var sites []site

	for _, r := range f.Returns {
		if r.Func >= 0 {
			fn := f.Functions[r.Func]
			if fn.ByRef || fn.Arrow {
				continue
			}
		}
		if r.Expr != nil {
			sites = append(sites, site{
				offset: r.Expr.Start, kind: ir.ProbeReturn, line: r.Line,
				render: func(id string) []phpsyntax.Edit {
					return []phpsyntax.Edit{
						phpsyntax.Insert(r.Expr.Start, fmt.Sprintf(`\__zd_probe_ret('%s', get_defined_vars(), `, id)),
						phpsyntax.Insert(r.Expr.End, ")"),
					}
				},
			})
			continue
		}
		sites = append(sites, site{
			offset: r.Start, kind: ir.ProbeReturn, line: r.Line,
			render: func(id string) []phpsyntax.Edit {
				return []phpsyntax.Edit{
					phpsyntax.Insert(r.Start, "{ "+call(id)+" "),
					phpsyntax.Insert(r.End, " }"),
				}
			},
		})
	}

	for _, fn := range f.Functions {
		if fn.Body == nil || fn.Arrow {
			continue
		}
		at := fn.Body.End - 1
		sites = append(sites, site{
			offset: at, kind: ir.ProbeExit, line: fn.Line,
			render: func(id string) []phpsyntax.Edit {
				return []phpsyntax.Edit{phpsyntax.Insert(at, "\n"+call(id)+"\n")}
			},
		})
	}

	for _, s := range f.Statements {
		if s.Declaration || s.Kind == "return_statement" || strings.Contains(s.Kind, "halt_compiler") || s.End == 0 {
			continue
		}
		last := f.Source[s.End-1]
		if last != ';' && last != '}' {
			continue
		}
		at := s.End
		sites = append(sites, site{
			offset: at, kind: ir.ProbeStatement, line: s.Line,
			render: func(id string) []phpsyntax.Edit {
				return []phpsyntax.Edit{phpsyntax.Insert(at, "\n"+call(id))}
			},
		})
	}
	return sites
}

func call(id string) string {
	return fmt.Sprintf(`\__zd_probe('%s', get_defined_vars());`, id)
}
