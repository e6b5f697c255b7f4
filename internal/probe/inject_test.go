package probe

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/ir"
)

func newInjector(t *testing.T) *Injector {
	t.Helper()
	in, err := NewInjector()
	require.NoError(t, err)
	t.Cleanup(in.Close)
	return in
}

const functionProgram = `<?php
$a = 1;
function f($x) {
    if ($x) {
        return $x + 1;
    }
    return;
}
echo f($a);
`

func TestInstrumentGolden(t *testing.T) {
	in := newInjector(t)
	got, err := in.Instrument(ir.CandidateProgram{ID: "c1", Source: functionProgram})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "instrument_function", []byte(got.Source))

	assert.Equal(t, []ir.ProbeSite{
		{ID: "p1", Kind: ir.ProbeStatement, Line: 2},
		{ID: "p2", Kind: ir.ProbeReturn, Line: 5},
		{ID: "p3", Kind: ir.ProbeReturn, Line: 7},
		{ID: "p4", Kind: ir.ProbeExit, Line: 3},
		{ID: "p5", Kind: ir.ProbeStatement, Line: 9},
	}, got.Probes)
	assert.Equal(t, "c1", got.Candidate.ID)
}

func TestInstrumentIsDeterministic(t *testing.T) {
	in := newInjector(t)
	c := ir.CandidateProgram{ID: "c1", Source: functionProgram}
	a, err := in.Instrument(c)
	require.NoError(t, err)
	b, err := in.Instrument(c)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestInstrumentOnlyAddsProbeCalls(t *testing.T) {
	src := "<?php\n$a = [1, 2];\nforeach ($a as $v) {\n    echo $v;\n}\n$b = $a[0] * 2.5;\n"
	in := newInjector(t)
	got, err := in.Instrument(ir.CandidateProgram{ID: "c1", Source: src})
	require.NoError(t, err)
	require.Len(t, got.Probes, 3)

	stripped := got.Source
	for _, p := range got.Probes {
		stripped = strings.Replace(stripped, "\n"+call(p.ID), "", 1)
	}
	assert.Equal(t, src, stripped)
}

func TestInstrumentSkipsByRefAndArrowFunctions(t *testing.T) {
	src := "<?php\n$x = 1;\nfunction &g() { return $GLOBALS['x']; }\n$f = fn($v) => $v * 2;\necho $f(g());\n"
	in := newInjector(t)
	got, err := in.Instrument(ir.CandidateProgram{ID: "c1", Source: src})
	require.NoError(t, err)

	assert.NotContains(t, got.Source, "__zd_probe_ret")
	assert.Contains(t, got.Source, "fn($v) => $v * 2;")
	kinds := map[ir.ProbeKind]int{}
	for _, p := range got.Probes {
		kinds[p.Kind]++
	}
	assert.Equal(t, 3, kinds[ir.ProbeStatement])
	assert.Equal(t, 1, kinds[ir.ProbeExit])
	assert.Equal(t, 0, kinds[ir.ProbeReturn])
}

func TestInstrumentSkipsDeclarations(t *testing.T) {
	src := "<?php\ndeclare(strict_types=1);\nclass A { public function m(): int { return 1; } }\n$a = new A();\n"
	in := newInjector(t)
	got, err := in.Instrument(ir.CandidateProgram{ID: "c1", Source: src})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.Source, "<?php\ndeclare(strict_types=1);\nclass A"))
	assert.Contains(t, got.Source, `return \__zd_probe_ret('p1', get_defined_vars(), 1);`)
	require.Len(t, got.Probes, 3)
	assert.Equal(t, ir.ProbeStatement, got.Probes[2].Kind)
}

func TestInstrumentRejectsInvalidSource(t *testing.T) {
	in := newInjector(t)
	_, err := in.Instrument(ir.CandidateProgram{ID: "bad", Source: "<?php\n$a = ;\n"})
	require.Error(t, err)
	assert.True(t, IsInjectError(err))
	assert.Contains(t, err.Error(), "bad")
}

func TestPreludeRendersLimits(t *testing.T) {
	out := Prelude(Limits{MaxDepth: 3, MaxWidth: 7, MaxString: 11, MaxSnapshots: 13})

	assert.True(t, strings.HasPrefix(out, "<?php"))
	assert.NotContains(t, out, "{{")
	assert.Contains(t, out, "getenv('"+OutputEnv+"')")
	assert.Contains(t, out, "$depth > 3")
	assert.Contains(t, out, "++$n > 7")
	assert.Contains(t, out, "strlen($s) > 11")
	assert.Contains(t, out, "$count > 13")
	assert.Contains(t, out, "function __zd_probe(")
	assert.Contains(t, out, "function __zd_probe_ret(")
}

func TestPreludeDefaultsZeroLimits(t *testing.T) {
	assert.Equal(t, Prelude(DefaultLimits()), Prelude(Limits{}))
}

// TestProbesAgainstInterpreter runs an instrumented program through a real
// PHP binary when one is installed.
func TestProbesAgainstInterpreter(t *testing.T) {
	php, err := exec.LookPath("php")
	if err != nil {
		t.Skip("php not installed")
	}

	in := newInjector(t)
	got, err := in.Instrument(ir.CandidateProgram{ID: "c1", Source: functionProgram})
	require.NoError(t, err)

	dir := t.TempDir()
	prelude := filepath.Join(dir, "prelude.php")
	main := filepath.Join(dir, "main.php")
	out := filepath.Join(dir, "probes.jsonl")
	require.NoError(t, os.WriteFile(prelude, []byte(Prelude(DefaultLimits())), 0o644))
	require.NoError(t, os.WriteFile(main, []byte(got.Source), 0o644))

	cmd := exec.Command(php, "-n", "-d", "auto_prepend_file="+prelude, main)
	cmd.Env = append(os.Environ(), OutputEnv+"="+out)
	stdout, err := cmd.Output()
	require.NoError(t, err)
	assert.Equal(t, "2", string(stdout))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	snaps, overflow, err := ReadSnapshots(f, 0)
	require.NoError(t, err)
	assert.False(t, overflow)

	var ids []string
	for _, s := range snaps {
		ids = append(ids, s.ProbeID)
	}
	assert.Equal(t, []string{"p1", "p2", "p5"}, ids)
	assert.Equal(t, int64(0), snaps[0].Depth)
	assert.Equal(t, int64(1), snaps[1].Depth)
	assert.JSONEq(t, `[["a",{"t":"int","v":"1"}]]`, string(snaps[0].Vars))
	assert.JSONEq(t, `{"t":"int","v":"2"}`, string(snaps[1].Value))
}
