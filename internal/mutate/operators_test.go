package mutate

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/phpsyntax"
)

func parse(t *testing.T, src string) *phpsyntax.File {
	t.Helper()
	f, err := phpsyntax.Parse(src)
	require.NoError(t, err)
	return f
}

func apply(t *testing.T, op func(*phpsyntax.File, *rand.Rand, *Options) (string, bool), src string, seed int64) string {
	t.Helper()
	o := DefaultOptions()
	out, ok := op(parse(t, src), rand.New(rand.NewSource(seed)), &o)
	require.True(t, ok)
	require.NoError(t, phpsyntax.Validate(out), "mutated program must parse:\n%s", out)
	return out
}

func TestLoopThresholdCrossesHotLoop(t *testing.T) {
	src := "<?php\n$s = 0.0;\nfor ($i = 0; $i < 10; $i++) { $s += 0.1; }\necho $s;\n"
	for seed := int64(0); seed < 8; seed++ {
		out := apply(t, loopThreshold, src, seed)
		f := parse(t, out)
		require.Len(t, f.Loops, 1)
		assert.Contains(t, []int64{63, 65, 129, 128}, f.Loops[0].Value)
	}
}

func TestLoopThresholdNeedsLoop(t *testing.T) {
	o := DefaultOptions()
	_, ok := loopThreshold(parse(t, "<?php echo 1;"), rand.New(rand.NewSource(1)), &o)
	assert.False(t, ok)
}

func TestOperandTypeChangesLiteralType(t *testing.T) {
	src := "<?php\necho 7 + 1;\n"
	seen := map[string]bool{}
	for seed := int64(0); seed < 20; seed++ {
		seen[apply(t, operandType, src, seed)] = true
	}
	assert.True(t, seen["<?php\necho 7.0 + 1;\n"] || seen["<?php\necho 7 + 1.0;\n"])
	assert.True(t, seen["<?php\necho '7' + 1;\n"] || seen["<?php\necho 7 + '1';\n"])
}

func TestOperandTypeSkipsBreakLevels(t *testing.T) {
	f := parse(t, "<?php\nwhile (true) { break 1; }\n")
	assert.Empty(t, mutableLiterals(f))
}

func TestBoundaryLiteral(t *testing.T) {
	out := apply(t, boundaryLiteral, "<?php\n$x = -5;\necho $x * 2;\n", 3)
	assert.NotEqual(t, "<?php\n$x = -5;\necho $x * 2;\n", out)
}

func TestHotFunctionWrapsTopLevel(t *testing.T) {
	out := apply(t, hotFunction, "<?php\n$a = 1;\necho $a;\n", 1)
	assert.True(t, strings.HasPrefix(out, "<?php\nfunction __zd_hot() {\n$a = 1;\necho $a;\n"))
	assert.Contains(t, out, "$__zd_i < 4")
}

func TestHotWrappersRefuseDeclarations(t *testing.T) {
	o := DefaultOptions()
	f := parse(t, "<?php\nfunction g() { return 1; }\necho g();\n")
	_, ok := hotFunction(f, rand.New(rand.NewSource(1)), &o)
	assert.False(t, ok)
	_, ok = hotLoop(f, rand.New(rand.NewSource(1)), &o)
	assert.False(t, ok)
}

func TestHotLoopWrapsTopLevel(t *testing.T) {
	out := apply(t, hotLoop, "<?php\necho 1;\n", 1)
	assert.Equal(t, "<?php\nfor ($__zd_l = 0; $__zd_l < 2; $__zd_l++) {\necho 1;\n\n}\n", out)
}

func TestStrictTypesToggles(t *testing.T) {
	on := apply(t, strictTypes, "<?php\necho 1;\n", 1)
	assert.Equal(t, "<?php\ndeclare(strict_types=1);\necho 1;\n", on)

	off := apply(t, strictTypes, on, 1)
	assert.NotContains(t, off, "strict_types")
}

func TestINIToggleGoesAfterDeclare(t *testing.T) {
	out := apply(t, iniToggle, "<?php\ndeclare(strict_types=1);\necho 1.5;\n", 2)
	declare := strings.Index(out, "declare(")
	ini := strings.Index(out, "ini_set(")
	require.GreaterOrEqual(t, ini, 0)
	assert.Less(t, declare, ini)
}

func TestINIToggleRefusesNamespaces(t *testing.T) {
	o := DefaultOptions()
	_, ok := iniToggle(parse(t, "<?php\nnamespace A;\necho 1;\n"), rand.New(rand.NewSource(1)), &o)
	assert.False(t, ok)
}

func TestOptionalArg(t *testing.T) {
	src := "<?php\necho round(2.5, 0);\n"
	seen := map[string]bool{}
	for seed := int64(0); seed < 10; seed++ {
		seen[apply(t, optionalArg, src, seed)] = true
	}
	assert.True(t, seen["<?php\necho round(2.5);\n"])
	assert.True(t, seen["<?php\necho round(2.5, 0, 0);\n"])
}

func TestOptionalArgSkipsNamedAndSpread(t *testing.T) {
	o := DefaultOptions()
	f := parse(t, "<?php\necho round(num: 2.5);\necho max(...[1, 2]);\n")
	_, ok := optionalArg(f, rand.New(rand.NewSource(1)), &o)
	assert.False(t, ok)
}

func TestAPICallUsesProgramVariables(t *testing.T) {
	o := DefaultOptions()
	o.APIs = []API{{Name: "intdiv", Arity: 2}}
	f := parse(t, "<?php\n$a = 10;\n$b = 3;\n")
	out, ok := apiCall(f, rand.New(rand.NewSource(5)), &o)
	require.True(t, ok)
	require.NoError(t, phpsyntax.Validate(out))
	assert.Contains(t, out, "try { var_dump(intdiv($")
	assert.Contains(t, out, "catch (\\Throwable $e)")
}

func TestStripTag(t *testing.T) {
	assert.Equal(t, "echo 1;", StripTag("<?php\necho 1;"))
	assert.Equal(t, "echo 1;", StripTag("<?PHP echo 1;"))
	assert.Equal(t, "echo 1;", StripTag("echo 1;"))
}

func TestHotWrappersRefuseConstAndUse(t *testing.T) {
	o := DefaultOptions()
	for _, src := range []string{
		"<?php\nconst LIMIT = 3;\necho LIMIT;\n",
		"<?php\nuse Foo\\Bar;\necho 1;\n",
	} {
		f := parse(t, src)
		_, ok := hotFunction(f, rand.New(rand.NewSource(1)), &o)
		assert.False(t, ok, src)
		_, ok = hotLoop(f, rand.New(rand.NewSource(1)), &o)
		assert.False(t, ok, src)
	}
}

func TestINIToggleUsesRuntimeSettings(t *testing.T) {
	seen := map[string]bool{}
	for seed := int64(0); seed < 60; seed++ {
		out := apply(t, iniToggle, "<?php\necho 1.5;\n", seed)
		for _, s := range runtimeSettings {
			if strings.Contains(out, "ini_set('"+s.key+"'") {
				seen[s.key] = true
			}
		}
	}
	assert.Greater(t, len(seen), 2)
}
