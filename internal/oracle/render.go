package oracle

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/roach88/zenddiff/internal/ir"
)

// commonPrefix returns the byte length of the longest common prefix of a
// and b that ends on a rune boundary.
func commonPrefix(a, b string) int {
	runes := diffmatchpatch.New().DiffCommonPrefix(a, b)
	for i := range a {
		if runes == 0 {
			return i
		}
		runes--
	}
	return len(a)
}

// describe renders a divergence on one line.
func describe(d *ir.Divergence) string {
	switch d.Kind {
	case ir.DivergeSnapshot:
		return fmt.Sprintf("probe %s (snapshot %d) differs: %s", d.ProbeID, d.Index, inline(d.Left, d.Right))
	case ir.DivergeSnapshotCount:
		return fmt.Sprintf("snapshot count differs after %d: left %s, right %s (next probe %s)",
			d.Index, d.Left, d.Right, d.ProbeID)
	case ir.DivergeStdout:
		return fmt.Sprintf("stdout differs at byte %d: %s", d.Offset, inline(d.Left, d.Right))
	case ir.DivergeExit:
		return fmt.Sprintf("exit code differs: left %s, right %s", d.Left, d.Right)
	case ir.DivergeStatus:
		return fmt.Sprintf("status differs: left %s, right %s", d.Left, d.Right)
	}
	return string(d.Kind)
}

// inline renders a character diff with [-removed-] and {+added+} markers.
func inline(left, right string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(left, right, false))
	var b strings.Builder
	for _, d := range diffs {
		text := strings.ReplaceAll(d.Text, "\n", `\n`)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(text)
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + text + "+}")
		}
	}
	return b.String()
}

// UnifiedDiff renders a line diff of two outputs, as written into exported
// bug directories.
func UnifiedDiff(leftName, rightName, left, right string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(left),
		B:        difflib.SplitLines(right),
		FromFile: leftName,
		ToFile:   rightName,
		Context:  3,
	})
}
