package phpsyntax

import (
	"sort"
	"strings"
)

// Edit replaces src[Start:End] with Text. Start == End is an insertion.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Insert returns an insertion edit at offset.
func Insert(offset int, text string) Edit {
	return Edit{Start: offset, End: offset, Text: text}
}

// Replace returns an edit that replaces span with text.
func Replace(span Span, text string) Edit {
	return Edit{Start: span.Start, End: span.End, Text: text}
}

// ApplyEdits applies edits against the original offsets of src.
// Insertions at the same offset keep their relative order. An edit that
// overlaps an earlier one is dropped.
func ApplyEdits(src string, edits []Edit) string {
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	var b strings.Builder
	b.Grow(len(src))
	pos := 0
	for _, e := range sorted {
		if e.Start < pos || e.End < e.Start || e.End > len(src) {
			continue
		}
		b.WriteString(src[pos:e.Start])
		b.WriteString(e.Text)
		pos = e.End
	}
	b.WriteString(src[pos:])
	return b.String()
}
