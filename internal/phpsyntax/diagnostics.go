package phpsyntax

import (
	"errors"
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// SyntaxError reports the first syntax error in a source with its location.
type SyntaxError struct {
	Line     int
	Column   int
	Expected string
}

func (e *SyntaxError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("syntax error at %d:%d: expected %s", e.Line, e.Column, e.Expected)
	}
	return fmt.Sprintf("syntax error at %d:%d", e.Line, e.Column)
}

// IsSyntaxError checks if an error is a *SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

// syntaxError locates the earliest MISSING node, falling back to the
// earliest ERROR node, then to the root.
func syntaxError(root *sitter.Node) *SyntaxError {
	missing := firstNode(root, (*sitter.Node).IsMissing)
	node := missing
	if node == nil {
		node = firstNode(root, (*sitter.Node).IsError)
	}
	if node == nil {
		node = root
	}

	start := node.StartPosition()
	se := &SyntaxError{
		Line:   int(start.Row) + 1,
		Column: int(start.Column) + 1,
	}
	if missing != nil {
		se.Expected = missing.Kind()
	}
	return se
}

func firstNode(root *sitter.Node, match func(*sitter.Node) bool) *sitter.Node {
	var best *sitter.Node
	walk(root, func(n *sitter.Node) bool {
		if match(n) && (best == nil || n.StartByte() < best.StartByte()) {
			best = n
		}
		return true
	})
	return best
}

// walk visits nodes depth first. Returning false from visit skips the
// node's children.
func walk(root *sitter.Node, visit func(*sitter.Node) bool) {
	if root == nil {
		return
	}
	if !visit(root) {
		return
	}
	for i := uint(0); i < root.ChildCount(); i++ {
		walk(root.Child(i), visit)
	}
}
