package phpsyntax

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
)

// Parser wraps a tree-sitter parser configured for PHP.
// A Parser is not safe for concurrent use; give each worker its own.
type Parser struct {
	parser *sitter.Parser
}

// NewParser constructs a parser with the PHP grammar loaded.
func NewParser() (*Parser, error) {
	lang := sitter.NewLanguage(tree_sitter_php.LanguagePHP())
	if lang == nil {
		return nil, fmt.Errorf("phpsyntax: php language not available")
	}

	p := sitter.NewParser()
	if err := p.SetLanguage(lang); err != nil {
		p.Close()
		return nil, fmt.Errorf("phpsyntax: %w", err)
	}
	return &Parser{parser: p}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p == nil || p.parser == nil {
		return
	}
	p.parser.Close()
}

// Parse parses src and extracts every structural fact the mutator and the
// probe injector need. The returned File holds no tree-sitter state.
// A source with syntax errors returns a *SyntaxError.
func (p *Parser) Parse(src string) (*File, error) {
	if p == nil || p.parser == nil {
		return nil, fmt.Errorf("phpsyntax: nil parser")
	}

	source := []byte(src)
	tree := p.parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("phpsyntax: parse returned no tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.Kind() != "program" {
		return nil, fmt.Errorf("phpsyntax: unexpected root node")
	}
	if root.HasError() {
		return nil, syntaxError(root)
	}
	return extract(root, source), nil
}

// Validate reports whether src parses without errors.
func (p *Parser) Validate(src string) error {
	_, err := p.Parse(src)
	return err
}

var pool = sync.Pool{
	New: func() any {
		p, err := NewParser()
		if err != nil {
			return err
		}
		return p
	},
}

// Parse parses src with a pooled parser. Safe for concurrent use.
func Parse(src string) (*File, error) {
	item := pool.Get()
	p, ok := item.(*Parser)
	if !ok {
		return nil, item.(error)
	}
	defer pool.Put(p)
	return p.Parse(src)
}

// Validate reports whether src parses, using a pooled parser.
func Validate(src string) error {
	_, err := Parse(src)
	return err
}

// Linter checks that a program is syntactically valid.
type Linter interface {
	Lint(ctx context.Context, src string) error
}

// TreeSitterLinter validates with the bundled grammar.
type TreeSitterLinter struct{}

// Lint implements Linter.
func (TreeSitterLinter) Lint(_ context.Context, src string) error {
	return Validate(src)
}
