package phpsyntax

import (
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Span is a half-open byte range into the parsed source.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Text returns the spanned text of src.
func (s Span) Text(src string) string {
	return src[s.Start:s.End]
}

// Statement is one top-level statement.
type Statement struct {
	Span
	Kind string
	Line int

	// Declaration marks function, class-like, namespace and declare
	// statements, which are hoisted or position sensitive.
	Declaration bool
}

// Function is a function-like construct with its body.
type Function struct {
	Span
	Kind string
	Name string
	Line int

	// Body spans the compound statement including braces. Nil for abstract
	// methods and arrow functions.
	Body *Span

	ByRef bool
	Arrow bool
}

// Return is one return statement.
type Return struct {
	Span
	Line int

	// Expr is the returned expression, nil for a bare return.
	Expr *Span

	// Func indexes File.Functions, or -1 for a top-level return.
	Func int
}

// Loop is a for-loop whose condition compares against an integer literal.
type Loop struct {
	Span
	Line  int
	Op    string
	Bound Span
	Value int64
}

// LiteralKind classifies scalar literals.
type LiteralKind string

const (
	LiteralInt    LiteralKind = "int"
	LiteralFloat  LiteralKind = "float"
	LiteralString LiteralKind = "string"
)

// Literal is a scalar literal that can be replaced by another literal.
type Literal struct {
	Span
	Kind LiteralKind
	Text string
}

// Variable is one occurrence of a plain variable.
type Variable struct {
	Span
	Name string

	// Func indexes File.Functions, or -1 at top level.
	Func int

	// Binding is set for parameters and global/static declarations.
	Binding bool
}

// Call is a direct call to a named function.
type Call struct {
	Span
	Name string

	// Args spans the argument list including parentheses.
	Args    Span
	ArgList []Span
}

// File is the structural summary of one parsed program.
type File struct {
	Source     string
	Statements []Statement
	Functions  []Function
	Returns    []Return
	Loops      []Loop
	Literals   []Literal
	Variables  []Variable
	Calls      []Call

	// Declared lists top-level function and class-like names, lowercased.
	Declared []string

	HasNamespace    bool
	HasInlineHTML   bool
	HasHaltCompiler bool
	HasDeclare      bool
	HasStrictTypes  bool

	// HasConstDecl and HasUse mark top-level const and use statements,
	// which PHP only accepts at the outermost scope.
	HasConstDecl bool
	HasUse       bool

	// HasDeclarations is set when a named function or class-like type is
	// declared anywhere, not only at top level.
	HasDeclarations bool
	HasYield        bool
}

// Wrappable reports whether the top level can be moved into a function or
// loop body: it must still parse there, and not redeclare anything on a
// second pass.
func (f *File) Wrappable() bool {
	return f.Fusable() && !f.HasDeclarations && !f.HasYield && !f.HasConstDecl && !f.HasUse
}

// Fusable reports whether the program can be combined with others.
func (f *File) Fusable() bool {
	return !f.HasNamespace && !f.HasInlineHTML && !f.HasHaltCompiler && !f.HasDeclare
}

// TopLevelVariables returns the distinct variable names used at top level,
// in order of first appearance.
func (f *File) TopLevelVariables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range f.Variables {
		if v.Func != -1 || v.Binding || seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		names = append(names, v.Name)
	}
	return names
}

var declarationKinds = map[string]bool{
	"function_definition":       true,
	"class_declaration":         true,
	"interface_declaration":     true,
	"trait_declaration":         true,
	"enum_declaration":          true,
	"namespace_definition":      true,
	"namespace_use_declaration": true,
	"declare_statement":         true,
}

var functionKinds = map[string]bool{
	"function_definition":                    true,
	"method_declaration":                     true,
	"anonymous_function":                     true,
	"anonymous_function_creation_expression": true,
	"arrow_function":                         true,
}

var bindingKinds = map[string]bool{
	"simple_parameter":              true,
	"variadic_parameter":            true,
	"property_promotion_parameter":  true,
	"global_declaration":            true,
	"function_static_declaration":   true,
	"anonymous_function_use_clause": true,
}

type extractor struct {
	src  []byte
	file *File
}

type scope struct {
	fn        int
	inDeclare bool
	inBinding bool
}

func extract(root *sitter.Node, src []byte) *File {
	e := &extractor{src: src, file: &File{Source: string(src)}}
	e.file.HasHaltCompiler = strings.Contains(strings.ToLower(string(src)), "__halt_compiler")

	for i := uint(0); i < root.NamedChildCount(); i++ {
		n := root.NamedChild(i)
		kind := n.Kind()
		switch kind {
		case "php_tag":
			continue
		case "text", "text_interpolation":
			if kind == "text_interpolation" || strings.TrimSpace(e.text(n)) != "" {
				e.file.HasInlineHTML = true
			}
			continue
		case "comment":
			continue
		}

		e.file.Statements = append(e.file.Statements, Statement{
			Span:        e.span(n),
			Kind:        kind,
			Line:        line(n),
			Declaration: declarationKinds[kind],
		})
		switch kind {
		case "namespace_definition":
			e.file.HasNamespace = true
		case "const_declaration":
			e.file.HasConstDecl = true
		case "namespace_use_declaration", "use_declaration":
			e.file.HasUse = true
		case "declare_statement":
			e.file.HasDeclare = true
			if strings.Contains(strings.ToLower(e.text(n)), "strict_types") {
				e.file.HasStrictTypes = true
			}
		case "function_definition", "class_declaration", "interface_declaration",
			"trait_declaration", "enum_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				e.file.Declared = append(e.file.Declared, strings.ToLower(e.text(name)))
			}
		}
	}

	e.visit(root, scope{fn: -1})
	return e.file
}

func (e *extractor) visit(n *sitter.Node, sc scope) {
	kind := n.Kind()
	switch {
	case functionKinds[kind]:
		sc.fn = e.function(n)
		sc.inBinding = false
		if kind == "function_definition" {
			e.file.HasDeclarations = true
		}
	case kind == "class_declaration" || kind == "interface_declaration" ||
		kind == "trait_declaration" || kind == "enum_declaration":
		e.file.HasDeclarations = true
	case kind == "yield_expression":
		e.file.HasYield = true
	case kind == "declare_statement":
		sc.inDeclare = true
	case bindingKinds[kind]:
		sc.inBinding = true
	case kind == "return_statement":
		e.ret(n, sc)
	case kind == "for_statement":
		e.loop(n)
	case kind == "function_call_expression":
		e.call(n)
	case kind == "variable_name":
		name := strings.TrimPrefix(e.text(n), "$")
		if name != "this" {
			e.file.Variables = append(e.file.Variables, Variable{
				Span: e.span(n), Name: name, Func: sc.fn, Binding: sc.inBinding,
			})
		}
		return
	case kind == "integer" || kind == "float" || kind == "string":
		if !sc.inDeclare {
			e.literal(n, kind)
		}
		return
	}

	for i := uint(0); i < n.NamedChildCount(); i++ {
		e.visit(n.NamedChild(i), sc)
	}
}

func (e *extractor) function(n *sitter.Node) int {
	fn := Function{
		Span:  e.span(n),
		Kind:  n.Kind(),
		Line:  line(n),
		Arrow: n.Kind() == "arrow_function",
	}
	if name := n.ChildByFieldName("name"); name != nil {
		fn.Name = e.text(name)
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.Kind() == "reference_modifier" {
			fn.ByRef = true
		}
	}
	if body := n.ChildByFieldName("body"); body != nil && body.Kind() == "compound_statement" {
		s := e.span(body)
		fn.Body = &s
	}
	e.file.Functions = append(e.file.Functions, fn)
	return len(e.file.Functions) - 1
}

func (e *extractor) ret(n *sitter.Node, sc scope) {
	r := Return{Span: e.span(n), Line: line(n), Func: sc.fn}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if c.Kind() == "comment" {
			continue
		}
		s := e.span(c)
		r.Expr = &s
		break
	}
	e.file.Returns = append(e.file.Returns, r)
}

func (e *extractor) loop(n *sitter.Node) {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if c.Kind() != "binary_expression" || c.NamedChildCount() != 2 {
			continue
		}
		left, right := c.NamedChild(0), c.NamedChild(1)
		op := strings.TrimSpace(string(e.src[left.EndByte():right.StartByte()]))
		switch op {
		case "<", "<=", ">", ">=", "!=", "!==":
		default:
			continue
		}
		bound := right
		if bound.Kind() != "integer" {
			bound = left
		}
		if bound.Kind() != "integer" {
			continue
		}
		v, ok := ParseInt(e.text(bound))
		if !ok {
			continue
		}
		e.file.Loops = append(e.file.Loops, Loop{
			Span: e.span(n), Line: line(n), Op: op, Bound: e.span(bound), Value: v,
		})
		return
	}
}

func (e *extractor) call(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return
	}
	if k := fn.Kind(); k != "name" && k != "qualified_name" {
		return
	}
	c := Call{Span: e.span(n), Name: strings.TrimPrefix(e.text(fn), "\\"), Args: e.span(args)}
	for i := uint(0); i < args.NamedChildCount(); i++ {
		a := args.NamedChild(i)
		if a.Kind() == "argument" {
			c.ArgList = append(c.ArgList, e.span(a))
		}
	}
	e.file.Calls = append(e.file.Calls, c)
}

func (e *extractor) literal(n *sitter.Node, kind string) {
	lit := Literal{Span: e.span(n), Text: e.text(n)}
	switch kind {
	case "integer":
		lit.Kind = LiteralInt
	case "float":
		lit.Kind = LiteralFloat
	default:
		// Only single-quoted numeric strings are interesting as operands.
		if !strings.HasPrefix(lit.Text, "'") {
			return
		}
		body := strings.Trim(lit.Text, "'")
		if _, err := strconv.ParseFloat(body, 64); err != nil {
			return
		}
		lit.Kind = LiteralString
	}
	e.file.Literals = append(e.file.Literals, lit)
}

func (e *extractor) span(n *sitter.Node) Span {
	return Span{Start: int(n.StartByte()), End: int(n.EndByte())}
}

func (e *extractor) text(n *sitter.Node) string {
	return string(e.src[n.StartByte():n.EndByte()])
}

func line(n *sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

// ParseInt parses a PHP integer literal, including hex, octal, binary and
// digit separators.
func ParseInt(lit string) (int64, bool) {
	s := strings.ReplaceAll(lit, "_", "")
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"), strings.HasPrefix(lower, "0b"), strings.HasPrefix(lower, "0o"):
		v, err := strconv.ParseInt(s, 0, 64)
		return v, err == nil
	case len(s) > 1 && s[0] == '0':
		v, err := strconv.ParseInt(s[1:], 8, 64)
		return v, err == nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}
