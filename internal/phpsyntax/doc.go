// Package phpsyntax parses PHP programs with the tree-sitter PHP grammar.
//
// Every candidate the mutator emits and every instrumented program the probe
// injector builds is re-parsed here, so a program that reaches the
// interpreter is always syntactically valid. Parse also returns a File, a
// plain summary of the spans the rewriting stages need (top-level
// statements, function bodies, returns, loop bounds, literals, variables and
// calls). Rewrites are expressed as byte-offset edits against File.Source.
//
// Parser wraps a single tree-sitter parser and is not safe for concurrent
// use. The package-level Parse and Validate draw from a pool and are.
package phpsyntax
