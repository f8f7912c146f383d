// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package selector parses and evaluates the CSS-like selectors plugins use to
// watch the host document. The supported subset is: type and universal
// selectors, #id, .class, attribute selectors ([a], [a=v], [a~=v], [a^=v],
// [a$=v], [a*=v]), the descendant and child (>) combinators, and comma
// separated selector lists.
package selector

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// compoundLexer tokenizes a single compound selector (no whitespace).
// Op must precede Punct so "*=" is not split into "*" and "=".
var compoundLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"])*"|'(\\.|[^'])*'`},
	{Name: "Op", Pattern: `[~^$*]?=`},
	{Name: "Ident", Pattern: `-?[_a-zA-Z][-_a-zA-Z0-9]*`},
	{Name: "Number", Pattern: `[0-9]+(\.[0-9]+)?`},
	{Name: "Punct", Pattern: `[#.\[\]*]`},
})

// Compound is a sequence of simple selectors that all apply to one element.
//
// Grammar: [ "*" | tag ] { "#" id | "." class | "[" attr "]" }
type Compound struct {
	Pos       lexer.Position `parser:""`
	Universal bool           `parser:"( @'*'"`
	Tag       string         `parser:"| @Ident )?"`
	Parts     []*Simple      `parser:"@@*"`
}

// Simple is one #id, .class or [attribute] test.
type Simple struct {
	Pos   lexer.Position `parser:""`
	ID    string         `parser:"  '#' @Ident"`
	Class string         `parser:"| '.' @Ident"`
	Attr  *AttrTest      `parser:"| '[' @@ ']'"`
}

// AttrTest matches: name [ op value ]
type AttrTest struct {
	Pos   lexer.Position `parser:""`
	Name  string         `parser:"@Ident"`
	Op    string         `parser:"( @Op"`
	Value string         `parser:"  @( Ident | String | Number ) )?"`
}

func newCompoundParser() (*participle.Parser[Compound], error) {
	return participle.Build[Compound](
		participle.Lexer(compoundLexer),
		participle.Unquote("String"),
	)
}
