// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package selector

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/samber/oops"
)

// Node is the view of an element a selector needs to evaluate a match.
// ParentNode returns nil at the root of a tree (including shadow roots).
type Node interface {
	Tag() string
	Attr(name string) (string, bool)
	ParentNode() Node
}

// Combinator joins two compound selectors.
type Combinator byte

// Supported combinators.
const (
	Descendant Combinator = ' '
	Child      Combinator = '>'
)

// step is one compound selector and the combinator linking it to the
// compound on its left.
type step struct {
	comb     Combinator
	compound *Compound
}

// complexSelector is a chain of compounds read left to right.
type complexSelector struct {
	steps []step
}

// Selector is a parsed, immutable selector list. It is safe for concurrent use.
type Selector struct {
	source string
	list   []complexSelector
}

var parser *participle.Parser[Compound]

func init() {
	var err error
	parser, err = newCompoundParser()
	if err != nil {
		panic(fmt.Sprintf("failed to build selector parser: %v", err))
	}
}

// Parse compiles a selector list.
func Parse(source string) (*Selector, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, oops.In("selector").With("selector", source).New("empty selector")
	}

	groups, err := splitTopLevel(trimmed)
	if err != nil {
		return nil, oops.In("selector").With("selector", source).Wrap(err)
	}

	sel := &Selector{source: source}
	for _, group := range groups {
		cs, err := parseComplex(group)
		if err != nil {
			return nil, oops.In("selector").With("selector", source).Wrap(err)
		}
		sel.list = append(sel.list, cs)
	}
	return sel, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(source string) *Selector {
	s, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source text the selector was parsed from.
func (s *Selector) String() string {
	return s.source
}

// Match reports whether n matches any selector in the list.
func (s *Selector) Match(n Node) bool {
	if n == nil {
		return false
	}
	for _, cs := range s.list {
		if matchSteps(cs.steps, len(cs.steps)-1, n) {
			return true
		}
	}
	return false
}

// matchSteps matches steps[0..i] with steps[i] anchored at n.
func matchSteps(steps []step, i int, n Node) bool {
	if !matchCompound(steps[i].compound, n) {
		return false
	}
	if i == 0 {
		return true
	}
	switch steps[i].comb {
	case Child:
		parent := n.ParentNode()
		return parent != nil && matchSteps(steps, i-1, parent)
	default:
		for anc := n.ParentNode(); anc != nil; anc = anc.ParentNode() {
			if matchSteps(steps, i-1, anc) {
				return true
			}
		}
		return false
	}
}

func matchCompound(c *Compound, n Node) bool {
	if c.Tag != "" && !strings.EqualFold(c.Tag, n.Tag()) {
		return false
	}
	for _, part := range c.Parts {
		switch {
		case part.ID != "":
			if id, _ := n.Attr("id"); id != part.ID {
				return false
			}
		case part.Class != "":
			class, _ := n.Attr("class")
			if !slices.Contains(strings.Fields(class), part.Class) {
				return false
			}
		case part.Attr != nil:
			if !matchAttr(part.Attr, n) {
				return false
			}
		}
	}
	return true
}

func matchAttr(a *AttrTest, n Node) bool {
	v, ok := n.Attr(a.Name)
	if !ok {
		return false
	}
	switch a.Op {
	case "":
		return true
	case "=":
		return v == a.Value
	case "~=":
		return slices.Contains(strings.Fields(v), a.Value)
	case "^=":
		return a.Value != "" && strings.HasPrefix(v, a.Value)
	case "$=":
		return a.Value != "" && strings.HasSuffix(v, a.Value)
	case "*=":
		return a.Value != "" && strings.Contains(v, a.Value)
	default:
		return false
	}
}

func parseComplex(group string) (complexSelector, error) {
	tokens, combs, err := splitCompounds(group)
	if err != nil {
		return complexSelector{}, err
	}
	cs := complexSelector{steps: make([]step, 0, len(tokens))}
	for i, tok := range tokens {
		c, err := parser.ParseString("", tok)
		if err != nil {
			return complexSelector{}, fmt.Errorf("compound %q: %w", tok, err)
		}
		cs.steps = append(cs.steps, step{comb: combs[i], compound: c})
	}
	return cs, nil
}

// splitTopLevel splits a selector list on commas outside brackets and quotes.
func splitTopLevel(s string) ([]string, error) {
	var (
		groups []string
		start  int
		depth  int
		quote  byte
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		case ch == ',' && depth == 0:
			groups = append(groups, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets or quotes")
	}
	groups = append(groups, strings.TrimSpace(s[start:]))
	for _, g := range groups {
		if g == "" {
			return nil, fmt.Errorf("empty selector in list")
		}
	}
	return groups, nil
}

// splitCompounds splits one complex selector into compound tokens and the
// combinator preceding each one. combs[0] is always Descendant and unused.
func splitCompounds(s string) ([]string, []Combinator, error) {
	var (
		tokens  []string
		combs   []Combinator
		cur     strings.Builder
		pending Combinator
		depth   int
		quote   byte
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		comb := pending
		if len(tokens) == 0 {
			comb = Descendant
		}
		tokens = append(tokens, cur.String())
		combs = append(combs, comb)
		cur.Reset()
		pending = 0
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == '\\' && i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
			cur.WriteByte(ch)
		case ch == '[':
			depth++
			cur.WriteByte(ch)
		case ch == ']':
			depth--
			cur.WriteByte(ch)
		case depth == 0 && (ch == ' ' || ch == '\t' || ch == '\n'):
			flush()
			if pending == 0 {
				pending = Descendant
			}
		case depth == 0 && ch == '>':
			flush()
			if len(tokens) == 0 {
				return nil, nil, fmt.Errorf("leading combinator")
			}
			if pending == Child {
				return nil, nil, fmt.Errorf("repeated combinator")
			}
			pending = Child
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	if pending == Child {
		return nil, nil, fmt.Errorf("dangling combinator")
	}
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("empty selector")
	}
	return tokens, combs, nil
}
