// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package document

import (
	"slices"
	"strings"

	"github.com/holomush/launcher/internal/document/selector"
)

// ShadowRootTag is the tag name reported by shadow root elements.
const ShadowRootTag = "#shadow-root"

// Element is a node in the host document tree.
//
// All state is guarded by the owning Document's lock; Element methods are
// safe for concurrent use.
type Element struct {
	doc      *Document
	tag      string
	attrs    map[string]string
	order    []string
	text     string
	parent   *Element
	children []*Element
	shadow   *Element
	host     *Element
}

// Document returns the document that owns the element.
func (e *Element) Document() *Document {
	return e.doc
}

// Tag returns the lower-case tag name.
func (e *Element) Tag() string {
	return e.tag
}

// IsShadowRoot reports whether e is the root of a render boundary.
func (e *Element) IsShadowRoot() bool {
	return e.Host() != nil
}

// Host returns the element a shadow root is attached to, or nil.
func (e *Element) Host() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.host
}

// ID returns the id attribute.
func (e *Element) ID() string {
	v, _ := e.Attr("id")
	return v
}

// Attr returns the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	v, ok := e.attrs[name]
	return v, ok
}

// Attrs returns a copy of all attributes in insertion order.
func (e *Element) Attrs() [][2]string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	out := make([][2]string, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, [2]string{k, e.attrs[k]})
	}
	return out
}

// HasClass reports whether class appears in the class attribute.
func (e *Element) HasClass(class string) bool {
	v, _ := e.Attr("class")
	return slices.Contains(strings.Fields(v), class)
}

// Text returns the element's own text content.
func (e *Element) Text() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.text
}

// Parent returns the parent element, or nil for detached elements and roots.
func (e *Element) Parent() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.parent
}

// Children returns a snapshot of the child list.
func (e *Element) Children() []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return slices.Clone(e.children)
}

// ShadowRoot returns the attached shadow root, or nil.
func (e *Element) ShadowRoot() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.shadow
}

// Connected reports whether e is reachable from the document root, crossing
// shadow boundaries through their hosts.
func (e *Element) Connected() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.connectedLocked()
}

func (e *Element) connectedLocked() bool {
	for cur := e; cur != nil; {
		if cur == e.doc.root {
			return true
		}
		if cur.host != nil {
			cur = cur.host
			continue
		}
		cur = cur.parent
	}
	return false
}

// treeRoot returns the root of the tree e belongs to without crossing a
// shadow boundary.
func (e *Element) treeRoot() *Element {
	cur := e
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// SetAttr sets an attribute and notifies attribute watchers.
func (e *Element) SetAttr(name, value string) {
	d := e.doc
	d.mu.Lock()
	old, existed := e.attrs[name]
	if existed && old == value {
		d.mu.Unlock()
		return
	}
	if !existed {
		e.order = append(e.order, name)
	}
	e.attrs[name] = value
	rec := Record{Type: AttributeChange, Target: e, AttrName: name, OldValue: old, HadValue: existed}
	pending := d.collectLocked(rec)
	d.mu.Unlock()
	d.deliver(pending)
}

// RemoveAttr removes an attribute and notifies attribute watchers.
func (e *Element) RemoveAttr(name string) {
	d := e.doc
	d.mu.Lock()
	old, existed := e.attrs[name]
	if !existed {
		d.mu.Unlock()
		return
	}
	delete(e.attrs, name)
	e.order = slices.DeleteFunc(e.order, func(k string) bool { return k == name })
	rec := Record{Type: AttributeChange, Target: e, AttrName: name, OldValue: old, HadValue: true}
	pending := d.collectLocked(rec)
	d.mu.Unlock()
	d.deliver(pending)
}

// SetText replaces the element's own text content.
func (e *Element) SetText(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.text = text
}

// AppendChild attaches child as the last child of e, detaching it from any
// previous parent first.
func (e *Element) AppendChild(child *Element) {
	siblings := slices.DeleteFunc(e.Children(), func(c *Element) bool { return c == child })
	e.ReplaceChildren(append(siblings, child)...)
}

// RemoveChild detaches child if it is a child of e.
func (e *Element) RemoveChild(child *Element) {
	d := e.doc
	d.mu.Lock()
	idx := slices.Index(e.children, child)
	if idx < 0 {
		d.mu.Unlock()
		return
	}
	e.children = slices.Delete(e.children, idx, idx+1)
	child.parent = nil
	rec := Record{Type: ChildList, Target: e, Removed: []*Element{child}}
	pending := d.collectLocked(rec)
	d.mu.Unlock()
	d.deliver(pending)
}

// Remove detaches e from its parent.
func (e *Element) Remove() {
	if p := e.Parent(); p != nil {
		p.RemoveChild(e)
	}
}

// ReplaceChildren swaps the child list for children and emits a single
// child-list record describing both removals and insertions. A child taken
// from another parent also yields a removal record on that parent.
func (e *Element) ReplaceChildren(children ...*Element) {
	d := e.doc
	d.mu.Lock()
	keep := make(map[*Element]bool, len(children))
	for _, c := range children {
		keep[c] = true
	}

	var removed []*Element
	for _, old := range e.children {
		if !keep[old] {
			old.parent = nil
			removed = append(removed, old)
		}
	}

	var added []*Element
	present := make(map[*Element]bool, len(e.children))
	for _, old := range e.children {
		present[old] = true
	}
	var pending []delivery
	next := make([]*Element, 0, len(children))
	seen := make(map[*Element]bool, len(children))
	for _, c := range children {
		if c == nil || c.doc != d || c == e || c.host != nil || seen[c] {
			continue
		}
		seen[c] = true
		if prev := c.parent; prev != nil && prev != e {
			prev.children = slices.DeleteFunc(prev.children, func(x *Element) bool { return x == c })
			pending = append(pending, d.collectLocked(Record{Type: ChildList, Target: prev, Removed: []*Element{c}})...)
		}
		c.parent = e
		next = append(next, c)
		if !present[c] {
			added = append(added, c)
		}
	}
	e.children = next

	if len(added) > 0 || len(removed) > 0 {
		pending = append(pending, d.collectLocked(Record{Type: ChildList, Target: e, Added: added, Removed: removed})...)
	}
	d.mu.Unlock()
	d.deliver(pending)
}

// AttachShadow creates, or returns the existing, shadow root of e. Content
// under a shadow root is invisible to document-level queries and watchers.
func (e *Element) AttachShadow() *Element {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.shadow == nil {
		e.shadow = d.newElementLocked(ShadowRootTag)
		e.shadow.host = e
	}
	return e.shadow
}

// DetachShadow drops the shadow root and everything rendered inside it.
func (e *Element) DetachShadow() {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.shadow != nil {
		e.shadow.host = nil
		e.shadow = nil
	}
}

// QuerySelectorAll returns descendants of e (excluding e) that match sel,
// in document order. Shadow trees are not entered.
func (e *Element) QuerySelectorAll(sel *selector.Selector) []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var out []*Element
	for _, c := range e.children {
		c.walkLocked(func(n *Element) {
			if sel.Match(view{n}) {
				out = append(out, n)
			}
		})
	}
	return out
}

// Matches reports whether e matches sel.
func (e *Element) Matches(sel *selector.Selector) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return sel.Match(view{e})
}

// walkLocked visits e and its light-tree descendants in document order.
func (e *Element) walkLocked(fn func(*Element)) {
	fn(e)
	for _, c := range e.children {
		c.walkLocked(fn)
	}
}

// view adapts an Element to selector.Node without locking; callers hold the
// document lock.
type view struct {
	e *Element
}

func (v view) Tag() string { return v.e.tag }

func (v view) Attr(name string) (string, bool) {
	val, ok := v.e.attrs[name]
	return val, ok
}

func (v view) ParentNode() selector.Node {
	if v.e.parent == nil {
		return nil
	}
	return view{v.e.parent}
}
