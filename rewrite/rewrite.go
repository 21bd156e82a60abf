// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package rewrite matches compiled rules against
// the nodes of an e-graph and adds the resulting
// replacements to the classes they were matched in.
package rewrite

import (
	"errors"
	"fmt"
	"sort"

	"github.com/SnellerInc/midend/egraph"
	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/ruleset"
)

// ErrNotApplicable is returned when the replacement
// of a matched rule cannot be built for its binding
// (for example, a type function is undefined on the
// bound type). It is not a failure of the rewrite;
// the match is simply skipped.
var ErrNotApplicable = errors.New("replacement not applicable")

// Match is a rule matched at a node.
type Match struct {
	Rule    *ruleset.Rule
	Node    egraph.NodeID
	Class   egraph.ClassID
	Binding ruleset.Binding
}

// Stats counts the work done by an Engine.
type Stats struct {
	// Matches is the number of matches returned.
	Matches int
	// Rewrites is the number of applied matches
	// that merged two classes.
	Rewrites int
	// Rejected is the number of matches whose
	// replacement could not be built.
	Rejected int
	// PerRule is the number of rewrites by rule ID.
	PerRule []int
}

// Add accumulates o into s.
func (s *Stats) Add(o *Stats) {
	s.Matches += o.Matches
	s.Rewrites += o.Rewrites
	s.Rejected += o.Rejected
	if len(s.PerRule) < len(o.PerRule) {
		s.PerRule = append(s.PerRule, make([]int, len(o.PerRule)-len(s.PerRule))...)
	}
	for i, n := range o.PerRule {
		s.PerRule[i] += n
	}
}

// Engine applies a Program to one graph.
// The Program may be shared between engines;
// the graph may not.
type Engine struct {
	prog  *ruleset.Program
	g     *egraph.Graph
	stats Stats
}

// New returns an engine rewriting g with prog.
func New(prog *ruleset.Program, g *egraph.Graph) *Engine {
	return &Engine{
		prog:  prog,
		g:     g,
		stats: Stats{PerRule: make([]int, len(prog.Rules()))},
	}
}

// Graph returns the graph e rewrites.
func (e *Engine) Graph() *egraph.Graph { return e.g }

// Stats returns a copy of the statistics of e.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.PerRule = append([]int(nil), s.PerRule...)
	return s
}

// step is one position of a walk: the class
// at the position and, for an opcode key,
// the member node that matched it
type step struct {
	class egraph.ClassID
	node  egraph.NodeID
}

type visitor func(leaf *ruleset.Trie, wit []step)

// walk enumerates every path through t that
// is consistent with the classes on stack
func (e *Engine) walk(t *ruleset.Trie, stack []egraph.ClassID, wit []step, visit visitor) {
	if len(stack) == 0 {
		if len(t.Rules()) > 0 {
			visit(t, wit)
		}
		return
	}
	c := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	if s := t.Star(); s != nil {
		e.walk(s, rest, append(wit, step{class: c}), visit)
	}
	edges := t.Edges()
	if len(edges) == 0 {
		return
	}
	for _, m := range e.g.Members(c) {
		nd := e.g.Node(m)
		i := sort.Search(len(edges), func(i int) bool { return edges[i].Key.Op >= nd.Op })
		for ; i < len(edges) && edges[i].Key.Op == nd.Op; i++ {
			k := &edges[i].Key
			if k.HasImm && k.Imm != nd.Imm {
				continue
			}
			next := rest[:len(rest):len(rest)]
			for j := len(nd.Args) - 1; j >= 0; j-- {
				next = append(next, e.g.Arg(m, j))
			}
			e.walk(edges[i].Next, next, append(wit, step{class: c, node: m}), visit)
		}
	}
}

func (e *Engine) start(n egraph.NodeID) []egraph.ClassID {
	nd := e.g.Node(n)
	stack := make([]egraph.ClassID, 0, 8)
	for i := len(nd.Args) - 1; i >= 0; i-- {
		stack = append(stack, e.g.Arg(n, i))
	}
	return stack
}

func contains(lst []ruleset.Binding, b *ruleset.Binding) bool {
	for i := range lst {
		if lst[i].Equal(b) {
			return true
		}
	}
	return false
}

// Match returns every distinct binding of the
// best-ranked rule that matches node n, or nil
// if no rule matches.
func (e *Engine) Match(n egraph.NodeID) []Match {
	t := e.prog.Group(e.g.Node(n).Op)
	if t == nil {
		return nil
	}
	best := -1
	var found []ruleset.Binding
	e.walk(t, e.start(n), nil, func(leaf *ruleset.Trie, wit []step) {
		for _, id := range leaf.Rules() {
			if best >= 0 && id > best {
				return
			}
			b, ok := e.verify(e.prog.Rule(id), n, wit)
			if !ok {
				continue
			}
			if id != best {
				best, found = id, found[:0]
			}
			if !contains(found, &b) {
				found = append(found, b)
			}
			return
		}
	})
	if best < 0 {
		return nil
	}
	r := e.prog.Rule(best)
	c := e.g.ClassOf(n)
	out := make([]Match, len(found))
	for i := range found {
		out[i] = Match{Rule: r, Node: n, Class: c, Binding: found[i]}
	}
	e.stats.Matches += len(out)
	return out
}

// MatchRule returns every distinct binding
// of rule r at node n.
func (e *Engine) MatchRule(r *ruleset.Rule, n egraph.NodeID) []ruleset.Binding {
	if e.g.Node(n).Op != r.Root {
		return nil
	}
	t := e.prog.Group(r.Root)
	if t == nil {
		return nil
	}
	var found []ruleset.Binding
	e.walk(t, e.start(n), nil, func(leaf *ruleset.Trie, wit []step) {
		for _, id := range leaf.Rules() {
			if id != r.ID {
				continue
			}
			if b, ok := e.verify(r, n, wit); ok && !contains(found, &b) {
				found = append(found, b)
			}
			return
		}
	})
	return found
}

// verifier checks a witness against one rule
// and collects the binding
type verifier struct {
	g   *egraph.Graph
	b   ruleset.Binding
	set []bool
	wit []step
	pos int
}

func (e *Engine) verify(r *ruleset.Rule, n egraph.NodeID, wit []step) (ruleset.Binding, bool) {
	v := verifier{
		g:   e.g,
		b:   r.NewBinding(),
		set: make([]bool, len(r.Vars)),
		wit: wit,
	}
	if !v.node(&r.Pattern, n) || v.pos != len(wit) || !r.Check(&v.b) {
		return ruleset.Binding{}, false
	}
	return v.b, true
}

func (v *verifier) val(x int, c egraph.ClassID) bool {
	if v.set[x] {
		return v.b.Values[x] == c
	}
	v.set[x] = true
	v.b.Values[x] = c
	return true
}

func (v *verifier) typ(t *ruleset.TypeExpr, ty ir.Type) bool {
	switch {
	case t.IsWild():
		return true
	case t.Var == ruleset.NoVar:
		return t.Lit == ty
	case v.set[t.Var]:
		return v.b.Types[t.Var] == ty
	}
	v.set[t.Var] = true
	v.b.Types[t.Var] = ty
	return true
}

func (v *verifier) imm(p *ruleset.Pattern, nd *egraph.Node) bool {
	m := &p.Imm
	switch {
	case m.IsWild():
		return true
	case m.HasLit:
		if p.Op == ir.OpIconst {
			return ir.CanonImm(nd.Type, m.Lit) == nd.Imm
		}
		return m.Lit == nd.Imm
	case v.set[m.Var]:
		return v.b.Imms[m.Var] == nd.Imm
	}
	v.set[m.Var] = true
	v.b.Imms[m.Var] = nd.Imm
	return true
}

func (v *verifier) node(p *ruleset.Pattern, m egraph.NodeID) bool {
	nd := v.g.Node(m)
	if nd.Op != p.Op || !v.typ(&p.Type, nd.Type) || !v.imm(p, nd) {
		return false
	}
	if p.Var != ruleset.NoVar && !v.val(p.Var, v.g.ClassOf(m)) {
		return false
	}
	for i := range p.Args {
		if v.pos >= len(v.wit) {
			return false
		}
		a := &p.Args[i]
		st := v.wit[v.pos]
		v.pos++
		switch a.Kind {
		case ruleset.PatWild:
		case ruleset.PatVar:
			if !v.val(a.Var, v.g.Find(st.class)) {
				return false
			}
		case ruleset.PatNode:
			if !v.node(a, st.node) {
				return false
			}
		}
	}
	return true
}

// typeOf computes the type of a replacement and
// checks every constructor in it without
// modifying the graph
func (e *Engine) typeOf(x *ruleset.Expr, b *ruleset.Binding) (ir.Type, error) {
	if x.Kind == ruleset.ExprVar {
		return e.g.Type(b.Values[x.Var]), nil
	}
	ty := x.Type.Eval(b)
	if !ty.Valid() {
		return ir.TypeInvalid, fmt.Errorf("%w: no type for %s", ErrNotApplicable, x.Op)
	}
	if f := x.Op.Imm(); f != ir.ImmNone {
		if _, ok := x.Imm.Eval(b, f); !ok {
			return ir.TypeInvalid, fmt.Errorf("%w: bad immediate for %s", ErrNotApplicable, x.Op)
		}
	}
	var args [2]ir.Type
	if len(x.Args) > len(args) {
		return ir.TypeInvalid, fmt.Errorf("%w: %s with %d operands", ErrNotApplicable, x.Op, len(x.Args))
	}
	for i := range x.Args {
		t, err := e.typeOf(&x.Args[i], b)
		if err != nil {
			return ir.TypeInvalid, err
		}
		args[i] = t
	}
	if err := ir.Check(x.Op, ty, args[:len(x.Args)]); err != nil {
		return ir.TypeInvalid, fmt.Errorf("%w: %s", ErrNotApplicable, err)
	}
	return ty, nil
}

// build adds the replacement to the graph;
// x must have been checked by typeOf
func (e *Engine) build(x *ruleset.Expr, b *ruleset.Binding) egraph.ClassID {
	if x.Kind == ruleset.ExprVar {
		return e.g.Find(b.Values[x.Var])
	}
	nd := egraph.Node{Op: x.Op, Type: x.Type.Eval(b)}
	if f := x.Op.Imm(); f != ir.ImmNone {
		nd.Imm, _ = x.Imm.Eval(b, f)
	}
	if len(x.Args) > 0 {
		nd.Args = make([]egraph.ClassID, len(x.Args))
		for i := range x.Args {
			nd.Args[i] = e.build(&x.Args[i], b)
		}
	}
	c, _, _ := e.g.Add(nd)
	return c
}

// Instantiate builds the replacement of r under b
// and returns its class. Nothing is added to the
// graph unless the whole replacement is well-typed.
func (e *Engine) Instantiate(r *ruleset.Rule, b *ruleset.Binding) (egraph.ClassID, error) {
	if _, err := e.typeOf(&r.Replace, b); err != nil {
		return 0, err
	}
	return e.build(&r.Replace, b), nil
}

// Apply instantiates the replacement of m and merges
// it into the class m was found in. The matched node
// stays a member of that class. It returns true if
// the graph changed.
func (e *Engine) Apply(m *Match) (bool, error) {
	ty, err := e.typeOf(&m.Rule.Replace, &m.Binding)
	if err == nil && ty != e.g.Type(m.Class) {
		err = fmt.Errorf("%w: %s replaces %s", ErrNotApplicable, ty, e.g.Type(m.Class))
	}
	if err != nil {
		e.stats.Rejected++
		return false, err
	}
	c := e.build(&m.Rule.Replace, &m.Binding)
	if _, changed := e.g.Union(m.Class, c); !changed {
		return false, nil
	}
	e.stats.Rewrites++
	e.stats.PerRule[m.Rule.ID]++
	return true, nil
}
