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

package ruleset

import (
	"fmt"
	"math"

	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/rules"
)

var (
	wildType = TypeExpr{Var: NoVar}
	wildImm  = ImmExpr{Var: NoVar}
)

// builder converts one expanded rule
// into a compiled Rule
type builder struct {
	c      *compiler
	x      *expanded
	r      *Rule
	index  map[string]int
	bound  []bool
	slot   []int // type slot of value and type variables
	u      unifier
	failed bool
}

func (b *builder) errorf(kind Kind, sub string, f string, args ...any) {
	b.failed = true
	d := Diagnostic{
		Kind:    kind,
		Rule:    b.r.Text,
		Pos:     b.r.Pos,
		Subterm: sub,
		Msg:     fmt.Sprintf(f, args...),
	}
	// an error in a rule with a regexp head
	// would otherwise be reported once per opcode
	for i := range b.c.diags {
		o := &b.c.diags[i]
		if o.Kind == d.Kind && o.Pos == d.Pos && o.Subterm == d.Subterm && o.Msg == d.Msg {
			return
		}
	}
	b.c.diags = append(b.c.diags, d)
}

func (c *compiler) build(x expanded) *Rule {
	b := &builder{
		c:     c,
		x:     &x,
		index: make(map[string]int),
		r: &Rule{
			Priority: x.rule.Priority,
			Text:     x.rule.String(),
			Pos:      x.orig.Location.String(),
			Scope:    x.scope,
		},
	}
	root := rules.Term{Value: x.rule.From[0], Location: x.orig.Location}
	pat, ps := b.pattern(&root)
	if b.failed {
		return nil
	}
	b.r.Root = pat.Op
	b.r.Pattern = pat
	for _, g := range x.rule.From[1:] {
		b.guard(g)
	}
	repl, rs := b.expr(&x.rule.To)
	if b.failed {
		return nil
	}
	b.u.unify(ps, rs, x.rule.To.String())
	if err := b.u.solve(); err != nil {
		b.errorf(ErrType, b.u.where, "%s", err)
		return nil
	}
	b.r.Replace = repl
	return b.r
}

// lookup returns the variable called name,
// creating it if it does not exist yet
func (b *builder) lookup(name string, kind VarKind, sub string) int {
	if _, ok := b.x.opvars[name]; ok {
		b.errorf(ErrKind, sub, "opcode variable %s used as a %s", name, kind)
		return NoVar
	}
	if id, ok := b.index[name]; ok {
		if k := b.r.Vars[id].Kind; k != kind {
			b.errorf(ErrKind, sub, "%s is a %s variable, not a %s", name, k, kind)
			return NoVar
		}
		return id
	}
	id := len(b.r.Vars)
	b.r.Vars = append(b.r.Vars, Var{Name: name, Kind: kind})
	b.index[name] = id
	b.bound = append(b.bound, false)
	slot := NoVar
	if kind != VarImm {
		slot = b.u.fresh(ir.ClassAny)
	}
	b.slot = append(b.slot, slot)
	return id
}

// bind binds a variable in the pattern; first is
// false if the variable was already bound
func (b *builder) bind(t *rules.Term, kind VarKind) (id int, first bool) {
	id = b.lookup(t.Name, kind, t.String())
	if id == NoVar {
		return id, false
	}
	first = !b.bound[id]
	b.bound[id] = true
	return id, first
}

// use refers to a variable outside of the pattern
func (b *builder) use(t *rules.Term, kind VarKind) int {
	if _, ok := b.index[t.Name]; !ok {
		if _, ok := b.x.opvars[t.Name]; !ok {
			b.errorf(ErrUnbound, t.String(), "%s %s is not bound by the pattern", kind, t.Name)
			return NoVar
		}
	}
	return b.lookup(t.Name, kind, t.String())
}

func (b *builder) op(t *rules.Term) (ir.Op, bool) {
	if !t.IsIdent() {
		b.errorf(ErrKind, t.String(), "expected an opcode in head position")
		return ir.OpInvalid, false
	}
	op, ok := ir.OpByName(t.Name)
	if !ok {
		if s := suggest(t.Name); s != "" {
			b.errorf(ErrUnknownOp, t.String(), "unknown op %q; did you mean %q?", t.Name, s)
		} else {
			b.errorf(ErrUnknownOp, t.String(), "unknown op %q", t.Name)
		}
		return ir.OpInvalid, false
	}
	return op, true
}

// shape checks the operand count of (op type [imm] args...)
func (b *builder) shape(t *rules.Term, op ir.Op, lst rules.List) bool {
	want := 2 + op.Arity()
	what := "a type"
	if op.Imm() != ir.ImmNone {
		want++
		what = "a type, an immediate"
	}
	if len(lst) != want {
		b.errorf(ErrArity, t.String(), "%s takes %s and %d operands", op, what, op.Arity())
		return false
	}
	return true
}

// operand records the type constraint between
// operand i of op and the result of op
func (b *builder) operand(op ir.Op, i int, node, arg int, where string) {
	switch op.Args()[i] {
	case ir.ArgSame:
		b.u.unify(node, arg, where)
	case ir.ArgLane:
		b.u.apply(arg, ir.FuncLane, node, where)
	case ir.ArgAsInt:
		b.u.apply(arg, ir.FuncAsInt, node, where)
	case ir.ArgScalarInt:
		b.u.restrict(arg, ir.ClassScalarInt, where)
	}
}

func (b *builder) pattern(t *rules.Term) (Pattern, int) {
	switch v := t.Value.(type) {
	case nil:
		if t.Name == "_" {
			return Pattern{Kind: PatWild, Var: NoVar, Type: wildType, Imm: wildImm}, b.u.fresh(ir.ClassAny)
		}
		id, first := b.bind(t, VarValue)
		if id == NoVar {
			return Pattern{Kind: PatWild, Var: NoVar}, b.u.fresh(ir.ClassAny)
		}
		if !first {
			b.r.Specificity++
		}
		return Pattern{Kind: PatVar, Var: id, Type: wildType, Imm: wildImm}, b.slot[id]
	case rules.List:
		return b.node(t, v)
	default:
		b.errorf(ErrKind, t.String(), "expected a variable or an operator in a pattern")
		return Pattern{Kind: PatWild, Var: NoVar}, b.u.fresh(ir.ClassAny)
	}
}

func (b *builder) node(t *rules.Term, lst rules.List) (Pattern, int) {
	bad := Pattern{Kind: PatWild, Var: NoVar}
	if len(lst) == 0 {
		b.errorf(ErrSyntax, t.String(), "empty list")
		return bad, b.u.fresh(ir.ClassAny)
	}
	op, ok := b.op(&lst[0])
	if !ok || !b.shape(t, op, lst) {
		return bad, b.u.fresh(ir.ClassAny)
	}
	where := t.String()
	n := Pattern{Kind: PatNode, Var: NoVar, Op: op, Imm: wildImm}
	var slot int
	n.Type, slot = b.typeTerm(&lst[1], true)
	b.u.restrict(slot, op.Result(), where)
	rest := lst[2:]
	if op.Imm() != ir.ImmNone {
		n.Imm = b.immTerm(&rest[0], op.Imm(), true)
		rest = rest[1:]
	}
	if t.Name != "" && t.Name != "_" {
		id, first := b.bind(&rules.Term{Name: t.Name, Location: t.Location}, VarValue)
		if id != NoVar {
			if !first {
				b.r.Specificity++
			}
			n.Var = id
			b.u.unify(b.slot[id], slot, where)
		}
	}
	b.r.Specificity++
	for i := range rest {
		p, s := b.pattern(&rest[i])
		b.operand(op, i, slot, s, where)
		n.Args = append(n.Args, p)
	}
	return n, slot
}

func (b *builder) typeTerm(t *rules.Term, pat bool) (TypeExpr, int) {
	switch v := t.Value.(type) {
	case nil:
		if t.Name == "_" {
			if !pat {
				b.errorf(ErrKind, t.String(), "wildcard type in the replacement")
			}
			return wildType, b.u.fresh(ir.ClassAny)
		}
		if ty, ok := ir.TypeByName(t.Name); ok {
			if pat {
				b.r.Specificity++
			}
			return TypeExpr{Var: NoVar, Lit: ty}, b.u.fixed(ty)
		}
		var id int
		if pat {
			id, _ = b.bind(t, VarType)
		} else {
			id = b.use(t, VarType)
		}
		if id == NoVar {
			return wildType, b.u.fresh(ir.ClassAny)
		}
		return TypeExpr{Var: id}, b.slot[id]
	case rules.List:
		if pat {
			b.errorf(ErrKind, t.String(), "type functions are not allowed in a pattern")
			return wildType, b.u.fresh(ir.ClassAny)
		}
		if t.Name != "" || len(v) != 2 || !v[0].IsIdent() {
			b.errorf(ErrKind, t.String(), "expected (function type)")
			return wildType, b.u.fresh(ir.ClassAny)
		}
		f, ok := ir.FuncByName(v[0].Name)
		if !ok {
			b.errorf(ErrKind, t.String(), "unknown type function %q", v[0].Name)
			return wildType, b.u.fresh(ir.ClassAny)
		}
		arg, as := b.typeTerm(&v[1], false)
		d := b.u.fresh(ir.ClassAny)
		b.u.apply(d, f, as, t.String())
		return TypeExpr{Var: NoVar, Func: f, Arg: &arg}, d
	default:
		b.errorf(ErrKind, t.String(), "expected a type")
		return wildType, b.u.fresh(ir.ClassAny)
	}
}

func (b *builder) immTerm(t *rules.Term, f ir.Imm, pat bool) ImmExpr {
	float := f == ir.ImmFloat
	switch v := t.Value.(type) {
	case nil:
		if t.Name == "_" {
			if !pat {
				b.errorf(ErrKind, t.String(), "wildcard immediate in the replacement")
			}
			return wildImm
		}
		var id int
		first := false
		if pat {
			id, first = b.bind(t, VarImm)
		} else {
			id = b.use(t, VarImm)
		}
		if id == NoVar {
			return wildImm
		}
		if first {
			b.r.Vars[id].Float = float
		} else if b.r.Vars[id].Float != float {
			b.errorf(ErrKind, t.String(), "immediate %s used as both an integer and a float", t.Name)
		}
		return ImmExpr{Var: id}
	case rules.Int:
		if pat {
			b.r.Specificity++
		}
		if float {
			return ImmExpr{Var: NoVar, Lit: math.Float64bits(float64(v)), HasLit: true}
		}
		return ImmExpr{Var: NoVar, Lit: uint64(v), HasLit: true}
	case rules.Float:
		if !float {
			b.errorf(ErrKind, t.String(), "float literal in an integer immediate")
			return wildImm
		}
		if pat {
			b.r.Specificity++
		}
		return ImmExpr{Var: NoVar, Lit: math.Float64bits(float64(v)), HasLit: true}
	case rules.List:
		if pat {
			b.errorf(ErrKind, t.String(), "immediate functions are not allowed in a pattern")
			return wildImm
		}
		if t.Name != "" || len(v) != 2 || !v[0].IsIdent() {
			b.errorf(ErrKind, t.String(), "expected (function immediate)")
			return wildImm
		}
		var fn ImmFunc
		switch v[0].Name {
		case "log2":
			fn = ImmLog2
		case "neg":
			fn = ImmNeg
		default:
			b.errorf(ErrKind, t.String(), "unknown immediate function %q", v[0].Name)
			return wildImm
		}
		if fn == ImmLog2 && float {
			b.errorf(ErrKind, t.String(), "log2 of a float immediate")
			return wildImm
		}
		arg := b.immTerm(&v[1], f, false)
		return ImmExpr{Var: NoVar, Func: fn, Arg: &arg}
	default:
		b.errorf(ErrKind, t.String(), "expected an immediate")
		return wildImm
	}
}

func (b *builder) expr(t *rules.Term) (Expr, int) {
	bad := Expr{Kind: ExprVar, Var: NoVar, Type: wildType, Imm: wildImm}
	switch v := t.Value.(type) {
	case nil:
		if t.Name == "_" || t.Name == "" {
			b.errorf(ErrKind, t.String(), "wildcard in the replacement")
			return bad, b.u.fresh(ir.ClassAny)
		}
		id := b.use(t, VarValue)
		if id == NoVar {
			return bad, b.u.fresh(ir.ClassAny)
		}
		return Expr{Kind: ExprVar, Var: id, Type: wildType, Imm: wildImm}, b.slot[id]
	case rules.List:
		if t.Name != "" {
			b.errorf(ErrKind, t.String(), "names are not allowed in the replacement")
			return bad, b.u.fresh(ir.ClassAny)
		}
		if len(v) == 0 {
			b.errorf(ErrSyntax, t.String(), "empty list")
			return bad, b.u.fresh(ir.ClassAny)
		}
		op, ok := b.op(&v[0])
		if !ok || !b.shape(t, op, v) {
			return bad, b.u.fresh(ir.ClassAny)
		}
		where := t.String()
		e := Expr{Kind: ExprNode, Var: NoVar, Op: op, Imm: wildImm}
		var slot int
		e.Type, slot = b.typeTerm(&v[1], false)
		b.u.restrict(slot, op.Result(), where)
		rest := v[2:]
		if op.Imm() != ir.ImmNone {
			e.Imm = b.immTerm(&rest[0], op.Imm(), false)
			rest = rest[1:]
		}
		for i := range rest {
			a, s := b.expr(&rest[i])
			b.operand(op, i, slot, s, where)
			e.Args = append(e.Args, a)
		}
		return e, slot
	default:
		b.errorf(ErrKind, t.String(), "expected a variable or a constructor in the replacement")
		return bad, b.u.fresh(ir.ClassAny)
	}
}

// guardVar resolves a variable used by a guard.
// kind is VarNone if any kind is acceptable.
func (b *builder) guardVar(t *rules.Term, g GuardOp, kind VarKind) int {
	if !t.IsIdent() || t.Name == "_" {
		b.errorf(ErrGuard, t.String(), "%s needs a variable", g)
		return NoVar
	}
	id, ok := b.index[t.Name]
	if !ok {
		b.errorf(ErrUnbound, t.String(), "%s is not bound by the pattern", t.Name)
		return NoVar
	}
	if k := b.r.Vars[id].Kind; kind != VarNone && k != kind {
		b.errorf(ErrGuard, t.String(), "%s needs a %s variable; %s is a %s", g, kind, t.Name, k)
		return NoVar
	}
	return id
}

func (b *builder) guard(v rules.Value) {
	sub := v.String()
	lst, ok := v.(rules.List)
	if !ok || len(lst) == 0 || !lst[0].IsIdent() {
		b.errorf(ErrGuard, sub, "expected (predicate arguments...)")
		return
	}
	g, ok := guardByName(lst[0].Name)
	if !ok {
		b.errorf(ErrGuard, sub, "unknown predicate %q", lst[0].Name)
		return
	}
	args := lst[1:]
	want := 1
	switch g {
	case GuardLanes, GuardBits, GuardNe:
		want = 2
	}
	if len(args) != want {
		b.errorf(ErrGuard, sub, "%s takes %d arguments", g, want)
		return
	}
	gd := Guard{Op: g}
	switch g {
	case GuardPow2:
		id := b.guardVar(&args[0], g, VarImm)
		if id == NoVar {
			return
		}
		if b.r.Vars[id].Float {
			b.errorf(ErrGuard, sub, "pow2 of a float immediate")
			return
		}
		gd.Vars = []int{id}
	case GuardVector, GuardScalar:
		id := b.guardVar(&args[0], g, VarType)
		if id == NoVar {
			return
		}
		c := ir.ClassVector
		if g == GuardScalar {
			c = ir.ClassScalar
		}
		b.u.restrict(b.slot[id], c, sub)
		gd.Vars = []int{id}
	case GuardLanes, GuardBits:
		id := b.guardVar(&args[0], g, VarType)
		if id == NoVar {
			return
		}
		n, ok := args[1].Value.(rules.Int)
		if !ok {
			b.errorf(ErrGuard, sub, "%s needs an integer", g)
			return
		}
		if g == GuardLanes {
			if n == 1 {
				b.u.restrict(b.slot[id], ir.ClassScalar, sub)
			} else {
				b.u.restrict(b.slot[id], ir.ClassVector, sub)
			}
		}
		gd.Vars, gd.N = []int{id}, int64(n)
	case GuardNe:
		x := b.guardVar(&args[0], g, VarNone)
		y := b.guardVar(&args[1], g, VarNone)
		if x == NoVar || y == NoVar {
			return
		}
		if b.r.Vars[x].Kind != b.r.Vars[y].Kind {
			b.errorf(ErrGuard, sub, "ne compares a %s with a %s", b.r.Vars[x].Kind, b.r.Vars[y].Kind)
			return
		}
		gd.Vars = []int{x, y}
	}
	b.r.Specificity++
	b.r.Guards = append(b.r.Guards, gd)
}
