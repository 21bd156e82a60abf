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
	"math"
	"strconv"
	"strings"

	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/rules"
)

// VarKind is the kind of value a rule variable holds.
type VarKind uint8

const (
	VarNone  VarKind = iota
	VarValue         // an equivalence class
	VarType          // an ir.Type
	VarImm           // an immediate
)

func (k VarKind) String() string {
	switch k {
	case VarValue:
		return "value"
	case VarType:
		return "type"
	case VarImm:
		return "immediate"
	}
	return "none"
}

// Var describes one variable of a rule.
// Variables are referred to by their index
// in Rule.Vars.
type Var struct {
	Name string  `cbor:"1,keyasint"`
	Kind VarKind `cbor:"2,keyasint"`
	// Float is set for immediates bound
	// from a floating-point immediate position.
	Float bool `cbor:"3,keyasint,omitempty"`
}

// NoVar is used where a variable index is optional.
const NoVar = -1

// TypeExpr is a type position. In a pattern it is
// a variable, a literal type or a wildcard; in a
// replacement it may also apply a type function.
type TypeExpr struct {
	Var  int         `cbor:"1,keyasint"`
	Lit  ir.Type     `cbor:"2,keyasint,omitempty"`
	Func ir.TypeFunc `cbor:"3,keyasint,omitempty"`
	Arg  *TypeExpr   `cbor:"4,keyasint,omitempty"`
}

// IsWild returns true for the type wildcard.
func (t *TypeExpr) IsWild() bool {
	return t.Var == NoVar && t.Lit == ir.TypeInvalid && t.Func == 0
}

// Eval computes the concrete type of t
// under a binding. It returns ir.TypeInvalid
// if a type function is not defined on its input.
func (t *TypeExpr) Eval(b *Binding) ir.Type {
	switch {
	case t.Func != 0:
		return t.Func.Apply(t.Arg.Eval(b))
	case t.Var != NoVar:
		return b.Types[t.Var]
	default:
		return t.Lit
	}
}

// ImmFunc is a function over immediates
// usable in a replacement.
type ImmFunc uint8

const (
	ImmLog2 ImmFunc = iota + 1 // log2 of a power of two
	ImmNeg                     // negation
)

var immFuncNames = [...]string{ImmLog2: "log2", ImmNeg: "neg"}

func (f ImmFunc) String() string {
	if int(f) < len(immFuncNames) {
		return immFuncNames[f]
	}
	return "invalid"
}

// ImmExpr is an immediate position.
type ImmExpr struct {
	Var    int      `cbor:"1,keyasint"`
	Lit    uint64   `cbor:"2,keyasint,omitempty"`
	HasLit bool     `cbor:"3,keyasint,omitempty"`
	Func   ImmFunc  `cbor:"4,keyasint,omitempty"`
	Arg    *ImmExpr `cbor:"5,keyasint,omitempty"`
}

// IsWild returns true for the immediate wildcard.
func (m *ImmExpr) IsWild() bool {
	return m.Var == NoVar && !m.HasLit && m.Func == 0
}

// Eval computes an immediate under a binding.
// The result is not valid if ok is false.
func (m *ImmExpr) Eval(b *Binding, f ir.Imm) (uint64, bool) {
	switch {
	case m.HasLit:
		return m.Lit, true
	case m.Var != NoVar:
		return b.Imms[m.Var], true
	}
	x, ok := m.Arg.Eval(b, f)
	if !ok {
		return 0, false
	}
	switch m.Func {
	case ImmNeg:
		if f == ir.ImmFloat {
			return x ^ (1 << 63), true
		}
		return uint64(-int64(x)), true
	case ImmLog2:
		if f == ir.ImmFloat || int64(x) <= 0 || x&(x-1) != 0 {
			return 0, false
		}
		n := uint64(0)
		for x > 1 {
			x >>= 1
			n++
		}
		return n, true
	}
	return 0, false
}

// PatKind distinguishes the forms of a Pattern.
type PatKind uint8

const (
	PatWild PatKind = iota // matches anything
	PatVar                 // binds (or compares) a value variable
	PatNode                // matches an operator application
)

// Pattern is a tree matched against equivalence classes.
type Pattern struct {
	Kind PatKind `cbor:"1,keyasint"`
	// Var is the value variable of a PatVar,
	// or the optional name of a PatNode (NoVar
	// if it has none).
	Var  int       `cbor:"2,keyasint"`
	Op   ir.Op     `cbor:"3,keyasint,omitempty"`
	Type TypeExpr  `cbor:"4,keyasint"`
	Imm  ImmExpr   `cbor:"5,keyasint"`
	Args []Pattern `cbor:"6,keyasint,omitempty"`
}

// Depth returns the number of operator
// applications on the longest path from
// the root of p to a leaf.
func (p *Pattern) Depth() int {
	if p.Kind != PatNode {
		return 0
	}
	d := 0
	for i := range p.Args {
		if n := p.Args[i].Depth(); n > d {
			d = n
		}
	}
	return d + 1
}

// ExprKind distinguishes the forms of an Expr.
type ExprKind uint8

const (
	ExprVar  ExprKind = iota // a bound value variable
	ExprNode                 // a constructor
)

// Expr is a replacement tree.
type Expr struct {
	Kind ExprKind `cbor:"1,keyasint"`
	Var  int      `cbor:"2,keyasint"`
	Op   ir.Op    `cbor:"3,keyasint,omitempty"`
	Type TypeExpr `cbor:"4,keyasint"`
	Imm  ImmExpr  `cbor:"5,keyasint"`
	Args []Expr   `cbor:"6,keyasint,omitempty"`
}

// GuardOp is a built-in guard predicate.
type GuardOp uint8

const (
	GuardPow2   GuardOp = iota + 1 // (pow2 c): immediate is a positive power of two
	GuardVector                    // (vector t)
	GuardScalar                    // (scalar t)
	GuardLanes                     // (lanes t N)
	GuardBits                      // (bits t N): lane width in bits
	GuardNe                        // (ne a b): variables differ
)

var guardNames = [...]string{
	GuardPow2:   "pow2",
	GuardVector: "vector",
	GuardScalar: "scalar",
	GuardLanes:  "lanes",
	GuardBits:   "bits",
	GuardNe:     "ne",
}

func (g GuardOp) String() string {
	if int(g) < len(guardNames) && guardNames[g] != "" {
		return guardNames[g]
	}
	return "invalid"
}

func guardByName(name string) (GuardOp, bool) {
	for i := range guardNames {
		if guardNames[i] != "" && guardNames[i] == name {
			return GuardOp(i), true
		}
	}
	return 0, false
}

// Guard is a side condition evaluated
// after a pattern has matched.
type Guard struct {
	Op   GuardOp `cbor:"1,keyasint"`
	Vars []int   `cbor:"2,keyasint"`
	N    int64   `cbor:"3,keyasint,omitempty"`
}

// Eval returns true if the guard holds under b.
func (g *Guard) Eval(b *Binding, vars []Var) bool {
	v := g.Vars[0]
	switch g.Op {
	case GuardPow2:
		x := int64(b.Imms[v])
		return x > 0 && x&(x-1) == 0
	case GuardVector:
		return b.Types[v].IsVector()
	case GuardScalar:
		return b.Types[v].IsScalar()
	case GuardLanes:
		return int64(b.Types[v].Lanes()) == g.N
	case GuardBits:
		return int64(b.Types[v].LaneBits()) == g.N
	case GuardNe:
		w := g.Vars[1]
		switch vars[v].Kind {
		case VarValue:
			return b.Values[v] != b.Values[w]
		case VarType:
			return b.Types[v] != b.Types[w]
		default:
			return b.Imms[v] != b.Imms[w]
		}
	}
	return false
}

func formatImm(w *strings.Builder, f ir.Imm, imm uint64) {
	if f == ir.ImmFloat {
		w.WriteString(rules.Float(math.Float64frombits(imm)).String())
		return
	}
	w.WriteString(strconv.FormatInt(int64(imm), 10))
}
