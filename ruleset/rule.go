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
	"github.com/SnellerInc/midend/egraph"
	"github.com/SnellerInc/midend/ir"
	"golang.org/x/exp/slices"
)

// Rule is one compiled rule.
type Rule struct {
	// ID is the rank of the rule in its Program;
	// lower IDs win over higher ones.
	ID int `cbor:"1,keyasint"`
	// Decl is the declaration index of the rule
	// in the corpus (after regexp expansion).
	Decl     int `cbor:"2,keyasint"`
	Priority int `cbor:"3,keyasint"`
	// Specificity counts the constraints the
	// pattern and guards impose.
	Specificity int `cbor:"4,keyasint"`
	// Text is the canonical text of the rule
	// with every opcode spelled out.
	Text string `cbor:"5,keyasint"`
	// Pos is the file:line:col of the rule source.
	Pos  string `cbor:"6,keyasint"`
	Root ir.Op  `cbor:"7,keyasint"`
	// Scope is every root opcode the source
	// rule was written to apply to.
	Scope   []ir.Op `cbor:"8,keyasint"`
	Vars    []Var   `cbor:"9,keyasint"`
	Pattern Pattern `cbor:"10,keyasint"`
	Guards  []Guard `cbor:"11,keyasint,omitempty"`
	Replace Expr    `cbor:"12,keyasint"`
}

func (r *Rule) String() string { return r.Text }

// Binding maps the variables of a rule to
// values. Each slice is indexed by variable;
// only the entry matching the variable's
// kind is meaningful.
type Binding struct {
	Values []egraph.ClassID
	Types  []ir.Type
	Imms   []uint64
}

// NewBinding returns an empty binding for r.
func (r *Rule) NewBinding() Binding {
	n := len(r.Vars)
	return Binding{
		Values: make([]egraph.ClassID, n),
		Types:  make([]ir.Type, n),
		Imms:   make([]uint64, n),
	}
}

// Clone returns a deep copy of b.
func (b *Binding) Clone() Binding {
	return Binding{
		Values: slices.Clone(b.Values),
		Types:  slices.Clone(b.Types),
		Imms:   slices.Clone(b.Imms),
	}
}

// Equal returns true if b and o bind every
// variable to the same value.
func (b *Binding) Equal(o *Binding) bool {
	return slices.Equal(b.Values, o.Values) &&
		slices.Equal(b.Types, o.Types) &&
		slices.Equal(b.Imms, o.Imms)
}

// Guarded returns true if r has any guards.
func (r *Rule) Guarded() bool { return len(r.Guards) > 0 }

// Check evaluates the guards of r under b.
func (r *Rule) Check(b *Binding) bool {
	for i := range r.Guards {
		if !r.Guards[i].Eval(b, r.Vars) {
			return false
		}
	}
	return true
}
