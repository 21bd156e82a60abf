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
	"sort"
)

// rank sorts rules into their canonical order
// and assigns IDs. Higher priority wins, then
// higher specificity, then the canonical text
// of the rule; declaration order only separates
// rules whose text is identical.
func rank(lst []*Rule) {
	sort.SliceStable(lst, func(i, j int) bool {
		a, b := lst[i], lst[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Specificity != b.Specificity {
			return a.Specificity > b.Specificity
		}
		if a.Text != b.Text {
			return a.Text < b.Text
		}
		return a.Decl < b.Decl
	})
	for i := range lst {
		lst[i].ID = i
	}
}

// shadowed reports every rule that is subsumed by
// an unguarded rule that ranks ahead of it
func (c *compiler) shadowed(lst []*Rule) {
	for j := range lst {
		r := lst[j]
		for i := 0; i < j; i++ {
			s := lst[i]
			if s.Root != r.Root || s.Guarded() {
				continue
			}
			if subsumes(&s.Pattern, &r.Pattern) {
				c.diags = append(c.diags, Diagnostic{
					Kind:    ErrShadowed,
					Rule:    r.Text,
					Pos:     r.Pos,
					Subterm: s.Text,
					Msg:     "rule can never fire; shadowed by the rule at " + s.Pos,
				})
				break
			}
		}
	}
}

// subsumes returns true if every term matched
// by pattern r is also matched by pattern s.
// It is conservative: false means "not known".
func subsumes(s, r *Pattern) bool {
	m := subst{
		vals:  make(map[int]*Pattern),
		types: make(map[int]*TypeExpr),
		imms:  make(map[int]*ImmExpr),
	}
	return m.pattern(s, r)
}

// subst maps the variables of the general
// pattern to parts of the specific pattern
type subst struct {
	vals  map[int]*Pattern
	types map[int]*TypeExpr
	imms  map[int]*ImmExpr
}

func (m *subst) pattern(s, r *Pattern) bool {
	switch s.Kind {
	case PatWild:
		return true
	case PatVar:
		return m.val(s.Var, r)
	}
	if r.Kind != PatNode || r.Op != s.Op || len(r.Args) != len(s.Args) {
		return false
	}
	if s.Var != NoVar && !m.val(s.Var, r) {
		return false
	}
	if !m.typ(&s.Type, &r.Type) || !m.imm(&s.Imm, &r.Imm) {
		return false
	}
	for i := range s.Args {
		if !m.pattern(&s.Args[i], &r.Args[i]) {
			return false
		}
	}
	return true
}

func (m *subst) val(v int, r *Pattern) bool {
	if prev, ok := m.vals[v]; ok {
		return samePattern(prev, r)
	}
	m.vals[v] = r
	return true
}

func (m *subst) typ(s, r *TypeExpr) bool {
	switch {
	case s.IsWild():
		return true
	case s.Var == NoVar:
		return r.Var == NoVar && r.Func == 0 && r.Lit == s.Lit
	}
	if prev, ok := m.types[s.Var]; ok {
		return sameType(prev, r)
	}
	m.types[s.Var] = r
	return true
}

func (m *subst) imm(s, r *ImmExpr) bool {
	switch {
	case s.IsWild():
		return true
	case s.HasLit:
		return r.HasLit && r.Lit == s.Lit
	}
	if prev, ok := m.imms[s.Var]; ok {
		return sameImm(prev, r)
	}
	m.imms[s.Var] = r
	return true
}

// samePattern returns true if a and b always
// match the same class
func samePattern(a, b *Pattern) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case PatWild:
		return false
	case PatVar:
		return a.Var == b.Var
	}
	if a.Op != b.Op || len(a.Args) != len(b.Args) ||
		!sameType(&a.Type, &b.Type) || !sameImm(&a.Imm, &b.Imm) {
		return false
	}
	for i := range a.Args {
		if !samePattern(&a.Args[i], &b.Args[i]) {
			return false
		}
	}
	return true
}

func sameType(a, b *TypeExpr) bool {
	if a.IsWild() || b.IsWild() || a.Func != 0 || b.Func != 0 {
		return false
	}
	return a.Var == b.Var && a.Lit == b.Lit
}

func sameImm(a, b *ImmExpr) bool {
	if a.IsWild() || b.IsWild() || a.Func != 0 || b.Func != 0 {
		return false
	}
	return a.Var == b.Var && a.HasLit == b.HasLit && a.Lit == b.Lit
}
