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

	"github.com/SnellerInc/midend/ir"
)

// tcons is the deferred constraint dst = f(src).
type tcons struct {
	dst, src int
	f        ir.TypeFunc
	where    string
}

// unifier solves the type constraints of one rule.
// Each slot is a type unknown; slots are merged by
// unification and narrowed to a set of type classes
// (and possibly to a single concrete type).
type unifier struct {
	parent []int
	class  []ir.Class
	lit    []ir.Type
	cons   []tcons

	where string // location of the first error
	err   error
}

func (u *unifier) fresh(c ir.Class) int {
	n := len(u.parent)
	u.parent = append(u.parent, n)
	u.class = append(u.class, c)
	u.lit = append(u.lit, ir.TypeInvalid)
	return n
}

func (u *unifier) fixed(t ir.Type) int {
	n := u.fresh(t.Class())
	u.lit[n] = t
	return n
}

func (u *unifier) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unifier) fail(where, f string, args ...any) {
	if u.err == nil {
		u.where = where
		u.err = fmt.Errorf(f, args...)
	}
}

// describe returns a printable description of slot i.
func (u *unifier) describe(i int) string {
	r := u.find(i)
	if u.lit[r] != ir.TypeInvalid {
		return u.lit[r].String()
	}
	return u.class[r].String()
}

// restrict narrows slot i to the classes in c.
func (u *unifier) restrict(i int, c ir.Class, where string) bool {
	if u.err != nil {
		return false
	}
	r := u.find(i)
	nc := u.class[r] & c
	if nc == u.class[r] {
		return false
	}
	if nc == ir.ClassNone {
		u.fail(where, "a type in %s is required, but the type is %s", c, u.describe(r))
		return false
	}
	if t := u.lit[r]; t != ir.TypeInvalid && nc&t.Class() == 0 {
		u.fail(where, "%s is not in %s", t, c)
		return false
	}
	u.class[r] = nc
	return true
}

// set fixes slot i to the concrete type t.
func (u *unifier) set(i int, t ir.Type, where string) bool {
	if u.err != nil {
		return false
	}
	r := u.find(i)
	switch u.lit[r] {
	case t:
		return false
	case ir.TypeInvalid:
	default:
		u.fail(where, "type %s conflicts with %s", t, u.lit[r])
		return false
	}
	if u.class[r]&t.Class() == 0 {
		u.fail(where, "type %s is not in %s", t, u.class[r])
		return false
	}
	u.lit[r] = t
	u.class[r] = t.Class()
	return true
}

// unify merges slots a and b.
func (u *unifier) unify(a, b int, where string) bool {
	if u.err != nil {
		return false
	}
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	c := u.class[ra] & u.class[rb]
	if c == ir.ClassNone {
		u.fail(where, "cannot unify %s with %s", u.describe(ra), u.describe(rb))
		return false
	}
	la, lb := u.lit[ra], u.lit[rb]
	if la != ir.TypeInvalid && lb != ir.TypeInvalid && la != lb {
		u.fail(where, "cannot unify %s with %s", la, lb)
		return false
	}
	if la == ir.TypeInvalid {
		la = lb
	}
	if la != ir.TypeInvalid && c&la.Class() == 0 {
		u.fail(where, "cannot unify %s with %s", u.describe(ra), u.describe(rb))
		return false
	}
	u.parent[rb] = ra
	u.class[ra] = c
	u.lit[ra] = la
	return true
}

// apply records the constraint dst = f(src).
func (u *unifier) apply(dst int, f ir.TypeFunc, src int, where string) {
	u.cons = append(u.cons, tcons{dst: dst, src: src, f: f, where: where})
}

// fixedClass returns the classes on which
// f is the identity.
func fixedClass(f ir.TypeFunc) ir.Class {
	switch f {
	case ir.FuncLane:
		return ir.ClassScalar
	case ir.FuncAsInt:
		return ir.ClassInt
	case ir.FuncAsFloat:
		return ir.ClassFloat
	}
	return ir.ClassNone
}

// solve propagates the deferred constraints
// until nothing changes or a contradiction
// is found. It returns the first error.
func (u *unifier) solve() error {
	for changed := true; changed && u.err == nil; {
		changed = false
		for i := range u.cons {
			c := &u.cons[i]
			if u.step(c) {
				changed = true
			}
		}
		// equal functions of equal arguments
		for i := range u.cons {
			for j := i + 1; j < len(u.cons); j++ {
				a, b := &u.cons[i], &u.cons[j]
				if a.f == b.f && u.find(a.src) == u.find(b.src) && u.unify(a.dst, b.dst, b.where) {
					changed = true
				}
			}
		}
	}
	return u.err
}

func (u *unifier) step(c *tcons) bool {
	s, d := u.find(c.src), u.find(c.dst)
	if s == d {
		changed := u.restrict(s, fixedClass(c.f), c.where)
		if t := u.lit[s]; t != ir.TypeInvalid && c.f.Apply(t) != t {
			u.fail(c.where, "%s(%s) is not %s", c.f, t, t)
		}
		return changed
	}
	changed := u.restrict(d, c.f.Image(u.class[s]), c.where)
	if u.restrict(s, c.f.Preimage(u.class[u.find(d)]), c.where) {
		changed = true
	}
	if t := u.lit[u.find(s)]; t != ir.TypeInvalid && u.err == nil {
		r := c.f.Apply(t)
		if r == ir.TypeInvalid {
			u.fail(c.where, "%s(%s) is undefined", c.f, t)
			return false
		}
		if u.set(d, r, c.where) {
			changed = true
		}
	}
	return changed
}
