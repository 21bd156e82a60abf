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
	"io"
	"math"
	"sort"
	"strings"

	"github.com/SnellerInc/midend/ir"
)

// Key labels one edge of a discrimination tree.
// The zero Key (Op == ir.OpInvalid) is the
// wildcard edge taken by variables and wildcards.
type Key struct {
	Op     ir.Op
	Imm    uint64
	HasImm bool
}

// IsStar returns true for the wildcard key.
func (k Key) IsStar() bool { return k.Op == ir.OpInvalid }

func (k Key) String() string {
	if k.IsStar() {
		return "*"
	}
	if !k.HasImm {
		return k.Op.String()
	}
	var b strings.Builder
	b.WriteString(k.Op.String())
	b.WriteByte('=')
	formatImm(&b, k.Op.Imm(), k.Imm)
	return b.String()
}

func (k Key) less(o Key) bool {
	if k.Op != o.Op {
		return k.Op < o.Op
	}
	if k.HasImm != o.HasImm {
		return !k.HasImm
	}
	return k.Imm < o.Imm
}

// Edge is a labeled edge of a Trie.
type Edge struct {
	Key  Key
	Next *Trie
}

// Trie is a discrimination tree over the
// preorder sequence of the operand positions
// of the patterns of one root opcode.
//
// Each position is either the opcode (and,
// for literal immediates, the immediate) the
// pattern requires there, or the wildcard key
// if the pattern accepts any class. A wildcard
// position has no descendants in the sequence.
type Trie struct {
	star  *Trie
	edges []Edge // sorted by key
	rules []int  // in rank order
}

// Star returns the wildcard successor of t, or nil.
func (t *Trie) Star() *Trie { return t.star }

// Edges returns the opcode successors of t.
// The result must not be modified.
func (t *Trie) Edges() []Edge { return t.edges }

// Rules returns the IDs of the rules whose
// key sequence ends at t, in rank order.
func (t *Trie) Rules() []int { return t.rules }

func (t *Trie) child(k Key) *Trie {
	if k.IsStar() {
		if t.star == nil {
			t.star = &Trie{}
		}
		return t.star
	}
	i := sort.Search(len(t.edges), func(i int) bool { return !t.edges[i].Key.less(k) })
	if i < len(t.edges) && t.edges[i].Key == k {
		return t.edges[i].Next
	}
	n := &Trie{}
	t.edges = append(t.edges, Edge{})
	copy(t.edges[i+1:], t.edges[i:])
	t.edges[i] = Edge{Key: k, Next: n}
	return n
}

func (t *Trie) insert(keys []Key, id int) {
	for _, k := range keys {
		t = t.child(k)
	}
	t.rules = append(t.rules, id)
}

// immKey returns the key for a node pattern.
// The immediate is only part of the key when
// its canonical encoding is known at compile
// time; otherwise it is checked after the walk.
func immKey(p *Pattern) Key {
	k := Key{Op: p.Op}
	if !p.Imm.HasLit {
		return k
	}
	switch {
	case p.Op != ir.OpIconst:
		k.Imm, k.HasImm = p.Imm.Lit, true
	case p.Type.Var == NoVar && p.Type.Func == 0 && p.Type.Lit != ir.TypeInvalid:
		k.Imm, k.HasImm = ir.CanonImm(p.Type.Lit, p.Imm.Lit), true
	case int64(p.Imm.Lit) >= math.MinInt8 && int64(p.Imm.Lit) <= math.MaxInt8:
		// the same at every lane width
		k.Imm, k.HasImm = p.Imm.Lit, true
	}
	return k
}

// Keys returns the preorder key sequence
// of the operands of p.
func Keys(p *Pattern) []Key {
	return appendKeys(p, nil)
}

func appendKeys(p *Pattern, dst []Key) []Key {
	for i := range p.Args {
		a := &p.Args[i]
		if a.Kind != PatNode {
			dst = append(dst, Key{})
			continue
		}
		dst = append(dst, immKey(a))
		dst = appendKeys(a, dst)
	}
	return dst
}

func (t *Trie) dump(w io.Writer, prog *Program, indent string) error {
	for _, id := range t.rules {
		if _, err := fmt.Fprintf(w, "%s=> #%d %s\n", indent, id, prog.rules[id].Text); err != nil {
			return err
		}
	}
	if t.star != nil {
		if _, err := fmt.Fprintf(w, "%s*\n", indent); err != nil {
			return err
		}
		if err := t.star.dump(w, prog, indent+"  "); err != nil {
			return err
		}
	}
	for i := range t.edges {
		if _, err := fmt.Fprintf(w, "%s%s\n", indent, t.edges[i].Key); err != nil {
			return err
		}
		if err := t.edges[i].Next.dump(w, prog, indent+"  "); err != nil {
			return err
		}
	}
	return nil
}
