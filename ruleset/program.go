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

// Package ruleset compiles a corpus of rewrite
// rules into an immutable Program: type-checked
// rules in a canonical rank order, plus one
// discrimination tree per root opcode.
//
// A Program is safe for concurrent use.
package ruleset

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/SnellerInc/midend/ir"
	"golang.org/x/crypto/blake2b"
)

// Program is a compiled rule corpus.
type Program struct {
	rules  []*Rule
	groups [ir.NumOps]*Trie
	fp     [blake2b.Size256]byte
	depth  int
}

func newProgram(lst []*Rule) *Program {
	p := &Program{rules: lst}
	h, _ := blake2b.New256(nil)
	for _, r := range lst {
		t := p.groups[r.Root]
		if t == nil {
			t = &Trie{}
			p.groups[r.Root] = t
		}
		t.insert(Keys(&r.Pattern), r.ID)
		if d := r.Pattern.Depth(); d > p.depth {
			p.depth = d
		}
		h.Write(ruleBody(r))
	}
	h.Sum(p.fp[:0])
	return p
}

// ruleBody is the encoding of r that the
// fingerprint covers. The source position and
// declaration index do not affect rewriting.
func ruleBody(r *Rule) []byte {
	c := *r
	c.Decl, c.Pos = 0, ""
	body, err := encMode.Marshal(&c)
	if err != nil {
		panic("ruleset: " + err.Error())
	}
	return body
}

// Rules returns every rule in rank order.
// The result must not be modified.
func (p *Program) Rules() []*Rule { return p.rules }

// Rule returns the rule with the given ID.
func (p *Program) Rule(id int) *Rule { return p.rules[id] }

// Group returns the discrimination tree of
// the rules rooted at op, or nil if there are none.
func (p *Program) Group(op ir.Op) *Trie {
	if int(op) >= len(p.groups) {
		return nil
	}
	return p.groups[op]
}

// Ops returns the root opcodes that have rules.
func (p *Program) Ops() []ir.Op {
	var out []ir.Op
	for op := range p.groups {
		if p.groups[op] != nil {
			out = append(out, ir.Op(op))
		}
	}
	return out
}

// Depth returns the height of the tallest
// pattern in p; a bare operator application
// has depth 1.
func (p *Program) Depth() int { return p.depth }

// Fingerprint identifies the rule corpus:
// two programs with the same fingerprint
// rewrite identically.
func (p *Program) Fingerprint() string { return hex.EncodeToString(p.fp[:]) }

// Dump writes the rules of p in rank order
// followed by the decision tree of each group.
func (p *Program) Dump(w io.Writer) error {
	for _, r := range p.rules {
		_, err := fmt.Fprintf(w, "#%d prio=%d spec=%d %s\t%s\n", r.ID, r.Priority, r.Specificity, r.Text, r.Pos)
		if err != nil {
			return err
		}
	}
	for _, op := range p.Ops() {
		if _, err := fmt.Fprintf(w, "\ngroup %s:\n", op); err != nil {
			return err
		}
		if err := p.groups[op].dump(w, p, "  "); err != nil {
			return err
		}
	}
	return nil
}
