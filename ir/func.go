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

// Package ir defines the typed SSA intermediate
// representation consumed and produced by the
// simplifier: a closed set of scalar and vector
// types, an opcode table, and a DAG of immutable
// nodes built through a hash-consing Builder.
package ir

import (
	"fmt"
	"math"
)

// Value refers to a node of a Func by index.
type Value uint32

// Node is one operation. Nodes are never
// modified once they have been added to a Func.
type Node struct {
	Op   Op      `msgpack:"op"`
	Type Type    `msgpack:"type"`
	Imm  uint64  `msgpack:"imm,omitempty"`
	Args []Value `msgpack:"args,omitempty"`
}

// Int returns the immediate of an iconst
// (or the index of a param) as a signed integer.
func (n *Node) Int() int64 { return int64(n.Imm) }

// Float returns the immediate of an fconst.
func (n *Node) Float() float64 { return math.Float64frombits(n.Imm) }

// Func is a compilation unit: a DAG of nodes
// in topological order plus the values it yields.
type Func struct {
	Name  string  `msgpack:"name"`
	Nodes []Node  `msgpack:"nodes"`
	Roots []Value `msgpack:"roots"`
}

// Node returns the node that defines v.
func (f *Func) Node(v Value) *Node { return &f.Nodes[v] }

// Validate checks that every node is
// well-typed and refers only to earlier nodes.
func (f *Func) Validate() error {
	types := make([]Type, 0, 2)
	for i := range f.Nodes {
		n := &f.Nodes[i]
		types = types[:0]
		for _, a := range n.Args {
			if int(a) >= i {
				return fmt.Errorf("%s: node %d refers to later node %d", f.Name, i, a)
			}
			types = append(types, f.Nodes[a].Type)
		}
		if err := Check(n.Op, n.Type, types); err != nil {
			return fmt.Errorf("%s: node %d: %w", f.Name, i, err)
		}
		if n.Op == OpIconst && n.Imm != CanonImm(n.Type, n.Imm) {
			return fmt.Errorf("%s: node %d: non-canonical immediate %#x", f.Name, i, n.Imm)
		}
	}
	for _, r := range f.Roots {
		if int(r) >= len(f.Nodes) {
			return fmt.Errorf("%s: root %d out of range", f.Name, r)
		}
	}
	return nil
}

// Live returns the number of nodes
// reachable from the roots of f.
func (f *Func) Live() int {
	seen := make([]bool, len(f.Nodes))
	n := 0
	var walk func(v Value)
	walk = func(v Value) {
		if seen[v] {
			return
		}
		seen[v] = true
		n++
		for _, a := range f.Nodes[v].Args {
			walk(a)
		}
	}
	for _, r := range f.Roots {
		walk(r)
	}
	return n
}

// CanonImm returns the canonical encoding of an
// integer immediate of type ty: the value truncated
// to the lane width and sign-extended to 64 bits.
func CanonImm(ty Type, imm uint64) uint64 {
	bits := ty.LaneBits()
	if bits == 0 || bits >= 64 {
		return imm
	}
	shift := 64 - bits
	return uint64(int64(imm<<shift) >> shift)
}

type nodeKey struct {
	op   Op
	ty   Type
	argc uint8
	imm  uint64
	args [2]Value
}

func keyOf(op Op, ty Type, imm uint64, args []Value) (nodeKey, bool) {
	if len(args) > 2 {
		return nodeKey{}, false
	}
	k := nodeKey{op: op, ty: ty, argc: uint8(len(args)), imm: imm}
	copy(k.args[:], args)
	return k, true
}

// Builder constructs a Func. Identical nodes
// are only created once.
type Builder struct {
	fn   Func
	memo map[nodeKey]Value
}

// NewBuilder returns a builder for a Func with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		fn:   Func{Name: name},
		memo: make(map[nodeKey]Value),
	}
}

// Make returns the value of op applied to args,
// creating a new node only if an identical
// node does not already exist.
func (b *Builder) Make(op Op, ty Type, imm uint64, args ...Value) (Value, error) {
	var types [2]Type
	if len(args) > len(types) {
		return 0, fmt.Errorf("%s: too many operands", op)
	}
	for i, a := range args {
		if int(a) >= len(b.fn.Nodes) {
			return 0, fmt.Errorf("%s: operand %d refers to unknown value %d", op, i, a)
		}
		types[i] = b.fn.Nodes[a].Type
	}
	if err := Check(op, ty, types[:len(args)]); err != nil {
		return 0, err
	}
	if op == OpIconst {
		imm = CanonImm(ty, imm)
	}
	k, _ := keyOf(op, ty, imm, args)
	if v, ok := b.memo[k]; ok {
		return v, nil
	}
	v := Value(len(b.fn.Nodes))
	b.fn.Nodes = append(b.fn.Nodes, Node{
		Op:   op,
		Type: ty,
		Imm:  imm,
		Args: append([]Value(nil), args...),
	})
	b.memo[k] = v
	return v, nil
}

func (b *Builder) must(v Value, err error) Value {
	if err != nil {
		panic(err)
	}
	return v
}

// Param returns parameter number i of type ty.
func (b *Builder) Param(ty Type, i int) Value {
	return b.must(b.Make(OpParam, ty, uint64(i)))
}

// Iconst returns an integer constant.
func (b *Builder) Iconst(ty Type, c int64) Value {
	return b.must(b.Make(OpIconst, ty, uint64(c)))
}

// Fconst returns a float constant.
func (b *Builder) Fconst(ty Type, c float64) Value {
	return b.must(b.Make(OpFconst, ty, math.Float64bits(c)))
}

// Unary applies a one-operand op.
// Unary panics if the result is ill-typed.
func (b *Builder) Unary(op Op, ty Type, x Value) Value {
	return b.must(b.Make(op, ty, 0, x))
}

// Binary applies a two-operand op.
// Binary panics if the result is ill-typed.
func (b *Builder) Binary(op Op, ty Type, x, y Value) Value {
	return b.must(b.Make(op, ty, 0, x, y))
}

// Type returns the type of v.
func (b *Builder) Type(v Value) Type { return b.fn.Nodes[v].Type }

// Root marks v as a value yielded by the Func.
func (b *Builder) Root(v Value) { b.fn.Roots = append(b.fn.Roots, v) }

// Func returns the constructed Func.
// The builder should not be used afterwards.
func (b *Builder) Func() *Func {
	f := b.fn
	return &f
}
