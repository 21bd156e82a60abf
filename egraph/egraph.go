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

// Package egraph implements an equivalence-class
// graph: an arena of immutable nodes whose operands
// refer to classes of equivalent nodes rather than
// to individual nodes.
//
// Nodes are hash-consed, so inserting a node that
// is congruent to an existing one returns the
// existing class. Union merges two classes; Rebuild
// restores the congruence invariant afterwards.
// Nodes are never removed from the graph.
package egraph

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/SnellerInc/midend/ir"
	"github.com/bits-and-blooms/bitset"
	"github.com/dchest/siphash"
)

// Node is an operation whose operands are classes.
type Node struct {
	Op   ir.Op
	Type ir.Type
	Imm  uint64
	Args []ClassID
}

type class struct {
	typ     ir.Type
	nodes   []NodeID // sorted
	parents []NodeID // nodes using this class as an operand
}

// Graph is an e-graph. A Graph is not safe
// for concurrent use.
type Graph struct {
	nodes []Node
	home  []ClassID // class each node was created in
	uf    unionfind
	cls   []class // valid only at root IDs

	memo    map[uint64][]NodeID
	pending []ClassID
	dirty   bitset.BitSet
	unions  int

	k0, k1 uint64
	buf    []byte
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		memo: make(map[uint64][]NodeID),
		k0:   0x6567726170680001,
		k1:   0x6567726170680002,
	}
}

// Find returns the canonical ID of the class containing c.
func (g *Graph) Find(c ClassID) ClassID { return g.uf.find(c) }

// Node returns the node with the given ID.
// Its operands may not be canonical; use Arg.
func (g *Graph) Node(n NodeID) *Node { return &g.nodes[n] }

// Arg returns the canonical class of operand i of node n.
func (g *Graph) Arg(n NodeID, i int) ClassID { return g.uf.find(g.nodes[n].Args[i]) }

// ClassOf returns the canonical class containing n.
func (g *Graph) ClassOf(n NodeID) ClassID { return g.uf.find(g.home[n]) }

// Members returns the nodes of class c in
// ascending order. The result must not be modified.
func (g *Graph) Members(c ClassID) []NodeID { return g.cls[g.uf.find(c)].nodes }

// Type returns the type of every node in class c.
func (g *Graph) Type(c ClassID) ir.Type { return g.cls[g.uf.find(c)].typ }

// NumNodes returns the number of nodes in the arena.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumClasses returns the number of distinct classes.
func (g *Graph) NumClasses() int { return len(g.uf.parent) - g.unions }

// Classes returns the canonical IDs of every class
// in ascending order.
func (g *Graph) Classes() []ClassID {
	out := make([]ClassID, 0, g.NumClasses())
	for i := range g.uf.parent {
		c := ClassID(i)
		if g.uf.find(c) == c {
			out = append(out, c)
		}
	}
	return out
}

// Same returns true if a and b are in the same class.
func (g *Graph) Same(a, b ClassID) bool { return g.uf.find(a) == g.uf.find(b) }

func (g *Graph) hash(op ir.Op, ty ir.Type, imm uint64, args []ClassID) uint64 {
	b := g.buf[:0]
	b = append(b, byte(op), byte(ty))
	b = binary.LittleEndian.AppendUint64(b, imm)
	for _, a := range args {
		b = binary.LittleEndian.AppendUint32(b, uint32(g.uf.find(a)))
	}
	g.buf = b
	return siphash.Hash(g.k0, g.k1, b)
}

// congruent returns true if node n has the given
// op, type, immediate and (canonical) operands.
func (g *Graph) congruent(n NodeID, op ir.Op, ty ir.Type, imm uint64, args []ClassID) bool {
	nd := &g.nodes[n]
	if nd.Op != op || nd.Type != ty || nd.Imm != imm || len(nd.Args) != len(args) {
		return false
	}
	for i := range args {
		if g.uf.find(nd.Args[i]) != g.uf.find(args[i]) {
			return false
		}
	}
	return true
}

func (g *Graph) lookup(h uint64, op ir.Op, ty ir.Type, imm uint64, args []ClassID) (NodeID, bool) {
	for _, n := range g.memo[h] {
		if g.congruent(n, op, ty, imm, args) {
			return n, true
		}
	}
	return 0, false
}

// Lookup returns the class of a node congruent
// to nd, if one exists, without inserting anything.
func (g *Graph) Lookup(nd Node) (ClassID, bool) {
	h := g.hash(nd.Op, nd.Type, nd.Imm, nd.Args)
	n, ok := g.lookup(h, nd.Op, nd.Type, nd.Imm, nd.Args)
	if !ok {
		return 0, false
	}
	return g.ClassOf(n), true
}

// Add inserts nd into the graph unless a congruent
// node already exists. It returns the class and the
// node that represent nd, and whether a new node
// (and class) was created.
//
// Add panics if nd is ill-typed; callers that
// build nodes from untrusted input should use
// ir.Check first.
func (g *Graph) Add(nd Node) (ClassID, NodeID, bool) {
	var types [2]ir.Type
	if len(nd.Args) > len(types) {
		panic(fmt.Sprintf("egraph: %s with %d operands", nd.Op, len(nd.Args)))
	}
	for i, a := range nd.Args {
		types[i] = g.Type(a)
	}
	if err := ir.Check(nd.Op, nd.Type, types[:len(nd.Args)]); err != nil {
		panic("egraph: " + err.Error())
	}
	if nd.Op == ir.OpIconst {
		nd.Imm = ir.CanonImm(nd.Type, nd.Imm)
	}
	h := g.hash(nd.Op, nd.Type, nd.Imm, nd.Args)
	if n, ok := g.lookup(h, nd.Op, nd.Type, nd.Imm, nd.Args); ok {
		return g.ClassOf(n), n, false
	}
	args := make([]ClassID, len(nd.Args))
	for i, a := range nd.Args {
		args[i] = g.uf.find(a)
	}
	id := nodeID(len(g.nodes))
	c := g.uf.add()
	g.nodes = append(g.nodes, Node{Op: nd.Op, Type: nd.Type, Imm: nd.Imm, Args: args})
	g.home = append(g.home, c)
	g.cls = append(g.cls, class{typ: nd.Type, nodes: []NodeID{id}})
	for i, a := range args {
		// don't record a node twice as
		// the parent of (x op x)
		if i > 0 && args[0] == a {
			continue
		}
		g.cls[a].parents = append(g.cls[a].parents, id)
	}
	g.memo[h] = append(g.memo[h], id)
	g.dirty.Set(uint(c))
	return c, id, true
}

// Union merges the classes of a and b. It returns
// the canonical ID of the merged class and whether
// the classes were distinct. Union panics if the
// classes have different types.
//
// The merged class and the classes of every node
// that uses either class as an operand are
// marked dirty. Call Rebuild before relying on
// congruence after one or more unions.
func (g *Graph) Union(a, b ClassID) (ClassID, bool) {
	a, b = g.uf.find(a), g.uf.find(b)
	if a == b {
		return a, false
	}
	if g.cls[a].typ != g.cls[b].typ {
		panic(fmt.Sprintf("egraph: union of %s class %d with %s class %d",
			g.cls[a].typ, a, g.cls[b].typ, b))
	}
	root, gone := g.uf.union(a, b)
	g.unions++
	rc, gc := &g.cls[root], &g.cls[gone]
	rc.nodes = mergeSorted(rc.nodes, gc.nodes)
	rc.parents = append(rc.parents, gc.parents...)
	*gc = class{}
	g.pending = append(g.pending, root)
	g.dirty.Set(uint(root))
	for _, p := range rc.parents {
		g.dirty.Set(uint(g.ClassOf(p)))
	}
	return root, true
}

func mergeSorted(a, b []NodeID) []NodeID {
	out := make([]NodeID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// Rebuild restores congruence closure: any two nodes
// with the same op, type, immediate and operand classes
// end up in the same class. It returns the number of
// unions performed.
func (g *Graph) Rebuild() int {
	merged := 0
	for len(g.pending) > 0 {
		todo := g.pending
		g.pending = nil
		for _, c := range todo {
			if g.uf.find(c) != c {
				// absorbed again after being queued;
				// the new root is queued as well
				continue
			}
			parents := g.cls[c].parents
			// drop duplicate parent entries as we go
			seen := make(map[NodeID]struct{}, len(parents))
			kept := parents[:0]
			for _, p := range parents {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				kept = append(kept, p)
			}
			g.cls[c].parents = kept
			for _, p := range append([]NodeID(nil), kept...) {
				if g.repair(p) {
					merged++
				}
			}
		}
	}
	return merged
}

// repair re-registers p under its current canonical
// form and unions it with any congruent node.
func (g *Graph) repair(p NodeID) bool {
	nd := &g.nodes[p]
	h := g.hash(nd.Op, nd.Type, nd.Imm, nd.Args)
	found := false
	merged := false
	for _, q := range g.memo[h] {
		if q == p {
			found = true
			continue
		}
		if !g.congruent(q, nd.Op, nd.Type, nd.Imm, nd.Args) {
			continue
		}
		if _, ok := g.Union(g.home[q], g.home[p]); ok {
			merged = true
		}
	}
	if !found {
		g.memo[h] = append(g.memo[h], p)
	}
	return merged
}

// TakeDirty returns the canonical IDs of every
// class marked dirty since the last call,
// in ascending order, and clears the dirty set.
func (g *Graph) TakeDirty() []ClassID {
	var out []ClassID
	for i, ok := g.dirty.NextSet(0); ok; i, ok = g.dirty.NextSet(i + 1) {
		out = append(out, g.uf.find(ClassID(i)))
	}
	g.dirty.ClearAll()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return dedup(out)
}

// SpreadDirty marks dirty the classes of every
// node up to levels operand edges above a dirty
// class. A pattern n operators tall that matches
// above a changed class is rooted at most n-1
// levels above it.
func (g *Graph) SpreadDirty(levels int) {
	var front, next []ClassID
	for i, ok := g.dirty.NextSet(0); ok; i, ok = g.dirty.NextSet(i + 1) {
		front = append(front, g.uf.find(ClassID(i)))
	}
	for ; levels > 0 && len(front) > 0; levels-- {
		next = next[:0]
		for _, c := range front {
			for _, p := range g.cls[c].parents {
				pc := g.ClassOf(p)
				if !g.dirty.Test(uint(pc)) {
					g.dirty.Set(uint(pc))
					next = append(next, pc)
				}
			}
		}
		front, next = next, front
	}
}

// Dirty returns the number of classes marked dirty.
func (g *Graph) Dirty() int { return int(g.dirty.Count()) }

func dedup(s []ClassID) []ClassID {
	if len(s) < 2 {
		return s
	}
	j := 1
	for i := 1; i < len(s); i++ {
		if s[i] != s[j-1] {
			s[j] = s[i]
			j++
		}
	}
	return s[:j]
}

// FromFunc returns a graph containing every node
// of fn and the classes of the roots of fn.
func FromFunc(fn *ir.Func) (*Graph, []ClassID) {
	g := New()
	vals := make([]ClassID, len(fn.Nodes))
	args := make([]ClassID, 0, 2)
	for i := range fn.Nodes {
		n := &fn.Nodes[i]
		args = args[:0]
		for _, a := range n.Args {
			args = append(args, vals[a])
		}
		c, _, _ := g.Add(Node{Op: n.Op, Type: n.Type, Imm: n.Imm, Args: args})
		vals[i] = c
	}
	roots := make([]ClassID, len(fn.Roots))
	for i, r := range fn.Roots {
		roots[i] = vals[r]
	}
	return g, roots
}

// Dump writes a human-readable listing of
// every class and its members to w.
func (g *Graph) Dump(w io.Writer) error {
	for _, c := range g.Classes() {
		if _, err := fmt.Fprintf(w, "c%d %s:\n", c, g.Type(c)); err != nil {
			return err
		}
		for _, n := range g.Members(c) {
			nd := &g.nodes[n]
			line := fmt.Sprintf("  n%d = %s", n, nd.Op)
			if nd.Op.Imm() != ir.ImmNone {
				line += fmt.Sprintf(" #%d", int64(nd.Imm))
			}
			for i := range nd.Args {
				line += fmt.Sprintf(" c%d", g.Arg(n, i))
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
