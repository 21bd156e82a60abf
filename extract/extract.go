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

// Package extract chooses one representative
// node for each class of an e-graph by cost
// and rebuilds an ir.Func from the choices.
package extract

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/SnellerInc/midend/egraph"
	"github.com/SnellerInc/midend/ir"
	"github.com/dchest/siphash"
)

const infinite = math.MaxInt64

// fixed siphash key for structural tie-breaking
const (
	k0 = 0x6d69646578747261
	k1 = 0x6374726570726573
)

func add(a, b int64) int64 {
	if a > infinite-b {
		return infinite
	}
	return a + b
}

// Costs records the result of extraction.
type Costs struct {
	g    *egraph.Graph
	cost []int64
	key  []uint64
	best []egraph.NodeID
}

// Class returns the cost of the representative
// of class c: the cost of its node plus the
// costs of the representatives of its operands.
func (c *Costs) Class(id egraph.ClassID) int64 {
	return c.cost[c.g.Find(id)]
}

// Best returns the representative node of class id.
func (c *Costs) Best(id egraph.ClassID) egraph.NodeID {
	return c.best[c.g.Find(id)]
}

func nodeCost(cm CostModel, nd *egraph.Node) int64 {
	c := cm.Cost(nd.Op, nd.Type)
	if c < 1 {
		c = 1
	}
	return c
}

// Extract picks the cheapest node of every class
// reachable from roots and returns the Func they
// form. Ties are broken by a hash of the structure
// of the extracted term, so the result does not
// depend on the order in which nodes were added.
func Extract(g *egraph.Graph, roots []egraph.ClassID, cm CostModel) (*ir.Func, *Costs) {
	n := g.NumNodes()
	c := &Costs{
		g:    g,
		cost: make([]int64, n),
		key:  make([]uint64, n),
		best: make([]egraph.NodeID, n),
	}
	for i := range c.cost {
		c.cost[i] = infinite
	}
	classes := g.Classes()

	// least fixpoint of the class costs
	for changed := true; changed; {
		changed = false
		for _, id := range classes {
			for _, m := range g.Members(id) {
				nd := g.Node(m)
				total := nodeCost(cm, nd)
				for i := range nd.Args {
					total = add(total, c.cost[g.Arg(m, i)])
				}
				if total < c.cost[id] {
					c.cost[id] = total
					changed = true
				}
			}
		}
	}

	// operands of a cheapest node are strictly
	// cheaper than its class, so visiting classes
	// by cost sees every operand key before it is used
	q := queue{cost: c.cost}
	q.init(classes)
	var buf []byte
	for q.len() > 0 {
		id := q.pop()
		first := true
		for _, m := range g.Members(id) {
			nd := g.Node(m)
			total := nodeCost(cm, nd)
			for i := range nd.Args {
				total = add(total, c.cost[g.Arg(m, i)])
			}
			if total != c.cost[id] {
				continue
			}
			buf = buf[:0]
			buf = append(buf, byte(nd.Op), byte(nd.Type))
			buf = binary.LittleEndian.AppendUint64(buf, nd.Imm)
			for i := range nd.Args {
				buf = binary.LittleEndian.AppendUint64(buf, c.key[g.Arg(m, i)])
			}
			k := siphash.Hash(k0, k1, buf)
			if first || k < c.key[id] {
				c.key[id], c.best[id] = k, m
				first = false
			}
		}
	}

	b := ir.NewBuilder("")
	memo := make(map[egraph.ClassID]ir.Value)
	var emit func(id egraph.ClassID) ir.Value
	emit = func(id egraph.ClassID) ir.Value {
		id = g.Find(id)
		if v, ok := memo[id]; ok {
			return v
		}
		m := c.best[id]
		nd := g.Node(m)
		var args [2]ir.Value
		for i := range nd.Args {
			args[i] = emit(g.Arg(m, i))
		}
		v, err := b.Make(nd.Op, nd.Type, nd.Imm, args[:len(nd.Args)]...)
		if err != nil {
			panic(fmt.Sprintf("extract: class %d: %s", id, err))
		}
		memo[id] = v
		return v
	}
	for _, r := range roots {
		b.Root(emit(r))
	}
	return b.Func(), c
}

// TreeCost returns, for every node of fn, the
// cost of the expression tree rooted at it,
// counting shared operands once per use. This is
// the measure Extract minimizes for each class.
func TreeCost(fn *ir.Func, cm CostModel) []int64 {
	out := make([]int64, len(fn.Nodes))
	for i := range fn.Nodes {
		n := &fn.Nodes[i]
		c := cm.Cost(n.Op, n.Type)
		if c < 1 {
			c = 1
		}
		for _, a := range n.Args {
			c = add(c, out[a])
		}
		out[i] = c
	}
	return out
}

// FuncCost returns the total cost of the
// nodes of fn reachable from its roots,
// counting each node once.
func FuncCost(fn *ir.Func, cm CostModel) int64 {
	seen := make([]bool, len(fn.Nodes))
	var total int64
	var walk func(v ir.Value)
	walk = func(v ir.Value) {
		if seen[v] {
			return
		}
		seen[v] = true
		n := &fn.Nodes[v]
		c := cm.Cost(n.Op, n.Type)
		if c < 1 {
			c = 1
		}
		total = add(total, c)
		for _, a := range n.Args {
			walk(a)
		}
	}
	for _, r := range fn.Roots {
		walk(r)
	}
	return total
}
