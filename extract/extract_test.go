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

package extract

import (
	"testing"

	"github.com/SnellerInc/midend/egraph"
	"github.com/SnellerInc/midend/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unitCost struct{}

func (unitCost) Cost(ir.Op, ir.Type) int64 { return 1 }

func TestExtractCheaper(t *testing.T) {
	fn := ir.MustParse("f", `(param i32 0)
(param i32 1)
(iadd i32x4 (splat i32x4 (param i32 0)) (splat i32x4 (param i32 1)))`)
	g, roots := egraph.FromFunc(fn)
	x, y, r := roots[0], roots[1], roots[2]
	sum, _, _ := g.Add(egraph.Node{Op: ir.OpIadd, Type: ir.I32, Args: []egraph.ClassID{x, y}})
	lifted, _, _ := g.Add(egraph.Node{Op: ir.OpSplat, Type: ir.I32X4, Args: []egraph.ClassID{sum}})
	_, changed := g.Union(r, lifted)
	require.True(t, changed)
	g.Rebuild()

	out, costs := Extract(g, []egraph.ClassID{r}, unitCost{})
	assert.Equal(t, "(splat i32x4 (iadd i32 (param i32 0) (param i32 1)))", out.String())
	assert.Equal(t, int64(4), costs.Class(r))
	assert.Equal(t, int64(1), costs.Class(x))
	require.NoError(t, out.Validate())

	tc := TreeCost(fn, unitCost{})
	assert.Equal(t, int64(5), tc[fn.Roots[2]])
	assert.LessOrEqual(t, costs.Class(r), tc[fn.Roots[2]])
}

func TestTieBreak(t *testing.T) {
	a := "(iadd i32 (param i32 0) (iconst i32 3))"
	b := "(iadd i32 (iconst i32 3) (param i32 0))"
	extract := func(first, second string) string {
		g, roots := egraph.FromFunc(ir.MustParse("f", first))
		g2, _ := egraph.FromFunc(ir.MustParse("g", second))
		// copy the other form into g
		var copyClass func(c egraph.ClassID) egraph.ClassID
		copyClass = func(c egraph.ClassID) egraph.ClassID {
			n := g2.Node(g2.Members(c)[0])
			nd := egraph.Node{Op: n.Op, Type: n.Type, Imm: n.Imm}
			for i := range n.Args {
				nd.Args = append(nd.Args, copyClass(g2.Arg(g2.Members(c)[0], i)))
			}
			id, _, _ := g.Add(nd)
			return id
		}
		other := copyClass(g2.Classes()[len(g2.Classes())-1])
		g.Union(roots[0], other)
		g.Rebuild()
		out, _ := Extract(g, roots, DefaultCosts())
		return out.String()
	}
	x := extract(a, b)
	y := extract(b, a)
	assert.Equal(t, x, y)
	assert.Contains(t, []string{a, b}, x)
}

func TestSharedOperands(t *testing.T) {
	fn := ir.MustParse("f", `(imul i64 (iadd i64 (param i64 0) (param i64 1)) (iadd i64 (param i64 0) (param i64 1)))`)
	g, roots := egraph.FromFunc(fn)
	out, costs := Extract(g, roots, unitCost{})
	assert.Equal(t, fn.String(), out.String())
	// tree cost counts the shared operand twice
	assert.Equal(t, int64(7), costs.Class(roots[0]))
	assert.Equal(t, int64(4), FuncCost(out, unitCost{}))
	assert.Equal(t, 4, out.Live())
}

func TestTable(t *testing.T) {
	tab := &Table{VectorWeight: 3}
	tab.Base[ir.OpFdiv] = 8
	assert.Equal(t, int64(8), tab.Cost(ir.OpFdiv, ir.F64))
	assert.Equal(t, int64(24), tab.Cost(ir.OpFdiv, ir.F64X2))
	// unset entries cost at least 1
	assert.Equal(t, int64(1), tab.Cost(ir.OpIadd, ir.I32))
	require.NoError(t, tab.Set("iadd", 5))
	assert.Equal(t, int64(5), tab.Cost(ir.OpIadd, ir.I32))
	assert.Error(t, tab.Set("iaddd", 5))
	assert.Error(t, tab.Set("iadd", 0))

	d := DefaultCosts()
	for op := ir.Op(1); int(op) < ir.NumOps; op++ {
		assert.Equal(t, int64(op.Cost()), d.Base[op], "op %s", op)
	}
}

func TestVectorWeightEnv(t *testing.T) {
	t.Setenv(vectorWeightEnvVar, "5")
	assert.Equal(t, int64(5), DefaultVectorWeight())
	assert.Equal(t, int64(5), DefaultCosts().VectorWeight)
	t.Setenv(vectorWeightEnvVar, "bogus")
	assert.Equal(t, vectorWeightFromCPUFeatures(), DefaultVectorWeight())
}

func TestQueue(t *testing.T) {
	cost := []int64{5, 3, 9, 1, 3, 7, 2, 8}
	ids := make([]egraph.ClassID, len(cost))
	for i := range ids {
		ids[i] = egraph.ClassID(i)
	}
	q := queue{cost: cost}
	q.init(ids)
	var got []int64
	for q.len() > 0 {
		got = append(got, cost[q.pop()])
	}
	assert.Equal(t, []int64{1, 2, 3, 3, 5, 7, 8, 9}, got)
}
