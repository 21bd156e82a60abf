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

package simplify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/SnellerInc/midend/corpus"
	"github.com/SnellerInc/midend/extract"
	"github.com/SnellerInc/midend/interp"
	"github.com/SnellerInc/midend/ir"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testLogger struct {
	lock  sync.Mutex
	lines []string
}

func (t *testLogger) Printf(f string, args ...interface{}) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(f, args...))
}

func (t *testLogger) has(prefix string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, l := range t.lines {
		if strings.Contains(l, prefix) {
			return true
		}
	}
	return false
}

func testConfig() *Config {
	c := DefaultConfig()
	c.VectorWeight = 2
	return c
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		name, in, out string
	}{
		{
			name: "splat-iadd",
			in:   `(iadd i32x4 (splat i32x4 (param i32 0)) (splat i32x4 (param i32 1)))`,
			out:  `(splat i32x4 (iadd i32 (param i32 0) (param i32 1)))`,
		},
		{
			name: "splat-rotl-scalar-amount",
			in:   `(rotl i32x4 (splat i32x4 (param i32 0)) (param i64 1))`,
			out:  `(splat i32x4 (rotl i32 (param i32 0) (param i64 1)))`,
		},
		{
			name: "splat-fcvt",
			in:   `(fcvt_from_uint f32x4 (splat i32x4 (param i32 0)))`,
			out:  `(splat f32x4 (fcvt_from_uint f32 (param i32 0)))`,
		},
		{
			name: "strength-reduction",
			in:   `(imul i32 (param i32 0) (iconst i32 8))`,
			out:  `(ishl i32 (param i32 0) (iconst i32 3))`,
		},
		{
			name: "commute-then-reduce",
			in:   `(imul i32 (iconst i32 8) (param i32 0))`,
			out:  `(ishl i32 (param i32 0) (iconst i32 3))`,
		},
		{
			name: "vector-strength-reduction",
			in:   `(imul i32x4 (param i32x4 0) (splat i32x4 (iconst i32 4)))`,
			out:  `(ishl i32x4 (param i32x4 0) (iconst i32 2))`,
		},
		{
			// the zero appears two levels below the
			// iadd only after the isub is rewritten
			name: "late-zero-operand",
			in:   `(iadd i32x4 (param i32x4 0) (splat i32x4 (isub i32 (param i32 1) (param i32 1))))`,
			out:  `(param i32x4 0)`,
		},
		{
			name: "self-sub",
			in:   `(isub i64 (param i64 0) (param i64 0))`,
			out:  `(iconst i64 0)`,
		},
		{
			name: "double-neg",
			in:   `(ineg i16 (ineg i16 (param i16 0)))`,
			out:  `(param i16 0)`,
		},
		{
			name: "add-neg",
			in:   `(iadd i32 (param i32 0) (ineg i32 (param i32 1)))`,
			out:  `(isub i32 (param i32 0) (param i32 1))`,
		},
		{
			name: "vector-zero",
			in:   `(iadd i32x4 (param i32x4 0) (splat i32x4 (iconst i32 0)))`,
			out:  `(param i32x4 0)`,
		},
		{
			name: "nested",
			in:   `(isub i32x4 (splat i32x4 (iadd i32 (param i32 0) (iconst i32 0))) (splat i32x4 (param i32 1)))`,
			out:  `(splat i32x4 (isub i32 (param i32 0) (param i32 1)))`,
		},
		{
			name: "unchanged",
			in:   `(iadd i32 (param i32 0) (param i32 1))`,
			out:  `(iadd i32 (param i32 0) (param i32 1))`,
		},
		{
			name: "multiple-roots",
			in: `(iadd i32x4 (splat i32x4 (param i32 0)) (splat i32x4 (param i32 1)))
(ineg i32 (ineg i32 (param i32 0)))`,
			out: `(splat i32x4 (iadd i32 (param i32 0) (param i32 1)))
(param i32 0)`,
		},
	}
	prog := corpus.Default()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fn := ir.MustParse(tc.name, tc.in)
			res, err := Simplify(prog, fn, testConfig())
			require.NoError(t, err)
			assert.Equal(t, tc.out, res.Func.String())
			assert.Equal(t, tc.name, res.Func.Name)
			assert.True(t, res.Saturated)
			assert.LessOrEqual(t, res.After, res.Before)
			assert.NotEmpty(t, res.RunID)
			require.NoError(t, res.Func.Validate())

			// a second run finds nothing better
			again, err := Simplify(prog, res.Func, testConfig())
			require.NoError(t, err)
			assert.Equal(t, res.Func.String(), again.Func.String())
		})
	}
}

func TestOrderIndependent(t *testing.T) {
	prog := corpus.Default()
	for _, text := range []string{
		`(iadd i32 (iconst i32 5) (param i32 0))`,
		`(imul i32 (iconst i32 8) (iadd i32 (iconst i32 5) (param i32 0)))`,
		`(band i32x4 (splat i32x4 (bxor i32 (param i32 0) (param i32 0))) (splat i32x4 (param i32 1)))`,
	} {
		fn := ir.MustParse("f", text)
		fwd := testConfig()
		rev := testConfig()
		rev.Order = Reverse
		a, err := Simplify(prog, fn, fwd)
		require.NoError(t, err)
		b, err := Simplify(prog, fn, rev)
		require.NoError(t, err)
		assert.Equal(t, a.Func.String(), b.Func.String(), "simplifying %s", text)
	}
}

func TestIdempotent(t *testing.T) {
	prog := corpus.Default()
	for _, seed := range []int64{1041, 1591, 1800, 1966} {
		fn := randomFunc(seed)
		a, err := Simplify(prog, fn, testConfig())
		require.NoError(t, err)
		if !a.Saturated {
			continue
		}
		b, err := Simplify(prog, a.Func, testConfig())
		require.NoError(t, err)
		assert.Equal(t, a.Func.String(), b.Func.String(), "seed %d: %s", seed, fn)
	}
}

func TestBudgets(t *testing.T) {
	prog := corpus.Default()
	fn := ir.MustParse("f", `(imul i32 (iconst i32 8) (param i32 0))`)

	var log testLogger
	cfg := testConfig()
	cfg.MaxIterations = 1
	cfg.Logger = &log
	res, err := Simplify(prog, fn, cfg)
	require.NoError(t, err)
	assert.False(t, res.Saturated)
	assert.Equal(t, 1, res.Iterations)
	assert.True(t, log.has("stopped after"))
	require.NoError(t, res.Func.Validate())

	log = testLogger{}
	cfg = testConfig()
	cfg.MaxRewrites = 1
	cfg.Logger = &log
	res, err = Simplify(prog, fn, cfg)
	require.NoError(t, err)
	assert.False(t, res.Saturated)
	assert.Equal(t, 1, res.Stats.Rewrites)
	assert.True(t, log.has("rewrite budget"))

	log = testLogger{}
	cfg = testConfig()
	cfg.MaxNodes = 1
	cfg.Logger = &log
	res, err = Simplify(prog, fn, cfg)
	require.NoError(t, err)
	assert.False(t, res.Saturated)
	assert.Equal(t, fn.String(), res.Func.String())
	assert.True(t, log.has("node budget"))
}

func TestInvalidFunc(t *testing.T) {
	fn := &ir.Func{
		Name:  "bad",
		Nodes: []ir.Node{{Op: ir.OpIadd, Type: ir.I32, Args: []ir.Value{0, 0}}},
		Roots: []ir.Value{0},
	}
	_, err := Simplify(corpus.Default(), fn, nil)
	assert.Error(t, err)
}

func TestSimplifyAll(t *testing.T) {
	prog := corpus.Default()
	var fns []*ir.Func
	for i, text := range []string{
		`(iadd i32x4 (splat i32x4 (param i32 0)) (splat i32x4 (param i32 1)))`,
		`(isub i64 (param i64 0) (param i64 0))`,
		`(imul i32 (iconst i32 8) (param i32 0))`,
		`(fneg f64 (fneg f64 (param f64 0)))`,
	} {
		fns = append(fns, ir.MustParse(string(rune('a'+i)), text))
	}
	var log testLogger
	cfg := testConfig()
	cfg.Parallel = 2
	cfg.Logger = &log
	res, err := SimplifyAll(context.Background(), prog, fns, cfg)
	require.NoError(t, err)
	require.Len(t, res, len(fns))
	for i := range res {
		assert.Equal(t, fns[i].Name, res[i].Func.Name)
		assert.Equal(t, res[0].RunID, res[i].RunID)
		single, err := Simplify(prog, fns[i], testConfig())
		require.NoError(t, err)
		assert.Equal(t, single.Func.String(), res[i].Func.String())
	}
	assert.True(t, log.has("funcs"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = SimplifyAll(ctx, prog, fns, cfg)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, text string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(text), 0o644))
		return p
	}

	c, err := LoadConfig(write("a.yaml", `
max_iterations: 10
order: reverse
costs:
  imul: 7
vector_weight: 3
`))
	require.NoError(t, err)
	assert.Equal(t, 10, c.MaxIterations)
	assert.Equal(t, DefaultConfig().MaxRewrites, c.MaxRewrites)
	assert.Equal(t, Reverse, c.Order)
	cm, err := c.CostModel()
	require.NoError(t, err)
	assert.Equal(t, int64(7), cm.Cost(ir.OpImul, ir.I32))
	assert.Equal(t, int64(21), cm.Cost(ir.OpImul, ir.I32X4))

	c, err = LoadConfig(write("b.toml", `
max_rewrites = 100
parallel = 3
order = "forward"

[costs]
fdiv = 20
`))
	require.NoError(t, err)
	assert.Equal(t, 100, c.MaxRewrites)
	assert.Equal(t, 3, c.Parallel)
	assert.Equal(t, Forward, c.Order)
	assert.Equal(t, int64(20), c.Costs["fdiv"])

	bad := []string{
		write("c.yaml", "max_iteration: 3\n"),
		write("d.toml", "bogus = 1\n"),
		write("e.yaml", "costs:\n  nope: 3\n"),
		write("f.yaml", "order: sideways\n"),
		write("g.yaml", "max_nodes: 0\n"),
		write("h.ini", "x=1\n"),
	}
	for _, p := range bad {
		_, err := LoadConfig(p)
		assert.Error(t, err, "loading %s", filepath.Base(p))
	}
	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// termGen builds random well-typed integer terms
type termGen struct {
	rnd *rand.Rand
	b   *ir.Builder
}

var (
	paramTypes = []ir.Type{ir.I32, ir.I32X4, ir.I64}
	intOps     = []ir.Op{ir.OpIadd, ir.OpIsub, ir.OpImul, ir.OpBand, ir.OpBor, ir.OpBxor, ir.OpSmin, ir.OpUmax, ir.OpIneg, ir.OpBnot, ir.OpIshl, ir.OpRotl}
	constants  = []int64{0, 1, -1, 2, 4, 8, 5}
)

func (g *termGen) leaf(ty ir.Type) ir.Value {
	switch {
	case ty.IsScalar() && g.rnd.Intn(2) == 0:
		return g.b.Iconst(ty, constants[g.rnd.Intn(len(constants))])
	case ty.IsVector() && g.rnd.Intn(2) == 0:
		return g.b.Unary(ir.OpSplat, ty, g.leaf(ty.Lane()))
	}
	for i, pt := range paramTypes {
		if pt == ty {
			return g.b.Param(ty, 2*i+g.rnd.Intn(2))
		}
	}
	panic("no param of type " + ty.String())
}

func (g *termGen) term(ty ir.Type, depth int) ir.Value {
	if depth == 0 || g.rnd.Intn(5) == 0 {
		return g.leaf(ty)
	}
	if ty.IsVector() && g.rnd.Intn(3) == 0 {
		return g.b.Unary(ir.OpSplat, ty, g.term(ty.Lane(), depth-1))
	}
	op := intOps[g.rnd.Intn(len(intOps))]
	switch op.Arity() {
	case 1:
		return g.b.Unary(op, ty, g.term(ty, depth-1))
	}
	x := g.term(ty, depth-1)
	if _, exact := op.ArgType(1, ty); !exact {
		return g.b.Binary(op, ty, x, g.term(ir.I64, depth-1))
	}
	return g.b.Binary(op, ty, x, g.term(ty, depth-1))
}

func randomFunc(seed int64) *ir.Func {
	g := &termGen{rnd: rand.New(rand.NewSource(seed)), b: ir.NewBuilder("random")}
	g.b.Root(g.term(paramTypes[g.rnd.Intn(2)], 4))
	return g.b.Func()
}

func randomParams(rnd *rand.Rand) []interp.Value {
	var out []interp.Value
	for _, ty := range paramTypes {
		for i := 0; i < 2; i++ {
			lanes := make([]uint64, ty.Lanes())
			for j := range lanes {
				lanes[j] = rnd.Uint64()
			}
			out = append(out, interp.Make(ty, lanes...))
		}
	}
	return out
}

func TestProperties(t *testing.T) {
	prog := corpus.Default()
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60
	properties := gopter.NewProperties(params)

	properties.Property("simplification preserves meaning", prop.ForAll(
		func(seed int64) bool {
			fn := randomFunc(seed)
			res, err := Simplify(prog, fn, testConfig())
			if err != nil {
				return false
			}
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 4; i++ {
				args := randomParams(rnd)
				want, err := interp.Eval(fn, args)
				if err != nil {
					return false
				}
				got, err := interp.Eval(res.Func, args)
				if err != nil || !got[0].Equal(want[0]) {
					t.Logf("%s => %s: got %v want %v", fn, res.Func, got, want)
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("worklist order does not matter", prop.ForAll(
		func(seed int64) bool {
			fn := randomFunc(seed)
			rev := testConfig()
			rev.Order = Reverse
			a, err1 := Simplify(prog, fn, testConfig())
			b, err2 := Simplify(prog, fn, rev)
			if err1 != nil || err2 != nil {
				return false
			}
			if a.Saturated != b.Saturated {
				return false
			}
			return !a.Saturated || a.Func.String() == b.Func.String()
		},
		gen.Int64(),
	))

	properties.Property("simplification is idempotent", prop.ForAll(
		func(seed int64) bool {
			fn := randomFunc(seed)
			a, err := Simplify(prog, fn, testConfig())
			if err != nil {
				return false
			}
			if !a.Saturated {
				return true
			}
			b, err := Simplify(prog, a.Func, testConfig())
			if err != nil {
				return false
			}
			if b.Saturated && b.Func.String() != a.Func.String() {
				t.Logf("%s => %s => %s", fn, a.Func, b.Func)
				return false
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("cost never increases", prop.ForAll(
		func(seed int64) bool {
			fn := randomFunc(seed)
			cfg := testConfig()
			res, err := Simplify(prog, fn, cfg)
			if err != nil {
				return false
			}
			cm, _ := cfg.CostModel()
			before := extract.TreeCost(fn, cm)
			after := extract.TreeCost(res.Func, cm)
			return after[res.Func.Roots[0]] <= before[fn.Roots[0]]
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
