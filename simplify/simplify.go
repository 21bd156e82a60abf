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

// Package simplify drives the rewrite engine to a
// fixpoint over an e-graph built from an ir.Func and
// extracts the cheapest equivalent Func.
package simplify

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/midend/egraph"
	"github.com/SnellerInc/midend/extract"
	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/rewrite"
	"github.com/SnellerInc/midend/ruleset"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Result is the outcome of simplifying one Func.
type Result struct {
	// Func is the extracted Func.
	// It has the name of the input.
	Func  *ir.Func
	Stats rewrite.Stats
	// Iterations is the number of rounds run.
	Iterations int
	// Saturated is true if the run stopped
	// because no rule changed the graph,
	// rather than because a budget ran out.
	Saturated bool
	// Before and After are the costs of the
	// input and output under the cost model.
	Before, After int64
	// Nodes is the final size of the graph.
	Nodes int
	// RunID identifies the run in log output.
	RunID string
}

// Simplify rewrites fn with prog until no rule
// applies or a budget in cfg is exhausted, then
// extracts the cheapest equivalent Func.
// A nil cfg means DefaultConfig().
func Simplify(prog *ruleset.Program, fn *ir.Func, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return simplify(prog, fn, cfg, uuid.New().String())
}

func simplify(prog *ruleset.Program, fn *ir.Func, cfg *Config, run string) (*Result, error) {
	if err := fn.Validate(); err != nil {
		return nil, err
	}
	cm, err := cfg.CostModel()
	if err != nil {
		return nil, err
	}
	g, roots := egraph.FromFunc(fn)
	eng := rewrite.New(prog, g)
	res := &Result{RunID: run, Before: extract.FuncCost(fn, cm)}

	var matches []rewrite.Match
	rewrites := 0
	stop := false
	work := g.TakeDirty()
	for len(work) > 0 && !stop {
		if res.Iterations >= cfg.MaxIterations {
			cfg.logf("simplify %s [%s]: stopped after %d iterations", fn.Name, run, res.Iterations)
			break
		}
		res.Iterations++
		if cfg.Order == Reverse {
			slices.Reverse(work)
		}
		matches = matches[:0]
		for _, c := range work {
			for _, n := range g.Members(c) {
				matches = append(matches, eng.Match(n)...)
			}
		}
		for i := range matches {
			if rewrites >= cfg.MaxRewrites {
				cfg.logf("simplify %s [%s]: rewrite budget %d exhausted", fn.Name, run, cfg.MaxRewrites)
				stop = true
				break
			}
			if g.NumNodes() >= cfg.MaxNodes {
				cfg.logf("simplify %s [%s]: node budget %d exhausted", fn.Name, run, cfg.MaxNodes)
				stop = true
				break
			}
			changed, err := eng.Apply(&matches[i])
			if err != nil {
				if errors.Is(err, rewrite.ErrNotApplicable) {
					continue
				}
				return nil, fmt.Errorf("%s: %w", fn.Name, err)
			}
			if changed {
				rewrites++
			}
		}
		g.Rebuild()
		g.SpreadDirty(prog.Depth() - 1)
		work = g.TakeDirty()
	}
	res.Saturated = !stop && len(work) == 0

	out, _ := extract.Extract(g, roots, cm)
	out.Name = fn.Name
	res.Func = out
	res.After = extract.FuncCost(out, cm)
	res.Stats = eng.Stats()
	res.Nodes = g.NumNodes()
	return res, nil
}
