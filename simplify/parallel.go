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
	"fmt"

	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/rewrite"
	"github.com/SnellerInc/midend/ruleset"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/SnellerInc/midend/simplify")

// SimplifyAll simplifies independent Funcs in
// parallel, at most cfg.Parallel at a time. The
// results are in the order of fns and share a RunID.
//
// Cancellation of ctx is observed between Funcs;
// a Func that has started runs to completion.
// The first error cancels the remaining work.
func SimplifyAll(ctx context.Context, prog *ruleset.Program, fns []*ir.Func, cfg *Config) ([]*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	run := uuid.New().String()
	ctx, span := tracer.Start(ctx, "SimplifyAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", run),
		attribute.Int("funcs", len(fns)),
		attribute.String("rules.fingerprint", prog.Fingerprint()),
	)

	out := make([]*Result, len(fns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallel())
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, span := tracer.Start(gctx, "Simplify")
			defer span.End()
			span.SetAttributes(attribute.String("func", fn.Name))
			res, err := simplify(prog, fn, cfg, run)
			if err != nil {
				span.RecordError(err)
				return err
			}
			span.SetAttributes(
				attribute.Int("iterations", res.Iterations),
				attribute.Int("rewrites", res.Stats.Rewrites),
				attribute.Bool("saturated", res.Saturated),
			)
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("run %s: %w", run, err)
	}

	var total rewrite.Stats
	var before, after int64
	for _, r := range out {
		total.Add(&r.Stats)
		before += r.Before
		after += r.After
	}
	cfg.logf("run %s: %d funcs, %d rewrites, cost %d -> %d", run, len(fns), total.Rewrites, before, after)
	return out, nil
}
