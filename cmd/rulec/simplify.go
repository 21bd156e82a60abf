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

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/simplify"
	"github.com/spf13/cobra"
)

// binary IR snapshots are recognized by extension
func isSnapshot(path string) bool {
	switch filepath.Ext(path) {
	case ".msgpack", ".irb":
		return true
	}
	return false
}

func readFuncs(path string, stdin io.Reader) ([]*ir.Func, error) {
	var r io.Reader
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if path == "-" {
		r, name = stdin, "stdin"
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	if isSnapshot(path) {
		return ir.DecodeFuncs(r)
	}
	fn, err := ir.ParseFunc(name, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := fn.Validate(); err != nil {
		return nil, err
	}
	return []*ir.Func{fn}, nil
}

func simplifyCmd(e *env) *cobra.Command {
	var (
		rules   []string
		config  string
		output  string
		reverse bool
		stats   bool
	)
	cmd := &cobra.Command{
		Use:   "simplify [-r rules|artifact] [-c config] file.ir...",
		Short: "Simplify IR files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadProgram(rules)
			if err != nil {
				return err
			}
			cfg := simplify.DefaultConfig()
			if config != "" {
				cfg, err = simplify.LoadConfig(config)
				if err != nil {
					return err
				}
			}
			if reverse {
				cfg.Order = simplify.Reverse
			}
			if e.verbose {
				cfg.Logger = e.stderr(cmd)
			}
			var fns []*ir.Func
			for _, p := range args {
				lst, err := readFuncs(p, cmd.InOrStdin())
				if err != nil {
					return err
				}
				fns = append(fns, lst...)
			}
			e.logf(cmd, "simplifying %d funcs with %d rules (fingerprint %s)",
				len(fns), len(prog.Rules()), prog.Fingerprint())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			res, err := simplify.SimplifyAll(ctx, prog, fns, cfg)
			if err != nil {
				return err
			}
			if output != "" {
				return writeSnapshot(output, res)
			}
			w := cmd.OutOrStdout()
			for _, r := range res {
				if stats {
					fmt.Fprintln(w, e.au.Cyan(fmt.Sprintf("; %s: cost %d -> %d, %d rewrites, %d iterations, %d nodes",
						r.Func.Name, r.Before, r.After, r.Stats.Rewrites, r.Iterations, r.Nodes)))
					if !r.Saturated {
						fmt.Fprintln(w, e.au.Yellow("; budget exhausted"))
					}
				}
				fmt.Fprintln(w, r.Func.String())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&rules, "rules", "r", nil, "rule files or one artifact (default: the built-in rules)")
	f.StringVarP(&config, "config", "c", "", "configuration file (.toml, .yaml or .json)")
	f.StringVarP(&output, "output", "o", "", "write a binary snapshot of the results")
	f.BoolVar(&reverse, "reverse", false, "process the worklist in reverse order")
	f.BoolVar(&stats, "stats", false, "print statistics for each func")
	return cmd
}

func writeSnapshot(path string, res []*simplify.Result) error {
	fns := make([]*ir.Func, len(res))
	for i := range res {
		fns[i] = res[i].Func
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ir.EncodeFuncs(f, fns); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
