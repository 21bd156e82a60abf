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

	"github.com/SnellerInc/midend/ruleset"
	"github.com/spf13/cobra"
)

func (e *env) printDiags(w io.Writer, diags []ruleset.Diagnostic) {
	for i := range diags {
		d := &diags[i]
		fmt.Fprintf(w, "%s: %s: %s\n", e.au.Bold(d.Pos), e.au.Red(d.Kind.String()), d.Msg)
		if d.Subterm != "" {
			fmt.Fprintf(w, "\tin %s\n", e.au.Cyan(d.Subterm))
		}
		if d.Rule != "" {
			fmt.Fprintf(w, "\trule %s\n", d.Rule)
		}
	}
}

// compile compiles srcs and prints any diagnostics
func (e *env) compile(cmd *cobra.Command, srcs []ruleset.Source) (*ruleset.Program, error) {
	p, err := ruleset.Compile(srcs...)
	if diags := ruleset.Diagnostics(err); len(diags) > 0 {
		e.printDiags(cmd.ErrOrStderr(), diags)
		return nil, fmt.Errorf("%d errors", len(diags))
	}
	return p, err
}

func checkCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "check [file.rules...]",
		Short: "Check rule files (default: the built-in rules)",
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := readSources(args)
			if err != nil {
				return err
			}
			p, err := e.compile(cmd, srcs)
			if err != nil {
				return err
			}
			for _, op := range p.Ops() {
				e.logf(cmd, "%s: %d rules", op, countRules(p.Group(op)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d rules, fingerprint %s\n",
				e.au.Green("ok:"), len(p.Rules()), p.Fingerprint())
			return nil
		},
	}
}

func countRules(t *ruleset.Trie) int {
	n := len(t.Rules())
	if s := t.Star(); s != nil {
		n += countRules(s)
	}
	for _, ed := range t.Edges() {
		n += countRules(ed.Next)
	}
	return n
}

func buildCmd(e *env) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build -o out [file.rules...]",
		Short: "Compile rule files into an artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := readSources(args)
			if err != nil {
				return err
			}
			p, err := e.compile(cmd, srcs)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := ruleset.WriteArtifact(f, p); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			e.logf(cmd, "wrote %d rules to %s (fingerprint %s)", len(p.Rules()), out, p.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "artifact to write")
	cmd.MarkFlagRequired("output")
	return cmd
}

func dumpCmd(e *env) *cobra.Command {
	var rules []string
	cmd := &cobra.Command{
		Use:   "dump [-r rules|artifact]",
		Short: "Print the compiled rules and match trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProgram(rules)
			if diags := ruleset.Diagnostics(err); len(diags) > 0 {
				e.printDiags(cmd.ErrOrStderr(), diags)
			}
			if err != nil {
				return err
			}
			return p.Dump(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVarP(&rules, "rules", "r", nil, "rule files or one artifact (default: the built-in rules)")
	return cmd
}
