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

// Command rulec checks and compiles rewrite rule
// corpora and runs the simplifier over IR files.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/SnellerInc/midend/corpus"
	"github.com/SnellerInc/midend/ruleset"
	"github.com/logrusorgru/aurora/v4"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// env is the state shared by the subcommands
type env struct {
	color   string
	verbose bool
	au      *aurora.Aurora
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (e *env) setup(cmd *cobra.Command) error {
	var on bool
	switch e.color {
	case "auto":
		on = isTerminal(cmd.OutOrStdout())
	case "on":
		on = true
	case "off":
	default:
		return fmt.Errorf("bad --color %q (want auto, on or off)", e.color)
	}
	e.au = aurora.New(aurora.WithColors(on))
	return nil
}

func (e *env) logf(cmd *cobra.Command, f string, args ...interface{}) {
	if !e.verbose {
		return
	}
	if !strings.HasSuffix(f, "\n") {
		f += "\n"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), f, args...)
}

// stderr returns a simplify.Logger for cmd
func (e *env) stderr(cmd *cobra.Command) *logger {
	return &logger{w: cmd.ErrOrStderr(), au: e.au}
}

type logger struct {
	w  io.Writer
	au *aurora.Aurora
}

func (l *logger) Printf(f string, args ...interface{}) {
	fmt.Fprintln(l.w, l.au.Yellow(fmt.Sprintf(f, args...)))
}

// readSources reads rule files; no paths
// means the built-in corpus
func readSources(paths []string) ([]ruleset.Source, error) {
	if len(paths) == 0 {
		return corpus.Sources(), nil
	}
	out := make([]ruleset.Source, 0, len(paths))
	for _, p := range paths {
		buf, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ruleset.Source{Name: p, Text: string(buf)})
	}
	return out, nil
}

// loadProgram compiles rule files or reads
// a single compiled artifact (any file whose
// name does not end in .rules)
func loadProgram(paths []string) (*ruleset.Program, error) {
	if len(paths) == 1 && filepath.Ext(paths[0]) != ".rules" {
		f, err := os.Open(paths[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		p, err := ruleset.ReadArtifact(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", paths[0], err)
		}
		return p, nil
	}
	if len(paths) == 0 {
		return corpus.Default(), nil
	}
	srcs, err := readSources(paths)
	if err != nil {
		return nil, err
	}
	return ruleset.Compile(srcs...)
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "rulec",
		Short:         "Rewrite rule compiler and simplifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&e.color, "color", "auto", "colorize output (auto|on|off)")
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "verbose")
	root.AddCommand(
		checkCmd(e),
		buildCmd(e),
		dumpCmd(e),
		simplifyCmd(e),
		versionCmd(),
	)
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rulec:", err)
		os.Exit(1)
	}
}
