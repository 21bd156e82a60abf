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

// Package corpus holds the built-in rewrite rules.
package corpus

import (
	"embed"
	"io/fs"
	"sync"

	"github.com/SnellerInc/midend/ruleset"
)

//go:embed *.rules
var files embed.FS

var (
	once sync.Once
	prog *ruleset.Program
)

// Sources returns the built-in rule files
// in the order of their names.
func Sources() []ruleset.Source {
	ents, err := fs.ReadDir(files, ".")
	if err != nil {
		panic(err)
	}
	out := make([]ruleset.Source, 0, len(ents))
	for _, e := range ents {
		buf, err := files.ReadFile(e.Name())
		if err != nil {
			panic(err)
		}
		out = append(out, ruleset.Source{Name: e.Name(), Text: string(buf)})
	}
	return out
}

// Default returns the compiled built-in corpus.
// It panics if the corpus does not compile.
func Default() *ruleset.Program {
	once.Do(func() {
		p, err := ruleset.Compile(Sources()...)
		if err != nil {
			panic("corpus: " + err.Error())
		}
		prog = p
	})
	return prog
}
