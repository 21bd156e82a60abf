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

package ir

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/SnellerInc/midend/rules"
)

// FormatValue writes the expression
// tree rooted at v in text form.
func (f *Func) FormatValue(w *strings.Builder, v Value) {
	n := &f.Nodes[v]
	w.WriteByte('(')
	w.WriteString(n.Op.String())
	w.WriteByte(' ')
	w.WriteString(n.Type.String())
	switch n.Op.Imm() {
	case ImmInt, ImmIndex:
		w.WriteByte(' ')
		w.WriteString(strconv.FormatInt(int64(n.Imm), 10))
	case ImmFloat:
		w.WriteByte(' ')
		w.WriteString(rules.Float(math.Float64frombits(n.Imm)).String())
	}
	for _, a := range n.Args {
		w.WriteByte(' ')
		f.FormatValue(w, a)
	}
	w.WriteByte(')')
}

// String returns the text form of f:
// one expression per root, one per line.
func (f *Func) String() string {
	var w strings.Builder
	for i, r := range f.Roots {
		if i > 0 {
			w.WriteByte('\n')
		}
		f.FormatValue(&w, r)
	}
	return w.String()
}

// ParseFunc parses the text form of a Func.
// Each top-level expression becomes a root.
func ParseFunc(name string, r io.Reader) (*Func, error) {
	terms, err := rules.ParseTerms(r)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(name)
	for i := range terms {
		v, err := b.term(&terms[i])
		if err != nil {
			return nil, err
		}
		b.Root(v)
	}
	return b.Func(), nil
}

// MustParse is like ParseFunc but panics on error.
func MustParse(name, text string) *Func {
	f, err := ParseFunc(name, strings.NewReader(text))
	if err != nil {
		panic(err)
	}
	return f
}

func termErrorf(t *rules.Term, f string, args ...any) error {
	return fmt.Errorf("%s: %s", t.Location, fmt.Sprintf(f, args...))
}

func (b *Builder) term(t *rules.Term) (Value, error) {
	lst, ok := t.Value.(rules.List)
	if !ok || t.Name != "" {
		return 0, termErrorf(t, "expected an expression; found %s", t)
	}
	if len(lst) < 2 || !lst[0].IsIdent() || !lst[1].IsIdent() {
		return 0, termErrorf(t, "expected (op type ...); found %s", t)
	}
	op, ok := OpByName(lst[0].Name)
	if !ok {
		return 0, termErrorf(&lst[0], "unknown op %q", lst[0].Name)
	}
	ty, ok := TypeByName(lst[1].Name)
	if !ok {
		return 0, termErrorf(&lst[1], "unknown type %q", lst[1].Name)
	}
	rest := lst[2:]
	var imm uint64
	if op.Imm() != ImmNone {
		if len(rest) == 0 {
			return 0, termErrorf(t, "%s needs an immediate", op)
		}
		switch x := rest[0].Value.(type) {
		case rules.Int:
			if op.Imm() == ImmFloat {
				imm = math.Float64bits(float64(x))
			} else {
				imm = uint64(x)
			}
		case rules.Float:
			if op.Imm() != ImmFloat {
				return 0, termErrorf(&rest[0], "%s needs an integer immediate", op)
			}
			imm = math.Float64bits(float64(x))
		default:
			return 0, termErrorf(&rest[0], "bad immediate %s", &rest[0])
		}
		rest = rest[1:]
	}
	args := make([]Value, len(rest))
	for i := range rest {
		v, err := b.term(&rest[i])
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	v, err := b.Make(op, ty, imm, args...)
	if err != nil {
		return 0, termErrorf(t, "%s", err)
	}
	return v, nil
}
