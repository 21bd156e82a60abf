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

package ruleset

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/SnellerInc/midend/ir"
	"github.com/SnellerInc/midend/rules"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/exp/slices"
)

// Source is one rule file.
type Source struct {
	Name string
	Text string
}

type namedReader struct {
	*strings.Reader
	name string
}

func (n *namedReader) Name() string { return n.name }

type compiler struct {
	diags []Diagnostic
}

func (c *compiler) errorf(kind Kind, r *rules.Rule, sub string, f string, args ...any) {
	c.diags = append(c.diags, Diagnostic{
		Kind:    kind,
		Rule:    r.String(),
		Pos:     r.Location.String(),
		Subterm: sub,
		Msg:     fmt.Sprintf(f, args...),
	})
}

// Compile parses, checks and compiles a rule corpus.
// Every problem found in any rule is reported;
// if there are any, the returned error is a
// *CompileError and no Program is returned.
func Compile(srcs ...Source) (*Program, error) {
	c := &compiler{}
	var out []*Rule
	decl := 0
	for i := range srcs {
		lst, err := rules.Parse(&namedReader{
			Reader: strings.NewReader(srcs[i].Text),
			name:   srcs[i].Name,
		})
		if err != nil {
			c.diags = append(c.diags, Diagnostic{
				Kind: ErrSyntax,
				Pos:  srcs[i].Name,
				Msg:  err.Error(),
			})
			continue
		}
		for j := range lst {
			for _, x := range c.expand(&lst[j]) {
				if r := c.build(x); r != nil {
					r.Decl = decl
					out = append(out, r)
				}
				decl++
			}
		}
	}
	if len(c.diags) > 0 {
		return nil, &CompileError{Diags: c.diags}
	}
	rank(out)
	c.shadowed(out)
	if len(c.diags) > 0 {
		return nil, &CompileError{Diags: c.diags}
	}
	return newProgram(out), nil
}

// expanded is a rule whose regular-expression
// heads have been replaced by concrete opcodes
type expanded struct {
	orig   *rules.Rule
	rule   rules.Rule
	scope  []ir.Op
	opvars map[string]ir.Op
}

func cloneList(l rules.List) rules.List {
	out := slices.Clone(l)
	for i := range out {
		if sub, ok := out[i].Value.(rules.List); ok {
			out[i].Value = cloneList(sub)
		}
	}
	return out
}

// regexHead returns the path to the first list
// (in preorder) whose head is a regular expression.
func regexHead(l rules.List, path []int) ([]int, bool) {
	if len(l) > 0 {
		if _, ok := l[0].Value.(rules.String); ok {
			return path, true
		}
	}
	for i := 1; i < len(l); i++ {
		if sub, ok := l[i].Value.(rules.List); ok {
			if p, ok := regexHead(sub, append(path[:len(path):len(path)], i)); ok {
				return p, true
			}
		}
	}
	return nil, false
}

func listAt(l rules.List, path []int) rules.List {
	for _, i := range path {
		l = l[i].Value.(rules.List)
	}
	return l
}

func matchOps(re *regexp.Regexp) []ir.Op {
	var out []ir.Op
	for _, name := range ir.OpNames() {
		if re.MatchString(name) {
			op, _ := ir.OpByName(name)
			out = append(out, op)
		}
	}
	return out
}

// expand creates one rule for each combination
// of opcodes matched by the regular-expression
// heads of the pattern of r. A head written as
// name:"regex" binds name to the chosen opcode;
// the replacement may use name as an opcode.
func (c *compiler) expand(r *rules.Rule) []expanded {
	if len(r.From) == 0 {
		c.errorf(ErrSyntax, r, "", "rule without a pattern")
		return nil
	}
	pat, ok := r.From[0].(rules.List)
	if !ok || len(pat) == 0 {
		c.errorf(ErrSyntax, r, r.From[0].String(), "expected a list pattern")
		return nil
	}
	var scope []ir.Op
	work := []expanded{{orig: r, rule: *r, opvars: map[string]ir.Op{}}}
	var out []expanded
	for len(work) > 0 {
		x := work[len(work)-1]
		work = work[:len(work)-1]
		pat := x.rule.From[0].(rules.List)
		path, ok := regexHead(pat, nil)
		if !ok {
			out = append(out, x)
			continue
		}
		head := listAt(pat, path)[0]
		re, err := regexp.Compile("^(?:" + string(head.Value.(rules.String)) + ")$")
		if err != nil {
			c.errorf(ErrSyntax, r, head.String(), "bad regexp: %s", err)
			return nil
		}
		ops := matchOps(re)
		if len(ops) == 0 {
			c.errorf(ErrUnknownOp, r, head.String(), "regexp matches no ops")
			return nil
		}
		if len(path) == 0 {
			scope = ops
		}
		bind := head.Name != "" && head.Name != "_"
		if _, dup := x.opvars[head.Name]; bind && dup {
			c.errorf(ErrKind, r, head.String(), "opcode variable %s bound twice", head.Name)
			return nil
		}
		// push in reverse so that expansion
		// order follows opcode order
		for i := len(ops) - 1; i >= 0; i-- {
			y := x
			y.rule.From = slices.Clone(x.rule.From)
			np := cloneList(pat)
			h := &listAt(np, path)[0]
			h.Name, h.Value = ops[i].String(), nil
			y.rule.From[0] = np
			if bind {
				y.opvars = make(map[string]ir.Op, len(x.opvars)+1)
				for k, v := range x.opvars {
					y.opvars[k] = v
				}
				y.opvars[head.Name] = ops[i]
			}
			work = append(work, y)
		}
	}
	for i := range out {
		if scope == nil {
			op, _ := ir.OpByName(pat[0].Name)
			out[i].scope = []ir.Op{op}
		} else {
			out[i].scope = scope
		}
		if len(out[i].opvars) > 0 {
			out[i].rule.To = substOps(out[i].rule.To, out[i].opvars)
		}
	}
	return out
}

// substOps replaces opcode variables in
// head positions of t with their opcodes.
func substOps(t rules.Term, ops map[string]ir.Op) rules.Term {
	lst, ok := t.Value.(rules.List)
	if !ok || len(lst) == 0 {
		return t
	}
	lst = slices.Clone(lst)
	if lst[0].IsIdent() {
		if op, ok := ops[lst[0].Name]; ok {
			lst[0].Name = op.String()
		}
	}
	for i := 1; i < len(lst); i++ {
		lst[i] = substOps(lst[i], ops)
	}
	t.Value = lst
	return t
}

// suggest returns the opcode name closest to name,
// or the empty string if none is close.
func suggest(name string) string {
	best, dist := "", len(name)
	ops := ir.OpNames()
	sort.Strings(ops)
	for _, op := range ops {
		d := levenshtein.DistanceForStrings([]rune(name), []rune(op), levenshtein.DefaultOptions)
		if d < dist && d < len(op) && d <= 2 {
			best, dist = op, d
		}
	}
	return best
}
