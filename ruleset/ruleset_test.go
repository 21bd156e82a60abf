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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/SnellerInc/midend/ir"
)

func compile(t *testing.T, text string) *Program {
	t.Helper()
	p, err := Compile(Source{Name: "test.rules", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func diags(t *testing.T, text string) []Diagnostic {
	t.Helper()
	_, err := Compile(Source{Name: "test.rules", Text: text})
	if err == nil {
		t.Fatalf("compiling %q: expected an error", text)
	}
	d := Diagnostics(err)
	if len(d) == 0 {
		t.Fatalf("error %v carries no diagnostics", err)
	}
	return d
}

func TestExpand(t *testing.T) {
	p := compile(t, `(o:"iadd|isub" ty (splat ty x) (splat ty y)) -> (splat ty (o (lane ty) x y))`)
	rules := p.Rules()
	if len(rules) != 2 {
		t.Fatalf("got %d rules", len(rules))
	}
	for _, r := range rules {
		if len(r.Scope) != 2 || r.Scope[0] != ir.OpIadd || r.Scope[1] != ir.OpIsub {
			t.Errorf("%s: scope %v", r, r.Scope)
		}
		if r.Replace.Args[0].Op != r.Root {
			t.Errorf("%s: replacement op %s", r, r.Replace.Args[0].Op)
		}
		if !strings.HasPrefix(r.Pos, "test.rules:1:") {
			t.Errorf("pos %q", r.Pos)
		}
	}
	want := "(iadd ty (splat ty x) (splat ty y)) -> (splat ty (iadd (lane ty) x y))"
	if rules[0].Text != want {
		t.Errorf("got %s\nwant %s", rules[0].Text, want)
	}
	if p.Group(ir.OpIadd) == nil || p.Group(ir.OpIsub) == nil || p.Group(ir.OpImul) != nil {
		t.Error("unexpected groups")
	}
}

func TestVars(t *testing.T) {
	p := compile(t, `(imul ty x (iconst ty c)), (pow2 c) -> (ishl ty x (iconst ty (log2 c)))`)
	r := p.Rules()[0]
	kinds := map[string]VarKind{}
	for _, v := range r.Vars {
		kinds[v.Name] = v.Kind
	}
	if kinds["ty"] != VarType || kinds["x"] != VarValue || kinds["c"] != VarImm {
		t.Errorf("kinds %v", kinds)
	}
	if len(r.Guards) != 1 || r.Guards[0].Op != GuardPow2 {
		t.Errorf("guards %v", r.Guards)
	}
}

func TestKeys(t *testing.T) {
	p := compile(t, `(iadd ty (splat ty x) (splat ty (iconst lt 0))) -> (splat ty x)`)
	got := Keys(&p.Rules()[0].Pattern)
	var parts []string
	for _, k := range got {
		parts = append(parts, k.String())
	}
	if s := strings.Join(parts, " "); s != "splat * splat iconst=0" {
		t.Errorf("keys %q", s)
	}
}

func TestTypeError(t *testing.T) {
	// the operand of fcvt_from_uint is as_int of its
	// result, so the same ty cannot be used for both
	d := diags(t, `(fcvt_from_uint ty (splat ty x)) -> (splat ty (fcvt_from_uint (lane ty) x))`)
	if d[0].Kind != ErrType {
		t.Fatalf("got %v", d)
	}
	if d[0].Subterm == "" || d[0].Rule == "" || d[0].Pos == "" {
		t.Errorf("incomplete diagnostic %+v", d[0])
	}
	// the same rule with distinct type variables is fine
	compile(t, `(fcvt_from_uint fty (splat ity x)) -> (splat fty (fcvt_from_uint (lane fty) x))`)
}

func TestUnbound(t *testing.T) {
	d := diags(t, `(ineg ty x) -> (iadd ty x y)`)
	if len(d) != 1 || d[0].Kind != ErrUnbound || d[0].Subterm != "y" {
		t.Fatalf("got %+v", d)
	}
	var ce *CompileError
	_, err := Compile(Source{Name: "x", Text: `(ineg ty x) -> (iadd ty x y)`})
	if !errors.As(err, &ce) || !ce.Has(ErrUnbound) {
		t.Fatalf("got %v", err)
	}
}

func TestDiagnostics(t *testing.T) {
	tests := []struct {
		text string
		kind Kind
		msg  string
	}{
		{`(iadx ty x y) -> x`, ErrUnknownOp, `did you mean "iadd"`},
		{`("^nope" ty x) -> x`, ErrUnknownOp, "no ops"},
		{`(iadd ty x) -> x`, ErrArity, "2 operands"},
		{`(iadd ty x (iconst ty)) -> x`, ErrArity, "immediate"},
		{`(iadd x x y) -> y`, ErrKind, "type variable, not a value"},
		{`(iadd ty x y), (pow2 x) -> x`, ErrGuard, "immediate"},
		{`(iadd ty x y), (frob x) -> x`, ErrGuard, "unknown predicate"},
		{`(iadd ty x y), (vector t) -> x`, ErrUnbound, "not bound"},
		{`(iadd ty x y) -> (fadd ty x y)`, ErrType, "is required"},
		{`(rotl ty (splat ty x) (splat ty y)) -> x`, ErrType, "scalar-int"},
		{`(fadd ty x (fconst ty 1)), (scalar ty) -> (iconst ty 1)`, ErrType, ""},
		{`(iadd ty x y) -> _`, ErrKind, "wildcard"},
		{`(iadd ty x (iconst ty 1.5)) -> x`, ErrKind, "float literal"},
		{`(iadd ty x y) -> z:(iadd ty y x)`, ErrKind, "names"},
		{`(o:"iadd" ty x o) -> x`, ErrKind, "opcode variable"},
		{`(iadd ty x y -> x`, ErrSyntax, ""},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			d := diags(t, tc.text)
			if d[0].Kind != tc.kind {
				t.Fatalf("got %s; want %s (%v)", d[0].Kind, tc.kind, d)
			}
			if !strings.Contains(d[0].Error(), tc.msg) {
				t.Errorf("%q does not mention %q", d[0].Error(), tc.msg)
			}
		})
	}
}

func TestShadowed(t *testing.T) {
	d := diags(t, `
5 (iadd ty x y) -> (iadd ty y x)
(iadd ty (splat ty x) y) -> (iadd ty y (splat ty x))
`)
	if len(d) != 1 || d[0].Kind != ErrShadowed {
		t.Fatalf("got %+v", d)
	}
	if !strings.HasPrefix(d[0].Rule, "(iadd ty (splat") {
		t.Errorf("wrong rule reported: %s", d[0].Rule)
	}

	// renaming variables does not hide a duplicate
	d = diags(t, `
(iadd ty x y) -> (iadd ty y x)
(iadd ty y x) -> (iadd ty x y)
`)
	if len(d) != 1 || d[0].Rule != "(iadd ty y x) -> (iadd ty x y)" {
		t.Fatalf("got %+v", d)
	}

	// a guard on the general rule, or a higher
	// priority on the specific one, removes the conflict
	compile(t, `
5 (iadd ty x y), (vector ty) -> (iadd ty y x)
(iadd ty (splat ty x) y) -> (iadd ty y (splat ty x))
`)
	compile(t, `
(iadd ty x y) -> (iadd ty y x)
5 (iadd ty (splat ty x) y) -> (iadd ty y (splat ty x))
`)
	// non-linear patterns are more specific
	compile(t, `
(isub ty x x) -> (iconst ty 0)
(isub ty x (iconst ty 0)) -> x
`)
}

func TestRank(t *testing.T) {
	p := compile(t, `
(iadd ty x (iconst ty 0)) -> x
-1 (iadd ty (iconst ty c) x) -> (iadd ty x (iconst ty c))
10 (isub ty x x) -> (iconst ty 0)
(iadd ty x (splat ty (iconst lt 0))) -> x
`)
	var got []string
	for i, r := range p.Rules() {
		if r.ID != i {
			t.Errorf("rule %d has id %d", i, r.ID)
		}
		got = append(got, r.Text)
	}
	// at equal priority the more constrained splat rule
	// wins even though its text sorts after the iconst rule
	want := []string{
		"10 (isub ty x x) -> (iconst ty 0)",
		"(iadd ty x (splat ty (iconst lt 0))) -> x",
		"(iadd ty x (iconst ty 0)) -> x",
		"-1 (iadd ty (iconst ty c) x) -> (iadd ty x (iconst ty c))",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("got\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestRankOrderIndependent(t *testing.T) {
	a := `(iadd ty (splat ty x) y) -> (iadd ty y (splat ty x))`
	b := `(iadd ty x (splat ty y)) -> (iadd ty (splat ty y) x)`
	p0 := compile(t, a+"\n"+b)
	p1 := compile(t, b+"\n"+a)
	for i := range p0.Rules() {
		if p0.Rule(i).Text != p1.Rule(i).Text {
			t.Errorf("rank %d: %s vs %s", i, p0.Rule(i), p1.Rule(i))
		}
	}
	if p0.Fingerprint() != p1.Fingerprint() {
		t.Error("fingerprints differ")
	}
}

func TestMultipleSources(t *testing.T) {
	_, err := Compile(
		Source{Name: "a.rules", Text: `(ineg ty (ineg ty x)) -> x`},
		Source{Name: "b.rules", Text: `(bnot ty (bnot ty x)) -> y`},
		Source{Name: "c.rules", Text: `(bnot ty x) -> (nope ty x)`},
	)
	d := Diagnostics(err)
	if len(d) != 2 {
		t.Fatalf("got %v", d)
	}
	if !strings.HasPrefix(d[0].Pos, "b.rules:") || !strings.HasPrefix(d[1].Pos, "c.rules:") {
		t.Errorf("positions %q %q", d[0].Pos, d[1].Pos)
	}
}

func TestArtifact(t *testing.T) {
	p := compile(t, `
(o:"iadd|isub|imul" ty (splat ty x) (splat ty y)) -> (splat ty (o (lane ty) x y))
(imul ty x (iconst ty c)), (pow2 c) -> (ishl ty x (iconst ty (log2 c)))
(fmul ty x (fconst ty 1.0)) -> x
`)
	var buf bytes.Buffer
	if err := WriteArtifact(&buf, p); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	q, err := ReadArtifact(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if q.Fingerprint() != p.Fingerprint() {
		t.Fatal("fingerprint changed")
	}
	var d0, d1 bytes.Buffer
	p.Dump(&d0)
	q.Dump(&d1)
	if d0.String() != d1.String() {
		t.Errorf("dump differs:\n%s\n%s", d0.String(), d1.String())
	}

	bad := [][]byte{
		nil,
		[]byte("XXXX\x01"),
		append([]byte("MRUL\x02"), raw[5:]...),
		append([]byte(nil), raw[:len(raw)-3]...),
	}
	for i, b := range bad {
		if _, err := ReadArtifact(bytes.NewReader(b)); !errors.Is(err, ErrBadArtifact) {
			t.Errorf("case %d: got %v", i, err)
		}
	}
}

func TestArtifactTampered(t *testing.T) {
	const text = `(iadd ty x y), (ne x y), (lanes ty 4) -> (iadd ty y x)`
	// each edit is applied to a freshly compiled program;
	// resign recomputes the fingerprint over the edited rules
	tests := []struct {
		name   string
		edit   func(r *Rule)
		resign bool
	}{
		{"ne with one variable", func(r *Rule) { r.Guards[0].Vars = r.Guards[0].Vars[:1] }, true},
		{"ne over a type and a value", func(r *Rule) { r.Guards[0].Vars[1] = r.Guards[1].Vars[0] }, true},
		{"lanes over a value", func(r *Rule) { r.Guards[1].Vars[0] = r.Guards[0].Vars[0] }, true},
		{"unknown guard", func(r *Rule) { r.Guards[1].Op = 99 }, true},
		{"guard constant", func(r *Rule) { r.Guards[1].N = 2 }, false},
		{"guard dropped", func(r *Rule) { r.Guards = r.Guards[:1] }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := compile(t, text)
			tc.edit(p.Rule(0))
			if tc.resign {
				p = newProgram(p.rules)
			}
			var buf bytes.Buffer
			if err := WriteArtifact(&buf, p); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadArtifact(&buf); !errors.Is(err, ErrBadArtifact) {
				t.Errorf("got %v", err)
			}
		})
	}
}

func TestDepth(t *testing.T) {
	tests := []struct {
		text  string
		depth int
	}{
		{`(ineg ty x) -> (isub ty x x)`, 1},
		{`(ineg ty (ineg ty x)) -> x`, 2},
		{`(iadd ty x (splat ty (iconst lt 0))) -> x
(ineg ty (ineg ty x)) -> x`, 3},
	}
	for _, tc := range tests {
		if got := compile(t, tc.text).Depth(); got != tc.depth {
			t.Errorf("%s: depth %d; want %d", tc.text, got, tc.depth)
		}
	}
}

func TestDump(t *testing.T) {
	p := compile(t, `(ineg ty (ineg ty x)) -> x`)
	var buf bytes.Buffer
	if err := p.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"#0 prio=0 spec=2", "group ineg:", "=> #0"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestImmEval(t *testing.T) {
	b := Binding{Imms: []uint64{8, uint64(1) << 63}}
	log := ImmExpr{Var: NoVar, Func: ImmLog2, Arg: &ImmExpr{Var: 0}}
	if x, ok := log.Eval(&b, ir.ImmInt); !ok || x != 3 {
		t.Errorf("log2(8) = %d, %v", x, ok)
	}
	bad := ImmExpr{Var: NoVar, Func: ImmLog2, Arg: &ImmExpr{Var: 1}}
	if _, ok := bad.Eval(&b, ir.ImmInt); ok {
		t.Error("log2 of a negative number")
	}
	neg := ImmExpr{Var: NoVar, Func: ImmNeg, Arg: &ImmExpr{Var: 0}}
	if x, _ := neg.Eval(&b, ir.ImmInt); int64(x) != -8 {
		t.Errorf("neg(8) = %d", int64(x))
	}
}
