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
	"bytes"
	"strings"
	"testing"
)

func TestTypeNames(t *testing.T) {
	for _, ty := range Types() {
		got, ok := TypeByName(ty.String())
		if !ok || got != ty {
			t.Errorf("TypeByName(%q) = %s, %v", ty, got, ok)
		}
	}
	for _, name := range []string{"", "i33", "vec", "i32x8"} {
		if _, ok := TypeByName(name); ok {
			t.Errorf("TypeByName(%q) succeeded", name)
		}
	}
}

func TestOpNames(t *testing.T) {
	for _, name := range OpNames() {
		op, ok := OpByName(name)
		if !ok || op.String() != name {
			t.Errorf("OpByName(%q) = %s, %v", name, op, ok)
		}
	}
	if _, ok := OpByName("iaddd"); ok {
		t.Error("OpByName(iaddd) succeeded")
	}
}

func TestTypeStructure(t *testing.T) {
	tests := []struct {
		ty             Type
		lane           Type
		lanes, bits    int
		asint, asfloat Type
		class          Class
	}{
		{I32, I32, 1, 32, I32, F32, ClassScalarInt},
		{I8X16, I8, 16, 8, I8X16, TypeInvalid, ClassVectorInt},
		{I32X4, I32, 4, 32, I32X4, F32X4, ClassVectorInt},
		{F64X2, F64, 2, 64, I64X2, F64X2, ClassVectorFloat},
		{F32, F32, 1, 32, I32, F32, ClassScalarFloat},
	}
	for _, tc := range tests {
		if got := tc.ty.Lane(); got != tc.lane {
			t.Errorf("%s.Lane() = %s", tc.ty, got)
		}
		if tc.ty.Lanes() != tc.lanes || tc.ty.LaneBits() != tc.bits {
			t.Errorf("%s: lanes %d bits %d", tc.ty, tc.ty.Lanes(), tc.ty.LaneBits())
		}
		if got := tc.ty.AsInt(); got != tc.asint {
			t.Errorf("%s.AsInt() = %s", tc.ty, got)
		}
		if got := tc.ty.AsFloat(); got != tc.asfloat {
			t.Errorf("%s.AsFloat() = %s", tc.ty, got)
		}
		if got := tc.ty.Class(); got != tc.class {
			t.Errorf("%s.Class() = %s", tc.ty, got)
		}
		if tc.ty.IsVector() {
			v, ok := VectorOf(tc.lane, tc.lanes)
			if !ok || v != tc.ty {
				t.Errorf("VectorOf(%s, %d) = %s", tc.lane, tc.lanes, v)
			}
		}
	}
}

func TestFuncClasses(t *testing.T) {
	if got := FuncLane.Image(ClassVector); got != ClassScalar {
		t.Errorf("lane image of vectors = %s", got)
	}
	if got := FuncLane.Preimage(ClassScalarInt); got != ClassInt {
		t.Errorf("lane preimage of scalar ints = %s", got)
	}
	if got := FuncAsInt.Image(ClassFloat); got != ClassInt {
		t.Errorf("as_int image of floats = %s", got)
	}
	if got := FuncAsFloat.Preimage(ClassVectorFloat); got != ClassVector {
		t.Errorf("as_float preimage of vector floats = %s", got)
	}
}

func TestTypeFuncNames(t *testing.T) {
	for _, f := range []TypeFunc{FuncLane, FuncAsInt, FuncAsFloat} {
		got, ok := FuncByName(f.String())
		if !ok || got != f {
			t.Errorf("FuncByName(%q) = %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := FuncByName("splat"); ok {
		t.Error("splat is not a type function")
	}
	if s := TypeFunc(0).String(); s != "invalid" {
		t.Errorf("zero type function prints as %q", s)
	}
	if got := FuncAsInt.Apply(F64X2); got != I64X2 {
		t.Errorf("as_int f64x2 = %s", got)
	}
	// a function body and a type function coexist in one package
	fn := &Func{Name: "f"}
	if fn.String() == FuncLane.String() {
		t.Error("function and type function print alike")
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		op   Op
		ty   Type
		args []Type
		ok   bool
	}{
		{OpIadd, I32X4, []Type{I32X4, I32X4}, true},
		{OpIadd, F32X4, []Type{F32X4, F32X4}, false},
		{OpIadd, I32X4, []Type{I32X4, I64X2}, false},
		{OpSplat, I32X4, []Type{I32}, true},
		{OpSplat, I32, []Type{I32}, false},
		{OpSplat, F64X2, []Type{I64}, false},
		{OpRotl, I32X4, []Type{I32X4, I64}, true},
		{OpRotl, I32X4, []Type{I32X4, I32X4}, false},
		{OpFcvtFromUint, F32X4, []Type{I32X4}, true},
		{OpFcvtFromUint, F32X4, []Type{F32X4}, false},
		{OpIconst, I16, nil, true},
		{OpIconst, I32X4, nil, false},
		{OpFneg, F64, []Type{F64, F64}, false},
	}
	for _, tc := range tests {
		err := Check(tc.op, tc.ty, tc.args)
		if (err == nil) != tc.ok {
			t.Errorf("Check(%s, %s, %v) = %v", tc.op, tc.ty, tc.args, err)
		}
	}
}

func TestBuilderHashCons(t *testing.T) {
	b := NewBuilder("f")
	x := b.Param(I32, 0)
	y := b.Param(I32, 1)
	s0 := b.Unary(OpSplat, I32X4, x)
	s1 := b.Unary(OpSplat, I32X4, x)
	if s0 != s1 {
		t.Fatal("identical splats were not shared")
	}
	b.Root(b.Binary(OpIadd, I32X4, s0, b.Unary(OpSplat, I32X4, y)))
	f := b.Func()
	if len(f.Nodes) != 5 {
		t.Errorf("got %d nodes; want 5", len(f.Nodes))
	}
	if err := f.Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := NewBuilder("g").Make(OpIadd, I32, 0, 7, 8); err == nil {
		t.Error("expected an error for unknown operands")
	}
}

func TestCanonImm(t *testing.T) {
	b := NewBuilder("f")
	a := b.Iconst(I8, 255)
	c := b.Iconst(I8, -1)
	if a != c {
		t.Error("255 and -1 should be the same i8 constant")
	}
	if got := b.Func().Node(a).Int(); got != -1 {
		t.Errorf("got %d", got)
	}
}

func TestTextRoundTrip(t *testing.T) {
	text := `(iadd i32x4 (splat i32x4 (param i32 0)) (splat i32x4 (param i32 1)))
(rotl i32x4 (splat i32x4 (param i32 0)) (param i64 2))
(fadd f64 (fconst f64 1.5) (fcvt_from_sint f64 (iconst i64 -3)))`
	f, err := ParseFunc("f", strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	if got := f.String(); got != text {
		t.Errorf("got\n%s\nwant\n%s", got, text)
	}
	if f.Live() != len(f.Nodes) {
		t.Errorf("live %d of %d", f.Live(), len(f.Nodes))
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		`(iadd i32x4 (param i32 0) (param i32 1))`,
		`(nope i32 (param i32 0))`,
		`(iconst i32)`,
		`(iconst i99 1)`,
		`x`,
	}
	for _, text := range bad {
		if _, err := ParseFunc("bad", strings.NewReader(text)); err == nil {
			t.Errorf("parsing %q: expected an error", text)
		}
	}
}

func TestSnapshot(t *testing.T) {
	fns := []*Func{
		MustParse("a", `(iadd i32x4 (splat i32x4 (param i32 0)) (splat i32x4 (param i32 1)))`),
		MustParse("b", `(fmul f32 (param f32 0) (fconst f32 2.0))`),
	}
	var buf bytes.Buffer
	if err := EncodeFuncs(&buf, fns); err != nil {
		t.Fatal(err)
	}
	out, err := DecodeFuncs(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(fns) {
		t.Fatalf("got %d funcs", len(out))
	}
	for i := range fns {
		if out[i].Name != fns[i].Name || out[i].String() != fns[i].String() {
			t.Errorf("func %d: got %s %s", i, out[i].Name, out[i].String())
		}
	}
}
