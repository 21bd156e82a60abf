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
	"strings"

	"github.com/SaveTheRbtz/mph"
)

// Type is a value type. The set of types
// is closed: scalar integers and floats
// plus the fixed-width (128-bit) vectors
// built from them.
type Type uint8

const (
	TypeInvalid Type = iota
	I8
	I16
	I32
	I64
	F32
	F64
	I8X16
	I16X8
	I32X4
	I64X2
	F32X4
	F64X2
	_typemax
)

// NumTypes is the number of valid types
// (types are numbered 1 through NumTypes).
const NumTypes = int(_typemax) - 1

type typeinfo struct {
	text  string
	lane  Type
	lanes int
	bits  int // lane width in bits
	float bool
}

var typeinfos = [_typemax]typeinfo{
	TypeInvalid: {text: "invalid"},
	I8:          {text: "i8", lane: I8, lanes: 1, bits: 8},
	I16:         {text: "i16", lane: I16, lanes: 1, bits: 16},
	I32:         {text: "i32", lane: I32, lanes: 1, bits: 32},
	I64:         {text: "i64", lane: I64, lanes: 1, bits: 64},
	F32:         {text: "f32", lane: F32, lanes: 1, bits: 32, float: true},
	F64:         {text: "f64", lane: F64, lanes: 1, bits: 64, float: true},
	I8X16:       {text: "i8x16", lane: I8, lanes: 16, bits: 8},
	I16X8:       {text: "i16x8", lane: I16, lanes: 8, bits: 16},
	I32X4:       {text: "i32x4", lane: I32, lanes: 4, bits: 32},
	I64X2:       {text: "i64x2", lane: I64, lanes: 2, bits: 64},
	F32X4:       {text: "f32x4", lane: F32, lanes: 4, bits: 32, float: true},
	F64X2:       {text: "f64x2", lane: F64, lanes: 2, bits: 64, float: true},
}

var (
	typeNames []string
	typeTable *mph.Table
)

func init() {
	typeNames = make([]string, NumTypes)
	for t := Type(1); t < _typemax; t++ {
		typeNames[t-1] = typeinfos[t].text
	}
	typeTable = mph.Build(typeNames)
}

// TypeByName looks up a type by its textual name.
func TypeByName(name string) (Type, bool) {
	i, ok := typeTable.Lookup(name)
	if !ok || typeNames[i] != name {
		return TypeInvalid, false
	}
	return Type(i + 1), true
}

// Types returns every valid type in order.
func Types() []Type {
	out := make([]Type, 0, NumTypes)
	for t := Type(1); t < _typemax; t++ {
		out = append(out, t)
	}
	return out
}

func (t Type) valid() bool { return t > TypeInvalid && t < _typemax }

// Valid returns true if t is one of the known types.
func (t Type) Valid() bool { return t.valid() }

func (t Type) String() string {
	if t >= _typemax {
		return "invalid"
	}
	return typeinfos[t].text
}

// Lane returns the lane type of t.
// The lane type of a scalar is the scalar itself.
func (t Type) Lane() Type {
	if !t.valid() {
		return TypeInvalid
	}
	return typeinfos[t].lane
}

// Lanes returns the lane count of t
// (1 for scalars).
func (t Type) Lanes() int {
	if !t.valid() {
		return 0
	}
	return typeinfos[t].lanes
}

// LaneBits returns the width of one lane in bits.
func (t Type) LaneBits() int {
	if !t.valid() {
		return 0
	}
	return typeinfos[t].bits
}

func (t Type) IsVector() bool { return t.Lanes() > 1 }
func (t Type) IsScalar() bool { return t.Lanes() == 1 }
func (t Type) IsFloat() bool  { return t.valid() && typeinfos[t].float }
func (t Type) IsInt() bool    { return t.valid() && !typeinfos[t].float }

// VectorOf returns the type with the given
// lane type and lane count, if there is one.
func VectorOf(lane Type, lanes int) (Type, bool) {
	if !lane.IsScalar() {
		return TypeInvalid, false
	}
	for t := Type(1); t < _typemax; t++ {
		if typeinfos[t].lane == lane && typeinfos[t].lanes == lanes {
			return t, true
		}
	}
	return TypeInvalid, false
}

// AsInt returns the integer type with
// the same lane width and lane count as t.
func (t Type) AsInt() Type {
	switch t {
	case F32:
		return I32
	case F64:
		return I64
	case F32X4:
		return I32X4
	case F64X2:
		return I64X2
	}
	if t.IsInt() {
		return t
	}
	return TypeInvalid
}

// AsFloat returns the float type with
// the same lane width and lane count as t,
// or TypeInvalid if there isn't one.
func (t Type) AsFloat() Type {
	switch t {
	case I32:
		return F32
	case I64:
		return F64
	case I32X4:
		return F32X4
	case I64X2:
		return F64X2
	}
	if t.IsFloat() {
		return t
	}
	return TypeInvalid
}

// Class is a set of type categories.
type Class uint8

const (
	ClassScalarInt Class = 1 << iota
	ClassScalarFloat
	ClassVectorInt
	ClassVectorFloat

	ClassNone   Class = 0
	ClassInt          = ClassScalarInt | ClassVectorInt
	ClassFloat        = ClassScalarFloat | ClassVectorFloat
	ClassScalar       = ClassScalarInt | ClassScalarFloat
	ClassVector       = ClassVectorInt | ClassVectorFloat
	ClassAny          = ClassInt | ClassFloat
)

// Class returns the single category t belongs to.
func (t Type) Class() Class {
	switch {
	case !t.valid():
		return ClassNone
	case t.IsVector() && t.IsFloat():
		return ClassVectorFloat
	case t.IsVector():
		return ClassVectorInt
	case t.IsFloat():
		return ClassScalarFloat
	default:
		return ClassScalarInt
	}
}

// Has returns true if c includes every category in o.
func (c Class) Has(o Class) bool { return c&o == o }

func (c Class) String() string {
	if c == ClassNone {
		return "{}"
	}
	names := []struct {
		bit  Class
		name string
	}{
		{ClassScalarInt, "scalar-int"},
		{ClassScalarFloat, "scalar-float"},
		{ClassVectorInt, "vector-int"},
		{ClassVectorFloat, "vector-float"},
	}
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for i := range names {
		if c&names[i].bit == 0 {
			continue
		}
		if !first {
			b.WriteByte('|')
		}
		first = false
		b.WriteString(names[i].name)
	}
	b.WriteByte('}')
	return b.String()
}

// TypeFunc is a type function usable in
// type expressions of rules.
type TypeFunc uint8

const (
	FuncLane TypeFunc = iota + 1
	FuncAsInt
	FuncAsFloat
)

var funcNames = [...]string{
	FuncLane:    "lane",
	FuncAsInt:   "as_int",
	FuncAsFloat: "as_float",
}

func (f TypeFunc) String() string {
	if int(f) < len(funcNames) && funcNames[f] != "" {
		return funcNames[f]
	}
	return "invalid"
}

// FuncByName looks up a type function.
func FuncByName(name string) (TypeFunc, bool) {
	for i := range funcNames {
		if funcNames[i] != "" && funcNames[i] == name {
			return TypeFunc(i), true
		}
	}
	return 0, false
}

// Apply evaluates f on a concrete type.
func (f TypeFunc) Apply(t Type) Type {
	switch f {
	case FuncLane:
		return t.Lane()
	case FuncAsInt:
		return t.AsInt()
	case FuncAsFloat:
		return t.AsFloat()
	}
	return TypeInvalid
}

// Image returns the set of categories f can
// produce from arguments in categories c.
func (f TypeFunc) Image(c Class) Class {
	out := ClassNone
	for bit := ClassScalarInt; bit <= ClassVectorFloat; bit <<= 1 {
		if c&bit != 0 {
			out |= f.classOf(bit)
		}
	}
	return out
}

// Preimage returns the set of categories
// that f maps into c.
func (f TypeFunc) Preimage(c Class) Class {
	out := ClassNone
	for bit := ClassScalarInt; bit <= ClassVectorFloat; bit <<= 1 {
		if f.classOf(bit)&c != 0 {
			out |= bit
		}
	}
	return out
}

func (f TypeFunc) classOf(bit Class) Class {
	switch f {
	case FuncLane:
		if bit&ClassInt != 0 {
			return ClassScalarInt
		}
		return ClassScalarFloat
	case FuncAsInt:
		if bit&ClassScalar != 0 {
			return ClassScalarInt
		}
		return ClassVectorInt
	case FuncAsFloat:
		if bit&ClassScalar != 0 {
			return ClassScalarFloat
		}
		return ClassVectorFloat
	}
	return ClassNone
}
