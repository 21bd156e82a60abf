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

	"github.com/SaveTheRbtz/mph"
)

// Op is an IR opcode.
type Op uint8

const (
	OpInvalid Op = iota
	OpParam      // opaque input; imm = parameter index
	OpIconst     // val = imm (int64)
	OpFconst     // val = imm (float64 bits)
	OpSplat      // vec = broadcast(lane)

	OpIadd   // val = arg0 + arg1
	OpIsub   // val = arg0 - arg1
	OpImul   // val = arg0 * arg1
	OpIneg   // val = -arg0
	OpIabs   // val = |arg0|
	OpBand   // val = arg0 & arg1
	OpBor    // val = arg0 | arg1
	OpBxor   // val = arg0 ^ arg1
	OpBnot   // val = ^arg0
	OpIshl   // val = arg0 << (arg1 % bits)
	OpUshr   // val = arg0 >>> (arg1 % bits)
	OpSshr   // val = arg0 >> (arg1 % bits)
	OpRotl   // val = rotate_left(arg0, arg1 % bits)
	OpRotr   // val = rotate_right(arg0, arg1 % bits)
	OpUmin   // val = unsigned min(arg0, arg1)
	OpUmax   // val = unsigned max(arg0, arg1)
	OpSmin   // val = signed min(arg0, arg1)
	OpSmax   // val = signed max(arg0, arg1)
	OpPopcnt // val = bit_count(arg0)

	OpFadd // val = arg0 + arg1
	OpFsub // val = arg0 - arg1
	OpFmul // val = arg0 * arg1
	OpFdiv // val = arg0 / arg1
	OpFneg // val = -arg0
	OpFabs // val = |arg0|
	OpFmin // val = min(arg0, arg1), NaN-propagating
	OpFmax // val = max(arg0, arg1), NaN-propagating
	OpSqrt // val = sqrt(arg0)

	OpFcvtFromUint // val = float(uint(arg0))
	OpFcvtFromSint // val = float(int(arg0))

	_opmax
)

// NumOps is the size of opcode-indexed tables.
const NumOps = int(_opmax)

// ArgKind describes the type of an operand
// relative to the result type of its op.
type ArgKind uint8

const (
	ArgSame      ArgKind = iota + 1 // same as the result
	ArgLane                         // lane type of the result
	ArgAsInt                        // result.AsInt()
	ArgScalarInt                    // any scalar integer
)

// Imm is an immediate format indicator.
type Imm uint8

const (
	ImmNone  Imm = iota // no immediate
	ImmInt              // immediate is an int64
	ImmFloat            // immediate is the bits of a float64
	ImmIndex            // immediate is a parameter index
)

type opinfo struct {
	text string
	// result is the set of result types
	// the op may be instantiated at
	result Class
	args   []ArgKind
	imm    Imm
	// cost is the scalar cost of the op;
	// vector instances are weighted by
	// the cost model
	cost        int
	commutative bool
}

var (
	unaryArgs  = []ArgKind{ArgSame}
	binaryArgs = []ArgKind{ArgSame, ArgSame}
	shiftArgs  = []ArgKind{ArgSame, ArgScalarInt}
)

var opinfos = [_opmax]opinfo{
	OpInvalid: {text: "invalid"},
	OpParam:   {text: "param", result: ClassAny, imm: ImmIndex, cost: 1},
	OpIconst:  {text: "iconst", result: ClassScalarInt, imm: ImmInt, cost: 1},
	OpFconst:  {text: "fconst", result: ClassScalarFloat, imm: ImmFloat, cost: 1},
	OpSplat:   {text: "splat", result: ClassVector, args: []ArgKind{ArgLane}, cost: 2},

	OpIadd:   {text: "iadd", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpIsub:   {text: "isub", result: ClassInt, args: binaryArgs, cost: 1},
	OpImul:   {text: "imul", result: ClassInt, args: binaryArgs, cost: 3, commutative: true},
	OpIneg:   {text: "ineg", result: ClassInt, args: unaryArgs, cost: 1},
	OpIabs:   {text: "iabs", result: ClassInt, args: unaryArgs, cost: 1},
	OpBand:   {text: "band", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpBor:    {text: "bor", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpBxor:   {text: "bxor", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpBnot:   {text: "bnot", result: ClassInt, args: unaryArgs, cost: 1},
	OpIshl:   {text: "ishl", result: ClassInt, args: shiftArgs, cost: 1},
	OpUshr:   {text: "ushr", result: ClassInt, args: shiftArgs, cost: 1},
	OpSshr:   {text: "sshr", result: ClassInt, args: shiftArgs, cost: 1},
	OpRotl:   {text: "rotl", result: ClassInt, args: shiftArgs, cost: 1},
	OpRotr:   {text: "rotr", result: ClassInt, args: shiftArgs, cost: 1},
	OpUmin:   {text: "umin", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpUmax:   {text: "umax", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpSmin:   {text: "smin", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpSmax:   {text: "smax", result: ClassInt, args: binaryArgs, cost: 1, commutative: true},
	OpPopcnt: {text: "popcnt", result: ClassInt, args: unaryArgs, cost: 2},

	OpFadd: {text: "fadd", result: ClassFloat, args: binaryArgs, cost: 2, commutative: true},
	OpFsub: {text: "fsub", result: ClassFloat, args: binaryArgs, cost: 2},
	OpFmul: {text: "fmul", result: ClassFloat, args: binaryArgs, cost: 3, commutative: true},
	OpFdiv: {text: "fdiv", result: ClassFloat, args: binaryArgs, cost: 8},
	OpFneg: {text: "fneg", result: ClassFloat, args: unaryArgs, cost: 1},
	OpFabs: {text: "fabs", result: ClassFloat, args: unaryArgs, cost: 1},
	OpFmin: {text: "fmin", result: ClassFloat, args: binaryArgs, cost: 2},
	OpFmax: {text: "fmax", result: ClassFloat, args: binaryArgs, cost: 2},
	OpSqrt: {text: "sqrt", result: ClassFloat, args: unaryArgs, cost: 8},

	OpFcvtFromUint: {text: "fcvt_from_uint", result: ClassFloat, args: []ArgKind{ArgAsInt}, cost: 3},
	OpFcvtFromSint: {text: "fcvt_from_sint", result: ClassFloat, args: []ArgKind{ArgAsInt}, cost: 3},
}

var (
	opNames []string
	opTable *mph.Table
)

func init() {
	opNames = make([]string, 0, _opmax-1)
	for op := Op(1); op < _opmax; op++ {
		opNames = append(opNames, opinfos[op].text)
	}
	opTable = mph.Build(opNames)
}

// OpByName looks up an opcode by its textual name.
func OpByName(name string) (Op, bool) {
	i, ok := opTable.Lookup(name)
	if !ok || opNames[i] != name {
		return OpInvalid, false
	}
	return Op(i + 1), true
}

// OpNames returns the names of every valid opcode.
func OpNames() []string {
	return append([]string(nil), opNames...)
}

func (o Op) valid() bool { return o > OpInvalid && o < _opmax }

// Valid returns true if o is a known opcode.
func (o Op) Valid() bool { return o.valid() }

func (o Op) String() string {
	if o >= _opmax {
		return fmt.Sprintf("op(%d)", int(o))
	}
	return opinfos[o].text
}

// Arity returns the number of operands of o.
func (o Op) Arity() int { return len(opinfos[o].args) }

// Args returns the operand kinds of o.
// The returned slice must not be modified.
func (o Op) Args() []ArgKind { return opinfos[o].args }

// Result returns the set of result type
// categories o may produce.
func (o Op) Result() Class { return opinfos[o].result }

// Imm returns the immediate format of o.
func (o Op) Imm() Imm { return opinfos[o].imm }

// Cost returns the scalar base cost of o.
func (o Op) Cost() int { return opinfos[o].cost }

// Commutative returns true if the
// two operands of o may be swapped.
func (o Op) Commutative() bool { return opinfos[o].commutative }

// ArgType returns the concrete type
// operand i of o must have when o produces
// a value of type ty. The second return value
// is false if the operand accepts any scalar integer.
func (o Op) ArgType(i int, ty Type) (Type, bool) {
	switch opinfos[o].args[i] {
	case ArgSame:
		return ty, true
	case ArgLane:
		return ty.Lane(), true
	case ArgAsInt:
		return ty.AsInt(), true
	default:
		return TypeInvalid, false
	}
}

// Check verifies that an op with result type
// ty applied to operands of the given types
// is well-typed.
func Check(op Op, ty Type, args []Type) error {
	if !op.valid() {
		return fmt.Errorf("invalid opcode %d", int(op))
	}
	if !ty.valid() {
		return fmt.Errorf("%s: invalid result type", op)
	}
	if ty.Class()&op.Result() == 0 {
		return fmt.Errorf("%s: result type %s not in %s", op, ty, op.Result())
	}
	if len(args) != op.Arity() {
		return fmt.Errorf("%s: %d operands given; want %d", op, len(args), op.Arity())
	}
	for i := range args {
		want, exact := op.ArgType(i, ty)
		if !exact {
			if args[i].Class() != ClassScalarInt {
				return fmt.Errorf("%s: operand %d has type %s; want a scalar integer", op, i, args[i])
			}
			continue
		}
		if !want.valid() {
			return fmt.Errorf("%s: no operand type for result %s", op, ty)
		}
		if args[i] != want {
			return fmt.Errorf("%s: operand %d has type %s; want %s", op, i, args[i], want)
		}
	}
	return nil
}
