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

// Package interp is a reference evaluator for
// the IR. It defines the meaning every rewrite
// rule must preserve and is used to check rules
// against concrete inputs.
package interp

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/SnellerInc/midend/egraph"
	"github.com/SnellerInc/midend/ir"
)

// MaxLanes is the widest vector of any IR type.
const MaxLanes = 16

// Value is a concrete value of an IR type.
// Each lane holds the bits of the lane value,
// zero-extended to 64 bits. Scalars use lane 0.
type Value struct {
	Type  ir.Type
	Lanes [MaxLanes]uint64
}

func mask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}

func sext(x uint64, n int) int64 {
	s := 64 - n
	return int64(x<<s) >> s
}

// Make returns a value of type ty with the
// given lanes, truncated to the lane width.
// Missing lanes are zero.
func Make(ty ir.Type, lanes ...uint64) Value {
	v := Value{Type: ty}
	m := mask(ty.LaneBits())
	for i := 0; i < ty.Lanes() && i < len(lanes); i++ {
		v.Lanes[i] = lanes[i] & m
	}
	return v
}

// Float returns a value of type ty
// with every lane set to f.
func Float(ty ir.Type, f float64) Value {
	x := fbits(f, ty.LaneBits())
	v := Value{Type: ty}
	for i := 0; i < ty.Lanes(); i++ {
		v.Lanes[i] = x
	}
	return v
}

// Equal returns true if v and o have
// the same type and identical bits.
func (v Value) Equal(o Value) bool { return v == o }

// Same is like Equal, except that any two
// NaNs in the same float lane are the same.
func (v Value) Same(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	n := v.Type.LaneBits()
	for i := 0; i < v.Type.Lanes(); i++ {
		a, b := v.Lanes[i], o.Lanes[i]
		if a == b {
			continue
		}
		if !v.Type.IsFloat() || !math.IsNaN(float(a, n)) || !math.IsNaN(float(b, n)) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	var b strings.Builder
	b.WriteString(v.Type.String())
	b.WriteByte('[')
	n := v.Type.LaneBits()
	for i := 0; i < v.Type.Lanes(); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		if v.Type.IsFloat() {
			b.WriteString(strconv.FormatFloat(float(v.Lanes[i], n), 'g', -1, 64))
		} else {
			b.WriteString(strconv.FormatInt(sext(v.Lanes[i], n), 10))
		}
	}
	b.WriteByte(']')
	return b.String()
}

func float(x uint64, n int) float64 {
	if n == 32 {
		return float64(math.Float32frombits(uint32(x)))
	}
	return math.Float64frombits(x)
}

func fbits(f float64, n int) uint64 {
	if n == 32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func fmin(a, b float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	case a == 0 && b == 0:
		if math.Signbit(a) {
			return a
		}
		return b
	case a < b:
		return a
	}
	return b
}

func fmax(a, b float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	case a == 0 && b == 0:
		if math.Signbit(a) {
			return b
		}
		return a
	case a > b:
		return a
	}
	return b
}

// lane computes one lane of a non-shift op
func lane(op ir.Op, n int, x, y uint64) uint64 {
	m := mask(n)
	sign := uint64(1) << (n - 1)
	switch op {
	case ir.OpIadd:
		return (x + y) & m
	case ir.OpIsub:
		return (x - y) & m
	case ir.OpImul:
		return (x * y) & m
	case ir.OpIneg:
		return -x & m
	case ir.OpIabs:
		if sext(x, n) < 0 {
			return -x & m
		}
		return x
	case ir.OpBand:
		return x & y
	case ir.OpBor:
		return x | y
	case ir.OpBxor:
		return x ^ y
	case ir.OpBnot:
		return ^x & m
	case ir.OpUmin:
		return min(x, y)
	case ir.OpUmax:
		return max(x, y)
	case ir.OpSmin:
		if sext(x, n) < sext(y, n) {
			return x
		}
		return y
	case ir.OpSmax:
		if sext(x, n) > sext(y, n) {
			return x
		}
		return y
	case ir.OpPopcnt:
		return uint64(bits.OnesCount64(x))
	case ir.OpFadd:
		return fbits(float(x, n)+float(y, n), n)
	case ir.OpFsub:
		return fbits(float(x, n)-float(y, n), n)
	case ir.OpFmul:
		return fbits(float(x, n)*float(y, n), n)
	case ir.OpFdiv:
		return fbits(float(x, n)/float(y, n), n)
	case ir.OpFneg:
		return x ^ sign
	case ir.OpFabs:
		return x &^ sign
	case ir.OpFmin:
		return fbits(fmin(float(x, n), float(y, n)), n)
	case ir.OpFmax:
		return fbits(fmax(float(x, n), float(y, n)), n)
	case ir.OpSqrt:
		return fbits(math.Sqrt(float(x, n)), n)
	case ir.OpFcvtFromUint:
		if n == 32 {
			return uint64(math.Float32bits(float32(x)))
		}
		return math.Float64bits(float64(x))
	case ir.OpFcvtFromSint:
		if n == 32 {
			return uint64(math.Float32bits(float32(sext(x, n))))
		}
		return math.Float64bits(float64(sext(x, n)))
	}
	panic("interp: unexpected op " + op.String())
}

// shift computes one lane of a shift or rotate
// by s, where s is already reduced modulo n
func shift(op ir.Op, n int, x uint64, s uint) uint64 {
	m := mask(n)
	switch op {
	case ir.OpIshl:
		return (x << s) & m
	case ir.OpUshr:
		return x >> s
	case ir.OpSshr:
		return uint64(sext(x, n)>>s) & m
	case ir.OpRotl:
		if s == 0 {
			return x
		}
		return (x<<s | x>>(uint(n)-s)) & m
	case ir.OpRotr:
		if s == 0 {
			return x
		}
		return (x>>s | x<<(uint(n)-s)) & m
	}
	panic("interp: unexpected op " + op.String())
}

// Apply computes op at result type ty with
// the given immediate and operands.
func Apply(op ir.Op, ty ir.Type, imm uint64, args []Value) (Value, error) {
	var types [2]ir.Type
	if len(args) > len(types) {
		return Value{}, fmt.Errorf("interp: %s with %d operands", op, len(args))
	}
	for i := range args {
		types[i] = args[i].Type
	}
	if err := ir.Check(op, ty, types[:len(args)]); err != nil {
		return Value{}, fmt.Errorf("interp: %w", err)
	}
	n := ty.LaneBits()
	out := Value{Type: ty}
	switch op {
	case ir.OpParam:
		return Value{}, fmt.Errorf("interp: unbound param %d", imm)
	case ir.OpIconst:
		out.Lanes[0] = imm & mask(n)
	case ir.OpFconst:
		out.Lanes[0] = fbits(math.Float64frombits(imm), n)
	case ir.OpSplat:
		for i := 0; i < ty.Lanes(); i++ {
			out.Lanes[i] = args[0].Lanes[0]
		}
	case ir.OpIshl, ir.OpUshr, ir.OpSshr, ir.OpRotl, ir.OpRotr:
		s := uint(args[1].Lanes[0] % uint64(n))
		for i := 0; i < ty.Lanes(); i++ {
			out.Lanes[i] = shift(op, n, args[0].Lanes[i], s)
		}
	default:
		for i := 0; i < ty.Lanes(); i++ {
			var y uint64
			if len(args) > 1 {
				y = args[1].Lanes[i]
			}
			out.Lanes[i] = lane(op, n, args[0].Lanes[i], y)
		}
	}
	return out, nil
}

func param(ty ir.Type, imm uint64, params []Value) (Value, error) {
	if imm >= uint64(len(params)) {
		return Value{}, fmt.Errorf("interp: param %d of %d", imm, len(params))
	}
	if p := params[imm]; p.Type != ty {
		return Value{}, fmt.Errorf("interp: param %d is %s; want %s", imm, p.Type, ty)
	}
	return params[imm], nil
}

// Eval evaluates fn and returns the values of its roots.
func Eval(fn *ir.Func, params []Value) ([]Value, error) {
	vals := make([]Value, len(fn.Nodes))
	var args [2]Value
	for i := range fn.Nodes {
		n := &fn.Nodes[i]
		var err error
		if n.Op == ir.OpParam {
			vals[i], err = param(n.Type, n.Imm, params)
		} else {
			for j, a := range n.Args {
				args[j] = vals[a]
			}
			vals[i], err = Apply(n.Op, n.Type, n.Imm, args[:len(n.Args)])
		}
		if err != nil {
			return nil, fmt.Errorf("%s: node %d: %w", fn.Name, i, err)
		}
	}
	out := make([]Value, len(fn.Roots))
	for i, r := range fn.Roots {
		out[i] = vals[r]
	}
	return out, nil
}

// EvalClass evaluates class c of g through
// the oldest member of each class.
func EvalClass(g *egraph.Graph, c egraph.ClassID, params []Value) (Value, error) {
	memo := make(map[egraph.ClassID]Value)
	var eval func(c egraph.ClassID) (Value, error)
	eval = func(c egraph.ClassID) (Value, error) {
		c = g.Find(c)
		if v, ok := memo[c]; ok {
			return v, nil
		}
		m := g.Members(c)[0]
		nd := g.Node(m)
		var v Value
		var err error
		if nd.Op == ir.OpParam {
			v, err = param(nd.Type, nd.Imm, params)
		} else {
			var args [2]Value
			for i := range nd.Args {
				args[i], err = eval(g.Arg(m, i))
				if err != nil {
					return Value{}, err
				}
			}
			v, err = Apply(nd.Op, nd.Type, nd.Imm, args[:len(nd.Args)])
		}
		if err != nil {
			return Value{}, err
		}
		memo[c] = v
		return v, nil
	}
	return eval(c)
}
