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
	"fmt"
	"io"

	"github.com/SnellerInc/midend/ir"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	artifactMagic   = "MRUL"
	artifactVersion = 1
)

type artifact struct {
	Fingerprint string  `cbor:"1,keyasint"`
	Rules       []*Rule `cbor:"2,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: 256,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// WriteArtifact writes a compiled form of p to w.
// ReadArtifact returns an equivalent Program
// without re-parsing or re-checking the corpus.
func WriteArtifact(w io.Writer, p *Program) error {
	body, err := encMode.Marshal(&artifact{
		Fingerprint: p.Fingerprint(),
		Rules:       p.rules,
	})
	if err != nil {
		return err
	}
	z, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return err
	}
	defer z.Close()
	var hdr [len(artifactMagic) + 1]byte
	copy(hdr[:], artifactMagic)
	hdr[len(artifactMagic)] = artifactVersion
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(z.EncodeAll(body, nil))
	return err
}

// ReadArtifact reads a Program written by WriteArtifact.
// Any malformed input yields an error wrapping ErrBadArtifact.
func ReadArtifact(r io.Reader) (*Program, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	n := len(artifactMagic)
	if len(buf) < n+1 || !bytes.Equal(buf[:n], []byte(artifactMagic)) {
		return nil, fmt.Errorf("%w: missing header", ErrBadArtifact)
	}
	if buf[n] != artifactVersion {
		return nil, fmt.Errorf("%w: version %d; want %d", ErrBadArtifact, buf[n], artifactVersion)
	}
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer z.Close()
	body, err := z.DecodeAll(buf[n+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadArtifact, err)
	}
	var a artifact
	if err := decMode.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadArtifact, err)
	}
	for i, r := range a.Rules {
		if err := validate(r, i); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %s", ErrBadArtifact, i, err)
		}
	}
	p := newProgram(a.Rules)
	if p.Fingerprint() != a.Fingerprint {
		return nil, fmt.Errorf("%w: fingerprint mismatch", ErrBadArtifact)
	}
	return p, nil
}

// validate checks the structural invariants the
// matcher relies on; it does not re-typecheck the rule
func validate(r *Rule, id int) error {
	if r == nil {
		return fmt.Errorf("missing")
	}
	if r.ID != id {
		return fmt.Errorf("id %d at position %d", r.ID, id)
	}
	if !r.Root.Valid() || r.Pattern.Kind != PatNode || r.Pattern.Op != r.Root {
		return fmt.Errorf("bad root")
	}
	v := validator{vars: r.Vars}
	v.pattern(&r.Pattern)
	v.expr(&r.Replace)
	for i := range r.Guards {
		v.guard(&r.Guards[i])
	}
	return v.err
}

type validator struct {
	vars []Var
	err  error
}

func (v *validator) varOf(x int, k VarKind) {
	if x < 0 || x >= len(v.vars) || (k != VarNone && v.vars[x].Kind != k) {
		if v.err == nil {
			v.err = fmt.Errorf("bad %s variable %d", k, x)
		}
	}
}

func (v *validator) guard(g *Guard) {
	want, kind := 1, VarType
	switch g.Op {
	case GuardPow2:
		kind = VarImm
	case GuardVector, GuardScalar, GuardLanes, GuardBits:
	case GuardNe:
		want, kind = 2, VarNone
	default:
		if v.err == nil {
			v.err = fmt.Errorf("bad guard %d", g.Op)
		}
		return
	}
	if len(g.Vars) != want {
		if v.err == nil {
			v.err = fmt.Errorf("guard %s with %d variables", g.Op, len(g.Vars))
		}
		return
	}
	for _, x := range g.Vars {
		v.varOf(x, kind)
	}
	if v.err == nil && g.Op == GuardNe && v.vars[g.Vars[0]].Kind != v.vars[g.Vars[1]].Kind {
		v.err = fmt.Errorf("guard ne over different kinds")
	}
}

func (v *validator) op(op ir.Op, argc int) {
	if !op.Valid() || op.Arity() != argc {
		if v.err == nil {
			v.err = fmt.Errorf("bad op %s/%d", op, argc)
		}
	}
}

func (v *validator) typ(t *TypeExpr) {
	switch {
	case t.Func != 0:
		if t.Arg == nil {
			v.err = fmt.Errorf("type function without argument")
			return
		}
		v.typ(t.Arg)
	case t.Var != NoVar:
		v.varOf(t.Var, VarType)
	}
}

func (v *validator) imm(m *ImmExpr) {
	switch {
	case m.Func != 0:
		if m.Arg == nil {
			v.err = fmt.Errorf("immediate function without argument")
			return
		}
		v.imm(m.Arg)
	case m.Var != NoVar:
		v.varOf(m.Var, VarImm)
	}
}

func (v *validator) pattern(p *Pattern) {
	switch p.Kind {
	case PatWild:
	case PatVar:
		v.varOf(p.Var, VarValue)
	case PatNode:
		v.op(p.Op, len(p.Args))
		if p.Var != NoVar {
			v.varOf(p.Var, VarValue)
		}
		v.typ(&p.Type)
		v.imm(&p.Imm)
		for i := range p.Args {
			v.pattern(&p.Args[i])
		}
	default:
		v.err = fmt.Errorf("bad pattern kind %d", p.Kind)
	}
}

func (v *validator) expr(e *Expr) {
	switch e.Kind {
	case ExprVar:
		v.varOf(e.Var, VarValue)
	case ExprNode:
		v.op(e.Op, len(e.Args))
		v.typ(&e.Type)
		v.imm(&e.Imm)
		for i := range e.Args {
			v.expr(&e.Args[i])
		}
	default:
		v.err = fmt.Errorf("bad replacement kind %d", e.Kind)
	}
}
