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
	"errors"
	"fmt"
	"strings"
)

// Kind is the kind of a compile-time diagnostic.
type Kind uint8

const (
	// ErrSyntax is a malformed rule file.
	ErrSyntax Kind = iota + 1
	// ErrUnknownOp is a head that names no opcode
	// (or a regular expression that matches none).
	ErrUnknownOp
	// ErrArity is an operator applied to
	// the wrong number of operands.
	ErrArity
	// ErrKind is a variable used as more than one
	// kind of thing (value, type, immediate, opcode)
	// or a term in a position that cannot hold it.
	ErrKind
	// ErrUnbound is a variable used in a guard or
	// the replacement that the pattern does not bind.
	ErrUnbound
	// ErrType is a rule type error: the types of
	// the pattern and replacement cannot be unified.
	ErrType
	// ErrGuard is a malformed guard.
	ErrGuard
	// ErrShadowed is a rule that can never fire
	// because a higher-ranked rule without guards
	// matches everything it matches.
	ErrShadowed
)

var kindText = [...]string{
	ErrSyntax:    "syntax error",
	ErrUnknownOp: "unknown op",
	ErrArity:     "arity",
	ErrKind:      "variable kind",
	ErrUnbound:   "unbound variable",
	ErrType:      "type error",
	ErrGuard:     "bad guard",
	ErrShadowed:  "shadowed rule",
}

func (k Kind) String() string {
	if int(k) < len(kindText) && kindText[k] != "" {
		return kindText[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Diagnostic describes one problem with one rule.
type Diagnostic struct {
	Kind Kind
	// Rule is the text of the offending rule.
	Rule string
	// Pos is the file:line:col of the rule.
	Pos string
	// Subterm is the text of the offending
	// part of the rule, if there is one.
	Subterm string
	Msg     string
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	if d.Pos != "" {
		b.WriteString(d.Pos)
		b.WriteString(": ")
	}
	b.WriteString(d.Kind.String())
	b.WriteString(": ")
	b.WriteString(d.Msg)
	if d.Subterm != "" {
		b.WriteString(" in ")
		b.WriteString(d.Subterm)
	}
	return b.String()
}

// CompileError is returned by Compile when
// any rule is rejected. No Program is built
// from a corpus with diagnostics.
type CompileError struct {
	Diags []Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diags) == 1 {
		return e.Diags[0].Error()
	}
	return fmt.Sprintf("%s (and %d other errors)", e.Diags[0].Error(), len(e.Diags)-1)
}

// Has returns true if e contains a diagnostic of kind k.
func (e *CompileError) Has(k Kind) bool {
	for i := range e.Diags {
		if e.Diags[i].Kind == k {
			return true
		}
	}
	return false
}

// Diagnostics returns the diagnostics carried by err,
// or nil if err is not (or does not wrap) a *CompileError.
func Diagnostics(err error) []Diagnostic {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Diags
	}
	return nil
}

// ErrBadArtifact is returned by ReadArtifact
// when its input is not a valid compiled program.
var ErrBadArtifact = errors.New("ruleset: bad artifact")
