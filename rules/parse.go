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

package rules

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/scanner"
)

// Named is implemented by readers that
// know the name of their source file.
type Named interface {
	Name() string
}

func newScanner(r io.Reader) (*scanner.Scanner, *error) {
	var err error
	error := func(s *scanner.Scanner, msg string) {
		s.ErrorCount++
		if err == nil {
			err = fmt.Errorf("%s:%d:%d: %s", s.Filename, s.Line, s.Column, msg)
		}
	}
	s := new(scanner.Scanner)
	s = s.Init(r)
	if f, ok := r.(*os.File); ok {
		s.Position.Filename = f.Name()
	} else if n, ok := r.(Named); ok {
		s.Position.Filename = n.Name()
	}
	s.Filename = s.Position.Filename
	s.Error = error
	return s, &err
}

func finish(s *scanner.Scanner, err error) error {
	if s.ErrorCount == 0 {
		return nil
	}
	if s.ErrorCount == 1 {
		return err
	}
	return fmt.Errorf("%s (and %d other errors)", err, s.ErrorCount-1)
}

// Parse parses a list of rules from a file.
func Parse(r io.Reader) ([]Rule, error) {
	s, err := newScanner(r)
	var rules []Rule
	p := &parser{src: s}
	for !p.atEOF() && s.ErrorCount == 0 {
		loc := s.Pos()
		prio, ok := p.priority()
		if !ok {
			break
		}
		conj := p.conj()
		if !p.arrow() {
			if p.ok() {
				s.Error(s, "expected '->'")
			}
			break
		}
		rules = append(rules, Rule{Location: loc, Priority: prio, From: conj, To: p.term()})
	}
	if e := finish(s, *err); e != nil {
		return nil, e
	}
	return rules, nil
}

// ParseTerms parses a whitespace-separated
// sequence of terms (without any rule arrows).
func ParseTerms(r io.Reader) ([]Term, error) {
	s, err := newScanner(r)
	var out []Term
	p := &parser{src: s}
	for !p.atEOF() && s.ErrorCount == 0 {
		out = append(out, p.term())
	}
	if e := finish(s, *err); e != nil {
		return nil, e
	}
	return out, nil
}

// parser is an LL(1) parser
type parser struct {
	src     *scanner.Scanner
	la      rune // lookahead character
	lavalid bool // lookahead is valid
}

// peek gets the lookahead character
// without updating the parser state
// (unless no lookahead char is present)
func (p *parser) peek() rune {
	if !p.lavalid {
		p.la = p.src.Scan()
		p.lavalid = true
	}
	return p.la
}

// next updates the lookahead token and returns it
func (p *parser) next() rune {
	r := p.peek()
	p.lavalid = false
	return r
}

func (p *parser) atEOF() bool {
	return p.peek() == scanner.EOF
}

func (p *parser) ok() bool {
	return p.src.ErrorCount == 0
}

func (p *parser) consume(r rune) bool {
	if p.peek() == r {
		p.lavalid = false
		return true
	}
	return false
}

// priority parses the optional
// leading integer of a rule
func (p *parser) priority() (int, bool) {
	neg := p.consume('-')
	if p.peek() != scanner.Int {
		if neg {
			p.src.Error(p.src, "expected integer priority after '-'")
			return 0, false
		}
		return 0, true
	}
	p.next()
	n, err := strconv.Atoi(p.src.TokenText())
	if err != nil {
		p.src.Error(p.src, "bad priority "+p.src.TokenText())
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

func (p *parser) conj() []Value {
	if p.atEOF() {
		return nil
	}
	first := p.value()
	if !p.ok() {
		return nil
	}
	out := []Value{first}
	for p.ok() && p.consume(',') {
		v := p.value()
		if v == nil {
			break // error
		}
		out = append(out, v)
	}
	return out
}

func (p *parser) arrow() bool {
	return p.consume('-') && p.consume('>')
}

func unquote(x string) String {
	// the scanner should have already
	// validated the syntax here:
	out, err := strconv.Unquote(x)
	if err != nil {
		panic(err)
	}
	return String(out)
}

func unbacktick(x string) String {
	return String(x[1 : len(x)-1])
}

func (p *parser) value() Value {
	r := p.next()
	switch r {
	case scanner.RawString:
		return unbacktick(p.src.TokenText())
	case scanner.String:
		return unquote(p.src.TokenText())
	case '(':
		return p.list()
	default:
		p.src.Error(p.src, "unexpected token "+scanner.TokenString(r)+" "+p.src.TokenText())
		return nil
	}
}

func (p *parser) list() Value {
	var out []Term
	for r := p.peek(); r != ')' && p.ok(); r = p.peek() {
		if r == scanner.EOF {
			p.src.Error(p.src, "unterminated list")
			return nil
		}
		out = append(out, p.term())
	}
	p.next() // skip ')'
	return List(out)
}

// number parses the token just consumed
// as an Int or Float literal
func (p *parser) number(r rune, neg bool) Value {
	text := p.src.TokenText()
	if neg {
		text = "-" + text
	}
	if r == scanner.Int {
		i, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			// allow the full unsigned range
			u, uerr := strconv.ParseUint(text, 0, 64)
			if uerr != nil {
				p.src.Error(p.src, "bad integer "+text)
				return nil
			}
			i = int64(u)
		}
		return Int(i)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.src.Error(p.src, "bad float "+text)
		return nil
	}
	return Float(f)
}

func (p *parser) term() Term {
	switch r := p.next(); r {
	case scanner.RawString:
		return Term{
			Value:    unbacktick(p.src.TokenText()),
			Location: p.src.Pos(),
		}
	case scanner.String:
		return Term{
			Value:    unquote(p.src.TokenText()),
			Location: p.src.Pos(),
		}
	case scanner.Int, scanner.Float:
		pos := p.src.Pos()
		return Term{Value: p.number(r, false), Location: pos}
	case '-':
		pos := p.src.Pos()
		n := p.next()
		if n != scanner.Int && n != scanner.Float {
			p.src.Error(p.src, "expected number after '-'")
			return Term{}
		}
		return Term{Value: p.number(n, true), Location: pos}
	case '(':
		pos := p.src.Pos()
		return Term{
			Value:    p.list(),
			Location: pos,
		}
	case scanner.Ident:
		name := p.src.TokenText()
		pos := p.src.Pos()
		var v Value
		if p.consume(':') {
			v = p.value()
		}
		return Term{Name: name, Value: v, Location: pos}
	default:
		p.src.Error(p.src, "unexpected token "+scanner.TokenString(r))
	}
	return Term{}
}
