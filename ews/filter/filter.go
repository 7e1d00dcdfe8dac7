// Copyright 2026 The Mailworks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filter builds declarative filter expressions and compiles them
// into server-native restriction trees, with a local predicate fallback for
// lookups the server cannot evaluate.
package filter

import (
	"fmt"
	"strings"

	"github.com/mailworks/ews-go/ews/schema"
)

type kind int

const (
	kindLookup kind = iota
	kindAnd
	kindOr
	kindNot
	kindRaw
)

// Expr is an immutable filter expression tree. A leaf is one field lookup;
// interior nodes combine children with AND, OR or NOT. Combinators always
// build new trees, so an Expr can be shared freely between goroutines.
type Expr struct {
	kind     kind
	field    string
	op       schema.Operator
	value    interface{}
	raw      string
	children []*Expr
}

// F builds a single field lookup, e.g. F("subject", schema.OpIContains, "invoice").
func F(field string, op schema.Operator, value interface{}) *Expr {
	return &Expr{kind: kindLookup, field: field, op: op, value: value}
}

// Raw wraps an opaque query string the server evaluates as-is. A raw
// expression cannot be combined with structured lookups.
func Raw(query string) *Expr {
	return &Expr{kind: kindRaw, raw: query}
}

// And combines expressions; children keep their given order.
func And(exprs ...*Expr) *Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &Expr{kind: kindAnd, children: exprs}
}

func Or(exprs ...*Expr) *Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &Expr{kind: kindOr, children: exprs}
}

func Not(e *Expr) *Expr {
	return &Expr{kind: kindNot, children: []*Expr{e}}
}

func (e *Expr) And(other *Expr) *Expr { return And(e, other) }

func (e *Expr) Or(other *Expr) *Expr { return Or(e, other) }

func (e *Expr) Not() *Expr { return Not(e) }

// IsRaw reports whether the expression is a raw query string.
func (e *Expr) IsRaw() bool { return e.kind == kindRaw }

// RawQuery returns the pass-through query string for raw expressions.
func (e *Expr) RawQuery() string { return e.raw }

func (e *Expr) hasRaw() bool {
	if e.kind == kindRaw {
		return true
	}
	for _, c := range e.children {
		if c.hasRaw() {
			return true
		}
	}
	return false
}

func (e *Expr) String() string {
	switch e.kind {
	case kindLookup:
		return fmt.Sprintf("%s__%s=%v", e.field, e.op, e.value)
	case kindRaw:
		return fmt.Sprintf("raw(%q)", e.raw)
	case kindNot:
		return fmt.Sprintf("NOT(%s)", e.children[0])
	case kindAnd, kindOr:
		conn := " AND "
		if e.kind == kindOr {
			conn = " OR "
		}
		parts := make([]string, len(e.children))
		for i, c := range e.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, conn) + ")"
	}
	return "<empty>"
}
