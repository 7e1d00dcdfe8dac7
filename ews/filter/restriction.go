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

package filter

import (
	"errors"
	"fmt"

	"github.com/mailworks/ews-go/ews/schema"
)

// ErrIncompatibleFilter is returned when a raw query string is combined with
// structured lookups. A raw expression is only valid as the entire filter.
var ErrIncompatibleFilter = errors.New("a raw query string cannot be combined with other filters")

// InvalidLookupError marks a lookup that is malformed regardless of server
// capability: wrong operator for the field type, or a mistyped value.
type InvalidLookupError struct {
	Field  string
	Op     schema.Operator
	Reason string
}

func (e *InvalidLookupError) Error() string {
	return fmt.Sprintf("invalid lookup %s__%s: %s", e.Field, e.Op, e.Reason)
}

// unsupportedLookup signals that a lookup is valid but the server cannot
// evaluate it; compilation falls back to a local predicate.
type unsupportedLookup struct {
	field string
	op    schema.Operator
}

func (e *unsupportedLookup) Error() string {
	return fmt.Sprintf("lookup %s__%s is not supported by the server", e.field, e.op)
}

// Compiler translates filter expressions into restriction trees. When a
// lookup cannot be pushed to the server, Compile returns a nil Restriction
// and a Predicate that evaluates the whole expression locally instead; the
// caller fetches candidates unfiltered and applies the predicate.
type Compiler interface {
	Compile(e *Expr) (*Restriction, Predicate, error)
}

type compiler struct {
	registry schema.Registry
}

func NewCompiler(registry schema.Registry) Compiler {
	return &compiler{registry: registry}
}

func (c *compiler) Compile(e *Expr) (*Restriction, Predicate, error) {
	if e == nil {
		return nil, nil, nil
	}
	if e.hasRaw() && e.kind != kindRaw {
		return nil, nil, ErrIncompatibleFilter
	}
	if err := c.validate(e); err != nil {
		return nil, nil, err
	}

	restriction, err := c.visit(e)
	if err != nil {
		var ul *unsupportedLookup
		if errors.As(err, &ul) {
			pred, perr := c.predicate(e)
			if perr != nil {
				return nil, nil, perr
			}
			return nil, pred, nil
		}
		return nil, nil, err
	}

	return restriction, nil, nil
}

// validate rejects expressions that are wrong independent of server
// capability: unknown or unsearchable fields and illegal operators.
func (c *compiler) validate(e *Expr) error {
	switch e.kind {
	case kindRaw:
		return nil
	case kindLookup:
		f, err := c.registry.Lookup(e.field)
		if err != nil {
			return err
		}
		if !f.Searchable {
			return &schema.NotSearchableError{Name: e.field}
		}
		if !f.ValidOperator(e.op) {
			return &InvalidLookupError{Field: e.field, Op: e.op, Reason: "operator not valid for field type"}
		}
		return nil
	default:
		for _, child := range e.children {
			if err := c.validate(child); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *compiler) visit(e *Expr) (*Restriction, error) {
	switch e.kind {
	case kindRaw:
		return &Restriction{QueryString: &QueryString{Query: e.raw}}, nil
	case kindAnd, kindOr:
		children := make([]*Restriction, 0, len(e.children))
		for _, child := range e.children {
			r, err := c.visit(child)
			if err != nil {
				return nil, err
			}
			children = append(children, r)
		}
		if e.kind == kindAnd {
			return &Restriction{And: &AndNode{Children: children}}, nil
		}
		return &Restriction{Or: &OrNode{Children: children}}, nil
	case kindNot:
		child, err := c.visit(e.children[0])
		if err != nil {
			return nil, err
		}
		return negate(child), nil
	case kindLookup:
		return c.leaf(e)
	default:
		return nil, fmt.Errorf("unrecognized expression node: %v", e.kind)
	}
}

// negate uses the comparison's native inverse where one exists and wraps in
// a Not node otherwise.
func negate(r *Restriction) *Restriction {
	switch {
	case r.IsEqualTo != nil:
		return &Restriction{IsNotEqualTo: r.IsEqualTo}
	case r.IsNotEqualTo != nil:
		return &Restriction{IsEqualTo: r.IsNotEqualTo}
	case r.Not != nil:
		return r.Not.Child
	default:
		return &Restriction{Not: &NotNode{Child: r}}
	}
}

// matchNone is a restriction no record can satisfy; every item has an id.
func matchNone() *Restriction {
	return &Restriction{Not: &NotNode{Child: &Restriction{Exists: &Exists{FieldURI: "item:ItemId"}}}}
}

func (c *compiler) leaf(e *Expr) (*Restriction, error) {
	f, err := c.registry.Lookup(e.field)
	if err != nil {
		return nil, err
	}
	if !f.ServerOperator(e.op) {
		return nil, &unsupportedLookup{field: e.field, op: e.op}
	}

	switch e.op {
	case schema.OpEquals:
		return c.comparison(f, e.op, e.value, func(cmp *Comparison) *Restriction {
			return &Restriction{IsEqualTo: cmp}
		})
	case schema.OpNot:
		return c.comparison(f, e.op, e.value, func(cmp *Comparison) *Restriction {
			return &Restriction{IsNotEqualTo: cmp}
		})
	case schema.OpGt:
		return c.comparison(f, e.op, e.value, func(cmp *Comparison) *Restriction {
			return &Restriction{IsGreaterThan: cmp}
		})
	case schema.OpGte:
		return c.comparison(f, e.op, e.value, func(cmp *Comparison) *Restriction {
			return &Restriction{IsGreaterThanOrEqualTo: cmp}
		})
	case schema.OpLt:
		return c.comparison(f, e.op, e.value, func(cmp *Comparison) *Restriction {
			return &Restriction{IsLessThan: cmp}
		})
	case schema.OpLte:
		return c.comparison(f, e.op, e.value, func(cmp *Comparison) *Restriction {
			return &Restriction{IsLessThanOrEqualTo: cmp}
		})
	case schema.OpRange:
		return c.rangeLeaf(f, e)
	case schema.OpIn:
		return c.inLeaf(f, e)
	case schema.OpContains:
		return c.containsLeaf(f, e)
	case schema.OpIExact:
		return c.textLeaf(f, e, ContainFullString, CompareIgnoreCase)
	case schema.OpIContains:
		return c.textLeaf(f, e, ContainSubstring, CompareIgnoreCase)
	case schema.OpStartsWith:
		return c.textLeaf(f, e, ContainPrefixed, CompareExact)
	case schema.OpIStartsWith:
		return c.textLeaf(f, e, ContainPrefixed, CompareIgnoreCase)
	case schema.OpExists:
		return c.existsLeaf(f, e)
	default:
		return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: "unhandled operator"}
	}
}

func (c *compiler) comparison(f *schema.Field, op schema.Operator, value interface{}, build func(*Comparison) *Restriction) (*Restriction, error) {
	encoded, err := f.Encode(value)
	if err != nil {
		return nil, &InvalidLookupError{Field: f.Name, Op: op, Reason: err.Error()}
	}
	return build(&Comparison{FieldURI: f.URI, Value: encoded}), nil
}

func (c *compiler) rangeLeaf(f *schema.Field, e *Expr) (*Restriction, error) {
	bounds := valueList(e.value)
	if len(bounds) != 2 {
		return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: "range expects exactly two values"}
	}
	low, err := f.Encode(bounds[0])
	if err != nil {
		return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: err.Error()}
	}
	high, err := f.Encode(bounds[1])
	if err != nil {
		return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: err.Error()}
	}
	return &Restriction{And: &AndNode{Children: []*Restriction{
		{IsGreaterThanOrEqualTo: &Comparison{FieldURI: f.URI, Value: low}},
		{IsLessThanOrEqualTo: &Comparison{FieldURI: f.URI, Value: high}},
	}}}, nil
}

// inLeaf compiles membership tests. An empty candidate list matches nothing,
// which is the set-membership result on an empty set. For list-typed fields
// each candidate is tested against the stored list instead of the scalar
// value.
func (c *compiler) inLeaf(f *schema.Field, e *Expr) (*Restriction, error) {
	if f.Type == schema.TypeStringList {
		if _, ok := e.value.(string); ok {
			encoded, err := f.Encode(e.value)
			if err != nil {
				return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: err.Error()}
			}
			return &Restriction{Contains: &Contains{
				FieldURI: f.URI, Value: encoded, Mode: ContainFullString, Comparison: CompareExact,
			}}, nil
		}
	}

	candidates := valueList(e.value)
	if candidates == nil {
		return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: "in expects a list of values"}
	}
	if len(candidates) == 0 {
		return matchNone(), nil
	}

	children := make([]*Restriction, 0, len(candidates))
	for _, candidate := range candidates {
		encoded, err := f.Encode(candidate)
		if err != nil {
			return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: err.Error()}
		}
		if f.Type == schema.TypeStringList {
			children = append(children, &Restriction{Contains: &Contains{
				FieldURI: f.URI, Value: encoded, Mode: ContainFullString, Comparison: CompareExact,
			}})
		} else {
			children = append(children, &Restriction{IsEqualTo: &Comparison{FieldURI: f.URI, Value: encoded}})
		}
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Restriction{Or: &OrNode{Children: children}}, nil
}

// containsLeaf handles both substring matching on text fields and subset
// matching on list fields: a list value requires every element to be present.
func (c *compiler) containsLeaf(f *schema.Field, e *Expr) (*Restriction, error) {
	if f.Type == schema.TypeStringList {
		elements := valueList(e.value)
		if elements == nil {
			elements = []interface{}{e.value}
		}
		if len(elements) == 0 {
			// every list trivially contains the empty set
			return &Restriction{Exists: &Exists{FieldURI: f.URI}}, nil
		}
		children := make([]*Restriction, 0, len(elements))
		for _, element := range elements {
			encoded, err := f.Encode(element)
			if err != nil {
				return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: err.Error()}
			}
			children = append(children, &Restriction{Contains: &Contains{
				FieldURI: f.URI, Value: encoded, Mode: ContainFullString, Comparison: CompareExact,
			}})
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return &Restriction{And: &AndNode{Children: children}}, nil
	}
	return c.textLeaf(f, e, ContainSubstring, CompareExact)
}

func (c *compiler) textLeaf(f *schema.Field, e *Expr, mode ContainmentMode, cmp ContainmentComparison) (*Restriction, error) {
	encoded, err := f.Encode(e.value)
	if err != nil {
		return nil, &InvalidLookupError{Field: e.field, Op: e.op, Reason: err.Error()}
	}
	return &Restriction{Contains: &Contains{
		FieldURI: f.URI, Value: encoded, Mode: mode, Comparison: cmp,
	}}, nil
}

// existsLeaf compiles presence checks. Fields without a native existence
// predicate are checked against the empty sentinel value instead.
func (c *compiler) existsLeaf(f *schema.Field, e *Expr) (*Restriction, error) {
	want := true
	if b, ok := e.value.(bool); ok {
		want = b
	}
	var r *Restriction
	if f.NativeExists {
		r = &Restriction{Exists: &Exists{FieldURI: f.URI}}
	} else {
		r = &Restriction{IsNotEqualTo: &Comparison{FieldURI: f.URI, Value: ""}}
	}
	if !want {
		return negate(r), nil
	}
	return r, nil
}

func valueList(value interface{}) []interface{} {
	switch v := value.(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []int:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	default:
		return nil
	}
}
