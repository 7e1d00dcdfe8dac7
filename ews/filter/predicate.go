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
	"strings"
	"time"

	"github.com/mailworks/ews-go/ews/schema"
)

// Predicate evaluates a filter expression against one record's field map.
// It is the residual filter applied locally when the server cannot evaluate
// part of an expression.
type Predicate func(fields map[string]interface{}) bool

// predicate builds a local evaluator for the whole expression. Raw query
// strings have no local semantics, so an expression that needs local
// evaluation and contains one is incompatible.
func (c *compiler) predicate(e *Expr) (Predicate, error) {
	switch e.kind {
	case kindRaw:
		return nil, ErrIncompatibleFilter
	case kindAnd, kindOr:
		preds := make([]Predicate, len(e.children))
		for i, child := range e.children {
			p, err := c.predicate(child)
			if err != nil {
				return nil, err
			}
			preds[i] = p
		}
		all := e.kind == kindAnd
		return func(fields map[string]interface{}) bool {
			for _, p := range preds {
				if p(fields) != all {
					return !all
				}
			}
			return all
		}, nil
	case kindNot:
		p, err := c.predicate(e.children[0])
		if err != nil {
			return nil, err
		}
		return func(fields map[string]interface{}) bool {
			return !p(fields)
		}, nil
	case kindLookup:
		return c.leafPredicate(e)
	default:
		return nil, ErrIncompatibleFilter
	}
}

func (c *compiler) leafPredicate(e *Expr) (Predicate, error) {
	f, err := c.registry.Lookup(e.field)
	if err != nil {
		return nil, err
	}
	field, op, want := f.Name, e.op, e.value

	return func(fields map[string]interface{}) bool {
		got, present := fields[field]
		if op == schema.OpExists {
			expect := true
			if b, ok := want.(bool); ok {
				expect = b
			}
			return (present && got != nil) == expect
		}
		if !present || got == nil {
			return false
		}

		switch op {
		case schema.OpEquals:
			return equalValues(got, want)
		case schema.OpNot:
			return !equalValues(got, want)
		case schema.OpIExact:
			return strings.EqualFold(asString(got), asString(want))
		case schema.OpContains:
			if list, ok := asStringList(got); ok {
				wanted := valueList(want)
				if wanted == nil {
					wanted = []interface{}{want}
				}
				return containsAll(list, wanted)
			}
			return strings.Contains(asString(got), asString(want))
		case schema.OpIContains:
			return strings.Contains(strings.ToLower(asString(got)), strings.ToLower(asString(want)))
		case schema.OpStartsWith:
			return strings.HasPrefix(asString(got), asString(want))
		case schema.OpIStartsWith:
			return strings.HasPrefix(strings.ToLower(asString(got)), strings.ToLower(asString(want)))
		case schema.OpGt:
			cmp, ok := compareValues(got, want)
			return ok && cmp > 0
		case schema.OpGte:
			cmp, ok := compareValues(got, want)
			return ok && cmp >= 0
		case schema.OpLt:
			cmp, ok := compareValues(got, want)
			return ok && cmp < 0
		case schema.OpLte:
			cmp, ok := compareValues(got, want)
			return ok && cmp <= 0
		case schema.OpRange:
			bounds := valueList(want)
			if len(bounds) != 2 {
				return false
			}
			low, okLow := compareValues(got, bounds[0])
			high, okHigh := compareValues(got, bounds[1])
			return okLow && okHigh && low >= 0 && high <= 0
		case schema.OpIn:
			if list, ok := asStringList(got); ok {
				if s, isScalar := want.(string); isScalar {
					return containsString(list, s)
				}
				for _, candidate := range valueList(want) {
					if containsString(list, asString(candidate)) {
						return true
					}
				}
				return false
			}
			for _, candidate := range valueList(want) {
				if equalValues(got, candidate) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}, nil
}

func equalValues(got, want interface{}) bool {
	if gb, ok := got.(bool); ok {
		wb, okWant := want.(bool)
		return okWant && gb == wb
	}
	if cmp, ok := compareValues(got, want); ok {
		return cmp == 0
	}
	gs, gok := got.(string)
	ws, wok := want.(string)
	return gok && wok && gs == ws
}

// compareValues orders two values when both are numeric or both are times.
func compareValues(got, want interface{}) (int, bool) {
	if gt, ok := asTime(got); ok {
		if wt, ok := asTime(want); ok {
			switch {
			case gt.Before(wt):
				return -1, true
			case gt.After(wt):
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	gn, gok := asFloat(got)
	wn, wok := asFloat(want)
	if gok && wok {
		switch {
		case gn < wn:
			return -1, true
		case gn > wn:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

func asStringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, element := range list {
			s, ok := element.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsString(list []string, s string) bool {
	for _, element := range list {
		if element == s {
			return true
		}
	}
	return false
}

func containsAll(list []string, wanted []interface{}) bool {
	for _, w := range wanted {
		if !containsString(list, asString(w)) {
			return false
		}
	}
	return true
}
