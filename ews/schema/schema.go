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

// Package schema describes which item fields exist, which lookup operators
// the service accepts for them, and how values are encoded on the wire.
package schema

import (
	"fmt"
	"strconv"
	"time"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNot         Operator = "not"
	OpIExact      Operator = "iexact"
	OpContains    Operator = "contains"
	OpIContains   Operator = "icontains"
	OpStartsWith  Operator = "startswith"
	OpIStartsWith Operator = "istartswith"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpRange       Operator = "range"
	OpIn          Operator = "in"
	OpExists      Operator = "exists"
)

type FieldType int

const (
	TypeString FieldType = iota
	TypeStringList
	TypeInt
	TypeDateTime
	TypeBool
)

// Field describes one addressable item property. URI is the property path
// the service understands, e.g. "item:Subject". ServerOps, when set, narrows
// the operators the server can evaluate for this field below what the field
// type would otherwise allow; lookups outside that set are evaluated locally.
type Field struct {
	Name         string
	Type         FieldType
	URI          string
	Searchable   bool
	Sortable     bool
	NativeExists bool
	ServerOps    []Operator
}

// Operators returns the closed set of valid lookup operators for a field type.
func Operators(t FieldType) []Operator {
	switch t {
	case TypeString:
		return []Operator{
			OpEquals, OpNot, OpIExact, OpContains, OpIContains,
			OpStartsWith, OpIStartsWith, OpIn, OpExists,
		}
	case TypeStringList:
		return []Operator{OpIn, OpContains, OpExists}
	case TypeInt, TypeDateTime:
		return []Operator{OpEquals, OpNot, OpGt, OpGte, OpLt, OpLte, OpRange, OpIn, OpExists}
	case TypeBool:
		return []Operator{OpEquals, OpNot, OpExists}
	default:
		return nil
	}
}

// ValidOperator reports whether the operator is a legal lookup for the
// field's type, independent of what the server can evaluate.
func (f *Field) ValidOperator(op Operator) bool {
	for _, o := range Operators(f.Type) {
		if o == op {
			return true
		}
	}
	return false
}

// ServerOperator reports whether the server can evaluate the operator for
// this field. A lookup that is valid but not server-evaluable falls back to
// local filtering.
func (f *Field) ServerOperator(op Operator) bool {
	if !f.ValidOperator(op) {
		return false
	}
	if f.ServerOps == nil {
		return true
	}
	for _, o := range f.ServerOps {
		if o == op {
			return true
		}
	}
	return false
}

// Encode converts a caller-supplied value into its wire representation.
func (f *Field) Encode(value interface{}) (string, error) {
	switch f.Type {
	case TypeString, TypeStringList:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("field %s expects a string value, got %T", f.Name, value)
		}
		return s, nil
	case TypeInt:
		switch v := value.(type) {
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case uint64:
			return strconv.FormatUint(v, 10), nil
		default:
			return "", fmt.Errorf("field %s expects an integer value, got %T", f.Name, value)
		}
	case TypeDateTime:
		switch v := value.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return "", fmt.Errorf("field %s expects an RFC3339 timestamp: %w", f.Name, err)
			}
			return v, nil
		default:
			return "", fmt.Errorf("field %s expects a time value, got %T", f.Name, value)
		}
	case TypeBool:
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("field %s expects a bool value, got %T", f.Name, value)
		}
		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("field %s has unknown type %d", f.Name, f.Type)
	}
}

// Decode converts a wire value back into the field's native representation.
// List fields decode element by element, so a single value stays a string.
func (f *Field) Decode(s string) (interface{}, error) {
	switch f.Type {
	case TypeString, TypeStringList:
		return s, nil
	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s carries a malformed integer %q: %w", f.Name, s, err)
		}
		return n, nil
	case TypeDateTime:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("field %s carries a malformed timestamp %q: %w", f.Name, s, err)
		}
		return t, nil
	case TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("field %s carries a malformed bool %q: %w", f.Name, s, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("field %s has unknown type %d", f.Name, f.Type)
	}
}

type UnknownFieldError struct {
	Name string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field: %s", e.Name)
}

type NotSearchableError struct {
	Name string
}

func (e *NotSearchableError) Error() string {
	return fmt.Sprintf("field is not searchable: %s", e.Name)
}

// Registry resolves field names to their capability descriptions.
type Registry interface {
	Lookup(name string) (*Field, error)
}

type StaticRegistry struct {
	fields map[string]*Field
}

func NewStaticRegistry(fields ...*Field) *StaticRegistry {
	m := make(map[string]*Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return &StaticRegistry{fields: m}
}

func (r *StaticRegistry) Lookup(name string) (*Field, error) {
	f, ok := r.fields[name]
	if !ok {
		return nil, &UnknownFieldError{Name: name}
	}
	return f, nil
}

// Names returns the registered field names, for diagnostics.
func (r *StaticRegistry) Names() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	return names
}
