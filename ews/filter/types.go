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
	"bytes"
	"encoding/xml"
	"fmt"
)

// Restriction is one node of the server-native search tree. Exactly one of
// the fields is set.
type Restriction struct {
	And                    *AndNode
	Or                     *OrNode
	Not                    *NotNode
	IsEqualTo              *Comparison
	IsNotEqualTo           *Comparison
	IsGreaterThan          *Comparison
	IsGreaterThanOrEqualTo *Comparison
	IsLessThan             *Comparison
	IsLessThanOrEqualTo    *Comparison
	Contains               *Contains
	Exists                 *Exists
	QueryString            *QueryString
}

// AndNode requires every child restriction to match.
type AndNode struct {
	Children []*Restriction
}

// OrNode requires at least one child restriction to match.
type OrNode struct {
	Children []*Restriction
}

type NotNode struct {
	Child *Restriction
}

// Comparison relates a property to a constant value.
type Comparison struct {
	FieldURI string
	Value    string
}

type ContainmentMode string

type ContainmentComparison string

const (
	ContainSubstring  ContainmentMode = "Substring"
	ContainPrefixed   ContainmentMode = "Prefixed"
	ContainFullString ContainmentMode = "FullString"

	CompareExact      ContainmentComparison = "Exact"
	CompareIgnoreCase ContainmentComparison = "IgnoreCase"
)

// Contains is the service's text-match predicate; the mode selects
// substring, prefix or whole-value matching.
type Contains struct {
	FieldURI   string
	Value      string
	Mode       ContainmentMode
	Comparison ContainmentComparison
}

type Exists struct {
	FieldURI string
}

// QueryString is an opaque pass-through search expression evaluated entirely
// by the server. It cannot be combined with structured restrictions.
type QueryString struct {
	Query string
}

// ToXML renders the tree as an m:Restriction element. A lone QueryString
// node renders as m:QueryString instead, since the service carries it
// outside the restriction element.
func (r *Restriction) ToXML() (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if r.QueryString != nil {
		if err := encodeNode(enc, r); err != nil {
			return "", err
		}
	} else {
		start := xml.StartElement{Name: xml.Name{Local: "m:Restriction"}}
		if err := enc.EncodeToken(start); err != nil {
			return "", err
		}
		if err := encodeNode(enc, r); err != nil {
			return "", err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return "", err
		}
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encodeNode(enc *xml.Encoder, r *Restriction) error {
	switch {
	case r.And != nil:
		return encodeChildren(enc, "t:And", r.And.Children)
	case r.Or != nil:
		return encodeChildren(enc, "t:Or", r.Or.Children)
	case r.Not != nil:
		return encodeChildren(enc, "t:Not", []*Restriction{r.Not.Child})
	case r.IsEqualTo != nil:
		return encodeComparison(enc, "t:IsEqualTo", r.IsEqualTo)
	case r.IsNotEqualTo != nil:
		return encodeComparison(enc, "t:IsNotEqualTo", r.IsNotEqualTo)
	case r.IsGreaterThan != nil:
		return encodeComparison(enc, "t:IsGreaterThan", r.IsGreaterThan)
	case r.IsGreaterThanOrEqualTo != nil:
		return encodeComparison(enc, "t:IsGreaterThanOrEqualTo", r.IsGreaterThanOrEqualTo)
	case r.IsLessThan != nil:
		return encodeComparison(enc, "t:IsLessThan", r.IsLessThan)
	case r.IsLessThanOrEqualTo != nil:
		return encodeComparison(enc, "t:IsLessThanOrEqualTo", r.IsLessThanOrEqualTo)
	case r.Contains != nil:
		return encodeContains(enc, r.Contains)
	case r.Exists != nil:
		return encodeElement(enc, "t:Exists", func() error {
			return encodeFieldURI(enc, r.Exists.FieldURI)
		})
	case r.QueryString != nil:
		start := xml.StartElement{Name: xml.Name{Local: "m:QueryString"}}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.CharData(r.QueryString.Query)); err != nil {
			return err
		}
		return enc.EncodeToken(start.End())
	default:
		return fmt.Errorf("empty restriction node")
	}
}

func encodeElement(enc *xml.Encoder, name string, body func() error) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := body(); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

func encodeChildren(enc *xml.Encoder, name string, children []*Restriction) error {
	return encodeElement(enc, name, func() error {
		for _, child := range children {
			if err := encodeNode(enc, child); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeComparison(enc *xml.Encoder, name string, c *Comparison) error {
	return encodeElement(enc, name, func() error {
		if err := encodeFieldURI(enc, c.FieldURI); err != nil {
			return err
		}
		return encodeElement(enc, "t:FieldURIOrConstant", func() error {
			return encodeConstant(enc, c.Value)
		})
	})
}

func encodeContains(enc *xml.Encoder, c *Contains) error {
	start := xml.StartElement{
		Name: xml.Name{Local: "t:Contains"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "ContainmentMode"}, Value: string(c.Mode)},
			{Name: xml.Name{Local: "ContainmentComparison"}, Value: string(c.Comparison)},
		},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := encodeFieldURI(enc, c.FieldURI); err != nil {
		return err
	}
	if err := encodeConstant(enc, c.Value); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

func encodeFieldURI(enc *xml.Encoder, uri string) error {
	start := xml.StartElement{
		Name: xml.Name{Local: "t:FieldURI"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "FieldURI"}, Value: uri}},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

func encodeConstant(enc *xml.Encoder, value string) error {
	start := xml.StartElement{
		Name: xml.Name{Local: "t:Constant"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "Value"}, Value: value}},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}
