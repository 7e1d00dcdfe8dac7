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

package query

import (
	"fmt"

	"github.com/mailworks/ews-go/ews/filter"
	"github.com/mailworks/ews-go/ews/schema"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize bounds ids per find round trip.
	DefaultPageSize = 1000
	// DefaultChunkSize bounds full records per get round trip.
	DefaultChunkSize = 100
)

// Engine binds a service connection, a restriction compiler and defaults.
// One engine serves many concurrent query specs.
type Engine struct {
	svc      Service
	compiler filter.Compiler
	registry schema.Registry
	logger   *zap.Logger

	pageSize  int
	chunkSize int
}

type EngineOption func(*Engine)

func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func WithChunkSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

func NewEngine(logger *zap.Logger, svc Service, compiler filter.Compiler, registry schema.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		svc:       svc,
		compiler:  compiler,
		registry:  registry,
		logger:    logger,
		pageSize:  DefaultPageSize,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query starts a spec over the given folders.
func (e *Engine) Query(folders ...string) *Spec {
	return &Spec{
		engine:    e,
		folders:   folders,
		depth:     Shallow,
		pageSize:  e.pageSize,
		chunkSize: e.chunkSize,
		limit:     -1,
	}
}

// Spec is the accumulated, immutable configuration of a pending query.
// Every chaining method copies, so concurrently held references never
// observe another caller's chaining. Opening a spec twice re-issues every
// network call; no results are cached.
type Spec struct {
	engine *Engine

	folders   []string
	expr      *filter.Expr
	fields    []string
	sort      []SortKey
	reversed  bool
	depth     Depth
	view      *View
	pageSize  int
	chunkSize int
	offset    int
	limit     int  // -1 means unbounded
	fromEnd   bool // offset/limit count from the end, via reversed sort
	specErr   error
}

func (s *Spec) clone() *Spec {
	copied := *s
	copied.folders = append([]string(nil), s.folders...)
	copied.fields = append([]string(nil), s.fields...)
	copied.sort = append([]SortKey(nil), s.sort...)
	return &copied
}

// Filter narrows the result set; successive filters are ANDed.
func (s *Spec) Filter(e *filter.Expr) *Spec {
	copied := s.clone()
	if copied.expr == nil {
		copied.expr = e
	} else {
		copied.expr = filter.And(copied.expr, e)
	}
	return copied
}

// Exclude removes matching records; it is Filter with the expression negated.
func (s *Spec) Exclude(e *filter.Expr) *Spec {
	return s.Filter(filter.Not(e))
}

// Only restricts fetched fields to the named subset.
func (s *Spec) Only(fields ...string) *Spec {
	copied := s.clone()
	copied.fields = fields
	return copied
}

// OrderBy sets the sort keys. A single server-sortable key is pushed to the
// server; anything else is sorted locally after the requested window is
// materialized, which costs a full fetch of that window.
func (s *Spec) OrderBy(keys ...SortKey) *Spec {
	copied := s.clone()
	copied.sort = keys
	return copied
}

// Reverse flips the direction of every sort key.
func (s *Spec) Reverse() *Spec {
	copied := s.clone()
	copied.reversed = !copied.reversed
	return copied
}

func (s *Spec) WithDepth(d Depth) *Spec {
	copied := s.clone()
	copied.depth = d
	return copied
}

// WithView requests an expanding ranged view between start and end.
func (s *Spec) WithView(v View) *Spec {
	copied := s.clone()
	copied.view = &v
	return copied
}

func (s *Spec) WithPageSize(n int) *Spec {
	copied := s.clone()
	if n > 0 {
		copied.pageSize = n
	}
	return copied
}

func (s *Spec) WithChunkSize(n int) *Spec {
	copied := s.clone()
	if n > 0 {
		copied.chunkSize = n
	}
	return copied
}

// Slice bounds the stream to records [a:b). Negative a with b == 0 takes
// the last -a records by reversing the server sort and un-reversing the
// buffer locally; mixing negative and positive bounds is not supported.
func (s *Spec) Slice(a, b int) *Spec {
	copied := s.clone()
	switch {
	case a >= 0 && b > 0 && b >= a:
		copied.offset = a
		copied.limit = b - a
	case a >= 0 && b == 0:
		copied.offset = a
		copied.limit = -1
	case a < 0 && b == 0:
		copied.fromEnd = true
		copied.offset = 0
		copied.limit = -a
	default:
		copied.specErr = fmt.Errorf("unsupported slice bounds [%d:%d]", a, b)
	}
	return copied
}

// At bounds the stream to the single record at index n. Negative n counts
// from the end; the engine requests it with reversed sort rather than
// fetching the whole collection.
func (s *Spec) At(n int) *Spec {
	if n >= 0 {
		return s.Slice(n, n+1)
	}
	copied := s.clone()
	copied.fromEnd = true
	copied.offset = -n - 1
	copied.limit = 1
	return copied
}
