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
	"context"
	"errors"
	"sort"

	"github.com/mailworks/ews-go/ews/filter"
	"go.uber.org/zap"
)

// ErrEndOfStream marks normal stream exhaustion.
var ErrEndOfStream = errors.New("end of stream")

// Stream is a lazy, restartable producer over a Spec. Iterating re-issues
// network calls; Reset rewinds to the beginning and the next iteration
// re-issues them again.
type Stream struct {
	spec   *Spec
	logger *zap.Logger

	prepared    bool
	restriction *filter.Restriction
	queryString string
	residual    filter.Predicate
	serverSort  []SortKey
	localSort   bool
	openErr     error

	buf        []Result
	bufIdx     int
	nextOffset int
	skipped    int
	produced   int
	done       bool
}

// Open builds a stream over the spec. No network traffic happens until the
// first Next call.
func (s *Spec) Open() *Stream {
	return &Stream{
		spec:   s,
		logger: s.engine.logger.Named("Stream"),
	}
}

// Next yields the next result, or ErrEndOfStream when the query is
// exhausted. Per-item failures arrive as Result values with Err set;
// call-level failures abort the stream.
func (st *Stream) Next(ctx context.Context) (*Result, error) {
	if err := st.prepare(); err != nil {
		return nil, err
	}
	for {
		if st.bufIdx < len(st.buf) {
			r := st.buf[st.bufIdx]
			st.bufIdx++
			return &r, nil
		}
		st.buf = st.buf[:0]
		st.bufIdx = 0
		if st.done {
			return nil, ErrEndOfStream
		}
		if err := st.fill(ctx); err != nil {
			st.done = true
			return nil, err
		}
	}
}

// Reset rewinds the stream; the next iteration re-issues all calls.
func (st *Stream) Reset() {
	st.buf = nil
	st.bufIdx = 0
	st.nextOffset = 0
	st.skipped = 0
	st.produced = 0
	st.done = false
}

// prepare compiles the filter and plans the execution path once per stream.
func (st *Stream) prepare() error {
	if st.prepared {
		return st.openErr
	}
	st.prepared = true
	s := st.spec

	if s.specErr != nil {
		st.openErr = s.specErr
		return st.openErr
	}
	if s.fromEnd && len(s.sort) == 0 {
		// without an ordering there is no defined "end" to count from
		st.openErr = errors.New("negative indexing requires an explicit sort order")
		return st.openErr
	}

	if s.expr != nil {
		if s.expr.IsRaw() {
			st.queryString = s.expr.RawQuery()
		} else {
			restriction, residual, err := s.engine.compiler.Compile(s.expr)
			if err != nil {
				st.openErr = err
				return st.openErr
			}
			st.restriction = restriction
			st.residual = residual
		}
	}

	st.serverSort = st.effectiveSort()
	st.localSort = st.needsLocalSort()
	if st.localSort {
		st.logger.Debug("sort cannot be pushed to the server, the full result window will be materialized",
			zap.Int("sortKeys", len(s.sort)))
		st.serverSort = nil
	}
	return nil
}

// effectiveSort applies Reverse and from-end addressing to the configured
// keys.
func (st *Stream) effectiveSort() []SortKey {
	s := st.spec
	keys := make([]SortKey, len(s.sort))
	copy(keys, s.sort)
	flip := s.reversed != s.fromEnd && (s.reversed || s.fromEnd)
	if flip {
		for i := range keys {
			keys[i].Descending = !keys[i].Descending
		}
	}
	return keys
}

// needsLocalSort is true for multi-key sorts, keys the server cannot order,
// and expanded views. Partial push-down is deliberately not attempted.
func (st *Stream) needsLocalSort() bool {
	s := st.spec
	if len(s.sort) == 0 {
		return false
	}
	if s.view != nil || len(s.sort) > 1 {
		return true
	}
	f, err := s.engine.registry.Lookup(s.sort[0].Field)
	if err != nil || !f.Sortable {
		return true
	}
	return false
}

func (st *Stream) fill(ctx context.Context) error {
	if st.localSort {
		return st.fillSorted(ctx)
	}
	if st.spec.fromEnd {
		return st.fillFromEnd(ctx)
	}
	return st.fillPage(ctx)
}

// fillPage runs one find round trip (plus chunked gets) and buffers the
// results.
func (st *Stream) fillPage(ctx context.Context) error {
	s := st.spec

	offset := st.nextOffset
	size := s.pageSize
	if st.residual == nil {
		if st.nextOffset == 0 {
			offset = s.offset
			st.nextOffset = s.offset
		}
		if s.limit >= 0 {
			remaining := s.limit - st.produced
			if remaining <= 0 {
				st.done = true
				return nil
			}
			if remaining < size {
				size = remaining
			}
		}
	}

	page, err := st.find(ctx, offset, size, false)
	if err != nil {
		return err
	}
	st.nextOffset = page.NextOffset
	if !page.More {
		st.done = true
	}

	results, err := st.resolve(ctx, page.Entries)
	if err != nil {
		return err
	}
	st.push(results)
	if s.limit >= 0 && st.produced >= s.limit {
		st.done = true
	}
	return nil
}

// fillFromEnd materializes the bounded window addressed from the end of the
// collection. The sort was already reversed in prepare, so the window is the
// head of the reversed order; the buffer is un-reversed before yielding.
func (st *Stream) fillFromEnd(ctx context.Context) error {
	s := st.spec
	var window []Result
	offset := s.offset
	skip := 0
	if st.residual != nil {
		// a server offset would skip raw records, not predicate
		// survivors; fetch from the start and skip after filtering
		offset = 0
		skip = s.offset
	}
	for len(window) < s.limit {
		size := s.pageSize
		if remaining := s.limit - len(window); st.residual == nil && remaining < size {
			size = remaining
		}
		page, err := st.find(ctx, offset, size, false)
		if err != nil {
			return err
		}
		results, err := st.resolve(ctx, page.Entries)
		if err != nil {
			return err
		}
		for _, r := range st.filterResidual(results) {
			if skip > 0 {
				skip--
				continue
			}
			if len(window) == s.limit {
				break
			}
			window = append(window, r)
		}
		offset = page.NextOffset
		if !page.More {
			break
		}
	}
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	st.buf = window
	st.produced += len(window)
	st.done = true
	return nil
}

// fillSorted materializes every matching record, sorts locally, then applies
// the requested window. This is the documented performance cliff for sorts
// the server cannot evaluate.
func (st *Stream) fillSorted(ctx context.Context) error {
	s := st.spec
	var all []Result
	offset := 0
	for {
		page, err := st.find(ctx, offset, s.pageSize, false)
		if err != nil {
			return err
		}
		results, err := st.resolve(ctx, page.Entries)
		if err != nil {
			return err
		}
		all = append(all, st.filterResidual(results)...)
		offset = page.NextOffset
		if !page.More {
			break
		}
	}

	keys := st.effectiveSort()
	sort.SliceStable(all, func(i, j int) bool {
		return lessResults(&all[i], &all[j], keys)
	})

	all = applyWindow(all, s.offset, s.limit, s.fromEnd)
	st.buf = all
	st.produced += len(all)
	st.done = true
	return nil
}

func (st *Stream) find(ctx context.Context, offset, size int, countOnly bool) (*FindPage, error) {
	s := st.spec
	req := &FindRequest{
		Folders:     s.folders,
		QueryString: st.queryString,
		Sort:        st.serverSort,
		Depth:       s.depth,
		Fields:      s.fields,
		Offset:      offset,
		PageSize:    size,
		CountOnly:   countOnly,
		View:        s.view,
	}
	if st.residual == nil {
		req.Restriction = st.restriction
	}
	return s.engine.svc.FindItems(ctx, req)
}

// resolve turns find entries into results: view entries are already
// complete, otherwise full records are fetched chunk by chunk. Results come
// back in entry order even when the service reorders within a chunk.
func (st *Stream) resolve(ctx context.Context, entries []FindEntry) ([]Result, error) {
	s := st.spec

	if s.view != nil {
		results := make([]Result, 0, len(entries))
		for _, entry := range entries {
			results = append(results, Result{Item: &Item{ID: entry.ID, Fields: entry.Fields}})
		}
		return results, nil
	}

	var results []Result
	for start := 0; start < len(entries); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		ids := make([]ItemID, 0, end-start)
		for _, entry := range entries[start:end] {
			ids = append(ids, entry.ID)
		}

		fetched, err := s.engine.svc.GetItems(ctx, &GetRequest{IDs: ids, Fields: s.fields})
		if err != nil {
			return nil, err
		}

		byID := make(map[string]ItemResult, len(fetched))
		for _, r := range fetched {
			byID[r.ID.ID] = r
		}
		for _, id := range ids {
			r, ok := byID[id.ID]
			if !ok {
				results = append(results, Result{Err: errors.New("item missing from get response: " + id.ID)})
				continue
			}
			if r.Err != nil {
				var fatal batchFatal
				if errors.As(r.Err, &fatal) && fatal.BatchFatal() {
					return nil, r.Err
				}
				results = append(results, Result{Err: r.Err})
				continue
			}
			results = append(results, Result{Item: r.Item})
		}
	}
	return results, nil
}

// filterResidual drops records the residual predicate rejects; error
// markers pass through untouched.
func (st *Stream) filterResidual(results []Result) []Result {
	if st.residual == nil {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.Item != nil && !st.residual(r.Item.Fields) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// push appends results to the buffer, applying the residual predicate and
// offset/limit accounting for the residual path.
func (st *Stream) push(results []Result) {
	s := st.spec
	for _, r := range results {
		if st.residual != nil {
			if r.Item != nil && !st.residual(r.Item.Fields) {
				continue
			}
			if st.skipped < s.offset {
				st.skipped++
				continue
			}
		}
		if s.limit >= 0 && st.produced >= s.limit {
			return
		}
		st.buf = append(st.buf, r)
		st.produced++
	}
}

func applyWindow(results []Result, offset, limit int, fromEnd bool) []Result {
	if fromEnd {
		// offset/limit count from the end of the sorted list
		end := len(results) - offset
		if end < 0 {
			end = 0
		}
		start := end - limit
		if limit < 0 || start < 0 {
			start = 0
		}
		return results[start:end]
	}
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if limit >= 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

func lessResults(a, b *Result, keys []SortKey) bool {
	if a.Item == nil || b.Item == nil {
		// error markers keep their relative position
		return false
	}
	for _, key := range keys {
		cmp := compareFieldValues(a.Item.Fields[key.Field], b.Item.Fields[key.Field])
		if cmp == 0 {
			continue
		}
		if key.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}
