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
	"time"
)

// Collect drains a fresh stream into a slice.
func (s *Spec) Collect(ctx context.Context) ([]Result, error) {
	st := s.Open()
	var results []Result
	for {
		r, err := st.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			return results, nil
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
}

// First returns the first record, or ErrEndOfStream when the query is empty.
func (s *Spec) First(ctx context.Context) (*Result, error) {
	limited := s.clone()
	limited.limit = 1
	return limited.Open().Next(ctx)
}

// Count returns the number of matching records without materializing them.
// When a residual predicate is in play the server total would count
// pre-predicate records, so the stream is consumed and counted instead.
func (s *Spec) Count(ctx context.Context) (int, error) {
	st := s.Open()
	if err := st.prepare(); err != nil {
		return 0, err
	}
	if st.residual != nil || st.localSort {
		return s.countByStreaming(ctx, st)
	}

	page, err := st.find(ctx, 0, 0, true)
	if err != nil {
		return 0, err
	}
	total := page.Total
	total -= s.offset
	if total < 0 {
		total = 0
	}
	if s.limit >= 0 && total > s.limit {
		total = s.limit
	}
	return total, nil
}

func (s *Spec) countByStreaming(ctx context.Context, st *Stream) (int, error) {
	count := 0
	for {
		_, err := st.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}

// Exists reports whether at least one record matches, fetching at most one.
func (s *Spec) Exists(ctx context.Context) (bool, error) {
	_, err := s.First(ctx)
	if errors.Is(err, ErrEndOfStream) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// compareFieldValues orders two field values for the local sort. Unlike
// types have no order and compare equal.
func compareFieldValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
