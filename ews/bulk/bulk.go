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

// Package bulk partitions write operations into wire-sized batches and
// reconciles per-item partial failures back into input order.
package bulk

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Result is one per-input slot: a value or a typed error, never both.
type Result[R any] struct {
	Value R
	Err   error
}

// BatchFunc executes one batch and returns one result per batch element, in
// batch order. The session supplies implementations that issue a single
// service call per batch.
type BatchFunc[T, R any] func(ctx context.Context, batch []T) ([]Result[R], error)

// batchFatal matches errors that invalidate the whole dispatch, not just
// the batch that produced them.
type batchFatal interface {
	BatchFatal() bool
}

// Dispatch partitions inputs into chunkSize batches, runs them in order and
// returns one result per input, index-aligned with the input sequence. A
// batch-level error fills that batch's slots; a batch-fatal error aborts
// the dispatch entirely.
func Dispatch[T, R any](ctx context.Context, logger *zap.Logger, inputs []T, chunkSize int, fn BatchFunc[T, R]) ([]Result[R], error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	results := make([]Result[R], 0, len(inputs))
	batches := 0
	for start := 0; start < len(inputs); start += chunkSize {
		end := start + chunkSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch := inputs[start:end]
		batches++

		batchResults, err := fn(ctx, batch)
		if err != nil {
			var fatal batchFatal
			if errors.As(err, &fatal) && fatal.BatchFatal() {
				return nil, err
			}
			logger.Debug("batch failed, marking its slots", zap.Int("batch", batches), zap.Error(err))
			for range batch {
				results = append(results, Result[R]{Err: err})
			}
			continue
		}
		if len(batchResults) != len(batch) {
			return nil, fmt.Errorf("batch returned %d results for %d inputs", len(batchResults), len(batch))
		}
		for _, r := range batchResults {
			if r.Err != nil {
				var fatal batchFatal
				if errors.As(r.Err, &fatal) && fatal.BatchFatal() {
					return nil, r.Err
				}
			}
			results = append(results, r)
		}
	}

	logger.Debug("dispatch complete", zap.Int("inputs", len(inputs)), zap.Int("batches", batches))
	return results, nil
}
