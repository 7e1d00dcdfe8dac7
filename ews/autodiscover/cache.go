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

package autodiscover

import (
	"context"
	"sync"
)

// Cache stores resolved endpoints by domain. A hit short-circuits discovery
// entirely; sessions invalidate entries when the server disowns the cached
// endpoint.
type Cache interface {
	Get(ctx context.Context, domain string) (*Result, bool, error)
	Put(ctx context.Context, domain string, result *Result) error
	Invalidate(ctx context.Context, domain string) error
	Clear(ctx context.Context) error
}

// MemoryCache is the in-process cache used when no persistent path is
// configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]Result{}}
}

func (c *MemoryCache) Get(_ context.Context, domain string) (*Result, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[domain]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *MemoryCache) Put(_ context.Context, domain string, result *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = *result
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Result{}
	return nil
}
