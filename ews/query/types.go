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

// Package query turns immutable query specifications into lazy, restartable
// streams of records, driving paged find calls and chunked get calls against
// the service.
package query

import (
	"context"
	"time"

	"github.com/mailworks/ews-go/ews/filter"
)

// ItemID identifies one item; the change key is required by write
// operations and carried opaquely here.
type ItemID struct {
	ID        string
	ChangeKey string
}

// Item is one fetched record: its id plus the requested field values keyed
// by schema field name.
type Item struct {
	ID     ItemID
	Fields map[string]interface{}
}

// Result is one stream position: a record or a typed per-item error.
type Result struct {
	Item *Item
	Err  error
}

// SortKey orders results by one field.
type SortKey struct {
	Field      string
	Descending bool
}

// Depth selects the item traversal for a find call. Deep traversal is a
// folder concept; finds only support these three.
type Depth string

const (
	Shallow     Depth = "Shallow"
	SoftDeleted Depth = "SoftDeleted"
	Associated  Depth = "Associated"
)

// View requests a server-side expanding ranged view (recurring items
// unfolded between Start and End). View results arrive inline and cannot be
// sorted by the server.
type View struct {
	Start time.Time
	End   time.Time
}

// FindRequest is one paged search call. When CountOnly is set the server
// returns no entries, only the total. A View returns full records inline;
// otherwise entries carry ids to be fetched separately.
type FindRequest struct {
	Folders     []string
	Restriction *filter.Restriction
	QueryString string
	Sort        []SortKey
	Depth       Depth
	Fields      []string
	Offset      int
	PageSize    int
	CountOnly   bool
	View        *View
}

// FindEntry is one hit of a find page: always an id, plus inline fields for
// view calls.
type FindEntry struct {
	ID     ItemID
	Fields map[string]interface{}
}

// FindPage is one server response to a paged find call.
type FindPage struct {
	Entries    []FindEntry
	NextOffset int
	More       bool
	Total      int
}

// GetRequest fetches full records for known ids.
type GetRequest struct {
	IDs    []ItemID
	Fields []string
}

// ItemResult is one slot of a get response; Err marks per-item failures.
type ItemResult struct {
	ID   ItemID
	Item *Item
	Err  error
}

// Service is the call boundary the engine drives. The protocol session
// implements it over the wire; tests substitute fakes.
type Service interface {
	FindItems(ctx context.Context, req *FindRequest) (*FindPage, error)
	GetItems(ctx context.Context, req *GetRequest) ([]ItemResult, error)
}

// batchFatal matches errors that invalidate an entire call rather than a
// single slot, without depending on the transport package.
type batchFatal interface {
	BatchFatal() bool
}
