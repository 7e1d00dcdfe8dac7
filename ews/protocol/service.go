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

package protocol

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mailworks/ews-go/ews/bulk"
	"github.com/mailworks/ews-go/ews/query"
	"github.com/mailworks/ews-go/ews/schema"
)

// DefaultWriteChunkSize bounds how many items ride in one write call.
const DefaultWriteChunkSize = 100

// NewItem is the content of an item to be created, keyed by schema field
// name.
type NewItem struct {
	Fields map[string]interface{}
}

// ItemChange is one update: the target id plus the fields to set.
type ItemChange struct {
	ID     query.ItemID
	Fields map[string]interface{}
}

// ItemService runs item operations through a session. It satisfies the
// query engine's service boundary and adds the bulk write calls.
type ItemService struct {
	logger   *zap.Logger
	session  *Session
	registry schema.Registry
	chunk    int
}

func NewItemService(logger *zap.Logger, session *Session, registry schema.Registry) *ItemService {
	return &ItemService{
		logger:   logger,
		session:  session,
		registry: registry,
		chunk:    DefaultWriteChunkSize,
	}
}

// WithWriteChunkSize overrides the batch size for write dispatch.
func (s *ItemService) WithWriteChunkSize(n int) *ItemService {
	if n > 0 {
		s.chunk = n
	}
	return s
}

func (s *ItemService) FindItems(ctx context.Context, req *query.FindRequest) (*query.FindPage, error) {
	op := newFindItemOperation(s.registry, req)
	if err := s.session.Do(ctx, op); err != nil {
		return nil, err
	}
	return op.page, nil
}

func (s *ItemService) GetItems(ctx context.Context, req *query.GetRequest) ([]query.ItemResult, error) {
	op := newGetItemOperation(s.registry, req)
	if err := s.session.Do(ctx, op); err != nil {
		return nil, err
	}
	return op.results, nil
}

// CreateItems saves new items into the folder and returns the assigned ids,
// one result slot per input in order.
func (s *ItemService) CreateItems(ctx context.Context, folder string, items []NewItem) ([]bulk.Result[query.ItemID], error) {
	return dispatchItems(ctx, s, "CreateItem", items, func(batch []NewItem) *itemBatchOperation {
		return &itemBatchOperation{name: "CreateItem", count: len(batch), render: func() (string, error) {
			var b strings.Builder
			b.WriteString(`<m:CreateItem MessageDisposition="SaveOnly">`)
			writeFolderIDs(&b, "m:SavedItemFolderId", []string{folder})
			b.WriteString("<m:Items>")
			for _, item := range batch {
				if err := s.writeItemContent(&b, item.Fields); err != nil {
					return "", err
				}
			}
			b.WriteString("</m:Items></m:CreateItem>")
			return b.String(), nil
		}}
	})
}

// UpdateItems applies field changes and returns the ids with their fresh
// change keys.
func (s *ItemService) UpdateItems(ctx context.Context, changes []ItemChange) ([]bulk.Result[query.ItemID], error) {
	return dispatchItems(ctx, s, "UpdateItem", changes, func(batch []ItemChange) *itemBatchOperation {
		return &itemBatchOperation{name: "UpdateItem", count: len(batch), render: func() (string, error) {
			var b strings.Builder
			b.WriteString(`<m:UpdateItem ConflictResolution="AutoResolve" MessageDisposition="SaveOnly">`)
			b.WriteString("<m:ItemChanges>")
			for _, change := range batch {
				b.WriteString(`<t:ItemChange><t:ItemId Id="` + escapeXML(change.ID.ID) + `"`)
				if change.ID.ChangeKey != "" {
					b.WriteString(` ChangeKey="` + escapeXML(change.ID.ChangeKey) + `"`)
				}
				b.WriteString("/><t:Updates>")
				if err := s.writeSetFields(&b, change.Fields); err != nil {
					return "", err
				}
				b.WriteString("</t:Updates></t:ItemChange>")
			}
			b.WriteString("</m:ItemChanges></m:UpdateItem>")
			return b.String(), nil
		}}
	})
}

// DeleteItems moves items to the deleted items folder. Result slots carry
// only errors; the value is the zero id.
func (s *ItemService) DeleteItems(ctx context.Context, ids []query.ItemID) ([]bulk.Result[query.ItemID], error) {
	return s.idOperation(ctx, ids, "DeleteItem", func(b *strings.Builder, batch []query.ItemID) {
		b.WriteString(`<m:DeleteItem DeleteType="MoveToDeletedItems">`)
		writeItemIDs(b, batch)
		b.WriteString("</m:DeleteItem>")
	})
}

// SendItems sends previously saved items, keeping a copy in the folder they
// were saved to.
func (s *ItemService) SendItems(ctx context.Context, ids []query.ItemID) ([]bulk.Result[query.ItemID], error) {
	return s.idOperation(ctx, ids, "SendItem", func(b *strings.Builder, batch []query.ItemID) {
		b.WriteString(`<m:SendItem SaveItemToFolder="true">`)
		writeItemIDs(b, batch)
		b.WriteString("</m:SendItem>")
	})
}

// MoveItems moves items into the destination folder and returns their new
// ids there.
func (s *ItemService) MoveItems(ctx context.Context, ids []query.ItemID, folder string) ([]bulk.Result[query.ItemID], error) {
	return s.idOperation(ctx, ids, "MoveItem", func(b *strings.Builder, batch []query.ItemID) {
		b.WriteString("<m:MoveItem>")
		writeFolderIDs(b, "m:ToFolderId", []string{folder})
		writeItemIDs(b, batch)
		b.WriteString("</m:MoveItem>")
	})
}

// CopyItems copies items into the destination folder.
func (s *ItemService) CopyItems(ctx context.Context, ids []query.ItemID, folder string) ([]bulk.Result[query.ItemID], error) {
	return s.idOperation(ctx, ids, "CopyItem", func(b *strings.Builder, batch []query.ItemID) {
		b.WriteString("<m:CopyItem>")
		writeFolderIDs(b, "m:ToFolderId", []string{folder})
		writeItemIDs(b, batch)
		b.WriteString("</m:CopyItem>")
	})
}

// ArchiveItems moves items from the source folder into the archive mailbox.
func (s *ItemService) ArchiveItems(ctx context.Context, ids []query.ItemID, sourceFolder string) ([]bulk.Result[query.ItemID], error) {
	return s.idOperation(ctx, ids, "ArchiveItem", func(b *strings.Builder, batch []query.ItemID) {
		b.WriteString("<m:ArchiveItem>")
		writeFolderIDs(b, "m:ArchiveSourceFolderId", []string{sourceFolder})
		writeItemIDs(b, batch)
		b.WriteString("</m:ArchiveItem>")
	})
}

func (s *ItemService) idOperation(ctx context.Context, ids []query.ItemID, name string, render func(*strings.Builder, []query.ItemID)) ([]bulk.Result[query.ItemID], error) {
	return dispatchItems(ctx, s, name, ids, func(batch []query.ItemID) *itemBatchOperation {
		return &itemBatchOperation{name: name, count: len(batch), render: func() (string, error) {
			var b strings.Builder
			render(&b, batch)
			return b.String(), nil
		}}
	})
}

func dispatchItems[T any](ctx context.Context, s *ItemService, name string, inputs []T, build func([]T) *itemBatchOperation) ([]bulk.Result[query.ItemID], error) {
	return bulk.Dispatch(ctx, s.logger.Named(name), inputs, s.chunk,
		func(ctx context.Context, batch []T) ([]bulk.Result[query.ItemID], error) {
			op := build(batch)
			if err := s.session.Do(ctx, op); err != nil {
				return nil, err
			}
			out := make([]bulk.Result[query.ItemID], len(batch))
			for i := range out {
				out[i] = bulk.Result[query.ItemID]{Value: op.ids[i], Err: op.errs[i]}
			}
			return out, nil
		})
}

// writeItemContent renders one item body. Field elements are emitted in a
// stable order keyed by element name.
func (s *ItemService) writeItemContent(b *strings.Builder, fields map[string]interface{}) error {
	type entry struct {
		local string
		field *schema.Field
		value interface{}
	}
	entries := make([]entry, 0, len(fields))
	for name, value := range fields {
		f, err := s.registry.Lookup(name)
		if err != nil {
			return err
		}
		entries = append(entries, entry{local: localName(f.URI), field: f, value: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].local < entries[j].local })

	b.WriteString("<t:Message>")
	for _, e := range entries {
		if err := writeFieldElement(b, e.local, e.field, e.value); err != nil {
			return err
		}
	}
	b.WriteString("</t:Message>")
	return nil
}

func (s *ItemService) writeSetFields(b *strings.Builder, fields map[string]interface{}) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, err := s.registry.Lookup(name)
		if err != nil {
			return err
		}
		b.WriteString(`<t:SetItemField><t:FieldURI FieldURI="` + f.URI + `"/><t:Message>`)
		if err := writeFieldElement(b, localName(f.URI), f, fields[name]); err != nil {
			return err
		}
		b.WriteString("</t:Message></t:SetItemField>")
	}
	return nil
}

func writeFieldElement(b *strings.Builder, local string, f *schema.Field, value interface{}) error {
	if f.Type == schema.TypeStringList {
		values, ok := value.([]string)
		if !ok {
			single, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %s expects a string list value, got %T", f.Name, value)
			}
			values = []string{single}
		}
		b.WriteString("<t:" + local + ">")
		for _, v := range values {
			b.WriteString("<t:String>" + escapeXML(v) + "</t:String>")
		}
		b.WriteString("</t:" + local + ">")
		return nil
	}
	encoded, err := f.Encode(value)
	if err != nil {
		return err
	}
	b.WriteString("<t:" + local + ">" + escapeXML(encoded) + "</t:" + local + ">")
	return nil
}
