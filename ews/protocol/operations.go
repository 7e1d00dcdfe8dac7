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
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mailworks/ews-go/ews/query"
	"github.com/mailworks/ews-go/ews/schema"
)

// wellKnownFolders are addressed by distinguished id rather than opaque
// folder id.
var wellKnownFolders = map[string]bool{
	"inbox": true, "drafts": true, "sentitems": true, "deleteditems": true,
	"outbox": true, "junkemail": true, "calendar": true, "contacts": true,
	"tasks": true, "notes": true, "archivemsgfolderroot": true, "msgfolderroot": true,
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func localName(uri string) string {
	if i := strings.IndexByte(uri, ':'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// fieldIndex resolves schema field names to their descriptors, keyed by the
// element name they appear under in responses.
func fieldIndex(reg schema.Registry, names []string) (map[string]*schema.Field, error) {
	idx := make(map[string]*schema.Field, len(names))
	for _, name := range names {
		f, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		idx[localName(f.URI)] = f
	}
	return idx, nil
}

func writeFolderIDs(b *strings.Builder, wrapper string, folders []string) {
	b.WriteString("<" + wrapper + ">")
	for _, folder := range folders {
		if wellKnownFolders[strings.ToLower(folder)] {
			b.WriteString(`<t:DistinguishedFolderId Id="` + escapeXML(strings.ToLower(folder)) + `"/>`)
		} else {
			b.WriteString(`<t:FolderId Id="` + escapeXML(folder) + `"/>`)
		}
	}
	b.WriteString("</" + wrapper + ">")
}

func writeItemIDs(b *strings.Builder, ids []query.ItemID) {
	b.WriteString("<m:ItemIds>")
	for _, id := range ids {
		b.WriteString(`<t:ItemId Id="` + escapeXML(id.ID) + `"`)
		if id.ChangeKey != "" {
			b.WriteString(` ChangeKey="` + escapeXML(id.ChangeKey) + `"`)
		}
		b.WriteString("/>")
	}
	b.WriteString("</m:ItemIds>")
}

func writeAdditionalProperties(b *strings.Builder, reg schema.Registry, names []string) error {
	if len(names) == 0 {
		return nil
	}
	b.WriteString("<t:AdditionalProperties>")
	for _, name := range names {
		f, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		b.WriteString(`<t:FieldURI FieldURI="` + f.URI + `"/>`)
	}
	b.WriteString("</t:AdditionalProperties>")
	return nil
}

// response scaffolding shared by every operation

type operationResponse struct {
	Messages struct {
		Items []responseMessage `xml:",any"`
	} `xml:"ResponseMessages"`
}

type responseMessage struct {
	Class      string       `xml:"ResponseClass,attr"`
	Code       string       `xml:"ResponseCode"`
	Text       string       `xml:"MessageText"`
	Values     []faultValue `xml:"MessageXml>Value"`
	RootFolder *rootFolder  `xml:"RootFolder"`
	Items      xmlItemList  `xml:"Items"`
}

func (m *responseMessage) err() error {
	if m.Class == "" || m.Class == "Success" || m.Class == "Warning" {
		return nil
	}
	return responseCodeError(m.Code, m.Text, m.Values)
}

type rootFolder struct {
	IndexedPagingOffset     int         `xml:"IndexedPagingOffset,attr"`
	TotalItemsInView        int         `xml:"TotalItemsInView,attr"`
	IncludesLastItemInRange bool        `xml:"IncludesLastItemInRange,attr"`
	Items                   xmlItemList `xml:"Items"`
}

type xmlItemList struct {
	Items []xmlItem `xml:",any"`
}

type xmlItem struct {
	XMLName xml.Name
	ItemID  xmlItemID `xml:"ItemId"`
	Inner   []byte    `xml:",innerxml"`
}

type xmlItemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr"`
}

// parseItemFields walks the item fragment and decodes the elements that map
// onto requested fields, skipping everything else.
func parseItemFields(fields map[string]*schema.Field, inner []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(fields))
	dec := xml.NewDecoder(bytes.NewReader(inner))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		f, ok := fields[start.Name.Local]
		if !ok {
			if err := dec.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		if f.Type == schema.TypeStringList {
			var wrapper struct {
				Values []string `xml:"String"`
			}
			if err := dec.DecodeElement(&wrapper, &start); err != nil {
				return nil, err
			}
			out[f.Name] = wrapper.Values
			continue
		}
		var raw string
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return nil, err
		}
		value, err := f.Decode(raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = value
	}
	return out, nil
}

// FindItem

type findItemOperation struct {
	registry schema.Registry
	req      *query.FindRequest
	page     *query.FindPage
}

func newFindItemOperation(reg schema.Registry, req *query.FindRequest) *findItemOperation {
	return &findItemOperation{registry: reg, req: req}
}

func (o *findItemOperation) Name() string { return "FindItem" }

func (o *findItemOperation) Payload() (string, error) {
	req := o.req
	depth := req.Depth
	if depth == "" {
		depth = query.Shallow
	}

	var b strings.Builder
	b.WriteString(`<m:FindItem Traversal="` + string(depth) + `">`)

	b.WriteString("<m:ItemShape><t:BaseShape>IdOnly</t:BaseShape>")
	if req.View != nil {
		// ranged views return records inline, request the fields up front
		if err := writeAdditionalProperties(&b, o.registry, req.Fields); err != nil {
			return "", err
		}
	}
	b.WriteString("</m:ItemShape>")

	switch {
	case req.View != nil:
		b.WriteString(`<m:CalendarView StartDate="` + req.View.Start.UTC().Format(time.RFC3339) +
			`" EndDate="` + req.View.End.UTC().Format(time.RFC3339) + `"`)
		if req.PageSize > 0 {
			b.WriteString(` MaxEntriesReturned="` + strconv.Itoa(req.PageSize) + `"`)
		}
		b.WriteString("/>")
	case req.CountOnly:
		// the total rides on the folder metadata, ask for a single entry
		b.WriteString(`<m:IndexedPageItemView MaxEntriesReturned="1" Offset="0" BasePoint="Beginning"/>`)
	default:
		b.WriteString("<m:IndexedPageItemView")
		if req.PageSize > 0 {
			b.WriteString(` MaxEntriesReturned="` + strconv.Itoa(req.PageSize) + `"`)
		}
		b.WriteString(` Offset="` + strconv.Itoa(req.Offset) + `" BasePoint="Beginning"/>`)
	}

	if req.Restriction != nil {
		restriction, err := req.Restriction.ToXML()
		if err != nil {
			return "", err
		}
		b.WriteString(restriction)
	}

	if len(req.Sort) > 0 && req.View == nil {
		b.WriteString("<m:SortOrder>")
		for _, key := range req.Sort {
			f, err := o.registry.Lookup(key.Field)
			if err != nil {
				return "", err
			}
			order := "Ascending"
			if key.Descending {
				order = "Descending"
			}
			b.WriteString(`<t:FieldOrder Order="` + order + `"><t:FieldURI FieldURI="` + f.URI + `"/></t:FieldOrder>`)
		}
		b.WriteString("</m:SortOrder>")
	}

	writeFolderIDs(&b, "m:ParentFolderIds", req.Folders)

	if req.QueryString != "" {
		b.WriteString("<m:QueryString>" + escapeXML(req.QueryString) + "</m:QueryString>")
	}

	b.WriteString("</m:FindItem>")
	return b.String(), nil
}

func (o *findItemOperation) Consume(body []byte) error {
	var res operationResponse
	if err := xml.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("malformed FindItem response: %w", err)
	}
	if len(res.Messages.Items) == 0 {
		return &FaultError{Code: "EmptyResponse", Message: "FindItem returned no response messages"}
	}

	page := &query.FindPage{}
	var fields map[string]*schema.Field
	if o.req.View != nil && len(o.req.Fields) > 0 {
		var err error
		fields, err = fieldIndex(o.registry, o.req.Fields)
		if err != nil {
			return err
		}
	}

	// one response message per folder searched; merge the pages
	for _, msg := range res.Messages.Items {
		if err := msg.err(); err != nil {
			return err
		}
		if msg.RootFolder == nil {
			continue
		}
		page.Total += msg.RootFolder.TotalItemsInView
		page.NextOffset = msg.RootFolder.IndexedPagingOffset
		page.More = page.More || !msg.RootFolder.IncludesLastItemInRange
		if o.req.CountOnly {
			continue
		}
		for _, item := range msg.RootFolder.Items.Items {
			entry := query.FindEntry{
				ID: query.ItemID{ID: item.ItemID.ID, ChangeKey: item.ItemID.ChangeKey},
			}
			if fields != nil {
				values, err := parseItemFields(fields, item.Inner)
				if err != nil {
					return err
				}
				entry.Fields = values
			}
			page.Entries = append(page.Entries, entry)
		}
	}

	o.page = page
	return nil
}

// GetItem

type getItemOperation struct {
	registry schema.Registry
	req      *query.GetRequest
	results  []query.ItemResult
}

func newGetItemOperation(reg schema.Registry, req *query.GetRequest) *getItemOperation {
	return &getItemOperation{registry: reg, req: req}
}

func (o *getItemOperation) Name() string { return "GetItem" }

func (o *getItemOperation) Payload() (string, error) {
	var b strings.Builder
	b.WriteString("<m:GetItem>")
	b.WriteString("<m:ItemShape><t:BaseShape>IdOnly</t:BaseShape>")
	if err := writeAdditionalProperties(&b, o.registry, o.req.Fields); err != nil {
		return "", err
	}
	b.WriteString("</m:ItemShape>")
	writeItemIDs(&b, o.req.IDs)
	b.WriteString("</m:GetItem>")
	return b.String(), nil
}

func (o *getItemOperation) Consume(body []byte) error {
	var res operationResponse
	if err := xml.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("malformed GetItem response: %w", err)
	}
	if len(res.Messages.Items) != len(o.req.IDs) {
		return &FaultError{
			Code:    "ResponseMismatch",
			Message: fmt.Sprintf("GetItem returned %d messages for %d ids", len(res.Messages.Items), len(o.req.IDs)),
		}
	}

	fields, err := fieldIndex(o.registry, o.req.Fields)
	if err != nil {
		return err
	}

	results := make([]query.ItemResult, len(o.req.IDs))
	for i, msg := range res.Messages.Items {
		results[i].ID = o.req.IDs[i]
		if err := msg.err(); err != nil {
			results[i].Err = err
			continue
		}
		if len(msg.Items.Items) == 0 {
			results[i].Err = &FaultError{Code: "EmptyItem", Message: "GetItem returned an empty success message"}
			continue
		}
		raw := msg.Items.Items[0]
		values, err := parseItemFields(fields, raw.Inner)
		if err != nil {
			results[i].Err = err
			continue
		}
		id := query.ItemID{ID: raw.ItemID.ID, ChangeKey: raw.ItemID.ChangeKey}
		if id.ID == "" {
			id = o.req.IDs[i]
		}
		results[i].Item = &query.Item{ID: id, Fields: values}
	}

	o.results = results
	return nil
}

// write operations share one response shape: a message per input slot,
// optionally carrying the id the server assigned.

type itemBatchOperation struct {
	name    string
	render  func() (string, error)
	count   int
	ids     []query.ItemID
	errs    []error
}

func (o *itemBatchOperation) Name() string { return o.name }

func (o *itemBatchOperation) Payload() (string, error) { return o.render() }

func (o *itemBatchOperation) Consume(body []byte) error {
	var res operationResponse
	if err := xml.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("malformed %s response: %w", o.name, err)
	}
	if len(res.Messages.Items) != o.count {
		return &FaultError{
			Code:    "ResponseMismatch",
			Message: fmt.Sprintf("%s returned %d messages for %d items", o.name, len(res.Messages.Items), o.count),
		}
	}

	o.ids = make([]query.ItemID, o.count)
	o.errs = make([]error, o.count)
	for i, msg := range res.Messages.Items {
		if err := msg.err(); err != nil {
			if IsBatchFatal(err) {
				return err
			}
			o.errs[i] = err
			continue
		}
		if len(msg.Items.Items) > 0 {
			raw := msg.Items.Items[0]
			o.ids[i] = query.ItemID{ID: raw.ItemID.ID, ChangeKey: raw.ItemID.ChangeKey}
		}
	}
	return nil
}
