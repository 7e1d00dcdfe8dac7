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

package schema

// ItemSchema returns the field table for generic mailbox items. Body text is
// only substring-searchable on the server, and categories have no native
// existence predicate.
func ItemSchema() *StaticRegistry {
	return NewStaticRegistry(
		&Field{Name: "item_id", Type: TypeString, URI: "item:ItemId", Searchable: true, NativeExists: true,
			ServerOps: []Operator{OpEquals, OpNot, OpIn, OpExists}},
		&Field{Name: "subject", Type: TypeString, URI: "item:Subject", Searchable: true, Sortable: true, NativeExists: true},
		&Field{Name: "body", Type: TypeString, URI: "item:Body", Searchable: true, NativeExists: true,
			ServerOps: []Operator{OpContains, OpIContains, OpExists}},
		&Field{Name: "preview", Type: TypeString, URI: "item:Preview", Searchable: true, NativeExists: true,
			ServerOps: []Operator{OpContains, OpIContains, OpExists}},
		&Field{Name: "sender", Type: TypeString, URI: "message:Sender", Searchable: true, Sortable: true, NativeExists: true},
		&Field{Name: "message_id", Type: TypeString, URI: "message:InternetMessageId", Searchable: true, NativeExists: true},
		&Field{Name: "datetime_received", Type: TypeDateTime, URI: "item:DateTimeReceived", Searchable: true, Sortable: true, NativeExists: true},
		&Field{Name: "datetime_sent", Type: TypeDateTime, URI: "item:DateTimeSent", Searchable: true, Sortable: true, NativeExists: true},
		&Field{Name: "importance", Type: TypeInt, URI: "item:Importance", Searchable: true, Sortable: true, NativeExists: true},
		&Field{Name: "size", Type: TypeInt, URI: "item:Size", Searchable: true, Sortable: true, NativeExists: true},
		&Field{Name: "categories", Type: TypeStringList, URI: "item:Categories", Searchable: true},
		&Field{Name: "is_read", Type: TypeBool, URI: "message:IsRead", Searchable: true, NativeExists: true},
		&Field{Name: "has_attachments", Type: TypeBool, URI: "item:HasAttachments", Searchable: true, NativeExists: true},
		&Field{Name: "mime_content", Type: TypeString, URI: "item:MimeContent", Searchable: false},
	)
}
