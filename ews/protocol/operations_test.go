package protocol

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mailworks/ews-go/ews/query"
	"github.com/mailworks/ews-go/ews/schema"
)

var _ = Describe("FindItem", func() {
	var registry schema.Registry

	BeforeEach(func() {
		registry = schema.ItemSchema()
	})

	Describe("request rendering", func() {
		It("should render a paged search over a well known folder", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders:  []string{"Inbox"},
				Offset:   200,
				PageSize: 100,
			})

			payload, err := op.Payload()

			Expect(err).ToNot(HaveOccurred())
			Expect(payload).To(Equal(`<m:FindItem Traversal="Shallow">` +
				`<m:ItemShape><t:BaseShape>IdOnly</t:BaseShape></m:ItemShape>` +
				`<m:IndexedPageItemView MaxEntriesReturned="100" Offset="200" BasePoint="Beginning"/>` +
				`<m:ParentFolderIds><t:DistinguishedFolderId Id="inbox"/></m:ParentFolderIds>` +
				`</m:FindItem>`))
		})

		It("should address an opaque folder by folder id", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders: []string{"AAMkADhh="},
			})

			payload, err := op.Payload()

			Expect(err).ToNot(HaveOccurred())
			Expect(payload).To(ContainSubstring(`<t:FolderId Id="AAMkADhh="/>`))
		})

		It("should render each traversal under its own wire name", func() {
			for depth, wire := range map[query.Depth]string{
				query.Shallow:     "Shallow",
				query.SoftDeleted: "SoftDeleted",
				query.Associated:  "Associated",
			} {
				op := newFindItemOperation(registry, &query.FindRequest{
					Folders: []string{"inbox"},
					Depth:   depth,
				})

				payload, err := op.Payload()

				Expect(err).ToNot(HaveOccurred())
				Expect(payload).To(HavePrefix(`<m:FindItem Traversal="`+wire+`">`),
					"traversal %s", wire)
			}
		})

		It("should push a server sort as a field order", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders: []string{"inbox"},
				Sort:    []query.SortKey{{Field: "datetime_received", Descending: true}},
			})

			payload, err := op.Payload()

			Expect(err).ToNot(HaveOccurred())
			Expect(payload).To(ContainSubstring(`<m:SortOrder>` +
				`<t:FieldOrder Order="Descending"><t:FieldURI FieldURI="item:DateTimeReceived"/></t:FieldOrder>` +
				`</m:SortOrder>`))
		})

		It("should place the query string after the folder ids", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders:     []string{"inbox"},
				QueryString: `subject:"status report"`,
			})

			payload, err := op.Payload()

			Expect(err).ToNot(HaveOccurred())
			Expect(payload).To(HaveSuffix(`</m:ParentFolderIds>` +
				`<m:QueryString>subject:&#34;status report&#34;</m:QueryString>` +
				`</m:FindItem>`))
		})

		It("should request a single entry when only the total is wanted", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders:   []string{"inbox"},
				CountOnly: true,
			})

			payload, err := op.Payload()

			Expect(err).ToNot(HaveOccurred())
			Expect(payload).To(ContainSubstring(`<m:IndexedPageItemView MaxEntriesReturned="1" Offset="0" BasePoint="Beginning"/>`))
		})

		It("should render a ranged view with its fields inline", func() {
			start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders:  []string{"calendar"},
				Fields:   []string{"subject"},
				PageSize: 50,
				View:     &query.View{Start: start, End: start.AddDate(0, 0, 7)},
			})

			payload, err := op.Payload()

			Expect(err).ToNot(HaveOccurred())
			Expect(payload).To(ContainSubstring(`<t:AdditionalProperties><t:FieldURI FieldURI="item:Subject"/></t:AdditionalProperties>`))
			Expect(payload).To(ContainSubstring(`<m:CalendarView StartDate="2026-06-01T00:00:00Z" EndDate="2026-06-08T00:00:00Z" MaxEntriesReturned="50"/>`))
			Expect(payload).ToNot(ContainSubstring("IndexedPageItemView"))
		})

		It("should reject fields the schema does not know", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders: []string{"calendar"},
				Fields:  []string{"no_such_field"},
				View:    &query.View{Start: time.Now(), End: time.Now()},
			})

			_, err := op.Payload()

			var unknown *schema.UnknownFieldError
			Expect(errors.As(err, &unknown)).To(BeTrue())
		})
	})

	Describe("response parsing", func() {
		It("should surface entries and paging state", func() {
			op := newFindItemOperation(registry, &query.FindRequest{Folders: []string{"inbox"}})

			err := op.Consume([]byte(`<m:FindItemResponse>
				<m:ResponseMessages>
					<m:FindItemResponseMessage ResponseClass="Success">
						<m:ResponseCode>NoError</m:ResponseCode>
						<m:RootFolder IndexedPagingOffset="2" TotalItemsInView="5" IncludesLastItemInRange="false">
							<t:Items>
								<t:Message><t:ItemId Id="item-1" ChangeKey="ck-1"/></t:Message>
								<t:Message><t:ItemId Id="item-2" ChangeKey="ck-2"/></t:Message>
							</t:Items>
						</m:RootFolder>
					</m:FindItemResponseMessage>
				</m:ResponseMessages>
			</m:FindItemResponse>`))

			Expect(err).ToNot(HaveOccurred())
			Expect(op.page.Entries).To(Equal([]query.FindEntry{
				{ID: query.ItemID{ID: "item-1", ChangeKey: "ck-1"}},
				{ID: query.ItemID{ID: "item-2", ChangeKey: "ck-2"}},
			}))
			Expect(op.page.Total).To(Equal(5))
			Expect(op.page.NextOffset).To(Equal(2))
			Expect(op.page.More).To(BeTrue())
		})

		It("should merge the pages of a multi folder search", func() {
			op := newFindItemOperation(registry, &query.FindRequest{Folders: []string{"inbox", "archive"}})

			err := op.Consume([]byte(`<m:FindItemResponse><m:ResponseMessages>
				<m:FindItemResponseMessage ResponseClass="Success">
					<m:RootFolder IndexedPagingOffset="3" TotalItemsInView="3" IncludesLastItemInRange="true">
						<t:Items><t:Message><t:ItemId Id="inbox-1"/></t:Message></t:Items>
					</m:RootFolder>
				</m:FindItemResponseMessage>
				<m:FindItemResponseMessage ResponseClass="Success">
					<m:RootFolder IndexedPagingOffset="1" TotalItemsInView="4" IncludesLastItemInRange="false">
						<t:Items><t:Message><t:ItemId Id="archive-1"/></t:Message></t:Items>
					</m:RootFolder>
				</m:FindItemResponseMessage>
			</m:ResponseMessages></m:FindItemResponse>`))

			Expect(err).ToNot(HaveOccurred())
			Expect(op.page.Entries).To(HaveLen(2))
			Expect(op.page.Total).To(Equal(7))
			Expect(op.page.More).To(BeTrue(), "one folder having more pages keeps the stream going")
		})

		It("should decode inline fields of a ranged view", func() {
			op := newFindItemOperation(registry, &query.FindRequest{
				Folders: []string{"calendar"},
				Fields:  []string{"subject", "datetime_received"},
				View:    &query.View{Start: time.Now(), End: time.Now()},
			})

			err := op.Consume([]byte(`<m:FindItemResponse><m:ResponseMessages>
				<m:FindItemResponseMessage ResponseClass="Success">
					<m:RootFolder TotalItemsInView="1" IncludesLastItemInRange="true">
						<t:Items>
							<t:CalendarItem>
								<t:ItemId Id="occ-1" ChangeKey="ck"/>
								<t:Subject>Standup</t:Subject>
								<t:DateTimeReceived>2026-06-02T09:30:00Z</t:DateTimeReceived>
							</t:CalendarItem>
						</t:Items>
					</m:RootFolder>
				</m:FindItemResponseMessage>
			</m:ResponseMessages></m:FindItemResponse>`))

			Expect(err).ToNot(HaveOccurred())
			Expect(op.page.Entries).To(HaveLen(1))
			Expect(op.page.Entries[0].Fields).To(Equal(map[string]interface{}{
				"subject":           "Standup",
				"datetime_received": time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC),
			}))
		})

		It("should map a busy fault onto the retryable error with its hint", func() {
			op := newFindItemOperation(registry, &query.FindRequest{Folders: []string{"inbox"}})

			err := op.Consume([]byte(`<m:FindItemResponse><m:ResponseMessages>
				<m:FindItemResponseMessage ResponseClass="Error">
					<m:ResponseCode>ErrorServerBusy</m:ResponseCode>
					<m:MessageText>The server cannot service this request right now.</m:MessageText>
					<m:MessageXml><t:Value Name="BackOffMilliseconds">2500</t:Value></m:MessageXml>
				</m:FindItemResponseMessage>
			</m:ResponseMessages></m:FindItemResponse>`))

			var busy *BusyError
			Expect(errors.As(err, &busy)).To(BeTrue())
			Expect(busy.RetryAfter).To(Equal(2500 * time.Millisecond))
		})

		It("should reject a response with no messages", func() {
			op := newFindItemOperation(registry, &query.FindRequest{Folders: []string{"inbox"}})

			err := op.Consume([]byte(`<m:FindItemResponse><m:ResponseMessages/></m:FindItemResponse>`))

			var fault *FaultError
			Expect(errors.As(err, &fault)).To(BeTrue())
		})
	})
})

var _ = Describe("GetItem", func() {
	var registry schema.Registry

	BeforeEach(func() {
		registry = schema.ItemSchema()
	})

	It("should request full records for known ids", func() {
		op := newGetItemOperation(registry, &query.GetRequest{
			IDs:    []query.ItemID{{ID: "item-1", ChangeKey: "ck-1"}, {ID: "item-2"}},
			Fields: []string{"subject", "is_read"},
		})

		payload, err := op.Payload()

		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal(`<m:GetItem>` +
			`<m:ItemShape><t:BaseShape>IdOnly</t:BaseShape>` +
			`<t:AdditionalProperties><t:FieldURI FieldURI="item:Subject"/><t:FieldURI FieldURI="message:IsRead"/></t:AdditionalProperties>` +
			`</m:ItemShape>` +
			`<m:ItemIds><t:ItemId Id="item-1" ChangeKey="ck-1"/><t:ItemId Id="item-2"/></m:ItemIds>` +
			`</m:GetItem>`))
	})

	It("should keep results in request order with per item errors", func() {
		op := newGetItemOperation(registry, &query.GetRequest{
			IDs:    []query.ItemID{{ID: "item-1"}, {ID: "item-2"}},
			Fields: []string{"subject", "categories"},
		})

		err := op.Consume([]byte(`<m:GetItemResponse><m:ResponseMessages>
			<m:GetItemResponseMessage ResponseClass="Success">
				<m:ResponseCode>NoError</m:ResponseCode>
				<m:Items>
					<t:Message>
						<t:ItemId Id="item-1" ChangeKey="ck-fresh"/>
						<t:Subject>Quarterly numbers</t:Subject>
						<t:Categories><t:String>finance</t:String><t:String>urgent</t:String></t:Categories>
					</t:Message>
				</m:Items>
			</m:GetItemResponseMessage>
			<m:GetItemResponseMessage ResponseClass="Error">
				<m:ResponseCode>ErrorItemNotFound</m:ResponseCode>
				<m:MessageText>The specified object was not found in the store.</m:MessageText>
			</m:GetItemResponseMessage>
		</m:ResponseMessages></m:GetItemResponse>`))

		Expect(err).ToNot(HaveOccurred())
		Expect(op.results).To(HaveLen(2))

		Expect(op.results[0].Err).ToNot(HaveOccurred())
		Expect(op.results[0].Item.ID).To(Equal(query.ItemID{ID: "item-1", ChangeKey: "ck-fresh"}))
		Expect(op.results[0].Item.Fields).To(Equal(map[string]interface{}{
			"subject":    "Quarterly numbers",
			"categories": []string{"finance", "urgent"},
		}))

		var fault *FaultError
		Expect(errors.As(op.results[1].Err, &fault)).To(BeTrue())
		Expect(fault.Code).To(Equal("ErrorItemNotFound"))
		Expect(op.results[1].ID).To(Equal(query.ItemID{ID: "item-2"}))
	})

	It("should reject a response whose slot count does not match the request", func() {
		op := newGetItemOperation(registry, &query.GetRequest{
			IDs: []query.ItemID{{ID: "item-1"}, {ID: "item-2"}},
		})

		err := op.Consume([]byte(`<m:GetItemResponse><m:ResponseMessages>
			<m:GetItemResponseMessage ResponseClass="Success"><m:Items/></m:GetItemResponseMessage>
		</m:ResponseMessages></m:GetItemResponse>`))

		var fault *FaultError
		Expect(errors.As(err, &fault)).To(BeTrue())
		Expect(fault.Code).To(Equal("ResponseMismatch"))
	})
})

var _ = Describe("item batch responses", func() {
	It("should collect assigned ids and per slot errors", func() {
		op := &itemBatchOperation{name: "CreateItem", count: 2}

		err := op.Consume([]byte(`<m:CreateItemResponse><m:ResponseMessages>
			<m:CreateItemResponseMessage ResponseClass="Success">
				<m:Items><t:Message><t:ItemId Id="new-1" ChangeKey="ck-1"/></t:Message></m:Items>
			</m:CreateItemResponseMessage>
			<m:CreateItemResponseMessage ResponseClass="Error">
				<m:ResponseCode>ErrorMessageSizeExceeded</m:ResponseCode>
				<m:MessageText>The message exceeds the maximum supported size.</m:MessageText>
			</m:CreateItemResponseMessage>
		</m:ResponseMessages></m:CreateItemResponse>`))

		Expect(err).ToNot(HaveOccurred())
		Expect(op.ids[0]).To(Equal(query.ItemID{ID: "new-1", ChangeKey: "ck-1"}))
		Expect(op.errs[0]).ToNot(HaveOccurred())

		var fault *FaultError
		Expect(errors.As(op.errs[1], &fault)).To(BeTrue())
		Expect(fault.Code).To(Equal("ErrorMessageSizeExceeded"))
	})

	It("should abort the whole batch when the mailbox is gone", func() {
		op := &itemBatchOperation{name: "DeleteItem", count: 2}

		err := op.Consume([]byte(`<m:DeleteItemResponse><m:ResponseMessages>
			<m:DeleteItemResponseMessage ResponseClass="Success"/>
			<m:DeleteItemResponseMessage ResponseClass="Error">
				<m:ResponseCode>ErrorNonExistentMailbox</m:ResponseCode>
				<m:MessageText>nobody@example.com</m:MessageText>
			</m:DeleteItemResponseMessage>
		</m:ResponseMessages></m:DeleteItemResponse>`))

		var missing *MailboxNotFoundError
		Expect(errors.As(err, &missing)).To(BeTrue())
		Expect(missing.Mailbox).To(Equal("nobody@example.com"))
		Expect(IsBatchFatal(err)).To(BeTrue())
	})

	It("should tolerate warnings as success", func() {
		op := &itemBatchOperation{name: "MoveItem", count: 1}

		err := op.Consume([]byte(`<m:MoveItemResponse><m:ResponseMessages>
			<m:MoveItemResponseMessage ResponseClass="Warning">
				<m:ResponseCode>ErrorBatchProcessingStopped</m:ResponseCode>
				<m:Items><t:Message><t:ItemId Id="moved-1"/></t:Message></m:Items>
			</m:MoveItemResponseMessage>
		</m:ResponseMessages></m:MoveItemResponse>`))

		Expect(err).ToNot(HaveOccurred())
		Expect(op.errs[0]).ToNot(HaveOccurred())
		Expect(op.ids[0].ID).To(Equal("moved-1"))
	})
})
