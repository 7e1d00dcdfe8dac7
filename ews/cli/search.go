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

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailworks/ews-go/ews/config"
	"github.com/mailworks/ews-go/ews/filter"
	"github.com/mailworks/ews-go/ews/protocol"
	"github.com/mailworks/ews-go/ews/query"
	"github.com/mailworks/ews-go/ews/schema"
)

// SearchOptions holds the search command flags.
type SearchOptions struct {
	*RootOptions
	Filter  string
	Fields  []string
	OrderBy []string
	Limit   int
	Count   bool
}

// NewSearchCommand queries a folder and prints matching items.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <folder>",
		Short: "Search a mailbox folder",
		Long: `Search a mailbox folder with a filter expression.

Example:
  ews search inbox --filter 'is_read == false && subject.contains("invoice")' --limit 20
  ews search sentitems --filter 'datetime_sent > "2026-01-01T00:00:00Z"' --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter expression")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", []string{"subject", "datetime_received"}, "fields to fetch")
	cmd.Flags().StringSliceVar(&opts.OrderBy, "order-by", nil, "sort keys, prefix with - for descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of results, 0 for all")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print only the number of matches")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *SearchOptions, folder string) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	endpoint := cfg.Endpoint
	if endpoint == "" {
		discoverer, cleanup, err := newDiscoverer(logger, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		result, err := discoverer.Discover(cmd.Context(), cfg.Mailbox)
		if err != nil {
			return err
		}
		endpoint = result.Endpoint
	}

	credential := protocol.Credential{Username: cfg.Username, Password: cfg.Password}
	session := protocol.NewSession(logger.Named("Session"), endpoint, credential,
		protocol.WithPolicy(retryPolicy(cfg)),
		protocol.WithPoolSize(cfg.MaxConnections, nil),
	)
	defer session.Close()

	registry := schema.ItemSchema()
	service := protocol.NewItemService(logger.Named("ItemService"), session, registry)
	engine := query.NewEngine(logger.Named("Engine"), service, filter.NewCompiler(registry), registry,
		query.WithPageSize(cfg.PageSize), query.WithChunkSize(cfg.ChunkSize))

	spec := engine.Query(folder).Only(opts.Fields...)

	if opts.Filter != "" {
		expr, err := filter.Parse(opts.Filter)
		if err != nil {
			return err
		}
		spec = spec.Filter(expr)
	}
	if len(opts.OrderBy) > 0 {
		keys := make([]query.SortKey, 0, len(opts.OrderBy))
		for _, key := range opts.OrderBy {
			if name := strings.TrimPrefix(key, "-"); name != key {
				keys = append(keys, query.SortKey{Field: name, Descending: true})
			} else {
				keys = append(keys, query.SortKey{Field: key})
			}
		}
		spec = spec.OrderBy(keys...)
	}
	if opts.Limit > 0 {
		spec = spec.Slice(0, opts.Limit)
	}

	if opts.Count {
		n, err := spec.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	}

	results, err := spec.Collect(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("item failed", zap.Error(r.Err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", r.Item.ID.ID, fieldValues(r.Item, opts.Fields))
	}
	return nil
}

func retryPolicy(cfg *config.Config) protocol.Policy {
	if cfg.RetryPolicy == config.RetryFailFast {
		return protocol.FailFast{}
	}
	return protocol.NewFaultTolerance(cfg.MaxWait, cfg.BackoffBase)
}

func fieldValues(item *query.Item, fields []string) []interface{} {
	values := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		values = append(values, item.Fields[f])
	}
	return values
}
