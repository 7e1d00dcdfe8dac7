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

	"github.com/spf13/cobra"
)

// NewDiscoverCommand resolves the service endpoint for a mailbox address.
func NewDiscoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <email>",
		Short: "Resolve the service endpoint for a mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			discoverer, cleanup, err := newDiscoverer(logger, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := discoverer.Discover(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "endpoint: %s\n", result.Endpoint)
			if result.AuthType != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "auth: %s\n", result.AuthType)
			}
			if result.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "version: %s\n", result.Version)
			}
			return nil
		},
	}
}
