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

// Package cli wires the client into a small command line tool for endpoint
// discovery and mailbox searches.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailworks/ews-go/ews/autodiscover"
	"github.com/mailworks/ews-go/ews/config"
	"github.com/mailworks/ews-go/ews/protocol"
)

// RootOptions holds the global flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Debug      bool
}

// NewRootCommand creates the ews root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "ews",
		Short:         "Exchange Web Services client",
		Long:          "Query and manage mailbox items over Exchange Web Services.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultConfigPath(), "path to the config file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")

	cmd.AddCommand(NewDiscoverCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))

	return cmd
}

func (o *RootOptions) logger() (*zap.Logger, error) {
	if o.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (o *RootOptions) load() (*config.Config, *zap.Logger, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newDiscoverer assembles the discovery stack from the configuration: a
// persistent cache when cache_dir is set, in-memory otherwise.
func newDiscoverer(logger *zap.Logger, cfg *config.Config) (*autodiscover.Discoverer, func(), error) {
	credential := protocol.Credential{Username: cfg.Username, Password: cfg.Password}
	prober := autodiscover.NewPOXProber(logger.Named("Prober"), credential)

	cleanup := func() {}
	var opts []autodiscover.DiscovererOption
	if cfg.CacheDir != "" {
		cache, err := autodiscover.NewSQLiteCache(filepath.Join(cfg.CacheDir, "endpoints.db"))
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { cache.Close() }
		opts = append(opts, autodiscover.WithCache(cache))
	}

	return autodiscover.NewDiscoverer(logger.Named("Autodiscover"), prober, opts...), cleanup, nil
}
