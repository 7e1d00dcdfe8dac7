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
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// Resolver is the DNS surface discovery needs; net.Resolver satisfies it.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

const autodiscoverPath = "/autodiscover/autodiscover.xml"

// candidates produces the probe URLs for a domain in priority order: the
// autodiscover subdomain, the bare domain, then any SRV-advertised hosts.
func candidates(ctx context.Context, logger *zap.Logger, resolver Resolver, domain string) []string {
	urls := []string{
		fmt.Sprintf("https://autodiscover.%s%s", domain, autodiscoverPath),
		fmt.Sprintf("https://%s%s", domain, autodiscoverPath),
	}

	if resolver == nil {
		return urls
	}

	_, records, err := resolver.LookupSRV(ctx, "autodiscover", "tcp", domain)
	if err != nil {
		logger.Debug("no SRV candidates", zap.String("domain", domain), zap.Error(err))
		return urls
	}
	for _, record := range records {
		target := strings.TrimSuffix(record.Target, ".")
		if target == "" {
			continue
		}
		urls = append(urls, fmt.Sprintf("https://%s%s", target, autodiscoverPath))
	}
	return urls
}
