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
	"errors"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/mailworks/ews-go/ews/protocol"
)

const (
	// DefaultRedirectBudget bounds how many redirect hops one discovery
	// run will follow before giving up.
	DefaultRedirectBudget = 10

	// Per-candidate retries are short: an unreachable candidate should
	// fail over to the next one quickly, not sit in an hour-long loop.
	candidateMaxWait     = 10 * time.Second
	candidateBackoffBase = 1 * time.Second
)

// Discoverer resolves mailbox addresses to service endpoints. A cache hit
// returns without any network traffic; otherwise candidates are probed in
// order, each under a short retry policy, following redirects up to the
// budget.
type Discoverer struct {
	logger    *zap.Logger
	cache     Cache
	prober    Prober
	resolver  Resolver
	policy    protocol.Policy
	redirects int
}

type DiscovererOption func(*Discoverer)

func WithCache(cache Cache) DiscovererOption {
	return func(d *Discoverer) { d.cache = cache }
}

func WithResolver(resolver Resolver) DiscovererOption {
	return func(d *Discoverer) { d.resolver = resolver }
}

func WithProbePolicy(policy protocol.Policy) DiscovererOption {
	return func(d *Discoverer) { d.policy = policy }
}

func WithRedirectBudget(n int) DiscovererOption {
	return func(d *Discoverer) {
		if n > 0 {
			d.redirects = n
		}
	}
}

func NewDiscoverer(logger *zap.Logger, prober Prober, opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		logger:    logger,
		prober:    prober,
		cache:     NewMemoryCache(),
		resolver:  net.DefaultResolver,
		policy:    protocol.NewFaultTolerance(candidateMaxWait, candidateBackoffBase),
		redirects: DefaultRedirectBudget,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evict drops the cached endpoint for the mailbox's domain, forcing the
// next Discover call to probe again. Sessions call this when the server
// disowns the endpoint they were handed.
func (d *Discoverer) Evict(ctx context.Context, email string) error {
	domain, err := Domain(email)
	if err != nil {
		return err
	}
	d.logger.Debug("evicting cached endpoint", zap.String("domain", domain))
	return d.cache.Invalidate(ctx, domain)
}

// Discover resolves the service endpoint for the mailbox address.
func (d *Discoverer) Discover(ctx context.Context, email string) (*Result, error) {
	domain, err := Domain(email)
	if err != nil {
		return nil, err
	}
	log := d.logger.Named("Discover").With(zap.String("domain", domain))

	if cached, ok, err := d.cache.Get(ctx, domain); err != nil {
		log.Debug("cache lookup failed, probing", zap.Error(err))
	} else if ok {
		log.Debug("cache hit", zap.String("endpoint", cached.Endpoint))
		return cached, nil
	}

	var (
		causes       error
		unauthorized bool
		hops         int
	)
	urls := candidates(ctx, log, d.resolver, domain)

	for i := 0; i < len(urls); i++ {
		url := urls[i]
		probe, err := d.probeWithRetry(ctx, log, url, email)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			var denied *protocol.UnauthorizedError
			if errors.As(err, &denied) {
				unauthorized = true
			}
			causes = multierror.Append(causes, err)
			continue
		}

		switch {
		case probe.Settings != nil:
			log.Debug("endpoint resolved",
				zap.String("endpoint", probe.Settings.Endpoint),
				zap.Int("redirects", hops))
			if err := d.cache.Put(ctx, domain, probe.Settings); err != nil {
				log.Debug("caching resolved endpoint failed", zap.Error(err))
			}
			return probe.Settings, nil

		case probe.RedirectURL != "":
			hops++
			if hops > d.redirects {
				return nil, &TooManyRedirectsError{Budget: d.redirects}
			}
			log.Debug("following redirect", zap.String("url", probe.RedirectURL), zap.Int("hop", hops))
			// splice the redirect in as the next candidate
			urls = append(urls[:i+1], append([]string{probe.RedirectURL}, urls[i+1:]...)...)

		case probe.RedirectAddress != "":
			hops++
			if hops > d.redirects {
				return nil, &TooManyRedirectsError{Budget: d.redirects}
			}
			next, err := Domain(probe.RedirectAddress)
			if err != nil {
				causes = multierror.Append(causes, err)
				continue
			}
			log.Debug("restarting for redirected address",
				zap.String("address", probe.RedirectAddress), zap.Int("hop", hops))
			email = probe.RedirectAddress
			urls = append(urls[:i+1], candidates(ctx, log, d.resolver, next)...)
		}
	}

	// a stale entry must not outlive a failed run
	if err := d.cache.Invalidate(ctx, domain); err != nil {
		log.Debug("invalidating cached endpoint failed", zap.Error(err))
	}
	return nil, &ExhaustedError{Domain: domain, Unauthorized: unauthorized, Causes: causes}
}

// probeWithRetry runs one candidate under the short per-candidate policy.
// Terminal errors fail the candidate immediately; transient ones retry
// until the policy gives up.
func (d *Discoverer) probeWithRetry(ctx context.Context, log *zap.Logger, url, email string) (*ProbeResult, error) {
	call := d.policy.New()
	for {
		probe, err := d.prober.Probe(ctx, url, email)
		if err == nil {
			return probe, nil
		}
		delay, terminal := call.Attempt(err)
		if terminal != nil {
			log.Debug("candidate failed", zap.String("url", url),
				zap.Int("attempts", call.Attempts()), zap.Error(terminal))
			return nil, terminal
		}
		log.Debug("candidate retry", zap.String("url", url), zap.Duration("backoff", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
