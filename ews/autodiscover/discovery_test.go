package autodiscover

import (
	"context"
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mailworks/ews-go/ews/protocol"
)

// fakeProber replays a per-URL queue of scripted outcomes and records every
// probe it receives.
type fakeProber struct {
	calls   []string
	emails  []string
	scripts map[string][]probeOutcome
}

type probeOutcome struct {
	result *ProbeResult
	err    error
}

func newFakeProber() *fakeProber {
	return &fakeProber{scripts: map[string][]probeOutcome{}}
}

func (p *fakeProber) on(url string, outcomes ...probeOutcome) {
	p.scripts[url] = append(p.scripts[url], outcomes...)
}

func (p *fakeProber) Probe(ctx context.Context, url, email string) (*ProbeResult, error) {
	p.calls = append(p.calls, url)
	p.emails = append(p.emails, email)
	queue := p.scripts[url]
	if len(queue) == 0 {
		return nil, &protocol.TransientError{Cause: errors.New("no route to host")}
	}
	p.scripts[url] = queue[1:]
	return queue[0].result, queue[0].err
}

type fakeResolver struct {
	targets map[string][]*net.SRV
	err     error
}

func (r *fakeResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	if r.err != nil {
		return "", nil, r.err
	}
	return "", r.targets[name], nil
}

func settings(endpoint string) probeOutcome {
	return probeOutcome{result: &ProbeResult{Settings: &Result{
		Endpoint: endpoint,
		AuthType: "basic",
		Version:  "Exchange2016",
	}}}
}

func redirectURL(url string) probeOutcome {
	return probeOutcome{result: &ProbeResult{RedirectURL: url}}
}

func redirectAddress(email string) probeOutcome {
	return probeOutcome{result: &ProbeResult{RedirectAddress: email}}
}

func failure(err error) probeOutcome {
	return probeOutcome{err: err}
}

var _ = Describe("discovery", func() {
	const (
		email         = "user@example.com"
		primaryURL    = "https://autodiscover.example.com/autodiscover/autodiscover.xml"
		bareDomainURL = "https://example.com/autodiscover/autodiscover.xml"
	)

	var (
		prober     *fakeProber
		cache      *MemoryCache
		discoverer *Discoverer
	)

	BeforeEach(func() {
		prober = newFakeProber()
		cache = NewMemoryCache()
		discoverer = NewDiscoverer(logger, prober,
			WithCache(cache),
			WithResolver(&fakeResolver{err: errors.New("no such record")}),
			WithProbePolicy(protocol.FailFast{}),
		)
	})

	When("the domain is cached", func() {
		It("should answer without probing", func() {
			cached := &Result{Endpoint: fake.URL(), AuthType: "basic"}
			Expect(cache.Put(context.Background(), "example.com", cached)).To(Succeed())

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal(cached.Endpoint))
			Expect(prober.calls).To(BeEmpty())
		})
	})

	When("the first candidate answers", func() {
		It("should resolve and cache the endpoint", func() {
			prober.on(primaryURL, settings("https://mail.example.com/EWS/Exchange.asmx"))

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal("https://mail.example.com/EWS/Exchange.asmx"))
			Expect(prober.calls).To(Equal([]string{primaryURL}))

			cached, ok, err := cache.Get(context.Background(), "example.com")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(cached.Endpoint).To(Equal(result.Endpoint))
		})
	})

	When("the autodiscover subdomain is unreachable", func() {
		It("should fail over to the bare domain", func() {
			prober.on(bareDomainURL, settings("https://mail.example.com/EWS/Exchange.asmx"))

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal("https://mail.example.com/EWS/Exchange.asmx"))
			Expect(prober.calls).To(Equal([]string{primaryURL, bareDomainURL}))
		})
	})

	When("SRV records advertise a host", func() {
		It("should probe it after the well known candidates", func() {
			discoverer = NewDiscoverer(logger, prober,
				WithCache(cache),
				WithProbePolicy(protocol.FailFast{}),
				WithResolver(&fakeResolver{targets: map[string][]*net.SRV{
					"example.com": {{Target: "mail.hoster.net.", Port: 443}},
				}}),
			)
			srvURL := "https://mail.hoster.net/autodiscover/autodiscover.xml"
			prober.on(srvURL, settings("https://mail.hoster.net/EWS/Exchange.asmx"))

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal("https://mail.hoster.net/EWS/Exchange.asmx"))
			Expect(prober.calls).To(Equal([]string{primaryURL, bareDomainURL, srvURL}))
		})
	})

	When("a candidate redirects to another URL", func() {
		It("should probe the redirect target next", func() {
			target := "https://autodiscover.hoster.net/autodiscover/autodiscover.xml"
			prober.on(primaryURL, redirectURL(target))
			prober.on(target, settings("https://mail.hoster.net/EWS/Exchange.asmx"))

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal("https://mail.hoster.net/EWS/Exchange.asmx"))
			Expect(prober.calls).To(Equal([]string{primaryURL, target}))
		})
	})

	When("a candidate redirects to another address", func() {
		It("should restart the candidate walk with the new mailbox", func() {
			movedURL := "https://autodiscover.moved.example.org/autodiscover/autodiscover.xml"
			prober.on(primaryURL, redirectAddress("user@moved.example.org"))
			prober.on(movedURL, settings("https://mail.moved.example.org/EWS/Exchange.asmx"))

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal("https://mail.moved.example.org/EWS/Exchange.asmx"))
			Expect(prober.calls).To(Equal([]string{primaryURL, movedURL}))
			Expect(prober.emails[1]).To(Equal("user@moved.example.org"),
				"probes after the redirect must carry the redirected mailbox")
		})
	})

	When("redirects keep bouncing", func() {
		It("should give up once the budget is spent", func() {
			discoverer = NewDiscoverer(logger, prober,
				WithCache(cache),
				WithResolver(&fakeResolver{err: errors.New("no such record")}),
				WithProbePolicy(protocol.FailFast{}),
				WithRedirectBudget(2),
			)
			hop1 := "https://hop1.example.net/autodiscover/autodiscover.xml"
			hop2 := "https://hop2.example.net/autodiscover/autodiscover.xml"
			hop3 := "https://hop3.example.net/autodiscover/autodiscover.xml"
			prober.on(primaryURL, redirectURL(hop1))
			prober.on(hop1, redirectURL(hop2))
			prober.on(hop2, redirectURL(hop3))

			_, err := discoverer.Discover(context.Background(), email)

			var tooMany *TooManyRedirectsError
			Expect(errors.As(err, &tooMany)).To(BeTrue())
			Expect(tooMany.Budget).To(Equal(2))
		})
	})

	When("a candidate is flaky", func() {
		It("should retry it under the probe policy before failing over", func() {
			discoverer = NewDiscoverer(logger, prober,
				WithCache(cache),
				WithResolver(&fakeResolver{err: errors.New("no such record")}),
				WithProbePolicy(protocol.NewFaultTolerance(5*time.Second, time.Millisecond)),
			)
			prober.on(primaryURL,
				failure(&protocol.TransientError{Cause: errors.New("connection reset")}),
				failure(&protocol.TransientError{Cause: errors.New("connection reset")}),
				settings("https://mail.example.com/EWS/Exchange.asmx"),
			)

			result, err := discoverer.Discover(context.Background(), email)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Endpoint).To(Equal("https://mail.example.com/EWS/Exchange.asmx"))
			Expect(prober.calls).To(Equal([]string{primaryURL, primaryURL, primaryURL}))
		})
	})

	When("every candidate fails", func() {
		It("should report exhaustion with the accumulated causes", func() {
			_, err := discoverer.Discover(context.Background(), email)

			var exhausted *ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Domain).To(Equal("example.com"))
			Expect(exhausted.Unauthorized).To(BeFalse())
			Expect(exhausted.Causes).To(HaveOccurred())
		})

		It("should flag rejected credentials distinctly", func() {
			prober.on(primaryURL, failure(&protocol.UnauthorizedError{Endpoint: primaryURL}))

			_, err := discoverer.Discover(context.Background(), email)

			var exhausted *ExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Unauthorized).To(BeTrue())
		})
	})

	When("the caller cancels", func() {
		It("should stop between candidates", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			prober.on(primaryURL, failure(&protocol.TransientError{Cause: context.Canceled}))

			_, err := discoverer.Discover(ctx, email)

			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})

	Describe("eviction", func() {
		It("should force the next discovery to probe again", func() {
			prober.on(primaryURL,
				settings("https://stale.example.com/EWS/Exchange.asmx"),
				settings("https://fresh.example.com/EWS/Exchange.asmx"),
			)

			first, err := discoverer.Discover(context.Background(), email)
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Endpoint).To(Equal("https://stale.example.com/EWS/Exchange.asmx"))

			Expect(discoverer.Evict(context.Background(), email)).To(Succeed())

			second, err := discoverer.Discover(context.Background(), email)
			Expect(err).ToNot(HaveOccurred())
			Expect(second.Endpoint).To(Equal("https://fresh.example.com/EWS/Exchange.asmx"))
			Expect(prober.calls).To(HaveLen(2))
		})
	})
})

var _ = Describe("mailbox domains", func() {
	It("should lower case the domain part", func() {
		domain, err := Domain("User@Example.COM")

		Expect(err).ToNot(HaveOccurred())
		Expect(domain).To(Equal("example.com"))
	})

	It("should reject addresses without a domain", func() {
		_, err := Domain("not-an-address")
		Expect(err).To(HaveOccurred())

		_, err = Domain("trailing@")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("memory cache", func() {
	var cache *MemoryCache

	BeforeEach(func() {
		cache = NewMemoryCache()
	})

	It("should miss on unknown domains", func() {
		_, ok, err := cache.Get(context.Background(), "example.com")

		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should round trip entries by domain", func() {
		stored := &Result{Endpoint: fake.URL(), AuthType: "basic", Version: "Exchange2016"}
		Expect(cache.Put(context.Background(), "example.com", stored)).To(Succeed())

		got, ok, err := cache.Get(context.Background(), "example.com")

		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(stored))
	})

	It("should forget invalidated domains only", func() {
		Expect(cache.Put(context.Background(), "a.example", &Result{Endpoint: fake.URL()})).To(Succeed())
		Expect(cache.Put(context.Background(), "b.example", &Result{Endpoint: fake.URL()})).To(Succeed())

		Expect(cache.Invalidate(context.Background(), "a.example")).To(Succeed())

		_, ok, _ := cache.Get(context.Background(), "a.example")
		Expect(ok).To(BeFalse())
		_, ok, _ = cache.Get(context.Background(), "b.example")
		Expect(ok).To(BeTrue())
	})

	It("should drop everything on clear", func() {
		Expect(cache.Put(context.Background(), "a.example", &Result{Endpoint: fake.URL()})).To(Succeed())

		Expect(cache.Clear(context.Background())).To(Succeed())

		_, ok, _ := cache.Get(context.Background(), "a.example")
		Expect(ok).To(BeFalse())
	})
})
