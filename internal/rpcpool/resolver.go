package rpcpool

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MembershipSource discovers endpoint URLs beyond the statically configured
// set: a DNS TXT record, a DNS-over-HTTPS lookup, or a JSON document served
// over plain HTTP, per spec section 4.3's "static / DNS TXT / DoH /
// JSON-over-HTTP membership sources".
type MembershipSource interface {
	Resolve(ctx context.Context) ([]string, error)
	Name() string
}

// DNSTXTSource resolves a TXT record whose value is a comma-separated list
// of endpoint URLs.
type DNSTXTSource struct {
	Domain string
}

func (s DNSTXTSource) Name() string { return "dns-txt:" + s.Domain }

func (s DNSTXTSource) Resolve(ctx context.Context) ([]string, error) {
	resolver := net.Resolver{}
	records, err := resolver.LookupTXT(ctx, s.Domain)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup TXT %s", s.Domain)
	}
	var urls []string
	for _, rec := range records {
		for _, part := range strings.Split(rec, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				urls = append(urls, part)
			}
		}
	}
	return urls, nil
}

// dohAnswer is the subset of a DNS-over-HTTPS JSON response (RFC 8484
// application/dns-json) this resolver needs.
type dohAnswer struct {
	Answer []struct {
		Data string `json:"data"`
	} `json:"Answer"`
}

// DoHSource resolves a TXT record via a DNS-over-HTTPS endpoint instead of
// the system resolver, for operators who do not trust their network's
// plain-DNS path.
type DoHSource struct {
	Domain    string
	DoHServer string // e.g. "https://cloudflare-dns.com/dns-query"
}

func (s DoHSource) Name() string { return "doh:" + s.Domain }

func (s DoHSource) Resolve(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.DoHServer, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("name", s.Domain)
	q.Set("type", "TXT")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/dns-json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "doh lookup TXT %s via %s", s.Domain, s.DoHServer)
	}
	defer resp.Body.Close()

	var parsed dohAnswer
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode doh response")
	}

	var urls []string
	for _, a := range parsed.Answer {
		for _, part := range strings.Split(strings.Trim(a.Data, `"`), ",") {
			if part = strings.TrimSpace(part); part != "" {
				urls = append(urls, part)
			}
		}
	}
	return urls, nil
}

// JSONHTTPSource fetches a JSON array of endpoint URLs from a plain HTTP(S)
// document, the simplest membership source for operators who run their own
// endpoint directory.
type JSONHTTPSource struct {
	URL string
}

func (s JSONHTTPSource) Name() string { return "json-http:" + s.URL }

func (s JSONHTTPSource) Resolve(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch endpoint list from %s", s.URL)
	}
	defer resp.Body.Close()

	var urls []string
	if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
		return nil, errors.Wrap(err, "decode endpoint list")
	}
	return urls, nil
}

// StaticSource is a fixed URL list. The runtime does not use it: configured
// rpc_endpoints (including a <CHAIN>_GETH_ADDR override) are added to the
// pool with Pool.Add directly.
type StaticSource struct {
	URLs []string
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Resolve(ctx context.Context) ([]string, error) {
	return s.URLs, nil
}

// Resolver periodically re-resolves a Pool's membership sources and adds
// any newly discovered endpoint. Resolution is additive: a URL that
// disappears from a source is left in the pool (still reachable, but never
// re-validated against that source) rather than force-removed, since a
// transient resolution failure must not tear down a working endpoint.
type Resolver struct {
	pool       *Pool
	sources    []MembershipSource
	interval   time.Duration
	level      BackupLevel
	maxTimeout time.Duration

	verifyInterval    time.Duration
	allowedHeadBehind time.Duration

	mu      sync.Mutex
	known   map[string]bool
	resolving bool
}

// defaultVerifyInterval and defaultAllowedHeadBehind apply when a caller
// passes zero, so the zero value of Options-style construction still yields
// a working validator instead of a busy-loop or a validator that never
// fires.
const (
	defaultVerifyInterval    = 60 * time.Second
	defaultAllowedHeadBehind = 2 * time.Minute
)

// NewResolver builds a Resolver that adds endpoints discovered from sources
// into pool at the given backup level, and periodically validates every
// known endpoint on verifyInterval (spec section 4.3 steps 2-3); zero
// verifyInterval/allowedHeadBehind fall back to sane defaults.
func NewResolver(pool *Pool, level BackupLevel, maxTimeout, interval time.Duration, sources ...MembershipSource) *Resolver {
	return &Resolver{
		pool:              pool,
		sources:           sources,
		interval:          interval,
		level:             level,
		maxTimeout:        maxTimeout,
		verifyInterval:    defaultVerifyInterval,
		allowedHeadBehind: defaultAllowedHeadBehind,
		known:             make(map[string]bool),
	}
}

// WithValidation overrides the validator's verify_interval_secs and
// allowed_head_behind_secs, per-chain settings spec section 4.3 names.
func (r *Resolver) WithValidation(verifyInterval, allowedHeadBehind time.Duration) *Resolver {
	if verifyInterval > 0 {
		r.verifyInterval = verifyInterval
	}
	if allowedHeadBehind > 0 {
		r.allowedHeadBehind = allowedHeadBehind
	}
	return r
}

// Run resolves membership and validates every endpoint immediately, then
// again on their respective intervals, until ctx is done.
func (r *Resolver) Run(ctx context.Context) {
	r.resolveOnce(ctx)
	r.validateAll(ctx)

	resolveTicker := time.NewTicker(r.interval)
	defer resolveTicker.Stop()
	verifyTicker := time.NewTicker(r.verifyInterval)
	defer verifyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resolveTicker.C:
			r.resolveOnce(ctx)
		case <-verifyTicker.C:
			r.validateAll(ctx)
		}
	}
}

// validateAll probes every endpoint the pool currently knows about,
// including ones chooseBestEndpoints would skip as unhealthy — this is the
// recovery path for an endpoint that tripped max_consecutive_errors.
func (r *Resolver) validateAll(ctx context.Context) {
	for idx := range r.pool.Endpoints() {
		r.pool.validateEndpoint(ctx, idx, r.allowedHeadBehind)
	}
}

func (r *Resolver) resolveOnce(ctx context.Context) {
	r.mu.Lock()
	r.resolving = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.resolving = false
		r.mu.Unlock()
	}()

	for i, src := range r.sources {
		urls, err := src.Resolve(ctx)
		if err != nil {
			logger.Warn("membership source resolution failed", "source", src.Name(), "err", err)
			continue
		}
		for j, url := range urls {
			r.mu.Lock()
			seen := r.known[url]
			if !seen {
				r.known[url] = true
			}
			r.mu.Unlock()
			if seen {
				continue
			}
			name := src.Name() + "#" + strconv.Itoa(i) + "." + strconv.Itoa(j)
			r.pool.Add(name, url, r.level, r.maxTimeout)
			logger.Info("discovered endpoint", "name", name, "url", url)
		}
	}
}
