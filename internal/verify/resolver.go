package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// Default cache lifetimes for the key-set resolver.
const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultFailureCooldown = 30 * time.Second
)

// ResolverConfig holds settings for a KeySetResolver.
type ResolverConfig struct {
	// CacheTTL bounds how long a successfully fetched key set is
	// served from cache. Defaults to DefaultCacheTTL.
	CacheTTL time.Duration
	// FailureCooldown bounds how long a failed fetch is replayed from
	// cache before the endpoint is retried. Defaults to
	// DefaultFailureCooldown.
	FailureCooldown time.Duration
	// HTTPClient is used for JWKS fetches. Defaults to a plain client;
	// per-fetch timeouts are applied via context.
	HTTPClient *http.Client
	// Stats receives fetch and cache events. Optional.
	Stats StatsRecorder
}

// KeySetResolver fetches and caches remote JWK sets keyed by URI.
// Successful fetches are cached for a TTL; failures are cached for a
// shorter cooldown so an unreachable endpoint is not hammered once per
// signature. Concurrent resolutions of the same URI are coalesced into
// a single fetch.
type KeySetResolver struct {
	client   *http.Client
	ttl      time.Duration
	cooldown time.Duration
	stats    StatsRecorder

	mu      sync.Mutex
	entries map[string]*cacheEntry
	group   singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// cacheEntry records the outcome of the most recent fetch for a URI.
type cacheEntry struct {
	set     jwk.Set
	err     error
	fetched time.Time
}

// NewKeySetResolver creates a resolver with the given configuration.
func NewKeySetResolver(cfg ResolverConfig) *KeySetResolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FailureCooldown <= 0 {
		cfg.FailureCooldown = DefaultFailureCooldown
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStats{}
	}
	return &KeySetResolver{
		client:   cfg.HTTPClient,
		ttl:      cfg.CacheTTL,
		cooldown: cfg.FailureCooldown,
		stats:    cfg.Stats,
		entries:  make(map[string]*cacheEntry),
		now:      time.Now,
	}
}

// Resolve returns the key set published at uri. Cached results are
// returned without network access while fresh; otherwise a single
// fetch bounded by timeout is issued, shared among concurrent callers
// of the same URI.
func (r *KeySetResolver) Resolve(ctx context.Context, uri string, timeout time.Duration) (jwk.Set, error) {
	if set, err, ok := r.cached(uri); ok {
		r.stats.RecordCacheLookup(true)
		return set, err
	}
	r.stats.RecordCacheLookup(false)

	v, err, _ := r.group.Do(uri, func() (any, error) {
		// Another caller may have populated the cache while this one
		// waited for the flight slot.
		if set, cachedErr, ok := r.cached(uri); ok {
			if cachedErr != nil {
				return nil, cachedErr
			}
			return set, nil
		}

		set, fetchErr := r.fetch(ctx, uri, timeout)

		r.mu.Lock()
		r.entries[uri] = &cacheEntry{set: set, err: fetchErr, fetched: r.now()}
		r.mu.Unlock()

		if fetchErr != nil {
			return nil, fetchErr
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// cached returns the cache entry for uri if it is still within its
// TTL (success) or cooldown (failure).
func (r *KeySetResolver) cached(uri string) (jwk.Set, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uri]
	if !ok {
		return nil, nil, false
	}

	age := r.now().Sub(e.fetched)
	if e.err == nil && age < r.ttl {
		return e.set, nil, true
	}
	if e.err != nil && age < r.cooldown {
		return nil, e.err, true
	}
	return nil, nil, false
}

// fetch performs one HTTPS GET of the JWKS document, bounded by timeout.
func (r *KeySetResolver) fetch(ctx context.Context, uri string, timeout time.Duration) (jwk.Set, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	set, err := jwk.Fetch(fetchCtx, uri, jwk.WithHTTPClient(r.client))
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			r.stats.RecordKeyFetch("timeout", elapsed)
			return nil, fmt.Errorf("%w: %s after %s", ErrKeyFetchTimeout, uri, timeout)
		}
		r.stats.RecordKeyFetch("error", elapsed)
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyFetchError, uri, err)
	}

	r.stats.RecordKeyFetch("success", elapsed)
	return set, nil
}
