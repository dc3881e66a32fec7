package verify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// testJWKSServer serves a freshly generated RSA JWKS and counts requests.
func testJWKSServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	jwksJSON := testJWKSJSON(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testJWKSJSON generates an RSA public JWKS document.
func testJWKSJSON(t *testing.T) []byte {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	privJWK, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("creating JWK: %v", err)
	}
	if err := privJWK.Set(jwk.KeyIDKey, "resolver-test-key"); err != nil {
		t.Fatalf("setting kid: %v", err)
	}
	if err := privJWK.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("setting alg: %v", err)
	}
	pubJWK, err := privJWK.PublicKey()
	if err != nil {
		t.Fatalf("extracting public JWK: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pubJWK); err != nil {
		t.Fatalf("adding key to set: %v", err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshaling JWKS: %v", err)
	}
	return data
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	srv := testJWKSServer(t, &hits)

	r := NewKeySetResolver(ResolverConfig{CacheTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		set, err := r.Resolve(ctx, srv.URL, time.Second)
		if err != nil {
			t.Fatalf("Resolve #%d error: %v", i, err)
		}
		if set.Len() != 1 {
			t.Fatalf("Resolve #%d: set has %d keys, want 1", i, set.Len())
		}
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1 (cache within TTL)", got)
	}
}

func TestResolve_RefetchesAfterTTL(t *testing.T) {
	var hits atomic.Int64
	srv := testJWKSServer(t, &hits)

	r := NewKeySetResolver(ResolverConfig{CacheTTL: time.Minute})
	clock := time.Now()
	r.now = func() time.Time { return clock }

	ctx := context.Background()
	if _, err := r.Resolve(ctx, srv.URL, time.Second); err != nil {
		t.Fatalf("first Resolve error: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := r.Resolve(ctx, srv.URL, time.Second); err != nil {
		t.Fatalf("second Resolve error: %v", err)
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("server hit %d times, want 2 (refetch after TTL)", got)
	}
}

func TestResolve_FailureCooldown(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewKeySetResolver(ResolverConfig{FailureCooldown: 30 * time.Second})
	clock := time.Now()
	r.now = func() time.Time { return clock }

	ctx := context.Background()
	_, err := r.Resolve(ctx, srv.URL, time.Second)
	if !errors.Is(err, ErrKeyFetchError) {
		t.Fatalf("first Resolve error = %v, want ErrKeyFetchError", err)
	}

	// Within the cooldown the cached failure is replayed with no retry.
	_, err = r.Resolve(ctx, srv.URL, time.Second)
	if !errors.Is(err, ErrKeyFetchError) {
		t.Fatalf("second Resolve error = %v, want ErrKeyFetchError", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hit %d times within cooldown, want 1", got)
	}

	// After the cooldown the endpoint is retried.
	clock = clock.Add(time.Minute)
	_, err = r.Resolve(ctx, srv.URL, time.Second)
	if !errors.Is(err, ErrKeyFetchError) {
		t.Fatalf("third Resolve error = %v, want ErrKeyFetchError", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hit %d times after cooldown, want 2", got)
	}
}

func TestResolve_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewKeySetResolver(ResolverConfig{})
	_, err := r.Resolve(context.Background(), srv.URL, 50*time.Millisecond)
	if !errors.Is(err, ErrKeyFetchTimeout) {
		t.Fatalf("error = %v, want ErrKeyFetchTimeout", err)
	}
}

func TestResolve_CoalescesConcurrentFetches(t *testing.T) {
	var hits atomic.Int64
	jwksJSON := testJWKSJSON(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksJSON)
	}))
	defer srv.Close()

	r := NewKeySetResolver(ResolverConfig{})
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Resolve(ctx, srv.URL, 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Resolve #%d error: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("%d concurrent resolutions hit the server %d times, want 1", n, got)
	}
}

func TestResolve_DistinctURIsCachedSeparately(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	srvA := testJWKSServer(t, &hitsA)
	srvB := testJWKSServer(t, &hitsB)

	r := NewKeySetResolver(ResolverConfig{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(ctx, srvA.URL, time.Second); err != nil {
			t.Fatalf("Resolve A error: %v", err)
		}
		if _, err := r.Resolve(ctx, srvB.URL, time.Second); err != nil {
			t.Fatalf("Resolve B error: %v", err)
		}
	}

	if hitsA.Load() != 1 || hitsB.Load() != 1 {
		t.Errorf("hits = A:%d B:%d, want 1 each", hitsA.Load(), hitsB.Load())
	}
}
