package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/cardwarden/cardwarden/internal/protocol"
)

// DefaultTimeout bounds a single JWKS fetch.
const DefaultTimeout = 10 * time.Second

// Config holds verification settings for a Verifier.
type Config struct {
	// Timeout bounds each JWKS fetch. Defaults to DefaultTimeout.
	Timeout time.Duration
	// AllowInsecure permits non-HTTPS key-retrieval URIs. It never
	// permits alg "none".
	AllowInsecure bool
	// CacheTTL and FailureCooldown configure the key-set cache.
	CacheTTL        time.Duration
	FailureCooldown time.Duration
	// HTTPClient is used for JWKS fetches.
	HTTPClient *http.Client
	// Stats receives verification events. Optional.
	Stats StatsRecorder
}

// Verifier verifies the detached JWS signatures of Agent Cards. It
// owns the key-set cache; create one Verifier and reuse it across
// cards so cached key sets are shared.
type Verifier struct {
	cfg      Config
	resolver *KeySetResolver
	stats    StatsRecorder
	logger   *slog.Logger
}

// New creates a Verifier with the given configuration.
func New(cfg Config, logger *slog.Logger) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	resolver := NewKeySetResolver(ResolverConfig{
		CacheTTL:        cfg.CacheTTL,
		FailureCooldown: cfg.FailureCooldown,
		HTTPClient:      cfg.HTTPClient,
		Stats:           cfg.Stats,
	})
	return &Verifier{
		cfg:      cfg,
		resolver: resolver,
		stats:    cfg.Stats,
		logger:   logger,
	}
}

// VerifyCard verifies every signature entry of the card and aggregates
// the outcomes. Entries are verified concurrently; a failure in one
// entry never aborts its siblings, and the call itself has no failure
// mode beyond returning an invalid result.
func (v *Verifier) VerifyCard(ctx context.Context, card *protocol.ParsedCard) VerificationResult {
	sigs := card.Card.Signatures
	if len(sigs) == 0 {
		return Aggregate(nil)
	}

	payload, err := Canonicalize(card.Raw)
	if err != nil {
		// The card parsed as JSON to get here, so this is unexpected;
		// report it on every entry rather than failing the call.
		results := make([]SignatureResult, len(sigs))
		for i := range sigs {
			results[i] = SignatureResult{Index: i, Error: err.Error()}
		}
		return Aggregate(results)
	}

	results := make([]SignatureResult, len(sigs))
	var wg sync.WaitGroup
	for i, sig := range sigs {
		wg.Add(1)
		go func(idx int, sig protocol.AgentCardSignature) {
			defer wg.Done()
			results[idx] = v.verifySignature(ctx, idx, sig, payload)
		}(i, sig)
	}
	wg.Wait()

	for _, r := range results {
		v.stats.RecordSignature(r.Valid, r.Algorithm)
	}

	result := Aggregate(results)
	v.logger.Debug("card signatures verified",
		"total", result.Summary.Total,
		"valid", result.Summary.Valid,
		"failed", result.Summary.Failed,
	)
	return result
}

// verifySignature runs the per-entry pipeline: decode the protected
// header, enforce algorithm policy, resolve the key set, reassemble
// the compact JWS, and check the signature. Every failure, including
// an unexpected panic, degrades to an invalid result for this entry.
func (v *Verifier) verifySignature(ctx context.Context, idx int, sig protocol.AgentCardSignature, payload []byte) (res SignatureResult) {
	res = SignatureResult{Index: idx}
	defer func() {
		if r := recover(); r != nil {
			res.Valid = false
			res.Details = ""
			res.Error = fmt.Sprintf("internal error during verification: %v", r)
		}
	}()

	hdr, err := decodeProtectedHeader(sig.Protected)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Algorithm = hdr.Alg
	res.KeyID = hdr.Kid

	if err := checkPolicy(hdr, v.cfg.AllowInsecure); err != nil {
		res.Error = err.Error()
		return res
	}

	uri := hdr.KeyURI()
	if uri == "" {
		res.Error = ErrMissingKeyURI.Error()
		return res
	}
	res.JWKSURI = uri

	keySet, err := v.resolver.Resolve(ctx, uri, v.cfg.Timeout)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	compact := assembleCompact(sig.Protected, payload, sig.Signature)

	key, err := verifyAgainstSet(compact, hdr, keySet)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Valid = true
	res.Details = fmt.Sprintf("verified with %s key %q from %s", hdr.Alg, key.KeyID(), uri)
	return res
}

// verifyAgainstSet checks the compact JWS against the key set,
// restricted to the header's declared algorithm and key ID. It returns
// the key that verified the signature.
func verifyAgainstSet(compact []byte, hdr *Header, keySet jwk.Set) (jwk.Key, error) {
	alg := allowedAlgorithms[hdr.Alg]

	candidates := 0
	for i := 0; i < keySet.Len(); i++ {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}
		if hdr.Kid != "" && key.KeyID() != hdr.Kid {
			continue
		}
		// Keys carrying an alg of their own must agree with the header.
		if keyAlg := key.Algorithm(); keyAlg != nil && keyAlg.String() != "" && keyAlg.String() != hdr.Alg {
			continue
		}
		candidates++

		if _, err := jws.Verify(compact, jws.WithKey(alg, key)); err == nil {
			return key, nil
		}
	}

	if candidates == 0 {
		if hdr.Kid != "" {
			return nil, fmt.Errorf("%w: no key %q with algorithm %s in key set", ErrCryptographicMismatch, hdr.Kid, hdr.Alg)
		}
		return nil, fmt.Errorf("%w: no key with algorithm %s in key set", ErrCryptographicMismatch, hdr.Alg)
	}
	return nil, fmt.Errorf("%w: signature does not match card content", ErrCryptographicMismatch)
}
