// Package verify implements detached JWS signature verification for
// A2A Agent Cards: protected-header decoding, algorithm policy
// enforcement, canonical payload reconstruction, remote JWKS
// resolution with caching, per-signature verification, and result
// aggregation.
package verify

import "errors"

// Sentinel errors for every failure class in the verification
// pipeline. All of them are recovered at the granularity of a single
// signature entry; none escape a whole-card verification call.
var (
	// ErrMalformedHeader indicates the protected header is not valid
	// base64url, not valid UTF-8, or not a JSON object.
	ErrMalformedHeader = errors.New("malformed protected header")

	// ErrMissingAlgorithm indicates the protected header has no alg value.
	ErrMissingAlgorithm = errors.New("missing algorithm in protected header")

	// ErrDisallowedAlgorithm indicates alg is "none". Never bypassable.
	ErrDisallowedAlgorithm = errors.New("algorithm not allowed")

	// ErrUnsupportedAlgorithm indicates alg is not in the allow-list.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrInsecureKeyURI indicates a non-HTTPS key-retrieval URI without
	// allow_insecure.
	ErrInsecureKeyURI = errors.New("insecure key URI")

	// ErrInvalidKeyURI indicates the key-retrieval URI could not be parsed.
	ErrInvalidKeyURI = errors.New("invalid key URI")

	// ErrMissingKeyURI indicates neither jku nor jwks_uri is present.
	ErrMissingKeyURI = errors.New("no JWKS URI in protected header")

	// ErrKeyFetchTimeout indicates the JWKS fetch exceeded its timeout.
	ErrKeyFetchTimeout = errors.New("JWKS fetch timed out")

	// ErrKeyFetchError indicates the JWKS fetch failed.
	ErrKeyFetchError = errors.New("JWKS fetch failed")

	// ErrCryptographicMismatch indicates no key in the resolved set
	// verified the signature.
	ErrCryptographicMismatch = errors.New("signature verification failed")
)
