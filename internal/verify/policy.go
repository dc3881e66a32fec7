package verify

import (
	"fmt"
	"net/url"

	"github.com/lestrrat-go/jwx/v2/jwa"
)

// allowedAlgorithms maps the permitted header alg values to their jwx
// identifiers. Symmetric (HMAC) algorithms are excluded to prevent
// key-confusion attacks where a public key is treated as a shared
// secret.
var allowedAlgorithms = map[string]jwa.SignatureAlgorithm{
	"RS256": jwa.RS256,
	"RS384": jwa.RS384,
	"RS512": jwa.RS512,
	"ES256": jwa.ES256,
	"ES384": jwa.ES384,
	"ES512": jwa.ES512,
	"PS256": jwa.PS256,
	"PS384": jwa.PS384,
	"PS512": jwa.PS512,
	"EdDSA": jwa.EdDSA,
}

// checkPolicy validates the header's algorithm and key-retrieval URI.
// alg "none" is rejected unconditionally; allowInsecure only relaxes
// the HTTPS requirement on the key URI. Pure validation, no side
// effects.
func checkPolicy(hdr *Header, allowInsecure bool) error {
	if hdr.Alg == "" {
		return ErrMissingAlgorithm
	}

	// Hard security rule: never accept unsigned-algorithm tokens,
	// regardless of allowInsecure.
	if hdr.Alg == "none" {
		return fmt.Errorf("%w: %q", ErrDisallowedAlgorithm, hdr.Alg)
	}

	if _, ok := allowedAlgorithms[hdr.Alg]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, hdr.Alg)
	}

	if uri := hdr.KeyURI(); uri != "" {
		u, err := url.Parse(uri)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidKeyURI, uri)
		}
		if u.Scheme != "https" && !allowInsecure {
			return fmt.Errorf("%w: %q (scheme must be https)", ErrInsecureKeyURI, uri)
		}
	}

	return nil
}
