package verify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Header is the decoded protected JWS header of an Agent Card
// signature. Unknown fields are ignored for forward compatibility.
type Header struct {
	Alg     string `json:"alg"`
	Typ     string `json:"typ,omitempty"`
	Kid     string `json:"kid,omitempty"`
	JKU     string `json:"jku,omitempty"`
	JWKSURI string `json:"jwks_uri,omitempty"`
}

// KeyURI returns the key-retrieval URI for this header. jku takes
// precedence over jwks_uri; exactly one is consulted.
func (h *Header) KeyURI() string {
	if h.JKU != "" {
		return h.JKU
	}
	return h.JWKSURI
}

// decodeProtectedHeader decodes a base64url-encoded protected header
// into a Header. The decoded bytes must be valid UTF-8 and a JSON
// object; anything else fails with ErrMalformedHeader.
func decodeProtectedHeader(protected string) (*Header, error) {
	data, err := decodeBase64URL(protected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrMalformedHeader)
	}

	// Reject non-object JSON (arrays, strings, null) before decoding
	// into the struct, which would silently accept null.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedHeader)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedHeader)
	}

	var hdr Header
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	return &hdr, nil
}

// decodeBase64URL decodes base64url input with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}
