package verify

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Canonicalize produces the signing payload for an Agent Card: the
// card JSON with the top-level "signatures" field removed, all object
// keys sorted lexicographically at every nesting level, and compact
// output with no extraneous whitespace. Two structurally equal cards
// canonicalize to byte-identical output regardless of original key
// order, since the signer and verifier must agree on the exact bytes
// without transmitting them.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Preserve the lexical form of numbers so re-encoding does not
	// alter the signed bytes.
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("canonicalizing agent card: %w", err)
	}

	// Only the top-level signatures field is excluded; nested fields
	// that happen to be named "signatures" are part of the payload.
	delete(doc, "signatures")

	// encoding/json emits map keys in sorted order at every level.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing agent card: %w", err)
	}

	return canonical, nil
}

// assembleCompact reconstructs the three-part JWS compact
// serialization from the protected header, the canonical payload, and
// the signature value. The wire format stores only header and
// signature; the payload is rebuilt from the current card so the
// signature binds to the content being verified.
func assembleCompact(protected string, payload []byte, signature string) []byte {
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	out := make([]byte, 0, len(protected)+len(encoded)+len(signature)+2)
	out = append(out, protected...)
	out = append(out, '.')
	out = append(out, encoded...)
	out = append(out, '.')
	out = append(out, signature...)
	return out
}
