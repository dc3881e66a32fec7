package verify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/cardwarden/cardwarden/internal/protocol"
)

// newSigningKey generates an RSA private JWK with kid and alg set.
func newSigningKey(t *testing.T, kid string) jwk.Key {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("creating JWK: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("setting kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("setting alg: %v", err)
	}
	return key
}

// serveJWKS publishes the public halves of keys on an httptest server.
func serveJWKS(t *testing.T, keys ...jwk.Key) *httptest.Server {
	t.Helper()

	set := jwk.NewSet()
	for _, key := range keys {
		pub, err := key.PublicKey()
		if err != nil {
			t.Fatalf("extracting public key: %v", err)
		}
		if err := set.AddKey(pub); err != nil {
			t.Fatalf("adding key to set: %v", err)
		}
	}
	jwksJSON, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshaling JWKS: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// signCard signs the card's canonical payload with key, advertising
// jku in the protected header, and returns the card JSON with the
// detached signature attached.
func signCard(t *testing.T, cardJSON []byte, key jwk.Key, jku string) []byte {
	t.Helper()

	payload, err := Canonicalize(cardJSON)
	if err != nil {
		t.Fatalf("canonicalizing card: %v", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set("jku", jku); err != nil {
		t.Fatalf("setting jku: %v", err)
	}
	if err := hdrs.Set(jws.KeyIDKey, key.KeyID()); err != nil {
		t.Fatalf("setting kid: %v", err)
	}

	signed, err := jws.Sign(payload, jws.WithKey(jwa.RS256, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		t.Fatalf("signing card: %v", err)
	}

	parts := strings.Split(string(signed), ".")
	if len(parts) != 3 {
		t.Fatalf("compact JWS has %d parts, want 3", len(parts))
	}

	return attachSignature(t, cardJSON, protocol.AgentCardSignature{
		Protected: parts[0],
		Signature: parts[2],
	})
}

// attachSignature appends a signature entry to the card JSON.
func attachSignature(t *testing.T, cardJSON []byte, sig protocol.AgentCardSignature) []byte {
	t.Helper()

	var doc map[string]any
	if err := json.Unmarshal(cardJSON, &doc); err != nil {
		t.Fatalf("unmarshaling card: %v", err)
	}
	existing, _ := doc["signatures"].([]any)
	doc["signatures"] = append(existing, sig)

	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshaling card: %v", err)
	}
	return out
}

// parseCard wraps protocol.ParseCard with test failure handling.
func parseCard(t *testing.T, data []byte) *protocol.ParsedCard {
	t.Helper()
	card, err := protocol.ParseCard(data)
	if err != nil {
		t.Fatalf("parsing card: %v", err)
	}
	return card
}

var testCardJSON = []byte(`{"name":"test-agent","url":"https://agent.example","version":"1.2.0","skills":[{"id":"echo","name":"Echo"}]}`)

func TestVerifyCard_NoSignatures(t *testing.T) {
	v := New(Config{}, nil)

	got := v.VerifyCard(context.Background(), parseCard(t, testCardJSON))

	if got.Valid {
		t.Error("card without signatures must be invalid")
	}
	if got.Summary.Total != 0 {
		t.Errorf("total = %d, want 0", got.Summary.Total)
	}
	if len(got.Summary.Errors) != 1 || got.Summary.Errors[0] != "No signatures present in Agent Card" {
		t.Errorf("errors = %v", got.Summary.Errors)
	}
}

func TestVerifyCard_AlgNone(t *testing.T) {
	signed := attachSignature(t, testCardJSON, protocol.AgentCardSignature{
		Protected: b64url(`{"alg":"none","jku":"https://example.com/keys"}`),
		Signature: "c2ln",
	})

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	if got.Valid {
		t.Error("alg none must never verify")
	}
	if got.Signatures[0].Valid {
		t.Error("signature 0 must be invalid")
	}
	if !strings.Contains(got.Signatures[0].Error, "not allowed") {
		t.Errorf("error = %q, want mention of algorithm not allowed", got.Signatures[0].Error)
	}
}

func TestVerifyCard_ValidSignature(t *testing.T) {
	key := newSigningKey(t, "card-key-1")
	srv := serveJWKS(t, key)

	signed := signCard(t, testCardJSON, key, srv.URL)

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	if !got.Valid {
		t.Fatalf("expected valid card, got %+v", got)
	}
	sig := got.Signatures[0]
	if !sig.Valid || sig.Details == "" {
		t.Errorf("signature 0 = %+v, want valid with details", sig)
	}
	if sig.Algorithm != "RS256" || sig.KeyID != "card-key-1" || sig.JWKSURI != srv.URL {
		t.Errorf("signature metadata = %+v", sig)
	}
	if got.Summary.Total != 1 || got.Summary.Valid != 1 || got.Summary.Failed != 0 {
		t.Errorf("summary = %+v", got.Summary)
	}
}

func TestVerifyCard_KeyOrderDoesNotMatter(t *testing.T) {
	key := newSigningKey(t, "card-key-1")
	srv := serveJWKS(t, key)

	signed := signCard(t, testCardJSON, key, srv.URL)

	// Re-encode the signed card with different key order; the verifier
	// must reconstruct the same canonical payload.
	var doc map[string]any
	if err := json.Unmarshal(signed, &doc); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	reordered, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, reordered))

	if !got.Valid {
		t.Errorf("reordered card must still verify: %+v", got.Signatures)
	}
}

func TestVerifyCard_TamperedContent(t *testing.T) {
	key := newSigningKey(t, "card-key-1")
	srv := serveJWKS(t, key)

	signed := signCard(t, testCardJSON, key, srv.URL)
	tampered := []byte(strings.Replace(string(signed), "test-agent", "evil-agent", 1))

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, tampered))

	if got.Valid {
		t.Error("tampered card must not verify")
	}
	if !strings.Contains(got.Signatures[0].Error, "does not match") {
		t.Errorf("error = %q", got.Signatures[0].Error)
	}
}

func TestVerifyCard_WrongKey(t *testing.T) {
	signingKey := newSigningKey(t, "card-key-1")
	publishedKey := newSigningKey(t, "card-key-1") // same kid, different key material
	srv := serveJWKS(t, publishedKey)

	signed := signCard(t, testCardJSON, signingKey, srv.URL)

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	if got.Valid {
		t.Error("signature from an unpublished key must not verify")
	}
}

func TestVerifyCard_KeyIDNotInSet(t *testing.T) {
	signingKey := newSigningKey(t, "absent-key")
	publishedKey := newSigningKey(t, "other-key")
	srv := serveJWKS(t, publishedKey)

	signed := signCard(t, testCardJSON, signingKey, srv.URL)

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	if got.Valid {
		t.Fatal("card must not verify when kid is absent from the key set")
	}
	if !strings.Contains(got.Signatures[0].Error, "absent-key") {
		t.Errorf("error = %q, want mention of the missing kid", got.Signatures[0].Error)
	}
}

func TestVerifyCard_MissingKeyURI(t *testing.T) {
	signed := attachSignature(t, testCardJSON, protocol.AgentCardSignature{
		Protected: b64url(`{"alg":"RS256","kid":"k1"}`),
		Signature: "c2ln",
	})

	v := New(Config{}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	if got.Valid {
		t.Error("signature without key URI must not verify")
	}
	if !strings.Contains(got.Signatures[0].Error, "JWKS URI") {
		t.Errorf("error = %q", got.Signatures[0].Error)
	}
}

func TestVerifyCard_MixedValidity(t *testing.T) {
	key := newSigningKey(t, "card-key-1")
	srv := serveJWKS(t, key)

	signed := signCard(t, testCardJSON, key, srv.URL)
	signed = attachSignature(t, signed, protocol.AgentCardSignature{
		Protected: b64url(`{"alg":"none"}`),
		Signature: "c2ln",
	})

	v := New(Config{AllowInsecure: true}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	// Strict all-or-nothing: one failing signature fails the card.
	if got.Valid {
		t.Error("card with one failing signature must be invalid overall")
	}
	if got.Summary.Total != 2 || got.Summary.Valid != 1 || got.Summary.Failed != 1 {
		t.Errorf("summary = %+v, want total=2 valid=1 failed=1", got.Summary)
	}
	if !got.Signatures[0].Valid || got.Signatures[1].Valid {
		t.Errorf("per-entry validity = [%v, %v], want [true, false]",
			got.Signatures[0].Valid, got.Signatures[1].Valid)
	}
}

func TestVerifyCard_UnreachableJWKS(t *testing.T) {
	signed := attachSignature(t, testCardJSON, protocol.AgentCardSignature{
		Protected: b64url(`{"alg":"RS256","jku":"http://127.0.0.1:1/jwks.json"}`),
		Signature: "c2ln",
	})

	v := New(Config{AllowInsecure: true, Timeout: time.Second}, nil)
	got := v.VerifyCard(context.Background(), parseCard(t, signed))

	if got.Valid {
		t.Error("unreachable JWKS must not verify")
	}
	if !strings.Contains(got.Signatures[0].Error, "JWKS fetch") {
		t.Errorf("error = %q", got.Signatures[0].Error)
	}
}

func TestVerifyCard_SharedCacheAcrossSignatures(t *testing.T) {
	key := newSigningKey(t, "card-key-1")

	set := jwk.NewSet()
	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("extracting public key: %v", err)
	}
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("adding key: %v", err)
	}
	jwksJSON, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshaling JWKS: %v", err)
	}

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksJSON)
	}))
	defer srv.Close()

	v := New(Config{AllowInsecure: true}, nil)

	// Two cards signed by the same endpoint reuse one cached key set.
	for i := 0; i < 2; i++ {
		signed := signCard(t, testCardJSON, key, srv.URL)
		got := v.VerifyCard(context.Background(), parseCard(t, signed))
		if !got.Valid {
			t.Fatalf("card %d failed: %+v", i, got.Signatures)
		}
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("JWKS fetched %d times, want 1", got)
	}
}

func TestVerifySignature_RecoversFromInternalFault(t *testing.T) {
	// A nil resolver makes the key-resolution step fault. The entry
	// must degrade to an invalid result instead of taking down the
	// whole verification call.
	v := &Verifier{cfg: Config{}, stats: nopStats{}}

	sig := protocol.AgentCardSignature{
		Protected: b64url(`{"alg":"RS256","jku":"https://keys.example/jwks.json"}`),
		Signature: "c2ln",
	}

	got := v.verifySignature(context.Background(), 0, sig, []byte("{}"))

	if got.Valid {
		t.Error("result valid after internal fault, want invalid")
	}
	if !strings.Contains(got.Error, "internal error during verification") {
		t.Errorf("error = %q, want internal error message", got.Error)
	}
	if got.Index != 0 || got.Algorithm != "RS256" {
		t.Errorf("result = %+v, want index 0 with algorithm RS256", got)
	}
	if got.Details != "" {
		t.Errorf("details = %q, want empty after fault", got.Details)
	}
}
