package signing

import (
	"crypto/ed25519"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = make([]byte, ed25519.SeedSize)

func newTestSigner(t *testing.T) (*Signer, ed25519.PublicKey) {
	t.Helper()
	key := ed25519.NewKeyFromSeed(testSeed)
	signer := NewSigner(key, "test-key").WithClock(func() time.Time {
		return time.Unix(1700000000, 0)
	})
	return signer, key.Public().(ed25519.PublicKey)
}

func TestSignDeterministic(t *testing.T) {
	signer, _ := newTestSigner(t)

	first := http.Header{}
	first.Set("Authorization", "GNAP token-123")
	first.Set("Accept", "application/json")

	// Same headers inserted in the opposite order.
	second := http.Header{}
	second.Set("Accept", "application/json")
	second.Set("Authorization", "GNAP token-123")

	h1, b1, err := signer.Sign(Request{Method: "post", URL: "https://wallet.example/quotes", Headers: first, Body: []byte(`{"receiver":"r","method":"ilp"}`)})
	require.NoError(t, err)
	h2, b2, err := signer.Sign(Request{Method: "POST", URL: "https://wallet.example/quotes", Headers: second, Body: []byte(`{"receiver":"r","method":"ilp"}`)})
	require.NoError(t, err)

	assert.Equal(t, h1.Get("Signature-Input"), h2.Get("Signature-Input"))
	assert.Equal(t, h1.Get("Signature"), h2.Get("Signature"))
	assert.Equal(t, b1, b2)
}

func TestSignComponentOrder(t *testing.T) {
	signer, _ := newTestSigner(t)

	t.Run("bare GET", func(t *testing.T) {
		h, body, err := signer.Sign(Request{Method: "GET", URL: "https://wallet.example/alice"})
		require.NoError(t, err)
		assert.Nil(t, body)
		assert.Contains(t, h.Get("Signature-Input"), `("@method" "@target-uri");`)
		assert.Empty(t, h.Get("Content-Digest"))
	})

	t.Run("authorized POST with body", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Authorization", "GNAP tok")
		h, _, err := signer.Sign(Request{Method: "POST", URL: "https://wallet.example/op", Headers: headers, Body: []byte(`{"a":1}`)})
		require.NoError(t, err)
		assert.Contains(t, h.Get("Signature-Input"),
			`("@method" "@target-uri" "authorization" "content-digest" "content-length" "content-type");`)
	})

	t.Run("body without authorization", func(t *testing.T) {
		h, _, err := signer.Sign(Request{Method: "POST", URL: "https://wallet.example/op", Body: []byte(`{"a":1}`)})
		require.NoError(t, err)
		assert.Contains(t, h.Get("Signature-Input"),
			`("@method" "@target-uri" "content-digest" "content-length" "content-type");`)
	})
}

func TestContentDigestCanonicalization(t *testing.T) {
	a, err := CanonicalizeBody([]byte(`{"a":1, "b":2}`))
	require.NoError(t, err)
	b, err := CanonicalizeBody([]byte(`{ "a": 1,   "b": 2 }`))
	require.NoError(t, err)
	assert.Equal(t, ContentDigest(a), ContentDigest(b))
}

func TestCanonicalizeBodyPreservesLargeIntegers(t *testing.T) {
	out, err := CanonicalizeBody([]byte(`{"value":"500","scale":9007199254740993}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), "9007199254740993")
}

func TestCanonicalizeBodyRejectsInvalidJSON(t *testing.T) {
	_, err := CanonicalizeBody([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestVerifyRoundTrip(t *testing.T) {
	signer, pub := newTestSigner(t)

	headers := http.Header{}
	headers.Set("Authorization", "GNAP tok")
	signed, body, err := signer.Sign(Request{Method: "POST", URL: "https://wallet.example/continue", Headers: headers, Body: []byte(`{"interact_ref":"abc123"}`)})
	require.NoError(t, err)

	// Merge as a transport would before verification.
	merged := headers.Clone()
	for k, vs := range signed {
		for _, v := range vs {
			merged.Set(k, v)
		}
	}
	req := Request{Method: "POST", URL: "https://wallet.example/continue", Headers: merged, Body: body}
	require.NoError(t, Verify(pub, req))

	// Tampering with a signed component must fail verification.
	req.Headers.Set("Authorization", "GNAP other")
	assert.Error(t, Verify(pub, req))
}

func TestVerifyRejectsUnsigned(t *testing.T) {
	_, pub := newTestSigner(t)
	err := Verify(pub, Request{Method: "GET", URL: "https://wallet.example/alice", Headers: http.Header{}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsigned"))
}
