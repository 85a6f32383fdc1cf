package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Label is the signature label used on Signature and Signature-Input headers.
const Label = "sig1"

const algorithm = "ed25519"

// Signer produces the header set the payments provider requires on every
// authenticated request: a SHA-512 Content-Digest over the canonical body and
// an Ed25519 signature over an ordered set of message components.
type Signer struct {
	key   ed25519.PrivateKey
	keyID string
	now   func() time.Time
}

func NewSigner(key ed25519.PrivateKey, keyID string) *Signer {
	return &Signer{key: key, keyID: keyID, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests that need a fixed
// created parameter.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Request describes the outbound message to sign.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Sign returns the headers to merge into the outbound request and the
// canonical body that must be sent in place of Request.Body. The digest is
// computed over the canonical form, so sending the original bytes would break
// verification on the provider side.
func (s *Signer) Sign(req Request) (http.Header, []byte, error) {
	if s.key == nil {
		return nil, nil, fmt.Errorf("signing key not configured")
	}

	headers := http.Header{}
	var body []byte
	if len(req.Body) > 0 {
		canonical, err := CanonicalizeBody(req.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("canonicalize body: %w", err)
		}
		body = canonical
		headers.Set("Content-Digest", ContentDigest(canonical))
		headers.Set("Content-Length", strconv.Itoa(len(canonical)))
		headers.Set("Content-Type", "application/json")
	}

	// Component order is fixed; the provider validates it order-sensitively.
	components := []string{"@method", "@target-uri"}
	if req.Headers.Get("Authorization") != "" {
		components = append(components, "authorization")
	}
	if len(body) > 0 {
		components = append(components, "content-digest", "content-length", "content-type")
	}

	params := signatureParams(components, s.now().Unix(), s.keyID)
	base, err := signatureBase(req, headers, components, params)
	if err != nil {
		return nil, nil, fmt.Errorf("build signature base: %w", err)
	}

	sig := ed25519.Sign(s.key, []byte(base))
	headers.Set("Signature-Input", fmt.Sprintf("%s=%s", Label, params))
	headers.Set("Signature", fmt.Sprintf("%s=:%s:", Label, base64.StdEncoding.EncodeToString(sig)))
	return headers, body, nil
}

// CanonicalizeBody normalizes a JSON document by parsing and re-serializing
// it, so whitespace variants of the same document digest identically.
func CanonicalizeBody(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// ContentDigest returns the sha-512 structured-field value for body.
func ContentDigest(body []byte) string {
	sum := sha512.Sum512(body)
	return fmt.Sprintf("sha-512=:%s:", base64.StdEncoding.EncodeToString(sum[:]))
}

func signatureParams(components []string, created int64, keyID string) string {
	quoted := make([]string, len(components))
	for i, c := range components {
		quoted[i] = strconv.Quote(c)
	}
	return fmt.Sprintf("(%s);created=%d;keyid=%q;alg=%q",
		strings.Join(quoted, " "), created, keyID, algorithm)
}

func signatureBase(req Request, computed http.Header, components []string, params string) (string, error) {
	var b strings.Builder
	for _, c := range components {
		value, err := componentValue(req, computed, c)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%q: %s\n", c, value)
	}
	fmt.Fprintf(&b, "%q: %s", "@signature-params", params)
	return b.String(), nil
}

func componentValue(req Request, computed http.Header, component string) (string, error) {
	switch component {
	case "@method":
		return strings.ToUpper(req.Method), nil
	case "@target-uri":
		return req.URL, nil
	}
	if v := computed.Get(component); v != "" {
		return v, nil
	}
	if req.Headers != nil {
		if v := req.Headers.Get(component); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("missing component %q", component)
}
