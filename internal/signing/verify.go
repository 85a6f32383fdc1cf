package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// Verify checks the Signature/Signature-Input headers on req against pub. It
// rebuilds the signature base from the declared components and the message
// itself, so it exercises the same ordering the provider enforces.
func Verify(pub ed25519.PublicKey, req Request) error {
	input := req.Headers.Get("Signature-Input")
	sigHeader := req.Headers.Get("Signature")
	if input == "" || sigHeader == "" {
		return fmt.Errorf("request is unsigned")
	}

	components, params, err := parseSignatureInput(input)
	if err != nil {
		return err
	}
	sig, err := parseSignature(sigHeader)
	if err != nil {
		return err
	}

	base, err := signatureBase(req, req.Headers, components, params)
	if err != nil {
		return fmt.Errorf("rebuild signature base: %w", err)
	}
	if !ed25519.Verify(pub, []byte(base), sig) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// parseSignatureInput splits `sig1=("@method" ...);created=...` into the
// component list and the raw parameter string.
func parseSignatureInput(input string) ([]string, string, error) {
	rest, ok := strings.CutPrefix(input, Label+"=")
	if !ok {
		return nil, "", fmt.Errorf("unexpected signature label in %q", input)
	}
	open := strings.Index(rest, "(")
	end := strings.Index(rest, ")")
	if open != 0 || end < 0 {
		return nil, "", fmt.Errorf("malformed signature input %q", input)
	}
	var components []string
	for _, part := range strings.Fields(rest[open+1 : end]) {
		components = append(components, strings.Trim(part, `"`))
	}
	return components, rest, nil
}

func parseSignature(header string) ([]byte, error) {
	rest, ok := strings.CutPrefix(header, Label+"=")
	if !ok {
		return nil, fmt.Errorf("unexpected signature label in %q", header)
	}
	encoded := strings.Trim(rest, ":")
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}
