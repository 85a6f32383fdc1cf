package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"
)

// LoadKey resolves the Ed25519 signing key from a base64 seed or a key file.
// When neither is configured an ephemeral key is generated so local flows
// keep working; the provider will reject its signatures.
func LoadKey(seed, file string) (ed25519.PrivateKey, error) {
	if seed != "" {
		return keyFromBase64(seed)
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read signing key file: %w", err)
		}
		return keyFromBase64(strings.TrimSpace(string(raw)))
	}
	log.Printf("[signing] WARNING: no signing key configured, generating ephemeral key")
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return key, nil
}

func keyFromBase64(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, fmt.Errorf("signing key must be a %d or %d byte ed25519 key, got %d bytes",
		ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
}
