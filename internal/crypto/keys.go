package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeyPairFromSeed derives an Ed25519 keypair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, ErrInvalidSeedSize
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	return privateKey, privateKey.Public().(ed25519.PublicKey), nil
}

// LoadSigner reads an Ed25519 key file (raw, hex: or base64: encoded seed or
// private key) and returns a signer for it.
func LoadSigner(path, keyID string) (*Ed25519Signer, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}

	switch len(data) {
	case ed25519.PrivateKeySize:
		return NewEd25519Signer(keyID, ed25519.PrivateKey(data)), nil
	case ed25519.SeedSize:
		return NewEd25519Signer(keyID, ed25519.NewKeyFromSeed(data)), nil
	default:
		return nil, fmt.Errorf("signing key %s: unsupported length %d", path, len(data))
	}
}

// EphemeralSigner returns a signer with a fresh random key. Audit events it
// signs can only be verified while the process lives.
func EphemeralSigner(keyID string) (*Ed25519Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewEd25519Signer(keyID, ed25519.NewKeyFromSeed(seed)), nil
}

func decodeKey(raw []byte) ([]byte, error) {
	if !printable(raw) && (len(raw) == ed25519.PrivateKeySize || len(raw) == ed25519.SeedSize) {
		return raw, nil
	}

	trim := strings.TrimSpace(string(raw))
	switch {
	case trim == "":
		return nil, ErrEmptyKeyFile
	case strings.HasPrefix(trim, "base64:"):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(trim, "base64:"))
	case strings.HasPrefix(trim, "hex:"):
		return hex.DecodeString(strings.TrimPrefix(trim, "hex:"))
	}

	if out, err := hex.DecodeString(trim); err == nil {
		return out, nil
	}
	if out, err := base64.StdEncoding.DecodeString(trim); err == nil {
		return out, nil
	}
	return nil, ErrKeyEncoding
}

func printable(raw []byte) bool {
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			if b != '\n' && b != '\r' && b != '\t' {
				return false
			}
		}
	}
	return true
}
