package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeKey(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.key")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadSignerSeedHex(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	path := writeKey(t, []byte("hex:"+hex.EncodeToString(seed)+"\n"))

	signer, err := LoadSigner(path, "audit-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !signer.PublicKey().Equal(want) {
		t.Fatalf("public key mismatch")
	}
}

func TestLoadSignerBareHexSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 9
	path := writeKey(t, []byte(hex.EncodeToString(seed)))

	signer, err := LoadSigner(path, "audit-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !signer.PublicKey().Equal(want) {
		t.Fatalf("bare hex seed was not decoded")
	}
}

func TestLoadSignerPrivateKeyBase64(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	path := writeKey(t, []byte("base64:"+base64.StdEncoding.EncodeToString(priv)))

	signer, err := LoadSigner(path, "audit-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !signer.PublicKey().Equal(priv.Public()) {
		t.Fatalf("public key mismatch")
	}
}

func TestLoadSignerRawBinarySeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	path := writeKey(t, seed)

	if _, err := LoadSigner(path, "audit-1"); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestDecodeKeyErrors(t *testing.T) {
	if _, err := decodeKey([]byte("  ")); err != ErrEmptyKeyFile {
		t.Fatalf("expected ErrEmptyKeyFile, got %v", err)
	}
	if _, err := decodeKey([]byte("not-a-key")); err != ErrKeyEncoding {
		t.Fatalf("expected ErrKeyEncoding, got %v", err)
	}
}

func TestKeyPairFromSeedInvalidSize(t *testing.T) {
	if _, _, err := KeyPairFromSeed([]byte{0x01}); err != ErrInvalidSeedSize {
		t.Fatalf("expected ErrInvalidSeedSize, got %v", err)
	}
}

func TestEphemeralSigner(t *testing.T) {
	a, err := EphemeralSigner("dev")
	if err != nil {
		t.Fatalf("ephemeral: %v", err)
	}
	b, err := EphemeralSigner("dev")
	if err != nil {
		t.Fatalf("ephemeral: %v", err)
	}
	if a.PublicKey().Equal(b.PublicKey()) {
		t.Fatalf("expected distinct keys")
	}
}
