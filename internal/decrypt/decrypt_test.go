package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func encryptFixture(t *testing.T, key, plaintext []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}
	ctAndTag := gcm.Seal(nil, nonce, plaintext, nil)
	raw := append([]byte{0}, nonce...)
	raw = append(raw, ctAndTag...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	fixture := encryptFixture(t, key, []byte("fix the login bug"))

	a := NewAdapter(func() ([]byte, error) { return key, nil })
	got := a.Decrypt(fixture)
	if got != "fix the login bug" {
		t.Fatalf("expected decrypted plaintext, got %q", got)
	}
}

func TestDecryptPassThroughOnFailure(t *testing.T) {
	a := NewAdapter(func() ([]byte, error) { return make([]byte, 32), nil })
	original := "not-valid-base64!!!"
	if got := a.Decrypt(original); got != original {
		t.Fatalf("expected pass-through on malformed input, got %q", got)
	}
}

func TestDecryptPassThroughWithoutKeySource(t *testing.T) {
	a := NewAdapter(nil)
	original := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	if got := a.Decrypt(original); got != original {
		t.Fatalf("expected pass-through with no key source, got %q", got)
	}
}

func TestDecryptUnrecognizedVersionPassesThrough(t *testing.T) {
	key := make([]byte, 32)
	fixture := encryptFixture(t, key, []byte("hello"))
	raw, _ := base64.StdEncoding.DecodeString(fixture)
	raw[0] = 1 // unrecognized version
	bumped := base64.StdEncoding.EncodeToString(raw)

	a := NewAdapter(func() ([]byte, error) { return key, nil })
	if got := a.Decrypt(bumped); got != bumped {
		t.Fatalf("expected pass-through for unrecognized version, got %q", got)
	}
}

func TestFingerprintStableAndShort(t *testing.T) {
	a := Fingerprint("some-ciphertext")
	b := Fingerprint("some-ciphertext")
	if a != b {
		t.Fatalf("expected deterministic fingerprint")
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars (8 bytes), got %d", len(a))
	}
}
