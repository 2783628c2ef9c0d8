// Package decrypt implements the optional field-level decryption hook for
// encrypted task fields. Any failure — unrecognized version, absent key,
// malformed ciphertext — falls back to returning the original value
// unchanged, since decrypt is always a best-effort pass-through.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	recognizedVersion = 0
	nonceSize         = 12
	tagSize           = 16
)

// KeySource fetches the symmetric decryption key once per process from an
// OS-specific keychain helper. A nil or erroring KeySource degrades
// Adapter to pure pass-through.
type KeySource func() ([]byte, error)

// Adapter decrypts base64-encoded ciphertext of the form
// version(1) || nonce(12) || ct || tag(16) under AES-256-GCM.
type Adapter struct {
	keySource KeySource
	key       []byte
	keyErr    error
	keyLoaded bool
}

// NewAdapter returns an Adapter that lazily fetches its key from source on
// first use. A nil source means decrypt is always a pass-through.
func NewAdapter(source KeySource) *Adapter {
	return &Adapter{keySource: source}
}

func (a *Adapter) loadKey() ([]byte, error) {
	if a.keyLoaded {
		return a.key, a.keyErr
	}
	a.keyLoaded = true
	if a.keySource == nil {
		a.keyErr = fmt.Errorf("decrypt: no key source configured")
		return nil, a.keyErr
	}
	a.key, a.keyErr = a.keySource()
	return a.key, a.keyErr
}

// Decrypt decodes and decrypts ciphertextB64. On any failure it returns
// the original input unchanged, matching the spec's pass-through-on-
// failure contract.
func (a *Adapter) Decrypt(ciphertextB64 string) string {
	plain, err := a.tryDecrypt(ciphertextB64)
	if err != nil {
		return ciphertextB64
	}
	return plain
}

func (a *Adapter) tryDecrypt(ciphertextB64 string) (string, error) {
	key, err := a.loadKey()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decrypt: base64 decode: %w", err)
	}
	if len(raw) < 1+nonceSize+tagSize {
		return "", fmt.Errorf("decrypt: ciphertext too short")
	}

	version := raw[0]
	if version != recognizedVersion {
		return "", fmt.Errorf("decrypt: unrecognized version %d", version)
	}
	nonce := raw[1 : 1+nonceSize]
	ctAndTag := raw[1+nonceSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("decrypt: build AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", fmt.Errorf("decrypt: build GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, ctAndTag, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: GCM open: %w", err)
	}
	return string(plain), nil
}

// Fingerprint returns a short blake3 hex digest of ciphertext, for
// correlating log lines without logging plaintext or the raw ciphertext.
// Decrypt neither logs nor calls it.
func Fingerprint(ciphertextB64 string) string {
	sum := blake3.Sum256([]byte(ciphertextB64))
	return hex.EncodeToString(sum[:8])
}
