package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedPrefix marks a config value sealed with EncryptToString.
const SealedPrefix = "enc:"

// KeySize is the length of keys accepted by New.
const KeySize = chacha20poly1305.KeySize

type AEAD struct{ key []byte }

func New(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes (got %d)", KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &AEAD{key: k}, nil
}

// NewKey returns a fresh random key.
func NewKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, err
	}
	return k, nil
}

func (a *AEAD) EncryptToString(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func (a *AEAD) DecryptString(ciphertextB64 string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", err
	}
	ns := aead.NonceSize()
	if len(buf) < ns+aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short")
	}
	pt, err := aead.Open(nil, buf[:ns], buf[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Seal returns v in its "enc:" form.
func (a *AEAD) Seal(v string) (string, error) {
	ct, err := a.EncryptToString(v)
	if err != nil {
		return "", err
	}
	return SealedPrefix + ct, nil
}

// Open decrypts an "enc:" value. Plain values pass through unchanged.
func (a *AEAD) Open(v string) (string, error) {
	ct, ok := strings.CutPrefix(v, SealedPrefix)
	if !ok {
		return v, nil
	}
	return a.DecryptString(ct)
}

// IsSealed reports whether v needs a key to be read.
func IsSealed(v string) bool { return strings.HasPrefix(v, SealedPrefix) }

// DecodeKey accepts standard or raw base64.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
