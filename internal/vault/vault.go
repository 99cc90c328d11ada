// Package vault encrypts secrets at rest. Values are sealed with
// XChaCha20-Poly1305 under a key derived from an operator passphrase.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when a sealed value cannot be opened, usually
// because the passphrase changed.
var ErrDecrypt = errors.New("vault: decrypt secret")

// sealedPrefix marks values produced by Protect. Values without it are
// treated as plaintext written before a passphrase was configured.
const sealedPrefix = "enc:v1:"

var (
	kdfSalt = []byte("netreach/vault")
	kdfInfo = []byte("settings secrets")
)

// Protector seals and opens secret strings.
type Protector struct {
	aead cipher.AEAD
}

// New derives the sealing key from passphrase.
func New(passphrase string) (*Protector, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("vault: passphrase is empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), kdfSalt, kdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Protector{aead: aead}, nil
}

// Protect seals plaintext. The empty string stays empty.
func (p *Protector) Protect(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unprotect opens a value produced by Protect. Unsealed values are returned
// unchanged.
func (p *Protector) Unprotect(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := p.aead.NonceSize()
	if len(raw) < ns+p.aead.Overhead() {
		return "", fmt.Errorf("%w: value too short", ErrDecrypt)
	}
	plain, err := p.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// IsSealed reports whether value was produced by Protect.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
