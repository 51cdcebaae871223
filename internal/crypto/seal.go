// Package crypto derives a deployment-bound symmetric key and provides
// authenticated seal/open over secrets at rest (spec §4.1, C1).
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 400_000
	keySize       = 32
	nonceSize     = 24
)

// Error wraps seal/open failures; callers translate it to httperr.KindCryptoError.
type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

// Sealer seals and opens ciphertext with a single machine+salt derived key.
// The key is computed once at construction and never mutated afterward —
// the only process-wide singleton crypto.Sealer should ever back.
type Sealer struct {
	key [keySize]byte
}

// NewSealer derives the key from the host machine identifier and the
// deployment's persisted encryption_salt. Rotating salt invalidates every
// ciphertext sealed under the previous salt; rotation is not automated.
func NewSealer(salt []byte) (*Sealer, error) {
	mid, err := machineID()
	if err != nil {
		return nil, fmt.Errorf("crypto: resolve machine id: %w", err)
	}
	derived := pbkdf2.Key(mid, salt, kdfIterations, keySize, sha256.New)
	s := &Sealer{}
	copy(s.key[:], derived)
	return s, nil
}

// Seal authenticated-encrypts plaintext with a fresh random nonce per call.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: read nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &s.key)
	return out, nil
}

// Open authenticates and decrypts ciphertext produced by Seal. It fails
// with *Error on tag mismatch, truncation, or corruption.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, &Error{"crypto: ciphertext too short"}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, &Error{"crypto: open failed: authentication tag mismatch"}
	}
	return plaintext, nil
}

// SealString is Seal for callers storing ciphertext in a text column
// (internal/activation's encrypted ToolConfig values, which
// internal/proxy reads back with OpenString), base64-encoding the result.
func (s *Sealer) SealString(plaintext string) (string, error) {
	ciphertext, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// OpenString is Open for a value produced by SealString.
func (s *Sealer) OpenString(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &Error{"crypto: invalid base64 ciphertext"}
	}
	plaintext, err := s.Open(raw)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// NewSalt generates a fresh random encryption_salt for first boot.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
