// Package crypto seals confidential profile data at rest.
//
// Each identity gets its own AES-256-GCM key derived from the master key with
// HKDF-SHA256, so a leaked ciphertext can only be opened for its owner.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// ErrInvalidCiphertext means the payload is truncated or was sealed for
// another identity or key.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Sealer encrypts values bound to an owner id.
type Sealer struct {
	master []byte
}

// NewSealer requires a 32-byte master key.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(master))
	}
	key := make([]byte, keySize)
	copy(key, master)
	return &Sealer{master: key}, nil
}

// Seal returns nonce||ciphertext. The owner id is authenticated as
// additional data as well as mixed into the key.
func (s *Sealer) Seal(ownerID string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead(ownerID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, []byte(ownerID)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(ownerID string, sealed []byte) ([]byte, error) {
	gcm, err := s.aead(ownerID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, []byte(ownerID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plain, nil
}

func (s *Sealer) aead(ownerID string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, s.master, nil, []byte("humanitylink/profile/"+ownerID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
