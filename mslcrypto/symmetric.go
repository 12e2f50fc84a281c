package mslcrypto

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// Nonce is the 24-byte value prepended to every secretbox ciphertext.
type Nonce [24]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// SymmetricCryptoContext seals data with NaCl secretbox and signs it with
// HMAC-SHA256. Ciphertexts carry their nonce as a 24-byte prefix. It backs
// session contexts, pre-shared-key entity contexts, and derived key-exchange
// contexts.
type SymmetricCryptoContext struct {
	id      string
	encKey  [32]byte
	hmacKey [32]byte
}

// NewSymmetricCryptoContext creates a context from a 32-byte encryption key
// and a 32-byte HMAC key. The id labels the context in logs only.
func NewSymmetricCryptoContext(id string, encKey, hmacKey [32]byte) *SymmetricCryptoContext {
	return &SymmetricCryptoContext{id: id, encKey: encKey, hmacKey: hmacKey}
}

// ID returns the context's log label.
func (c *SymmetricCryptoContext) ID() string { return c.id }

// Encrypt seals plaintext with a fresh random nonce.
func (c *SymmetricCryptoContext) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 24, 24+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, (*[24]byte)(&nonce), &c.encKey), nil
}

// Decrypt unseals a nonce-prefixed ciphertext.
func (c *SymmetricCryptoContext) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &c.encKey)
	if !ok {
		return nil, errors.New("decryption failed: message authentication failed")
	}
	return plaintext, nil
}

// Sign computes an HMAC-SHA256 signature over data.
func (c *SymmetricCryptoContext) Sign(_ context.Context, data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, c.hmacKey[:])
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify checks an HMAC-SHA256 signature in constant time.
func (c *SymmetricCryptoContext) Verify(ctx context.Context, data, signature []byte) (bool, error) {
	expected, err := c.Sign(ctx, data)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, signature), nil
}

// Wrap seals key material with the encryption key.
func (c *SymmetricCryptoContext) Wrap(ctx context.Context, keydata []byte) ([]byte, error) {
	if len(keydata) == 0 {
		return nil, errors.New("empty key data")
	}
	return c.Encrypt(ctx, keydata)
}

// Unwrap unseals transported key material.
func (c *SymmetricCryptoContext) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	return c.Decrypt(ctx, wrapped)
}
