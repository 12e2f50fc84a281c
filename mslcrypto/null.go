package mslcrypto

import (
	"context"
	"errors"
)

// NullCryptoContext performs no cryptography: encrypt and sign are no-ops,
// decrypt is the identity, and verify always succeeds. It backs
// unauthenticated entity contexts and tests.
type NullCryptoContext struct{}

// Encrypt returns the plaintext unchanged.
func (NullCryptoContext) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

// Decrypt returns the ciphertext unchanged.
func (NullCryptoContext) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

// Sign returns an empty signature.
func (NullCryptoContext) Sign(_ context.Context, _ []byte) ([]byte, error) {
	return []byte{}, nil
}

// Verify always succeeds.
func (NullCryptoContext) Verify(_ context.Context, _, _ []byte) (bool, error) {
	return true, nil
}

// Wrap returns the key data unchanged.
func (NullCryptoContext) Wrap(_ context.Context, keydata []byte) ([]byte, error) {
	return keydata, nil
}

// Unwrap returns the wrapped data unchanged.
func (NullCryptoContext) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	return wrapped, nil
}

// RejectingCryptoContext refuses everything: verify always fails and the
// remaining operations error. Tests use it to exercise untrusted paths.
type RejectingCryptoContext struct{}

var errRejected = errors.New("crypto context rejects all operations")

// Encrypt always fails.
func (RejectingCryptoContext) Encrypt(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errRejected
}

// Decrypt always fails.
func (RejectingCryptoContext) Decrypt(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errRejected
}

// Sign always fails.
func (RejectingCryptoContext) Sign(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errRejected
}

// Verify always reports an invalid signature.
func (RejectingCryptoContext) Verify(_ context.Context, _, _ []byte) (bool, error) {
	return false, nil
}

// Wrap always fails.
func (RejectingCryptoContext) Wrap(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errRejected
}

// Unwrap always fails.
func (RejectingCryptoContext) Unwrap(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errRejected
}
