package mslcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKeys expands a master secret into an encryption key and an HMAC key
// using HKDF-SHA256. The label separates derivations for different purposes
// (session keys, pre-shared-key contexts, key-exchange outputs) from the
// same secret material.
func DeriveKeys(secret []byte, label string) (encKey, hmacKey [32]byte, err error) {
	if len(secret) == 0 {
		return encKey, hmacKey, fmt.Errorf("empty secret for label %q", label)
	}
	h := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err = io.ReadFull(h, encKey[:]); err != nil {
		return encKey, hmacKey, fmt.Errorf("derive encryption key: %w", err)
	}
	if _, err = io.ReadFull(h, hmacKey[:]); err != nil {
		return encKey, hmacKey, fmt.Errorf("derive hmac key: %w", err)
	}
	return encKey, hmacKey, nil
}

// DeriveCryptoContext derives a SymmetricCryptoContext from a master secret.
func DeriveCryptoContext(id string, secret []byte, label string) (*SymmetricCryptoContext, error) {
	logger := NewLogger("mslcrypto", "DeriveCryptoContext").
		WithField("context_id", id).
		WithField("label", label).
		WithSecureField(secret, "secret")

	encKey, hmacKey, err := DeriveKeys(secret, label)
	if err != nil {
		logger.WithError(err, "derive_keys").Error("Key derivation failed")
		return nil, err
	}
	logger.WithSecureField(encKey[:], "encryption_key").
		WithSecureField(hmacKey[:], "hmac_key").
		Debug("Crypto context derived")
	return NewSymmetricCryptoContext(id, encKey, hmacKey), nil
}
