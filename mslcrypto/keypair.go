package mslcrypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds an X25519 key pair used by the Diffie-Hellman key exchange.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret between a private key and
// a peer public key.
func SharedSecret(private, peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 failed: %w", err)
	}
	return secret, nil
}

// ZeroBytes overwrites sensitive key material in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
