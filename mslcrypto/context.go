// Package mslcrypto implements the crypto contexts of the message security
// layer.
//
// A crypto context is the capability set {encrypt, decrypt, sign, verify,
// wrap, unwrap} behind which every concrete cipher hides. Several contexts
// coexist in a running pipeline:
//
//   - the process-wide MSL crypto context, which seals master tokens
//   - entity authentication contexts, derived from entity auth data
//   - session contexts, derived from a master token's session keys
//   - key-exchange contexts, derived by a key exchange factory
//   - the payload context, selected from the above per message
//
// Concrete contexts are constructed by factories in the entityauth and keyx
// packages; this package supplies the symmetric workhorse plus the null and
// rejecting contexts used in tests.
package mslcrypto

import "context"

// CryptoContext is the abstract capability set for sealing and unsealing
// protocol data. Implementations must be safe for concurrent use.
type CryptoContext interface {
	// Encrypt seals plaintext.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt unseals ciphertext.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)

	// Sign computes a signature over data.
	Sign(ctx context.Context, data []byte) ([]byte, error)

	// Verify checks a signature over data. A failed check returns
	// (false, nil); an inability to check returns an error.
	Verify(ctx context.Context, data, signature []byte) (bool, error)

	// Wrap seals key material for transport.
	Wrap(ctx context.Context, keydata []byte) ([]byte, error)

	// Unwrap unseals transported key material.
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}
