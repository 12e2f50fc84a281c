package entityauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// PresharedFactory serves the PSK scheme: each entity identity maps to a
// pre-shared secret from which the entity auth crypto context's encryption
// and HMAC keys are derived.
type PresharedFactory struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewPresharedFactory creates a factory with no keys installed.
func NewPresharedFactory() *PresharedFactory {
	return &PresharedFactory{keys: make(map[string][]byte)}
}

// AddKey installs the pre-shared secret for an identity.
func (f *PresharedFactory) AddKey(identity string, secret []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := make([]byte, len(secret))
	copy(key, secret)
	f.keys[identity] = key
}

// Scheme implements Factory.
func (*PresharedFactory) Scheme() Scheme { return SchemePSK }

// CryptoContext implements Factory.
func (f *PresharedFactory) CryptoContext(_ context.Context, data *Data) (mslcrypto.CryptoContext, error) {
	f.mu.RLock()
	secret, ok := f.keys[data.Identity]
	f.mu.RUnlock()
	if !ok {
		return nil, mslerrors.Newf(mslerrors.KindEntityAuthVerificationFailed,
			"no pre-shared key for identity %q", data.Identity).WithEntity(data.Identity)
	}
	id := fmt.Sprintf("psk-%s", data.Identity)
	cc, err := mslcrypto.DeriveCryptoContext(id, secret, "entityauth-psk")
	if err != nil {
		return nil, err
	}
	return cc, nil
}
