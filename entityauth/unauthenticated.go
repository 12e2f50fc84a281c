package entityauth

import (
	"context"

	"github.com/msgsec/msl/mslcrypto"
)

// UnauthenticatedFactory serves the NONE scheme: the identity is asserted
// and the crypto context performs no cryptography. Headers from
// unauthenticated entities are readable but carry no integrity guarantee;
// deployments gate them by policy.
type UnauthenticatedFactory struct{}

// NewUnauthenticatedFactory creates the factory.
func NewUnauthenticatedFactory() *UnauthenticatedFactory {
	return &UnauthenticatedFactory{}
}

// Scheme implements Factory.
func (*UnauthenticatedFactory) Scheme() Scheme { return SchemeUnauthenticated }

// CryptoContext implements Factory.
func (*UnauthenticatedFactory) CryptoContext(_ context.Context, _ *Data) (mslcrypto.CryptoContext, error) {
	return mslcrypto.NullCryptoContext{}, nil
}
