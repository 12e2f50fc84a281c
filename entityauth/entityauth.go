// Package entityauth implements entity authentication data and the factory
// registry that turns a declared scheme into an entity auth crypto context.
//
// Concrete production schemes (RSA, X.509, and the like) live outside this
// module; the unauthenticated and pre-shared-key schemes here exercise the
// registry and cover development and trusted-network deployments.
package entityauth

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// Scheme names an entity authentication scheme.
type Scheme string

const (
	// SchemeUnauthenticated asserts an identity with no cryptography.
	SchemeUnauthenticated Scheme = "NONE"
	// SchemePSK authenticates with a pre-shared key per identity.
	SchemePSK Scheme = "PSK"
)

// Data is the entity authentication data carried in a header envelope: the
// declared scheme plus scheme-specific payload.
type Data struct {
	Scheme   Scheme          `json:"scheme"`
	Identity string          `json:"identity"`
	AuthData json.RawMessage `json:"authdata,omitempty"`
}

// Parse decodes entity authentication data from its header carriage.
func Parse(raw json.RawMessage) (*Data, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "entity auth data", err)
	}
	if data.Scheme == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "entity auth data missing scheme")
	}
	if data.Identity == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "entity auth data missing identity")
	}
	return &data, nil
}

// Factory builds an entity auth crypto context from entity auth data.
type Factory interface {
	// Scheme returns the scheme this factory serves.
	Scheme() Scheme

	// CryptoContext derives the entity auth crypto context for the data.
	CryptoContext(ctx context.Context, data *Data) (mslcrypto.CryptoContext, error)
}

// Registry maps schemes to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Scheme]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Scheme]Factory)}
}

// Register installs a factory for its scheme, replacing any previous one.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Scheme()] = factory
}

// Lookup returns the factory for a scheme.
func (r *Registry) Lookup(scheme Scheme) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[scheme]
	return factory, ok
}
