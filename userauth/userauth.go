// Package userauth carries user authentication data through the message
// header. Concrete user authentication schemes (email/password, single
// sign-on) are external collaborators; this package preserves the field and
// lets deployments register resolvers for the schemes they support.
package userauth

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/msgsec/msl/mslerrors"
)

// Scheme names a user authentication scheme.
type Scheme string

// Data is user authentication data: a declared scheme plus opaque
// scheme-specific payload.
type Data struct {
	Scheme   Scheme          `json:"scheme"`
	AuthData json.RawMessage `json:"authdata,omitempty"`
}

// Parse decodes user authentication data from its header carriage.
func Parse(raw json.RawMessage) (*Data, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "user auth data", err)
	}
	if data.Scheme == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "user auth data missing scheme")
	}
	return &data, nil
}

// Resolver authenticates a user from user auth data, returning the user
// identity.
type Resolver interface {
	Scheme() Scheme
	Authenticate(ctx context.Context, data *Data) (string, error)
}

// Registry maps schemes to resolvers. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[Scheme]Resolver
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[Scheme]Resolver)}
}

// Register installs a resolver for its scheme.
func (r *Registry) Register(resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[resolver.Scheme()] = resolver
}

// Lookup returns the resolver for a scheme.
func (r *Registry) Lookup(scheme Scheme) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.resolvers[scheme]
	return resolver, ok
}
