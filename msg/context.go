// Package msg implements the receive-side message pipeline: header parsing
// and validation, credential resolution, key-response negotiation, freshness
// and replay enforcement, and the lazy payload chunk stream.
package msg

import (
	"time"

	"github.com/msgsec/msl/entityauth"
	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/store"
	"github.com/msgsec/msl/tokens"
)

// Role is the deployment role of the local entity. It decides whose master
// token governs the payload crypto context when a key response is present,
// and which freshness rules apply.
type Role uint8

const (
	// RoleTrustedNetworkClient is a client in a trusted network: it talks
	// only to the server that issues its master tokens.
	RoleTrustedNetworkClient Role = iota
	// RoleTrustedNetworkServer issues master tokens to clients.
	RoleTrustedNetworkServer
	// RolePeer is a peer-to-peer endpoint; neither side issues the other's
	// master tokens.
	RolePeer
)

// IsPeerToPeer reports whether the role is peer-to-peer.
func (r Role) IsPeerToPeer() bool { return r == RolePeer }

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleTrustedNetworkClient:
		return "trusted-network-client"
	case RoleTrustedNetworkServer:
		return "trusted-network-server"
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Context supplies the collaborators the pipeline consumes: the process-wide
// MSL crypto context, factories by scheme, the token factory, the store, and
// role flags. The root msl package provides the default implementation;
// tests supply fresh instances per case.
type Context interface {
	// Now returns the wall-clock time for freshness decisions.
	Now() time.Time

	// Role returns the local deployment role.
	Role() Role

	// MslCryptoContext returns the process-wide context sealing master
	// tokens and user-ID tokens.
	MslCryptoContext() mslcrypto.CryptoContext

	// EntityAuthFactory returns the factory for an entity auth scheme.
	EntityAuthFactory(scheme entityauth.Scheme) (entityauth.Factory, bool)

	// KeyExchangeFactory returns the factory for a key exchange scheme.
	KeyExchangeFactory(scheme keyx.Scheme) (keyx.Factory, bool)

	// TokenFactory returns the token trust gate.
	TokenFactory() tokens.Factory

	// Store returns the session crypto context cache.
	Store() store.Store

	// InferHandshake reports whether a handshake may be inferred from a
	// renewable message with key request data whose first payload chunk is
	// empty and end-of-message. Legacy senders need this; new deployments
	// may turn it off.
	InferHandshake() bool

	// MaxFrameSize returns the maximum encoded frame size the pipeline
	// accepts. Zero keeps the default limit.
	MaxFrameSize() int
}
