// Package keyx implements key-response negotiation for the message security
// layer: key request and response data, the key exchange factory registry,
// and two concrete exchanges (X25519 Diffie-Hellman and Noise NK).
//
// On the receive side the caller supplies the ordered key request data it
// previously sent; when a header carries key response data, the pipeline
// locates the first matching request and asks the scheme's factory to derive
// the key-exchange crypto context from the (request, response) pair.
package keyx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// Scheme names a key exchange scheme.
type Scheme string

const (
	// SchemeDiffieHellman is an ephemeral X25519 exchange.
	SchemeDiffieHellman Scheme = "DH"
	// SchemeNoiseNK is a Noise NK handshake against a known responder
	// static key.
	SchemeNoiseNK Scheme = "NOISE_NK"
)

// RequestData is one entry of a message's ordered key request data: the
// scheme, an exchange ID correlating request to response, and the
// initiator's public handshake material. The initiator's secrets never
// serialize; they live only in the in-memory request held by the caller.
type RequestData struct {
	Scheme     Scheme `json:"scheme"`
	ExchangeID string `json:"exchangeid"`
	PublicData string `json:"publicdata,omitempty"`

	// Initiator secrets, present only on locally created requests.
	privateKey   *[32]byte
	noiseState   noiseInitiatorState
	hasNoiseInit bool
}

// ResponseData is the key response data a header may carry: the scheme, the
// echoed exchange ID, the responder's public handshake material, and (from
// a trusted-network server) the renewed master token.
type ResponseData struct {
	Scheme      Scheme          `json:"scheme"`
	ExchangeID  string          `json:"exchangeid"`
	PublicData  string          `json:"publicdata,omitempty"`
	MasterToken json.RawMessage `json:"mastertoken,omitempty"`
}

// ParseRequestData decodes key request data from its header carriage.
func ParseRequestData(raw json.RawMessage) (*RequestData, error) {
	var data RequestData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "key request data", err)
	}
	if data.Scheme == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "key request data missing scheme")
	}
	return &data, nil
}

// ParseResponseData decodes key response data from its header carriage.
func ParseResponseData(raw json.RawMessage) (*ResponseData, error) {
	var data ResponseData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "key response data", err)
	}
	if data.Scheme == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "key response data missing scheme")
	}
	return &data, nil
}

// Factory derives a key-exchange crypto context from a matched
// (request, response) pair.
type Factory interface {
	// Scheme returns the scheme this factory serves.
	Scheme() Scheme

	// Matches reports whether the response answers the request.
	Matches(request *RequestData, response *ResponseData) bool

	// DeriveCryptoContext completes the exchange.
	DeriveCryptoContext(ctx context.Context, request *RequestData, response *ResponseData) (mslcrypto.CryptoContext, error)
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

// newExchangeID generates a random correlation ID.
func newExchangeID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
