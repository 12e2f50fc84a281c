package keyx

import (
	"context"
	"fmt"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// DiffieHellmanFactory serves the DH scheme: an ephemeral X25519 exchange.
// The request carries the initiator's ephemeral public key; the response
// carries the responder's. Both sides HKDF the shared secret into the
// key-exchange crypto context's keys.
type DiffieHellmanFactory struct{}

// NewDiffieHellmanFactory creates the factory.
func NewDiffieHellmanFactory() *DiffieHellmanFactory {
	return &DiffieHellmanFactory{}
}

// NewDiffieHellmanRequest creates a local key request with a fresh
// ephemeral key pair. The private key stays in memory and never serializes.
func NewDiffieHellmanRequest() (*RequestData, error) {
	kp, err := mslcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	id, err := newExchangeID()
	if err != nil {
		return nil, err
	}
	priv := kp.Private
	return &RequestData{
		Scheme:     SchemeDiffieHellman,
		ExchangeID: id,
		PublicData: format.Encode(kp.Public[:]),
		privateKey: &priv,
	}, nil
}

// RespondDiffieHellman answers a request, returning the response data and
// the responder's derived crypto context. Tests and peer-to-peer responders
// use this; a trusted-network server additionally attaches a renewed master
// token to the response.
func RespondDiffieHellman(request *RequestData) (*ResponseData, mslcrypto.CryptoContext, error) {
	initiatorPub, err := decodePublicKey(request.PublicData)
	if err != nil {
		return nil, nil, err
	}
	kp, err := mslcrypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	secret, err := mslcrypto.SharedSecret(kp.Private, initiatorPub)
	if err != nil {
		return nil, nil, err
	}
	cc, err := deriveDHContext(request.ExchangeID, secret)
	if err != nil {
		return nil, nil, err
	}
	return &ResponseData{
		Scheme:     SchemeDiffieHellman,
		ExchangeID: request.ExchangeID,
		PublicData: format.Encode(kp.Public[:]),
	}, cc, nil
}

// Scheme implements Factory.
func (*DiffieHellmanFactory) Scheme() Scheme { return SchemeDiffieHellman }

// Matches implements Factory. A response answers a request when the scheme
// and exchange ID agree.
func (*DiffieHellmanFactory) Matches(request *RequestData, response *ResponseData) bool {
	return request.Scheme == SchemeDiffieHellman &&
		response.Scheme == SchemeDiffieHellman &&
		request.ExchangeID == response.ExchangeID
}

// DeriveCryptoContext implements Factory for the initiator side.
func (*DiffieHellmanFactory) DeriveCryptoContext(_ context.Context, request *RequestData, response *ResponseData) (mslcrypto.CryptoContext, error) {
	if request.privateKey == nil {
		return nil, mslerrors.New(mslerrors.KindKeyxResponseRequestMismatch,
			"key request carries no local private key")
	}
	responderPub, err := decodePublicKey(response.PublicData)
	if err != nil {
		return nil, err
	}
	secret, err := mslcrypto.SharedSecret(*request.privateKey, responderPub)
	if err != nil {
		return nil, fmt.Errorf("dh exchange failed: %w", err)
	}
	return deriveDHContext(request.ExchangeID, secret)
}

func decodePublicKey(encoded string) ([32]byte, error) {
	var pub [32]byte
	raw, err := format.Decode(encoded)
	if err != nil {
		return pub, err
	}
	if len(raw) != 32 {
		return pub, mslerrors.Newf(mslerrors.KindMessageFormatError,
			"public key must be 32 bytes, got %d", len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

func deriveDHContext(exchangeID string, secret []byte) (mslcrypto.CryptoContext, error) {
	defer mslcrypto.ZeroBytes(secret)
	mslcrypto.NewLogger("keyx", "deriveDHContext").
		WithField("exchangeid", exchangeID).
		WithSecureField(secret, "shared_secret").
		Debug("Deriving Diffie-Hellman key exchange context")
	cc, err := mslcrypto.DeriveCryptoContext("keyx-dh-"+exchangeID, secret, "keyx-dh")
	if err != nil {
		return nil, err
	}
	return cc, nil
}
