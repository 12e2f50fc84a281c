package keyx

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// noiseInitiatorState holds the initiator's in-flight handshake.
type noiseInitiatorState struct {
	hs *noise.HandshakeState
}

func noiseCipherSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
}

// NoiseNKFactory serves the NOISE_NK scheme: a two-message Noise NK
// handshake against the responder's known static public key. The request
// carries handshake message one, the response message two; both sides
// derive the key-exchange crypto context from the handshake's channel
// binding.
type NoiseNKFactory struct{}

// NewNoiseNKFactory creates the factory.
func NewNoiseNKFactory() *NoiseNKFactory {
	return &NoiseNKFactory{}
}

// NewNoiseNKRequest creates a local key request initiating an NK handshake
// with the given responder static public key. The handshake state stays in
// memory until the response arrives.
func NewNoiseNKRequest(responderStatic [32]byte) (*RequestData, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseCipherSuite(),
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNK,
		Initiator:   true,
		PeerStatic:  responderStatic[:],
	})
	if err != nil {
		return nil, fmt.Errorf("noise handshake init failed: %w", err)
	}
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("noise message one failed: %w", err)
	}
	id, err := newExchangeID()
	if err != nil {
		return nil, err
	}
	return &RequestData{
		Scheme:       SchemeNoiseNK,
		ExchangeID:   id,
		PublicData:   format.Encode(msg1),
		noiseState:   noiseInitiatorState{hs: hs},
		hasNoiseInit: true,
	}, nil
}

// GenerateNoiseStaticKeypair creates a responder static key pair for the NK
// pattern.
func GenerateNoiseStaticKeypair() (noise.DHKey, error) {
	return noiseCipherSuite().GenerateKeypair(rand.Reader)
}

// RespondNoiseNK answers a request as the responder holding the static key
// pair, returning the response data and the responder's derived crypto
// context.
func RespondNoiseNK(request *RequestData, static noise.DHKey) (*ResponseData, mslcrypto.CryptoContext, error) {
	msg1, err := format.Decode(request.PublicData)
	if err != nil {
		return nil, nil, err
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseCipherSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeNK,
		Initiator:     false,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("noise handshake init failed: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, fmt.Errorf("noise message one rejected: %w", err)
	}
	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("noise message two failed: %w", err)
	}
	cc, err := deriveNoiseContext(request.ExchangeID, hs.ChannelBinding())
	if err != nil {
		return nil, nil, err
	}
	return &ResponseData{
		Scheme:     SchemeNoiseNK,
		ExchangeID: request.ExchangeID,
		PublicData: format.Encode(msg2),
	}, cc, nil
}

// Scheme implements Factory.
func (*NoiseNKFactory) Scheme() Scheme { return SchemeNoiseNK }

// Matches implements Factory.
func (*NoiseNKFactory) Matches(request *RequestData, response *ResponseData) bool {
	return request.Scheme == SchemeNoiseNK &&
		response.Scheme == SchemeNoiseNK &&
		request.ExchangeID == response.ExchangeID
}

// DeriveCryptoContext implements Factory for the initiator side, consuming
// handshake message two from the response.
func (*NoiseNKFactory) DeriveCryptoContext(_ context.Context, request *RequestData, response *ResponseData) (mslcrypto.CryptoContext, error) {
	if !request.hasNoiseInit || request.noiseState.hs == nil {
		return nil, mslerrors.New(mslerrors.KindKeyxResponseRequestMismatch,
			"key request carries no local handshake state")
	}
	msg2, err := format.Decode(response.PublicData)
	if err != nil {
		return nil, err
	}
	hs := request.noiseState.hs
	if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindKeyxResponseRequestMismatch,
			"noise message two rejected", err)
	}
	return deriveNoiseContext(request.ExchangeID, hs.ChannelBinding())
}

func deriveNoiseContext(exchangeID string, channelBinding []byte) (mslcrypto.CryptoContext, error) {
	mslcrypto.NewLogger("keyx", "deriveNoiseContext").
		WithField("exchangeid", exchangeID).
		WithSecureField(channelBinding, "channel_binding").
		Debug("Deriving Noise NK key exchange context")
	cc, err := mslcrypto.DeriveCryptoContext("keyx-noise-"+exchangeID, channelBinding, "keyx-noise-nk")
	if err != nil {
		return nil, err
	}
	return cc, nil
}
