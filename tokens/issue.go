package tokens

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/mslcrypto"
)

// IssueMasterToken mints a sealed master token with fresh random session
// keys. The responder side of a key exchange and the test suites use this;
// the receive pipeline itself only parses and verifies tokens.
//
// The returned raw form is what travels on the wire; the returned token is
// already verified and decrypted.
func IssueMasterToken(ctx context.Context, mslCryptoContext mslcrypto.CryptoContext, identity string, sequenceNumber, serialNumber int64, renewalWindow, expiration time.Time) (*MasterToken, json.RawMessage, error) {
	var encKey, hmacKey [32]byte
	if _, err := rand.Read(encKey[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate session encryption key: %w", err)
	}
	if _, err := rand.Read(hmacKey[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate session hmac key: %w", err)
	}

	sd := sessionData{
		EncryptionKey: format.Encode(encKey[:]),
		HMACKey:       format.Encode(hmacKey[:]),
	}
	sdPlain, err := json.Marshal(sd)
	if err != nil {
		return nil, nil, err
	}
	sdSealed, err := mslCryptoContext.Encrypt(ctx, sdPlain)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seal session data: %w", err)
	}

	td := masterTokenData{
		Identity:       identity,
		SequenceNumber: sequenceNumber,
		SerialNumber:   serialNumber,
		RenewalWindow:  renewalWindow.Unix(),
		Expiration:     expiration.Unix(),
		SessionData:    format.Encode(sdSealed),
	}
	tokendata, err := json.Marshal(td)
	if err != nil {
		return nil, nil, err
	}
	signature, err := mslCryptoContext.Sign(ctx, tokendata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign master token: %w", err)
	}

	raw, err := json.Marshal(masterTokenEnvelope{
		TokenData: format.Encode(tokendata),
		Signature: format.Encode(signature),
	})
	if err != nil {
		return nil, nil, err
	}

	mt, err := ParseMasterToken(raw)
	if err != nil {
		return nil, nil, err
	}
	if ok, err := mt.Verify(ctx, mslCryptoContext); err != nil || !ok {
		return nil, nil, fmt.Errorf("issued master token failed self-verification")
	}
	return mt, raw, nil
}

// IssueUserIDToken mints a sealed user-ID token bound to a master token.
func IssueUserIDToken(ctx context.Context, mslCryptoContext mslcrypto.CryptoContext, mt *MasterToken, user string, serialNumber int64, renewalWindow, expiration time.Time) (*UserIDToken, json.RawMessage, error) {
	td := userIDTokenData{
		User:                    user,
		SerialNumber:            serialNumber,
		MasterTokenSerialNumber: mt.SerialNumber,
		RenewalWindow:           renewalWindow.Unix(),
		Expiration:              expiration.Unix(),
	}
	tokendata, err := json.Marshal(td)
	if err != nil {
		return nil, nil, err
	}
	signature, err := mslCryptoContext.Sign(ctx, tokendata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign user id token: %w", err)
	}

	raw, err := json.Marshal(userIDTokenEnvelope{
		TokenData: format.Encode(tokendata),
		Signature: format.Encode(signature),
	})
	if err != nil {
		return nil, nil, err
	}

	ut, err := ParseUserIDToken(raw)
	if err != nil {
		return nil, nil, err
	}
	return ut, raw, nil
}
