// Package tokens implements the sealed credentials of the message security
// layer: master tokens, user-ID tokens, and service tokens, plus the token
// factory that gates trust, revocation, and non-replayable ID acceptance.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/limits"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// masterTokenEnvelope is the wire shape of a master token.
type masterTokenEnvelope struct {
	TokenData string `json:"tokendata"`
	Signature string `json:"signature"`
}

// masterTokenData is the signed token data.
type masterTokenData struct {
	Identity       string          `json:"identity"`
	SequenceNumber int64           `json:"sequencenumber"`
	SerialNumber   int64           `json:"serialnumber"`
	RenewalWindow  int64           `json:"renewalwindow"`
	Expiration     int64           `json:"expiration"`
	SessionData    string          `json:"sessiondata"`
	IssuerData     json.RawMessage `json:"issuerdata,omitempty"`
}

// sessionData is the plaintext of the sealed session key material.
type sessionData struct {
	EncryptionKey string `json:"encryptionkey"`
	HMACKey       string `json:"hmackey"`
}

// MasterToken is a sealed session credential issued by the remote entity.
// The session key material is encrypted to the process-wide MSL crypto
// context; until Verify succeeds against that context the token is opaque
// and IsDecrypted reports false.
type MasterToken struct {
	Identity       string
	SequenceNumber int64
	SerialNumber   int64
	RenewalWindow  time.Time
	Expiration     time.Time
	IssuerData     json.RawMessage

	tokendata   []byte
	signature   []byte
	sessionData string

	encryptionKey [32]byte
	hmacKey       [32]byte
	decrypted     bool
}

// ParseMasterToken structurally decodes a master token. No trust decision
// is made; call Verify with the MSL crypto context before using the token's
// session keys.
func ParseMasterToken(raw json.RawMessage) (*MasterToken, error) {
	var env masterTokenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "master token envelope", err)
	}
	tokendata, err := format.Decode(env.TokenData)
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateTokenData(tokendata); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindMessageFormatError, "master token data", err)
	}
	signature, err := format.Decode(env.Signature)
	if err != nil {
		return nil, err
	}

	var td masterTokenData
	if err := json.Unmarshal(tokendata, &td); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "master token data", err)
	}
	if td.Identity == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "master token missing identity")
	}
	if td.SerialNumber < 0 || td.SequenceNumber < 0 {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "master token negative serial or sequence number")
	}

	return &MasterToken{
		Identity:       td.Identity,
		SequenceNumber: td.SequenceNumber,
		SerialNumber:   td.SerialNumber,
		RenewalWindow:  time.Unix(td.RenewalWindow, 0),
		Expiration:     time.Unix(td.Expiration, 0),
		IssuerData:     td.IssuerData,
		tokendata:      tokendata,
		signature:      signature,
		sessionData:    td.SessionData,
	}, nil
}

// Verify checks the token's signature with the MSL crypto context and, on
// success, unseals the session key material. Any crypto failure reports
// (false, nil): an unverifiable token is untrusted, not an I/O error.
func (mt *MasterToken) Verify(ctx context.Context, mslCryptoContext mslcrypto.CryptoContext) (bool, error) {
	ok, err := mslCryptoContext.Verify(ctx, mt.tokendata, mt.signature)
	if err != nil || !ok {
		return false, err
	}

	sealed, err := format.Decode(mt.sessionData)
	if err != nil {
		return false, nil
	}
	plaintext, err := mslCryptoContext.Decrypt(ctx, sealed)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package":      "tokens",
			"serialnumber": mt.SerialNumber,
		}).Debug("master token session data decryption failed")
		return false, nil
	}

	var sd sessionData
	if err := json.Unmarshal(plaintext, &sd); err != nil {
		return false, nil
	}
	encKey, err := format.Decode(sd.EncryptionKey)
	if err != nil || len(encKey) != 32 {
		return false, nil
	}
	hmacKey, err := format.Decode(sd.HMACKey)
	if err != nil || len(hmacKey) != 32 {
		return false, nil
	}
	copy(mt.encryptionKey[:], encKey)
	copy(mt.hmacKey[:], hmacKey)
	mt.decrypted = true
	return true, nil
}

// IsDecrypted reports whether the session key material has been unsealed.
func (mt *MasterToken) IsDecrypted() bool { return mt.decrypted }

// SessionCryptoContext constructs the session crypto context from the
// unsealed session keys. Verify must have succeeded first.
func (mt *MasterToken) SessionCryptoContext() (*mslcrypto.SymmetricCryptoContext, error) {
	if !mt.decrypted {
		return nil, fmt.Errorf("master token %d not decrypted", mt.SerialNumber)
	}
	id := fmt.Sprintf("session-%d", mt.SerialNumber)
	return mslcrypto.NewSymmetricCryptoContext(id, mt.encryptionKey, mt.hmacKey), nil
}

// IsExpired reports whether the token's expiration has passed.
func (mt *MasterToken) IsExpired(now time.Time) bool {
	return !now.Before(mt.Expiration)
}

// IsRenewable reports whether the renewal window has opened.
func (mt *MasterToken) IsRenewable(now time.Time) bool {
	return !now.Before(mt.RenewalWindow)
}

// IsNewerThan reports whether this token supersedes the other, comparing
// sequence numbers with wrap-around in the non-negative int64 range.
func (mt *MasterToken) IsNewerThan(other *MasterToken) bool {
	if mt.SequenceNumber == other.SequenceNumber {
		return mt.Expiration.After(other.Expiration)
	}
	d := uint64(mt.SequenceNumber-other.SequenceNumber) & sequenceMask
	return d != 0 && d < sequenceMask/2
}

const sequenceMask = 1<<63 - 1
