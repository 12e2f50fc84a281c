package tokens

import (
	"context"
	"encoding/json"
	"time"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/limits"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

type userIDTokenEnvelope struct {
	TokenData string `json:"tokendata"`
	Signature string `json:"signature"`
}

type userIDTokenData struct {
	User                    string `json:"user"`
	SerialNumber            int64  `json:"serialnumber"`
	MasterTokenSerialNumber int64  `json:"mtserialnumber"`
	RenewalWindow           int64  `json:"renewalwindow"`
	Expiration              int64  `json:"expiration"`
}

// UserIDToken is a sealed credential binding a user identity to a master
// token serial number.
type UserIDToken struct {
	User                    string
	SerialNumber            int64
	MasterTokenSerialNumber int64
	RenewalWindow           time.Time
	Expiration              time.Time

	tokendata []byte
	signature []byte
}

// ParseUserIDToken structurally decodes a user-ID token.
func ParseUserIDToken(raw json.RawMessage) (*UserIDToken, error) {
	var env userIDTokenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "user id token envelope", err)
	}
	tokendata, err := format.Decode(env.TokenData)
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateTokenData(tokendata); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindMessageFormatError, "user id token data", err)
	}
	signature, err := format.Decode(env.Signature)
	if err != nil {
		return nil, err
	}

	var td userIDTokenData
	if err := json.Unmarshal(tokendata, &td); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "user id token data", err)
	}
	if td.User == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "user id token missing user")
	}
	if td.SerialNumber < 0 || td.MasterTokenSerialNumber < 0 {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "user id token negative serial number")
	}

	return &UserIDToken{
		User:                    td.User,
		SerialNumber:            td.SerialNumber,
		MasterTokenSerialNumber: td.MasterTokenSerialNumber,
		RenewalWindow:           time.Unix(td.RenewalWindow, 0),
		Expiration:              time.Unix(td.Expiration, 0),
		tokendata:               tokendata,
		signature:               signature,
	}, nil
}

// Verify checks the token's signature with the MSL crypto context. Crypto
// failures report (false, nil).
func (ut *UserIDToken) Verify(ctx context.Context, mslCryptoContext mslcrypto.CryptoContext) (bool, error) {
	return mslCryptoContext.Verify(ctx, ut.tokendata, ut.signature)
}

// IsBoundTo reports whether this token attaches to the given master token's
// serial number.
func (ut *UserIDToken) IsBoundTo(mt *MasterToken) bool {
	return mt != nil && ut.MasterTokenSerialNumber == mt.SerialNumber
}

// IsExpired reports whether the token's expiration has passed.
func (ut *UserIDToken) IsExpired(now time.Time) bool {
	return !now.Before(ut.Expiration)
}
