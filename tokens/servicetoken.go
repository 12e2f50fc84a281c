package tokens

import (
	"encoding/json"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/mslerrors"
)

type serviceTokenEnvelope struct {
	Name                    string `json:"name"`
	Data                    string `json:"data"`
	MasterTokenSerialNumber *int64 `json:"mtserialnumber,omitempty"`
	UserIDSerialNumber      *int64 `json:"uitserialnumber,omitempty"`
	Encrypted               bool   `json:"encrypted"`
	Signature               string `json:"signature,omitempty"`
}

// ServiceToken is an opaque application-level token carried in a message
// header. The pipeline does not interpret service token data; crypto
// contexts for named tokens are caller-provided and applied only to unseal
// the data for the accessor.
type ServiceToken struct {
	Name      string
	Data      []byte
	Encrypted bool

	// Bindings. Nil means unbound.
	MasterTokenSerialNumber *int64
	UserIDSerialNumber      *int64
}

// ParseServiceToken decodes a service token from its header carriage.
func ParseServiceToken(raw json.RawMessage) (*ServiceToken, error) {
	var env serviceTokenEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "service token", err)
	}
	if env.Name == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "service token missing name")
	}
	data, err := format.Decode(env.Data)
	if err != nil {
		return nil, err
	}
	return &ServiceToken{
		Name:                    env.Name,
		Data:                    data,
		Encrypted:               env.Encrypted,
		MasterTokenSerialNumber: env.MasterTokenSerialNumber,
		UserIDSerialNumber:      env.UserIDSerialNumber,
	}, nil
}

// ServiceTokenSet is a set of service tokens keyed by name. Duplicate names
// keep the last token parsed, matching the wire ordering.
type ServiceTokenSet map[string]*ServiceToken

// Add inserts a token into the set.
func (s ServiceTokenSet) Add(token *ServiceToken) {
	s[token.Name] = token
}

// Get returns a token by name.
func (s ServiceTokenSet) Get(name string) (*ServiceToken, bool) {
	token, ok := s[name]
	return token, ok
}
