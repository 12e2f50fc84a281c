package format

import (
	"encoding/base64"
	"encoding/json"

	"github.com/msgsec/msl/mslerrors"
)

// HeaderEnvelope is the signed envelope of the first frame of a message.
// Exactly one of EntityAuthData and MasterToken identifies the sender.
// HeaderData is base64 ciphertext sealed by the header crypto context, and
// Signature authenticates it. ErrorData is present instead of HeaderData
// when the frame is an error header.
type HeaderEnvelope struct {
	EntityAuthData json.RawMessage `json:"entityauthdata,omitempty"`
	MasterToken    json.RawMessage `json:"mastertoken,omitempty"`
	HeaderData     string          `json:"headerdata,omitempty"`
	ErrorData      string          `json:"errordata,omitempty"`
	Signature      string          `json:"signature"`
}

// PayloadEnvelope is the signed envelope of every frame after the first.
// Payload is base64 ciphertext sealed by the payload crypto context.
type PayloadEnvelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// ParseHeaderEnvelope decodes the first frame into a header envelope.
func ParseHeaderEnvelope(frame json.RawMessage) (*HeaderEnvelope, error) {
	var env HeaderEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "header envelope", err)
	}
	if env.HeaderData == "" && env.ErrorData == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "envelope carries neither header data nor error data")
	}
	// An empty signature is structurally legal: null crypto contexts sign
	// with zero bytes. Verification decides whether it is acceptable.
	return &env, nil
}

// ParsePayloadEnvelope decodes a payload frame into its envelope.
func ParsePayloadEnvelope(frame json.RawMessage) (*PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "payload envelope", err)
	}
	if env.Payload == "" {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "payload envelope missing payload")
	}
	return &env, nil
}

// Encode returns the standard base64 encoding of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode strictly decodes standard base64. Decode failures are message
// format errors: the envelope was structurally valid JSON but its data
// fields are not transportable.
func Decode(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindMessageFormatError, "invalid base64", err)
	}
	return data, nil
}
