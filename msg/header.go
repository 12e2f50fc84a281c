package msg

import (
	"encoding/json"

	"github.com/msgsec/msl/entityauth"
	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/mslerrors"
	"github.com/msgsec/msl/tokens"
	"github.com/msgsec/msl/userauth"
)

// headerData is the wire shape of the decrypted header data.
type headerData struct {
	MessageID       int64             `json:"messageid"`
	NonReplayableID *int64            `json:"nonreplayableid,omitempty"`
	Renewable       bool              `json:"renewable"`
	Handshake       bool              `json:"handshake"`
	Capabilities    *Capabilities     `json:"capabilities,omitempty"`
	KeyRequestData  []json.RawMessage `json:"keyrequestdata,omitempty"`
	KeyResponseData json.RawMessage   `json:"keyresponsedata,omitempty"`
	UserAuthData    json.RawMessage   `json:"userauthdata,omitempty"`
	UserIDToken     json.RawMessage   `json:"useridtoken,omitempty"`
	ServiceTokens   []json.RawMessage `json:"servicetokens,omitempty"`
	Recipient       string            `json:"recipient,omitempty"`
	Timestamp       int64             `json:"timestamp,omitempty"`
}

// errorData is the wire shape of the decrypted error data.
type errorData struct {
	Recipient    string `json:"recipient,omitempty"`
	MessageID    int64  `json:"messageid"`
	ErrorCode    int    `json:"errorcode"`
	InternalCode int    `json:"internalcode,omitempty"`
	ErrorMessage string `json:"errormsg,omitempty"`
	UserMessage  string `json:"usermsg,omitempty"`
}

// MessageHeader is a validated message header. Once validated it is owned
// by the receiving pipeline for the lifetime of the stream.
type MessageHeader struct {
	MessageID       int64
	NonReplayableID *int64
	Renewable       bool
	Handshake       bool
	Capabilities    *Capabilities
	KeyRequestData  []*keyx.RequestData
	KeyResponseData *keyx.ResponseData
	UserAuthData    *userauth.Data
	UserIDToken     *tokens.UserIDToken
	ServiceTokens   tokens.ServiceTokenSet
	Recipient       string

	// Sender credentials. Exactly one of MasterToken and EntityAuthData
	// identifies the sender.
	MasterToken    *tokens.MasterToken
	EntityAuthData *entityauth.Data
}

// ErrorHeader is a validated error header. A stream carrying one has no
// payload chunks.
type ErrorHeader struct {
	EntityAuthData *entityauth.Data
	Recipient      string
	MessageID      int64
	ErrorCode      mslerrors.ResponseCode
	InternalCode   int
	ErrorMessage   string
	UserMessage    string
}

// parseHeaderData decodes and structurally validates decrypted header data.
func parseHeaderData(plaintext []byte) (*headerData, error) {
	var hd headerData
	if err := json.Unmarshal(plaintext, &hd); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "header data", err)
	}
	if hd.MessageID < 0 {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "negative message id")
	}
	if hd.NonReplayableID != nil && *hd.NonReplayableID < 0 {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "negative non-replayable id").
			WithMessageID(hd.MessageID)
	}
	return &hd, nil
}
