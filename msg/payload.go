package msg

import (
	"context"
	"encoding/json"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// payloadData is the wire shape of a decrypted payload chunk.
type payloadData struct {
	SequenceNumber int64  `json:"sequencenumber"`
	MessageID      int64  `json:"messageid"`
	EndOfMessage   bool   `json:"endofmsg"`
	Compression    string `json:"compressionalgo,omitempty"`
	Data           string `json:"data"`
}

// PayloadChunk is a verified, decrypted, decompressed payload chunk.
type PayloadChunk struct {
	SequenceNumber int64
	MessageID      int64
	EndOfMessage   bool
	Compression    string
	Data           []byte
}

// ParsePayloadChunk verifies and decrypts a payload frame with the payload
// crypto context. A signature mismatch is PAYLOAD_VERIFICATION_FAILED;
// structural failures after a valid signature are format errors.
func ParsePayloadChunk(ctx context.Context, frame json.RawMessage, cc mslcrypto.CryptoContext) (*PayloadChunk, error) {
	env, err := format.ParsePayloadEnvelope(frame)
	if err != nil {
		return nil, err
	}
	ciphertext, err := format.Decode(env.Payload)
	if err != nil {
		return nil, err
	}
	signature, err := format.Decode(env.Signature)
	if err != nil {
		return nil, err
	}

	ok, err := cc.Verify(ctx, ciphertext, signature)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindInternalException, "payload verification", err)
	}
	if !ok {
		return nil, mslerrors.New(mslerrors.KindPayloadVerificationFailed,
			"payload signature verification failed")
	}

	plaintext, err := cc.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindPayloadVerificationFailed,
			"payload decryption failed", err)
	}

	var pd payloadData
	if err := json.Unmarshal(plaintext, &pd); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "payload data", err)
	}
	if pd.SequenceNumber < 0 {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError, "negative sequence number")
	}

	raw, err := format.Decode(pd.Data)
	if err != nil {
		return nil, err
	}
	data, err := decompress(pd.Compression, raw)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindMessageFormatError, "payload decompression", err)
	}

	return &PayloadChunk{
		SequenceNumber: pd.SequenceNumber,
		MessageID:      pd.MessageID,
		EndOfMessage:   pd.EndOfMessage,
		Compression:    pd.Compression,
		Data:           data,
	}, nil
}
