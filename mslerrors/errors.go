// Package mslerrors defines the closed error taxonomy for the message
// security layer receive pipeline.
//
// Errors are values: every protocol failure is an *MslError carrying a Kind
// from the closed set below, plus the message ID, entity identity, and user
// where known at the point of failure. Callers classify errors with
// errors.As against *MslError or with the KindOf helper; errors.Is matches
// two MslErrors on Kind.
package mslerrors

import (
	"errors"
	"fmt"
)

// Kind identifies a protocol failure from the closed taxonomy, grouped by
// pipeline stage.
type Kind uint8

const (
	// Parse stage
	KindJSONParseError Kind = iota + 1
	KindMessageFormatError

	// Entity authentication stage
	KindEntityRevoked
	KindEntityAuthFactoryNotFound
	KindEntityAuthVerificationFailed

	// Master token stage
	KindMasterTokenUntrusted
	KindMasterTokenIdentityRevoked
	KindMasterTokenRevoked

	// User-ID token stage
	KindUserIDTokenUntrusted
	KindUserIDTokenRevoked

	// Key exchange stage
	KindKeyxFactoryNotFound
	KindKeyxResponseRequestMismatch

	// Freshness stage
	KindMessageExpired
	KindHandshakeDataMissing
	KindIncompleteNonReplayableMessage
	KindMessageReplayed
	KindMessageReplayedUnrecoverable

	// Chunk stage
	KindPayloadMessageIDMismatch
	KindPayloadSequenceNumberMismatch
	KindPayloadVerificationFailed

	// Misuse
	KindInternalException
)

var kindNames = map[Kind]string{
	KindJSONParseError:                 "JSON_PARSE_ERROR",
	KindMessageFormatError:             "MESSAGE_FORMAT_ERROR",
	KindEntityRevoked:                  "ENTITY_REVOKED",
	KindEntityAuthFactoryNotFound:      "ENTITYAUTH_FACTORY_NOT_FOUND",
	KindEntityAuthVerificationFailed:   "ENTITYAUTH_VERIFICATION_FAILED",
	KindMasterTokenUntrusted:           "MASTERTOKEN_UNTRUSTED",
	KindMasterTokenIdentityRevoked:     "MASTERTOKEN_IDENTITY_REVOKED",
	KindMasterTokenRevoked:             "MASTERTOKEN_REVOKED",
	KindUserIDTokenUntrusted:           "USERIDTOKEN_UNTRUSTED",
	KindUserIDTokenRevoked:             "USERIDTOKEN_REVOKED",
	KindKeyxFactoryNotFound:            "KEYX_FACTORY_NOT_FOUND",
	KindKeyxResponseRequestMismatch:    "KEYX_RESPONSE_REQUEST_MISMATCH",
	KindMessageExpired:                 "MESSAGE_EXPIRED",
	KindHandshakeDataMissing:           "HANDSHAKE_DATA_MISSING",
	KindIncompleteNonReplayableMessage: "INCOMPLETE_NONREPLAYABLE_MESSAGE",
	KindMessageReplayed:                "MESSAGE_REPLAYED",
	KindMessageReplayedUnrecoverable:   "MESSAGE_REPLAYED_UNRECOVERABLE",
	KindPayloadMessageIDMismatch:       "PAYLOAD_MESSAGE_ID_MISMATCH",
	KindPayloadSequenceNumberMismatch:  "PAYLOAD_SEQUENCE_NUMBER_MISMATCH",
	KindPayloadVerificationFailed:      "PAYLOAD_VERIFICATION_FAILED",
	KindInternalException:              "INTERNAL_EXCEPTION",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_KIND(%d)", uint8(k))
}

// MslError is a protocol failure annotated with the context known at the
// point of failure. The zero values of MessageID, EntityIdentity, and UserID
// mean "unknown"; HasMessageID distinguishes message ID 0 from absent.
type MslError struct {
	Kind           Kind
	Message        string
	MessageID      int64
	HasMessageID   bool
	EntityIdentity string
	UserID         string

	cause error
}

// New creates an MslError of the given kind.
func New(kind Kind, message string) *MslError {
	return &MslError{Kind: kind, Message: message}
}

// Newf creates an MslError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *MslError {
	return &MslError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an MslError of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *MslError {
	return &MslError{Kind: kind, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *MslError) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.HasMessageID {
		msg += fmt.Sprintf(" [msgid=%d]", e.MessageID)
	}
	if e.EntityIdentity != "" {
		msg += fmt.Sprintf(" [entity=%s]", e.EntityIdentity)
	}
	if e.UserID != "" {
		msg += fmt.Sprintf(" [user=%s]", e.UserID)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *MslError) Unwrap() error {
	return e.cause
}

// Is matches another MslError on Kind, so that
// errors.Is(err, mslerrors.New(kind, "")) classifies by kind.
func (e *MslError) Is(target error) bool {
	var t *MslError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithMessageID returns a copy annotated with the offending message ID.
func (e *MslError) WithMessageID(id int64) *MslError {
	c := *e
	c.MessageID = id
	c.HasMessageID = true
	return &c
}

// WithEntity returns a copy annotated with the offending entity identity.
func (e *MslError) WithEntity(identity string) *MslError {
	c := *e
	c.EntityIdentity = identity
	return &c
}

// WithUser returns a copy annotated with the offending user.
func (e *MslError) WithUser(user string) *MslError {
	c := *e
	c.UserID = user
	return &c
}

// KindOf extracts the taxonomy kind from an error chain.
// The second return is false if the chain contains no MslError.
func KindOf(err error) (Kind, bool) {
	var e *MslError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether the error chain contains an MslError of the given
// kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
