package msg

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/msgsec/msl/mslerrors"
	"github.com/msgsec/msl/tokens"
)

// enforceFreshness applies the role-sensitive expiration, handshake, and
// anti-replay rules to a validated message header. Every failure carries the
// header's message ID.
func enforceFreshness(ctx context.Context, mctx Context, header *MessageHeader, identity string) error {
	now := mctx.Now()
	mt := header.MasterToken

	// Expiration. An expired master token is acceptable when the message is
	// renewable and carries key request data, or when we are a
	// trusted-network client receiving from the server (the caller may
	// rotate on the next request).
	if mt != nil && mt.IsExpired(now) {
		renewing := header.Renewable && len(header.KeyRequestData) > 0
		if !renewing && mctx.Role() != RoleTrustedNetworkClient {
			return mslerrors.New(mslerrors.KindMessageExpired, "master token expired").
				WithMessageID(header.MessageID).WithEntity(identity)
		}
	}

	// A handshake message must be renewable and carry key request data,
	// otherwise the receiver cannot answer it.
	if header.Handshake && (!header.Renewable || len(header.KeyRequestData) == 0) {
		return mslerrors.New(mslerrors.KindHandshakeDataMissing,
			"handshake message is not renewable or carries no key request data").
			WithMessageID(header.MessageID).WithEntity(identity)
	}

	// Non-replayable ID enforcement.
	if header.NonReplayableID == nil {
		return nil
	}
	if mt == nil {
		return mslerrors.New(mslerrors.KindIncompleteNonReplayableMessage,
			"non-replayable message carries no master token").
			WithMessageID(header.MessageID).WithEntity(identity)
	}

	decision, err := mctx.TokenFactory().AcceptNonReplayableID(ctx, mt, *header.NonReplayableID)
	if err != nil {
		return mslerrors.Wrap(mslerrors.KindInternalException, "non-replayable id check", err).
			WithMessageID(header.MessageID).WithEntity(identity)
	}
	switch decision {
	case tokens.Accept:
		return nil
	case tokens.Replay:
		logrus.WithFields(logrus.Fields{
			"package":   "msg",
			"messageid": header.MessageID,
			"identity":  identity,
			"id":        *header.NonReplayableID,
		}).Warn("message replayed")
		return mslerrors.New(mslerrors.KindMessageReplayed, "non-replayable id already seen").
			WithMessageID(header.MessageID).WithEntity(identity)
	default:
		return mslerrors.New(mslerrors.KindMessageReplayedUnrecoverable,
			"non-replayable id outside the acceptance window").
			WithMessageID(header.MessageID).WithEntity(identity)
	}
}
