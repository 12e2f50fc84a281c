package tokens

import "context"

// RevocationReason explains why a master token is no longer acceptable.
type RevocationReason uint8

const (
	// NotRevoked means the token is still acceptable.
	NotRevoked RevocationReason = iota
	// TokenRevoked means this specific token was revoked.
	TokenRevoked
	// IdentityRevoked means the entity identity inside the token was revoked.
	IdentityRevoked
)

// Decision is the outcome of a non-replayable ID acceptance check.
type Decision uint8

const (
	// Accept means the ID advances the largest-seen value and the message
	// may proceed.
	Accept Decision = iota
	// Replay means the ID is at or below the largest-seen value.
	Replay
	// Unrecoverable means the ID is too far ahead of the largest-seen value
	// for the receiver to safely advance.
	Unrecoverable
)

// NonReplayableWindow is the width of the acceptance window for
// non-replayable IDs. An incoming ID N is accepted against largest-seen L
// iff (N - L) mod 2^63 lies in (0, NonReplayableWindow].
const NonReplayableWindow = 65536

// Factory gates trust decisions for tokens: entity and token revocation,
// user-ID token revocation, and non-replayable ID acceptance.
//
// AcceptNonReplayableID must be linearizable per master-token serial number:
// the read of largest-seen and the advance on acceptance are one atomic step.
type Factory interface {
	// IsEntityRevoked reports whether the entity identity is revoked.
	IsEntityRevoked(ctx context.Context, identity string) (bool, error)

	// IsMasterTokenRevoked reports whether the master token, or the
	// identity it carries, is revoked.
	IsMasterTokenRevoked(ctx context.Context, mt *MasterToken) (RevocationReason, error)

	// IsUserIDTokenRevoked reports whether the user-ID token bound to the
	// master token is revoked.
	IsUserIDTokenRevoked(ctx context.Context, mt *MasterToken, ut *UserIDToken) (bool, error)

	// AcceptNonReplayableID checks the ID against the largest-seen value
	// for the master token's serial number and advances it on acceptance.
	AcceptNonReplayableID(ctx context.Context, mt *MasterToken, id int64) (Decision, error)
}
