package msg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/mslerrors"
	"github.com/msgsec/msl/tokens"
)

// expiredMasterToken issues a token whose expiration is already past.
func expiredMasterToken(t *testing.T, mctx *testContext) *tokens.MasterToken {
	t.Helper()
	now := mctx.Now()
	mt, _, err := tokens.IssueMasterToken(context.Background(), mctx.mslCC, "entity-a",
		1, 500, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	return mt
}

func enforce(t *testing.T, mctx *testContext, header *MessageHeader) error {
	t.Helper()
	return enforceFreshness(context.Background(), mctx, header, "entity-a")
}

func TestFreshnessExpiredNonRenewable(t *testing.T) {
	mctx := newTestContext(t)
	mctx.role = RoleTrustedNetworkServer
	header := &MessageHeader{MessageID: 42, MasterToken: expiredMasterToken(t, mctx)}

	err := enforce(t, mctx, header)
	require.Error(t, err)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindMessageExpired))

	var me *mslerrors.MslError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int64(42), me.MessageID)
}

func TestFreshnessExpiredRenewableWithoutKeyRequests(t *testing.T) {
	mctx := newTestContext(t)
	mctx.role = RoleTrustedNetworkServer
	header := &MessageHeader{
		MessageID:   42,
		MasterToken: expiredMasterToken(t, mctx),
		Renewable:   true,
	}

	err := enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindMessageExpired))
}

func TestFreshnessExpiredRenewableWithKeyRequests(t *testing.T) {
	mctx := newTestContext(t)
	mctx.role = RoleTrustedNetworkServer
	header := &MessageHeader{
		MessageID:      42,
		MasterToken:    expiredMasterToken(t, mctx),
		Renewable:      true,
		KeyRequestData: parsedKeyRequests(t),
	}

	assert.NoError(t, enforce(t, mctx, header))
}

func TestFreshnessExpiredAcceptedByTrustedNetworkClient(t *testing.T) {
	mctx := newTestContext(t)
	mctx.role = RoleTrustedNetworkClient
	header := &MessageHeader{MessageID: 42, MasterToken: expiredMasterToken(t, mctx)}

	// A client receiving from the server accepts the expired token; the
	// caller may rotate on its next request.
	assert.NoError(t, enforce(t, mctx, header))
}

func TestFreshnessExpiredRejectedForPeer(t *testing.T) {
	mctx := newTestContext(t)
	mctx.role = RolePeer
	header := &MessageHeader{MessageID: 42, MasterToken: expiredMasterToken(t, mctx)}

	err := enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindMessageExpired))
}

func TestFreshnessHandshakeDataMissing(t *testing.T) {
	mctx := newTestContext(t)

	// Handshake flag without renewable.
	header := &MessageHeader{MessageID: 42, Handshake: true, KeyRequestData: parsedKeyRequests(t)}
	err := enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindHandshakeDataMissing))

	// Handshake flag without key request data.
	header = &MessageHeader{MessageID: 42, Handshake: true, Renewable: true}
	err = enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindHandshakeDataMissing))

	// Both present is fine.
	header = &MessageHeader{MessageID: 42, Handshake: true, Renewable: true, KeyRequestData: parsedKeyRequests(t)}
	assert.NoError(t, enforce(t, mctx, header))
}

func TestFreshnessIncompleteNonReplayable(t *testing.T) {
	mctx := newTestContext(t)
	nrID := int64(5)
	header := &MessageHeader{MessageID: 42, NonReplayableID: &nrID}

	err := enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindIncompleteNonReplayableMessage))
}

func TestFreshnessNonReplayableDecisions(t *testing.T) {
	mctx := newTestContext(t)
	mt, _ := issueMasterToken(t, mctx, "entity-a", 600)
	factory := mctx.tf.(*tokens.MemoryFactory)

	nrID := int64(100)
	header := &MessageHeader{MessageID: 42, MasterToken: mt, NonReplayableID: &nrID}

	// Accept advances largest-seen.
	require.NoError(t, enforce(t, mctx, header))

	// The same ID again is a replay.
	err := enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindMessageReplayed))

	// Too far ahead is unrecoverable.
	far := int64(100 + tokens.NonReplayableWindow + 1)
	header.NonReplayableID = &far
	factory.SetLargestNonReplayableID(mt.SerialNumber, 100)
	err = enforce(t, mctx, header)
	assert.True(t, mslerrors.IsKind(err, mslerrors.KindMessageReplayedUnrecoverable))
}

// parsedKeyRequests returns one key request, shaped as the header parser
// would surface it.
func parsedKeyRequests(t *testing.T) []*keyx.RequestData {
	t.Helper()
	request, err := keyx.NewDiffieHellmanRequest()
	require.NoError(t, err)
	return []*keyx.RequestData{request}
}
