package msg

// Test-side message construction. The send-side builder proper lives with
// the remote entity; these helpers seal just enough wire structure to
// exercise the receive pipeline.

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msgsec/msl/entityauth"
	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/store"
	"github.com/msgsec/msl/tokens"
)

type testContext struct {
	now      time.Time
	role     Role
	mslCC    mslcrypto.CryptoContext
	ea       map[entityauth.Scheme]entityauth.Factory
	kx       map[keyx.Scheme]keyx.Factory
	tf       tokens.Factory
	st       store.Store
	infer    bool
	maxFrame int
}

func (c *testContext) Now() time.Time {
	if c.now.IsZero() {
		return time.Now()
	}
	return c.now
}

func (c *testContext) Role() Role { return c.role }

func (c *testContext) MslCryptoContext() mslcrypto.CryptoContext { return c.mslCC }

func (c *testContext) EntityAuthFactory(scheme entityauth.Scheme) (entityauth.Factory, bool) {
	f, ok := c.ea[scheme]
	return f, ok
}

func (c *testContext) KeyExchangeFactory(scheme keyx.Scheme) (keyx.Factory, bool) {
	f, ok := c.kx[scheme]
	return f, ok
}

func (c *testContext) TokenFactory() tokens.Factory { return c.tf }

func (c *testContext) Store() store.Store { return c.st }

func (c *testContext) InferHandshake() bool { return c.infer }

func (c *testContext) MaxFrameSize() int { return c.maxFrame }

const testPSKIdentity = "psk-entity"

var testPSK = []byte("pre-shared secret for psk-entity")

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	var encKey, hmacKey [32]byte
	_, err := rand.Read(encKey[:])
	require.NoError(t, err)
	_, err = rand.Read(hmacKey[:])
	require.NoError(t, err)

	psk := entityauth.NewPresharedFactory()
	psk.AddKey(testPSKIdentity, testPSK)

	return &testContext{
		role:  RoleTrustedNetworkServer,
		mslCC: mslcrypto.NewSymmetricCryptoContext("msl", encKey, hmacKey),
		ea: map[entityauth.Scheme]entityauth.Factory{
			entityauth.SchemeUnauthenticated: entityauth.NewUnauthenticatedFactory(),
			entityauth.SchemePSK:             psk,
		},
		kx: map[keyx.Scheme]keyx.Factory{
			keyx.SchemeDiffieHellman: keyx.NewDiffieHellmanFactory(),
			keyx.SchemeNoiseNK:       keyx.NewNoiseNKFactory(),
		},
		tf:    tokens.NewMemoryFactory(),
		st:    store.NewMemoryStore(),
		infer: true,
	}
}

// issueMasterToken mints a valid master token against the context's MSL
// crypto context.
func issueMasterToken(t *testing.T, mctx *testContext, identity string, serial int64) (*tokens.MasterToken, json.RawMessage) {
	t.Helper()
	now := mctx.Now()
	mt, raw, err := tokens.IssueMasterToken(context.Background(), mctx.mslCC, identity,
		1, serial, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	return mt, raw
}

// sealEnvelope encrypts plaintext with cc and wraps it in a signed envelope
// under the given data field name.
func sealEnvelope(t *testing.T, cc mslcrypto.CryptoContext, fields map[string]interface{}, dataField string, plaintext []byte) []byte {
	t.Helper()
	ctx := context.Background()
	ciphertext, err := cc.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	signature, err := cc.Sign(ctx, ciphertext)
	require.NoError(t, err)

	env := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		env[k] = v
	}
	env[dataField] = format.Encode(ciphertext)
	env["signature"] = format.Encode(signature)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

// buildHeader seals header data into a header frame. Exactly one of mtRaw
// and ead identifies the sender; cc must be the matching header context.
func buildHeader(t *testing.T, cc mslcrypto.CryptoContext, mtRaw json.RawMessage, ead *entityauth.Data, hd headerData) []byte {
	t.Helper()
	plaintext, err := json.Marshal(hd)
	require.NoError(t, err)

	fields := make(map[string]interface{})
	if mtRaw != nil {
		fields["mastertoken"] = json.RawMessage(mtRaw)
	}
	if ead != nil {
		raw, err := json.Marshal(ead)
		require.NoError(t, err)
		fields["entityauthdata"] = json.RawMessage(raw)
	}
	return sealEnvelope(t, cc, fields, "headerdata", plaintext)
}

// buildErrorHeader seals error data into an error header frame.
func buildErrorHeader(t *testing.T, cc mslcrypto.CryptoContext, ead *entityauth.Data, ed errorData) []byte {
	t.Helper()
	plaintext, err := json.Marshal(ed)
	require.NoError(t, err)
	raw, err := json.Marshal(ead)
	require.NoError(t, err)
	fields := map[string]interface{}{"entityauthdata": json.RawMessage(raw)}
	return sealEnvelope(t, cc, fields, "errordata", plaintext)
}

// buildChunk seals one payload chunk with the payload crypto context.
func buildChunk(t *testing.T, cc mslcrypto.CryptoContext, seq, msgID int64, eom bool, algo string, data []byte) []byte {
	t.Helper()
	compressed, err := compress(algo, data)
	require.NoError(t, err)
	pd := payloadData{
		SequenceNumber: seq,
		MessageID:      msgID,
		EndOfMessage:   eom,
		Compression:    algo,
		Data:           format.Encode(compressed),
	}
	plaintext, err := json.Marshal(pd)
	require.NoError(t, err)
	return sealEnvelope(t, cc, nil, "payload", plaintext)
}

// pskContext derives the crypto context the PSK entity auth factory would
// resolve for the test identity.
func pskContext(t *testing.T) mslcrypto.CryptoContext {
	t.Helper()
	cc, err := mslcrypto.DeriveCryptoContext("psk-"+testPSKIdentity, testPSK, "entityauth-psk")
	require.NoError(t, err)
	return cc
}

// testKeyRequestRaw returns header carriage for one Diffie-Hellman key
// request.
func testKeyRequestRaw(t *testing.T) []json.RawMessage {
	t.Helper()
	request, err := keyx.NewDiffieHellmanRequest()
	require.NoError(t, err)
	raw, err := json.Marshal(request)
	require.NoError(t, err)
	return []json.RawMessage{raw}
}

// sessionMessage builds a complete master-token message: header plus the
// given chunks, each entry being one chunk's data; only the last chunk
// carries end-of-message. It returns the stream bytes and the master token
// whose session crypto context protects the header and chunks.
func sessionMessage(t *testing.T, mctx *testContext, msgID int64, hd headerData, chunks [][]byte) ([]byte, *tokens.MasterToken) {
	t.Helper()
	mt, mtRaw := issueMasterToken(t, mctx, "entity-a", 1000)
	sc, err := mt.SessionCryptoContext()
	require.NoError(t, err)

	hd.MessageID = msgID
	var buf bytes.Buffer
	buf.Write(buildHeader(t, sc, mtRaw, nil, hd))
	for i, data := range chunks {
		eom := i == len(chunks)-1
		buf.Write(buildChunk(t, sc, int64(i+1), msgID, eom, "", data))
	}
	return buf.Bytes(), mt
}
