package msg

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/msgsec/msl/entityauth"
	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/limits"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
	"github.com/msgsec/msl/tokens"
	"github.com/msgsec/msl/userauth"
)

// ParsedHeader is the outcome of header parsing and validation: exactly one
// of MessageHeader and ErrorHeader is non-nil, together with the resolved
// crypto contexts and identities.
type ParsedHeader struct {
	MessageHeader *MessageHeader
	ErrorHeader   *ErrorHeader

	// HeaderCryptoContext verified and decrypted the header.
	HeaderCryptoContext mslcrypto.CryptoContext

	// PayloadCryptoContext seals the payload chunks. Immutable for the
	// stream's lifetime once selected.
	PayloadCryptoContext mslcrypto.CryptoContext

	// KeyxCryptoContext is the key-exchange context derived from a key
	// response, when one was present.
	KeyxCryptoContext mslcrypto.CryptoContext

	// Identity is the sender's entity identity: the master token identity
	// when a master token was present, else the entity auth identity.
	Identity string

	// User is the user bound by the user-ID token, if any.
	User string
}

// ParseHeader parses and validates the first frame of a message. The caller
// provides the ordered key request data it previously sent, for matching an
// incoming key response, and crypto contexts for the service tokens it can
// unseal, keyed by token name.
//
// Freshness and replay enforcement are deliberately not performed here so
// that policy errors can carry the parsed message ID; callers run
// enforceFreshness afterwards.
func ParseHeader(ctx context.Context, mctx Context, frame json.RawMessage, keyRequests []*keyx.RequestData, serviceTokenCtxs map[string]mslcrypto.CryptoContext) (*ParsedHeader, error) {
	env, err := format.ParseHeaderEnvelope(frame)
	if err != nil {
		return nil, err
	}
	if env.ErrorData != "" {
		return parseErrorHeader(ctx, mctx, env)
	}
	return parseMessageHeader(ctx, mctx, env, keyRequests, serviceTokenCtxs)
}

func parseMessageHeader(ctx context.Context, mctx Context, env *format.HeaderEnvelope, keyRequests []*keyx.RequestData, serviceTokenCtxs map[string]mslcrypto.CryptoContext) (*ParsedHeader, error) {
	parsed := &ParsedHeader{}
	header := &MessageHeader{ServiceTokens: make(tokens.ServiceTokenSet)}

	// Resolve the header crypto context from the sender's credentials.
	var masterToken *tokens.MasterToken
	var entityData *entityauth.Data
	var headerCC mslcrypto.CryptoContext
	switch {
	case len(env.MasterToken) > 0:
		mt, cc, err := resolveSessionContext(ctx, mctx, env.MasterToken)
		if err != nil {
			return nil, err
		}
		masterToken, headerCC = mt, cc
		parsed.Identity = mt.Identity
	case len(env.EntityAuthData) > 0:
		ead, cc, err := resolveEntityAuthContext(ctx, mctx, env.EntityAuthData)
		if err != nil {
			return nil, err
		}
		entityData, headerCC = ead, cc
		parsed.Identity = ead.Identity
	default:
		return nil, mslerrors.New(mslerrors.KindMessageFormatError,
			"header carries neither master token nor entity auth data")
	}
	header.MasterToken = masterToken
	header.EntityAuthData = entityData
	parsed.HeaderCryptoContext = headerCC

	// Verify the envelope signature over the header data ciphertext, then
	// decrypt and parse the header data.
	ciphertext, err := format.Decode(env.HeaderData)
	if err != nil {
		return nil, err
	}
	signature, err := format.Decode(env.Signature)
	if err != nil {
		return nil, err
	}
	ok, err := headerCC.Verify(ctx, ciphertext, signature)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindInternalException, "header verification", err)
	}
	if !ok {
		if masterToken != nil {
			return nil, mslerrors.New(mslerrors.KindMasterTokenUntrusted,
				"header signature does not match session keys").WithEntity(parsed.Identity)
		}
		return nil, mslerrors.New(mslerrors.KindEntityAuthVerificationFailed,
			"header signature verification failed").WithEntity(parsed.Identity)
	}
	plaintext, err := headerCC.Decrypt(ctx, ciphertext)
	if err != nil {
		if masterToken != nil {
			return nil, mslerrors.Wrap(mslerrors.KindMasterTokenUntrusted,
				"header data decryption failed", err).WithEntity(parsed.Identity)
		}
		return nil, mslerrors.Wrap(mslerrors.KindEntityAuthVerificationFailed,
			"header data decryption failed", err).WithEntity(parsed.Identity)
	}
	if err := limits.ValidateHeaderData(plaintext); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindMessageFormatError, "header data", err)
	}
	hd, err := parseHeaderData(plaintext)
	if err != nil {
		return nil, annotate(err, parsed)
	}

	header.MessageID = hd.MessageID
	header.NonReplayableID = hd.NonReplayableID
	header.Renewable = hd.Renewable
	header.Handshake = hd.Handshake
	header.Capabilities = hd.Capabilities
	header.Recipient = hd.Recipient

	if err := parseHeaderFields(ctx, header, hd, serviceTokenCtxs); err != nil {
		return nil, annotateWithID(err, parsed, header.MessageID)
	}

	// Credential resolution: user-ID token trust and revocation.
	if err := resolveUserIDToken(ctx, mctx, header, hd, parsed); err != nil {
		return nil, annotateWithID(err, parsed, header.MessageID)
	}

	// Key-response negotiation.
	if err := negotiateKeyResponse(ctx, mctx, header, keyRequests, parsed); err != nil {
		return nil, annotateWithID(err, parsed, header.MessageID)
	}

	parsed.MessageHeader = header
	mslcrypto.NewLogger("msg", "ParseHeader").
		WithField("messageid", header.MessageID).
		WithField("identity", parsed.Identity).
		WithField("renewable", header.Renewable).
		WithField("handshake", header.Handshake).
		Debug("Message header validated")
	return parsed, nil
}

// resolveSessionContext resolves the header crypto context for a master
// token: a cached session context from the store if present, else a fresh
// one from verifying the token against the MSL crypto context.
func resolveSessionContext(ctx context.Context, mctx Context, raw json.RawMessage) (*tokens.MasterToken, mslcrypto.CryptoContext, error) {
	mt, err := tokens.ParseMasterToken(raw)
	if err != nil {
		return nil, nil, err
	}

	reason, err := mctx.TokenFactory().IsMasterTokenRevoked(ctx, mt)
	if err != nil {
		return nil, nil, mslerrors.Wrap(mslerrors.KindInternalException, "master token revocation check", err)
	}
	switch reason {
	case tokens.IdentityRevoked:
		return nil, nil, mslerrors.New(mslerrors.KindMasterTokenIdentityRevoked,
			"master token identity revoked").WithEntity(mt.Identity)
	case tokens.TokenRevoked:
		return nil, nil, mslerrors.New(mslerrors.KindMasterTokenRevoked,
			"master token revoked").WithEntity(mt.Identity)
	}

	if cc, ok := mctx.Store().CryptoContext(mt.SerialNumber); ok {
		return mt, cc, nil
	}

	verified, err := mt.Verify(ctx, mctx.MslCryptoContext())
	if err != nil {
		return nil, nil, mslerrors.Wrap(mslerrors.KindInternalException, "master token verification", err)
	}
	if !verified {
		return nil, nil, mslerrors.New(mslerrors.KindMasterTokenUntrusted,
			"master token cannot be verified and no cached session context exists").
			WithEntity(mt.Identity)
	}
	cc, err := mt.SessionCryptoContext()
	if err != nil {
		return nil, nil, mslerrors.Wrap(mslerrors.KindInternalException, "session context", err)
	}
	mctx.Store().SetCryptoContext(mt, cc)
	return mt, cc, nil
}

// resolveEntityAuthContext resolves the header crypto context for entity
// auth data, consulting the token factory for entity revocation.
func resolveEntityAuthContext(ctx context.Context, mctx Context, raw json.RawMessage) (*entityauth.Data, mslcrypto.CryptoContext, error) {
	ead, err := entityauth.Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	revoked, err := mctx.TokenFactory().IsEntityRevoked(ctx, ead.Identity)
	if err != nil {
		return nil, nil, mslerrors.Wrap(mslerrors.KindInternalException, "entity revocation check", err)
	}
	if revoked {
		return nil, nil, mslerrors.New(mslerrors.KindEntityRevoked, "entity identity revoked").
			WithEntity(ead.Identity)
	}

	factory, ok := mctx.EntityAuthFactory(ead.Scheme)
	if !ok {
		return nil, nil, mslerrors.Newf(mslerrors.KindEntityAuthFactoryNotFound,
			"no factory for entity auth scheme %q", ead.Scheme).WithEntity(ead.Identity)
	}
	cc, err := factory.CryptoContext(ctx, ead)
	if err != nil {
		return nil, nil, err
	}
	return ead, cc, nil
}

// parseHeaderFields decodes the header's carried collections. Encrypted
// service tokens are unsealed with their caller-provided crypto contexts;
// tokens without one stay sealed.
func parseHeaderFields(ctx context.Context, header *MessageHeader, hd *headerData, serviceTokenCtxs map[string]mslcrypto.CryptoContext) error {
	for _, raw := range hd.KeyRequestData {
		krd, err := keyx.ParseRequestData(raw)
		if err != nil {
			return err
		}
		header.KeyRequestData = append(header.KeyRequestData, krd)
	}
	if len(hd.KeyResponseData) > 0 {
		krd, err := keyx.ParseResponseData(hd.KeyResponseData)
		if err != nil {
			return err
		}
		header.KeyResponseData = krd
	}
	if len(hd.UserAuthData) > 0 {
		uad, err := userauth.Parse(hd.UserAuthData)
		if err != nil {
			return err
		}
		header.UserAuthData = uad
	}
	for _, raw := range hd.ServiceTokens {
		st, err := tokens.ParseServiceToken(raw)
		if err != nil {
			return err
		}
		if st.Encrypted {
			if cc, ok := serviceTokenCtxs[st.Name]; ok {
				plaintext, err := cc.Decrypt(ctx, st.Data)
				if err != nil {
					return mslerrors.Wrap(mslerrors.KindMessageFormatError,
						"service token decryption failed", err)
				}
				st.Data = plaintext
				st.Encrypted = false
			}
		}
		header.ServiceTokens.Add(st)
	}
	return nil
}

// resolveUserIDToken verifies the user-ID token's seal, its binding to the
// master token, and its revocation state.
func resolveUserIDToken(ctx context.Context, mctx Context, header *MessageHeader, hd *headerData, parsed *ParsedHeader) error {
	if len(hd.UserIDToken) == 0 {
		return nil
	}
	ut, err := tokens.ParseUserIDToken(hd.UserIDToken)
	if err != nil {
		return err
	}
	ok, err := ut.Verify(ctx, mctx.MslCryptoContext())
	if err != nil {
		return mslerrors.Wrap(mslerrors.KindInternalException, "user id token verification", err)
	}
	if !ok {
		return mslerrors.New(mslerrors.KindUserIDTokenUntrusted,
			"user id token cannot be verified").WithUser(ut.User)
	}
	if !ut.IsBoundTo(header.MasterToken) {
		return mslerrors.New(mslerrors.KindUserIDTokenUntrusted,
			"user id token not bound to master token").WithUser(ut.User)
	}
	revoked, err := mctx.TokenFactory().IsUserIDTokenRevoked(ctx, header.MasterToken, ut)
	if err != nil {
		return mslerrors.Wrap(mslerrors.KindInternalException, "user id token revocation check", err)
	}
	if revoked {
		return mslerrors.New(mslerrors.KindUserIDTokenRevoked, "user id token revoked").
			WithUser(ut.User)
	}
	header.UserIDToken = ut
	parsed.User = ut.User
	return nil
}

// negotiateKeyResponse matches an incoming key response against the
// caller's ordered key requests and selects the payload crypto context.
//
// In trusted-network mode the derived key-exchange context becomes the
// payload context. In peer-to-peer mode the payload context remains the
// header context; the key-exchange context is retained for later messages.
func negotiateKeyResponse(ctx context.Context, mctx Context, header *MessageHeader, keyRequests []*keyx.RequestData, parsed *ParsedHeader) error {
	response := header.KeyResponseData
	if response == nil {
		parsed.PayloadCryptoContext = parsed.HeaderCryptoContext
		return nil
	}

	var candidates []*keyx.RequestData
	for _, request := range keyRequests {
		if request.Scheme == response.Scheme {
			candidates = append(candidates, request)
		}
	}
	if len(candidates) == 0 {
		return mslerrors.Newf(mslerrors.KindKeyxResponseRequestMismatch,
			"no key request for response scheme %q", response.Scheme)
	}

	factory, ok := mctx.KeyExchangeFactory(response.Scheme)
	if !ok {
		return mslerrors.Newf(mslerrors.KindKeyxFactoryNotFound,
			"no factory for key exchange scheme %q", response.Scheme)
	}

	var matched *keyx.RequestData
	for _, request := range candidates {
		if factory.Matches(request, response) {
			matched = request
			break
		}
	}
	if matched == nil {
		return mslerrors.New(mslerrors.KindKeyxResponseRequestMismatch,
			"key response answers none of the outstanding requests")
	}

	keyxCC, err := factory.DeriveCryptoContext(ctx, matched, response)
	if err != nil {
		if _, ok := mslerrors.KindOf(err); ok {
			return err
		}
		return mslerrors.Wrap(mslerrors.KindKeyxResponseRequestMismatch,
			"key exchange derivation failed", err)
	}
	parsed.KeyxCryptoContext = keyxCC

	if mctx.Role().IsPeerToPeer() {
		parsed.PayloadCryptoContext = parsed.HeaderCryptoContext
	} else {
		parsed.PayloadCryptoContext = keyxCC
	}
	return nil
}

// parseErrorHeader validates an error header: entity auth data, signature
// over the error data ciphertext, then the decrypted error fields.
func parseErrorHeader(ctx context.Context, mctx Context, env *format.HeaderEnvelope) (*ParsedHeader, error) {
	if len(env.EntityAuthData) == 0 {
		return nil, mslerrors.New(mslerrors.KindMessageFormatError,
			"error header missing entity auth data")
	}
	ead, cc, err := resolveEntityAuthContext(ctx, mctx, env.EntityAuthData)
	if err != nil {
		return nil, err
	}

	ciphertext, err := format.Decode(env.ErrorData)
	if err != nil {
		return nil, err
	}
	signature, err := format.Decode(env.Signature)
	if err != nil {
		return nil, err
	}
	ok, err := cc.Verify(ctx, ciphertext, signature)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindInternalException, "error header verification", err)
	}
	if !ok {
		return nil, mslerrors.New(mslerrors.KindEntityAuthVerificationFailed,
			"error header signature verification failed").WithEntity(ead.Identity)
	}
	plaintext, err := cc.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindEntityAuthVerificationFailed,
			"error data decryption failed", err).WithEntity(ead.Identity)
	}

	var ed errorData
	if err := json.Unmarshal(plaintext, &ed); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "error data", err).
			WithEntity(ead.Identity)
	}

	return &ParsedHeader{
		ErrorHeader: &ErrorHeader{
			EntityAuthData: ead,
			Recipient:      ed.Recipient,
			MessageID:      ed.MessageID,
			ErrorCode:      mslerrors.ResponseCode(ed.ErrorCode),
			InternalCode:   ed.InternalCode,
			ErrorMessage:   ed.ErrorMessage,
			UserMessage:    ed.UserMessage,
		},
		HeaderCryptoContext: cc,
		Identity:            ead.Identity,
	}, nil
}

// annotate attaches the resolved entity to a taxonomy error.
func annotate(err error, parsed *ParsedHeader) error {
	var me *mslerrors.MslError
	if ok := asMslError(err, &me); ok && parsed.Identity != "" && me.EntityIdentity == "" {
		return me.WithEntity(parsed.Identity)
	}
	return err
}

// annotateWithID attaches the message ID and resolved entity to a taxonomy
// error.
func annotateWithID(err error, parsed *ParsedHeader, messageID int64) error {
	var me *mslerrors.MslError
	if ok := asMslError(err, &me); ok {
		if !me.HasMessageID {
			me = me.WithMessageID(messageID)
		}
		if parsed.Identity != "" && me.EntityIdentity == "" {
			me = me.WithEntity(parsed.Identity)
		}
		return me
	}
	return err
}

func asMslError(err error, target **mslerrors.MslError) bool {
	return errors.As(err, target)
}
