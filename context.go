package msl

import (
	"io"
	"time"

	"github.com/msgsec/msl/entityauth"
	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/msg"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/store"
	"github.com/msgsec/msl/tokens"
	"github.com/msgsec/msl/userauth"
)

// Context is the default msg.Context implementation: it owns the
// process-wide MSL crypto context, the factory registries, the token
// factory, and the store.
type Context struct {
	role           msg.Role
	inferHandshake bool
	maxFrameSize   int
	mslCC          mslcrypto.CryptoContext
	entityAuth     *entityauth.Registry
	userAuth       *userauth.Registry
	keyExchange    *keyx.Registry
	tokenFactory   tokens.Factory
	mslStore       store.Store
	timeProvider   mslcrypto.TimeProvider
}

// NewContext wires a Context from options. The MSL crypto context seals
// master tokens and user-ID tokens and is typically provisioned out of
// band.
//
// The default factories are registered: unauthenticated and pre-shared-key
// entity auth, and the Diffie-Hellman and Noise NK key exchanges.
// Deployments register additional schemes afterwards.
func NewContext(opts *Options, mslCryptoContext mslcrypto.CryptoContext) (*Context, error) {
	role, err := opts.role()
	if err != nil {
		return nil, err
	}

	var factory *tokens.MemoryFactory
	if opts.StateDir != "" {
		factory, err = tokens.NewPersistentFactory(opts.StateDir)
		if err != nil {
			return nil, err
		}
	} else {
		factory = tokens.NewMemoryFactory()
	}
	if opts.NonReplayableWindow != 0 {
		factory.SetWindow(opts.NonReplayableWindow)
	}

	eaRegistry := entityauth.NewRegistry()
	eaRegistry.Register(entityauth.NewUnauthenticatedFactory())
	eaRegistry.Register(entityauth.NewPresharedFactory())

	kxRegistry := keyx.NewRegistry()
	kxRegistry.Register(keyx.NewDiffieHellmanFactory())
	kxRegistry.Register(keyx.NewNoiseNKFactory())

	return &Context{
		role:           role,
		inferHandshake: opts.InferHandshake,
		maxFrameSize:   opts.MaxFrameSize,
		mslCC:          mslCryptoContext,
		entityAuth:     eaRegistry,
		userAuth:       userauth.NewRegistry(),
		keyExchange:    kxRegistry,
		tokenFactory:   factory,
		mslStore:       store.NewMemoryStore(),
		timeProvider:   mslcrypto.DefaultTimeProvider{},
	}, nil
}

// NewMessageInputStream opens a receive stream over the raw byte source.
func (c *Context) NewMessageInputStream(source io.Reader, keyRequests []*keyx.RequestData) *msg.MessageInputStream {
	return msg.NewMessageInputStream(c, source, keyRequests)
}

// RegisterEntityAuthFactory installs an additional entity auth scheme.
func (c *Context) RegisterEntityAuthFactory(factory entityauth.Factory) {
	c.entityAuth.Register(factory)
}

// RegisterUserAuthResolver installs an additional user auth scheme.
func (c *Context) RegisterUserAuthResolver(resolver userauth.Resolver) {
	c.userAuth.Register(resolver)
}

// RegisterKeyExchangeFactory installs an additional key exchange scheme.
func (c *Context) RegisterKeyExchangeFactory(factory keyx.Factory) {
	c.keyExchange.Register(factory)
}

// SetTimeProvider overrides the wall clock, for deterministic tests.
func (c *Context) SetTimeProvider(tp mslcrypto.TimeProvider) {
	if tp == nil {
		tp = mslcrypto.DefaultTimeProvider{}
	}
	c.timeProvider = tp
}

// SetTokenFactory replaces the token factory, for deployments with remote
// revocation state.
func (c *Context) SetTokenFactory(factory tokens.Factory) {
	c.tokenFactory = factory
}

// Now implements msg.Context.
func (c *Context) Now() time.Time { return c.timeProvider.Now() }

// Role implements msg.Context.
func (c *Context) Role() msg.Role { return c.role }

// MslCryptoContext implements msg.Context.
func (c *Context) MslCryptoContext() mslcrypto.CryptoContext { return c.mslCC }

// EntityAuthFactory implements msg.Context.
func (c *Context) EntityAuthFactory(scheme entityauth.Scheme) (entityauth.Factory, bool) {
	return c.entityAuth.Lookup(scheme)
}

// UserAuthResolver returns the resolver for a user auth scheme.
func (c *Context) UserAuthResolver(scheme userauth.Scheme) (userauth.Resolver, bool) {
	return c.userAuth.Lookup(scheme)
}

// KeyExchangeFactory implements msg.Context.
func (c *Context) KeyExchangeFactory(scheme keyx.Scheme) (keyx.Factory, bool) {
	return c.keyExchange.Lookup(scheme)
}

// TokenFactory implements msg.Context.
func (c *Context) TokenFactory() tokens.Factory { return c.tokenFactory }

// Store implements msg.Context.
func (c *Context) Store() store.Store { return c.mslStore }

// InferHandshake implements msg.Context.
func (c *Context) InferHandshake() bool { return c.inferHandshake }

// MaxFrameSize implements msg.Context.
func (c *Context) MaxFrameSize() int { return c.maxFrameSize }

// Close releases the token factory's persistent state, if any.
func (c *Context) Close() error {
	if closer, ok := c.tokenFactory.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
