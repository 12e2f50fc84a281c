// Package msl implements the receive side of an authenticated, encrypted,
// application-level message security layer.
//
// A message is one header followed by zero or more payload chunks, each
// independently sealed. The header establishes who is speaking, with what
// credentials, under what session keys, and with what anti-replay
// guarantees; the chunks carry opaque application bytes in order,
// terminated by a chunk whose end-of-message flag is set.
//
// # Architecture
//
// The pipeline is organized as layers, each depending only on the ones
// below it:
//
//   - format: self-delimited JSON frames and signed envelopes
//   - mslcrypto: the {encrypt, decrypt, sign, verify, wrap, unwrap}
//     capability interface and its symmetric workhorse
//   - tokens: master tokens, user-ID tokens, service tokens, and the token
//     factory (trust, revocation, non-replayable ID windows)
//   - entityauth, userauth: credential schemes and factory registries
//   - keyx: key-response negotiation (Diffie-Hellman and Noise NK)
//   - msg: header parsing and validation, freshness and replay
//     enforcement, and the lazy payload chunk stream
//   - store: the process-wide cache of session crypto contexts
//
// This package wires the layers together behind a Context and TOML-backed
// Options.
//
// # Usage
//
//	opts := msl.DefaultOptions()
//	ctx, err := msl.NewContext(opts, mslCryptoContext)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream := ctx.NewMessageInputStream(conn, keyRequests)
//	if err := stream.IsReady(context.Background()); err != nil {
//	    // taxonomy error: inspect with mslerrors.KindOf
//	}
//	data, err := stream.ReadN(context.Background(), 4096)
package msl
