package msg

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/msgsec/msl/format"
	"github.com/msgsec/msl/keyx"
	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/mslerrors"
)

// firstSequenceNumber is the sequence number of the first payload chunk.
const firstSequenceNumber = 1

// MessageInputStream parses a byte stream into a validated header and a
// lazily decrypted sequence of payload chunks, exposing the application
// bytes as a byte source with mark/reset support.
//
// A stream is owned by a single logical task; methods must not be called
// concurrently. The collaborators behind the Context may be shared across
// streams.
type MessageInputStream struct {
	mctx             Context
	frames           *format.FrameReader
	keyRequests      []*keyx.RequestData
	serviceTokenCtxs map[string]mslcrypto.CryptoContext

	mu sync.Mutex

	// Header phase. readyDone latches the outcome of the first IsReady.
	readyDone bool
	readyErr  error
	parsed    *ParsedHeader

	// Chunk phase.
	expectedSeq int64
	eom         bool
	queue       []byte
	fatalErr    error // verify/parse failure: stream is dead for reads
	pendingErr  error // per-read mismatch surfaced on the next read
	closed      bool

	// Handshake inference.
	handshake      *bool
	firstChunk     bool // a chunk has been pulled
	firstChunkHand bool // that chunk was empty and end-of-message

	// Mark/reset.
	marked  bool
	markBuf []byte
	replay  []byte
}

// NewMessageInputStream creates a stream over the raw byte source. The
// caller provides the ordered key request data it previously sent and may
// pass nil when no key exchange is outstanding.
//
// No parsing happens until IsReady or the first read.
func NewMessageInputStream(mctx Context, source io.Reader, keyRequests []*keyx.RequestData) *MessageInputStream {
	frames := format.NewFrameReader(source)
	frames.SetMaxFrameSize(mctx.MaxFrameSize())
	return &MessageInputStream{
		mctx:        mctx,
		frames:      frames,
		keyRequests: keyRequests,
		expectedSeq: firstSequenceNumber,
	}
}

// SetServiceTokenCryptoContexts provides crypto contexts for unsealing
// named service tokens. It must be called before IsReady or the first read.
func (s *MessageInputStream) SetServiceTokenCryptoContexts(ctxs map[string]mslcrypto.CryptoContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceTokenCtxs = ctxs
}

// IsReady performs header validation and the freshness and replay checks.
// It must complete before any read, is idempotent, and caches its outcome:
// subsequent calls return the first result without re-running policy.
func (s *MessageInputStream) IsReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureReady(ctx)
}

func (s *MessageInputStream) ensureReady(ctx context.Context) error {
	if s.readyDone {
		return s.readyErr
	}

	frame, err := s.frames.ReadFrame(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = mslerrors.New(mslerrors.KindMessageFormatError, "message stream is empty")
		}
		if isTimeout(err) {
			// Timeouts are reported verbatim and never latch state.
			return err
		}
		s.readyDone = true
		s.readyErr = err
		return err
	}

	parsed, err := ParseHeader(ctx, s.mctx, frame, s.keyRequests, s.serviceTokenCtxs)
	if err != nil {
		if isTimeout(err) {
			return err
		}
		s.readyDone = true
		s.readyErr = err
		return err
	}

	if parsed.MessageHeader != nil {
		if err := enforceFreshness(ctx, s.mctx, parsed.MessageHeader, parsed.Identity); err != nil {
			if isTimeout(err) {
				return err
			}
			s.readyDone = true
			s.readyErr = err
			return err
		}
	}

	s.parsed = parsed
	s.readyDone = true
	return nil
}

// IsHandshake reports whether the message is a handshake: explicitly
// (renewable with the handshake flag), or inferred (renewable with key
// request data whose first payload chunk is empty and end-of-message) when
// the context enables inference.
func (s *MessageInputStream) IsHandshake(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReady(ctx); err != nil {
		return false, err
	}
	if s.handshake != nil {
		return *s.handshake, nil
	}

	header := s.parsed.MessageHeader
	if header == nil {
		f := false
		s.handshake = &f
		return false, nil
	}

	if header.Renewable && header.Handshake {
		t := true
		s.handshake = &t
		return true, nil
	}

	// Inference applies only when the context's InferHandshake flag is set;
	// the root package's DefaultOptions turns it on.
	if !s.mctx.InferHandshake() || !header.Renewable || len(header.KeyRequestData) == 0 {
		f := false
		s.handshake = &f
		return false, nil
	}

	// Peek the first chunk. Its bytes stay queued for subsequent reads.
	if !s.firstChunk && !s.eom {
		if err := s.pullChunk(ctx); err != nil {
			if isTimeout(err) {
				s.handshake = nil
				return false, err
			}
			f := false
			s.handshake = &f
			return false, err
		}
	}
	result := s.firstChunkHand
	s.handshake = &result
	return result, nil
}

// Read implements io.Reader over the decrypted application bytes. It
// returns io.EOF at end-of-message.
func (s *MessageInputStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := s.ReadN(context.Background(), len(p))
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, io.EOF
	}
	copy(p, data)
	return len(data), nil
}

// ReadN returns up to n decrypted application bytes, fewer near
// end-of-message, or nil at end-of-message. n = -1 returns whatever is
// immediately available, at most one chunk's worth.
//
// Chunk mismatch errors (message ID or sequence number) fail the read but
// leave the stream alive; the next read pulls the next chunk. Verification
// failures terminate the stream.
func (s *MessageInputStream) ReadN(ctx context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if s.parsed.ErrorHeader != nil {
		return nil, mslerrors.New(mslerrors.KindInternalException,
			"read on an error header stream")
	}
	if s.fatalErr != nil {
		return nil, s.fatalErr
	}
	if s.pendingErr != nil {
		err := s.pendingErr
		s.pendingErr = nil
		return nil, err
	}

	if n < 0 {
		if len(s.replay) == 0 && len(s.queue) == 0 && !s.eom {
			if err := s.pullChunk(ctx); err != nil {
				return nil, err
			}
		}
		return s.takeLocked(len(s.replay) + len(s.queue)), nil
	}

	var out []byte
	for len(out) < n {
		if len(s.replay) == 0 && len(s.queue) == 0 {
			if s.eom || s.closed {
				break
			}
			if err := s.pullChunk(ctx); err != nil {
				if isTimeout(err) || len(out) == 0 {
					return nil, err
				}
				// Surface the chunk error on the next read so it is not
				// lost behind the bytes already collected.
				s.pendingErr = err
				break
			}
			continue
		}
		took := s.takeLocked(n - len(out))
		out = append(out, took...)
	}

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// takeLocked removes up to n bytes from the replay buffer then the chunk
// queue, recording them against an active mark.
func (s *MessageInputStream) takeLocked(n int) []byte {
	var out []byte
	if len(s.replay) > 0 {
		take := n
		if take > len(s.replay) {
			take = len(s.replay)
		}
		out = append(out, s.replay[:take]...)
		s.replay = s.replay[take:]
		n -= take
	}
	if n > 0 && len(s.queue) > 0 {
		take := n
		if take > len(s.queue) {
			take = len(s.queue)
		}
		out = append(out, s.queue[:take]...)
		s.queue = s.queue[take:]
	}
	if s.marked && len(out) > 0 {
		s.markBuf = append(s.markBuf, out...)
	}
	return out
}

// pullChunk pulls, verifies, and decrypts the next payload frame, enforcing
// message ID and sequence number continuity.
func (s *MessageInputStream) pullChunk(ctx context.Context) error {
	frame, err := s.frames.ReadFrame(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// The source ended without an end-of-message chunk. Treat as
			// end of data; the next read reports end-of-message.
			s.eom = true
			return nil
		}
		if isTimeout(err) {
			return err
		}
		s.fatalErr = err
		return err
	}

	chunk, err := ParsePayloadChunk(ctx, frame, s.parsed.PayloadCryptoContext)
	if err != nil {
		if isTimeout(err) {
			return err
		}
		s.fatalErr = err
		return err
	}

	header := s.parsed.MessageHeader
	if chunk.MessageID != header.MessageID {
		// Per-read failure: the frame is consumed, the stream stays alive.
		return mslerrors.Newf(mslerrors.KindPayloadMessageIDMismatch,
			"payload message id %d does not match header %d", chunk.MessageID, header.MessageID).
			WithMessageID(header.MessageID).WithEntity(s.parsed.Identity)
	}
	if chunk.SequenceNumber != s.expectedSeq {
		return mslerrors.Newf(mslerrors.KindPayloadSequenceNumberMismatch,
			"payload sequence number %d, expected %d", chunk.SequenceNumber, s.expectedSeq).
			WithMessageID(header.MessageID).WithEntity(s.parsed.Identity)
	}

	s.expectedSeq++
	if !s.firstChunk {
		s.firstChunk = true
		s.firstChunkHand = chunk.EndOfMessage && len(chunk.Data) == 0
	}
	s.queue = append(s.queue, chunk.Data...)
	if chunk.EndOfMessage {
		// Frames after the end-of-message chunk are ignored; the source is
		// not drained.
		s.eom = true
		s.frames.Close()
	}

	logrus.WithFields(logrus.Fields{
		"package":        "msg",
		"messageid":      chunk.MessageID,
		"sequencenumber": chunk.SequenceNumber,
		"bytes":          len(chunk.Data),
		"endofmsg":       chunk.EndOfMessage,
	}).Debug("payload chunk accepted")
	return nil
}

// Mark records the current read position. Bytes read afterwards buffer
// until Reset replays them. A new mark discards the previous buffer.
func (s *MessageInputStream) Mark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = true
	s.markBuf = s.markBuf[:0]
}

// Reset rewinds to the last mark: bytes read since the mark replay before
// any further chunk data. The mark remains set, so repeated
// read-reset cycles replay from the same position.
func (s *MessageInputStream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.marked {
		return mslerrors.New(mslerrors.KindInternalException, "reset without mark")
	}
	if len(s.markBuf) > 0 {
		replay := make([]byte, 0, len(s.markBuf)+len(s.replay))
		replay = append(replay, s.markBuf...)
		replay = append(replay, s.replay...)
		s.replay = replay
		s.markBuf = s.markBuf[:0]
	}
	return nil
}

// MarkSupported reports that mark/reset is available.
func (s *MessageInputStream) MarkSupported() bool { return true }

// Close releases buffers and cancels pending reads by completing them with
// end-of-stream. Idempotent. The underlying byte source is not drained.
func (s *MessageInputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.frames.Close()
	s.queue = nil
	s.replay = nil
	s.markBuf = nil
	s.marked = false
	return nil
}

// MessageHeader returns the validated message header, or nil for an error
// header stream or before IsReady succeeds.
func (s *MessageInputStream) MessageHeader() *MessageHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return nil
	}
	return s.parsed.MessageHeader
}

// ErrorHeader returns the validated error header, or nil for a message
// header stream or before IsReady succeeds.
func (s *MessageInputStream) ErrorHeader() *ErrorHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return nil
	}
	return s.parsed.ErrorHeader
}

// Identity returns the sender's entity identity: the master token identity
// when a master token was present, else the entity auth identity.
func (s *MessageInputStream) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return ""
	}
	return s.parsed.Identity
}

// User returns the user bound by the message's user-ID token, if any.
func (s *MessageInputStream) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return ""
	}
	return s.parsed.User
}

// PayloadCryptoContext returns the crypto context sealing the payload
// chunks. It is immutable for the stream's lifetime.
func (s *MessageInputStream) PayloadCryptoContext() mslcrypto.CryptoContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return nil
	}
	return s.parsed.PayloadCryptoContext
}

// KeyExchangeCryptoContext returns the key-exchange crypto context derived
// from the message's key response, if one was present.
func (s *MessageInputStream) KeyExchangeCryptoContext() mslcrypto.CryptoContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return nil
	}
	return s.parsed.KeyxCryptoContext
}

// isTimeout reports whether the error is a context cancellation or
// deadline expiry, which never latch stream state.
func isTimeout(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
