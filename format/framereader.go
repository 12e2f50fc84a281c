// Package format implements the wire encoding of the message security layer:
// self-delimited UTF-8 JSON frames, base64 data fields, and the signed
// envelope shapes shared by headers and payload chunks.
//
// A message on the wire is a concatenation of top-level JSON objects with no
// separators. The FrameReader recognizes one complete object at a time,
// buffering only to the end of the current object.
package format

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/msgsec/msl/limits"
	"github.com/msgsec/msl/mslerrors"
)

// FrameReader yields self-delimited JSON objects from a byte stream.
// It is single-consumer and buffers just enough to recognize one complete
// object. A clean end-of-stream between objects is io.EOF; bytes remaining
// that do not form a well-formed object are a JSON_PARSE_ERROR.
type FrameReader struct {
	dec          *json.Decoder
	maxFrameSize int
	closed       bool
}

// NewFrameReader creates a frame reader over the raw byte source with the
// default frame size limit.
func NewFrameReader(source io.Reader) *FrameReader {
	return &FrameReader{dec: json.NewDecoder(source), maxFrameSize: limits.MaxFrameSize}
}

// SetMaxFrameSize overrides the frame size limit. Zero or negative restores
// the default.
func (r *FrameReader) SetMaxFrameSize(maxSize int) {
	if maxSize <= 0 {
		maxSize = limits.MaxFrameSize
	}
	r.maxFrameSize = maxSize
}

// ReadFrame returns the next complete top-level JSON object, or io.EOF at a
// clean end-of-stream. The context is checked before blocking on the source;
// cancellation between frames does not advance stream state.
func (r *FrameReader) ReadFrame(ctx context.Context) (json.RawMessage, error) {
	if r.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		logrus.WithFields(logrus.Fields{
			"package": "format",
			"error":   err.Error(),
		}).Debug("frame decode failed")
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "malformed frame", err)
	}

	// The decoder tolerates any JSON value; frames must be objects.
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, mslerrors.New(mslerrors.KindJSONParseError, "frame is not a JSON object")
	}
	if err := limits.ValidateSize(raw, r.maxFrameSize); err != nil {
		return nil, mslerrors.Wrap(mslerrors.KindJSONParseError, "frame too large", err)
	}

	return raw, nil
}

// Close marks the reader exhausted. Subsequent reads return io.EOF. The
// underlying source is not drained and not closed.
func (r *FrameReader) Close() {
	r.closed = true
}
