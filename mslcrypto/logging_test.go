package mslcrypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerStandardFields(t *testing.T) {
	logger := NewLogger("mslcrypto", "TestFunction")
	fields := logger.Fields()
	assert.Equal(t, "TestFunction", fields["function"])
	assert.Equal(t, "mslcrypto", fields["package"])
}

func TestLoggerWithFieldAccumulates(t *testing.T) {
	logger := NewLogger("keyx", "Derive").
		WithField("exchangeid", "abc").
		WithFields(map[string]interface{}{"scheme": "DH"})

	fields := logger.Fields()
	assert.Equal(t, "abc", fields["exchangeid"])
	assert.Equal(t, "DH", fields["scheme"])
}

func TestLoggerWithError(t *testing.T) {
	logger := NewLogger("mslcrypto", "Derive").
		WithError(errors.New("empty secret"), "derive_keys")

	fields := logger.Fields()
	assert.Equal(t, "empty secret", fields["error"])
	assert.Equal(t, "derive_keys", fields["operation"])
}

func TestLoggerWithCaller(t *testing.T) {
	logger := NewLogger("mslcrypto", "Derive").WithCaller()
	fields := logger.Fields()
	assert.Contains(t, fields, "caller")
	assert.Contains(t, fields, "caller_func")
}

func TestSecureFieldHashPreviewsOnly(t *testing.T) {
	key := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	fields := SecureFieldHash(key, "encryption_key")

	// Only the first 8 bytes appear, hex encoded with a truncation marker.
	assert.Equal(t, "0102030405060708...", fields["encryption_key_preview"])
	assert.Equal(t, 10, fields["encryption_key_size"])
}

func TestSecureFieldHashShortAndNil(t *testing.T) {
	fields := SecureFieldHash([]byte{0xff}, "key")
	assert.Equal(t, "ff", fields["key_preview"])
	assert.Equal(t, 1, fields["key_size"])

	fields = SecureFieldHash(nil, "key")
	assert.Equal(t, "nil", fields["key_preview"])
	assert.Equal(t, 0, fields["key_size"])
}

func TestLoggerWithSecureField(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	logger := NewLogger("mslcrypto", "Derive").WithSecureField(secret, "secret")

	fields := logger.Fields()
	require.Contains(t, fields, "secret_preview")
	preview, ok := fields["secret_preview"].(string)
	require.True(t, ok)
	assert.NotContains(t, preview, string(secret), "full secret never reaches log fields")
	assert.Equal(t, len(secret), fields["secret_size"])
}
