package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/tokens"
)

func TestMemoryStoreInstallAndLookup(t *testing.T) {
	s := NewMemoryStore()
	mt := &tokens.MasterToken{Identity: "entity-a", SerialNumber: 7}

	_, ok := s.CryptoContext(7)
	assert.False(t, ok)

	cc := mslcrypto.NullCryptoContext{}
	s.SetCryptoContext(mt, cc)

	got, ok := s.CryptoContext(7)
	require.True(t, ok)
	assert.Equal(t, cc, got)
	assert.Equal(t, 1, s.Size())

	s.RemoveCryptoContext(7)
	_, ok = s.CryptoContext(7)
	assert.False(t, ok)
}

func TestMemoryStoreFirstInstallWins(t *testing.T) {
	s := NewMemoryStore()
	mt := &tokens.MasterToken{Identity: "entity-a", SerialNumber: 7}

	first := mslcrypto.NullCryptoContext{}
	second := mslcrypto.RejectingCryptoContext{}
	s.SetCryptoContext(mt, first)
	s.SetCryptoContext(mt, second)

	got, ok := s.CryptoContext(7)
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestMemoryStoreConcurrentInstall(t *testing.T) {
	s := NewMemoryStore()
	mt := &tokens.MasterToken{Identity: "entity-a", SerialNumber: 7}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SetCryptoContext(mt, mslcrypto.NullCryptoContext{})
			_, _ = s.CryptoContext(7)
		}()
	}
	wg.Wait()

	_, ok := s.CryptoContext(7)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Size())
}
