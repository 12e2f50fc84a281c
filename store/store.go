// Package store implements the process-wide MSL store: session crypto
// contexts cached by master token serial number.
//
// The store is read-mostly. Installing a context for a newly accepted
// master token is atomic with respect to concurrent readers, so two streams
// racing on the same master token converge on one cached context.
package store

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/msgsec/msl/mslcrypto"
	"github.com/msgsec/msl/tokens"
)

// Store caches session crypto contexts keyed by master token serial number.
type Store interface {
	// CryptoContext returns the cached session context for a serial number.
	CryptoContext(serialNumber int64) (mslcrypto.CryptoContext, bool)

	// SetCryptoContext installs the session context for a master token.
	// The first install for a serial number wins; a concurrent duplicate
	// is discarded so readers never observe a context swap.
	SetCryptoContext(mt *tokens.MasterToken, cc mslcrypto.CryptoContext)

	// RemoveCryptoContext drops the cached context for a serial number.
	RemoveCryptoContext(serialNumber int64)
}

// MemoryStore is the in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[int64]mslcrypto.CryptoContext
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[int64]mslcrypto.CryptoContext)}
}

// CryptoContext implements Store.
func (s *MemoryStore) CryptoContext(serialNumber int64) (mslcrypto.CryptoContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc, ok := s.contexts[serialNumber]
	return cc, ok
}

// SetCryptoContext implements Store.
func (s *MemoryStore) SetCryptoContext(mt *tokens.MasterToken, cc mslcrypto.CryptoContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contexts[mt.SerialNumber]; exists {
		return
	}
	s.contexts[mt.SerialNumber] = cc
	logrus.WithFields(logrus.Fields{
		"package":      "store",
		"serialnumber": mt.SerialNumber,
		"identity":     mt.Identity,
	}).Info("Session crypto context installed")
}

// RemoveCryptoContext implements Store.
func (s *MemoryStore) RemoveCryptoContext(serialNumber int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, serialNumber)
}

// Size returns the number of cached contexts.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}
