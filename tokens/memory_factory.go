package tokens

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

const largestSeenFile = "nonreplayable_ids.dat"

// MemoryFactory is an in-memory token factory with explicit revocation sets
// and per-serial-number largest-seen non-replayable ID tracking. The
// largest-seen state can optionally be persisted to disk so replay
// protection survives restarts.
//
// All methods are safe for concurrent use; the non-replayable ID check and
// advance are atomic under a single lock, which makes them linearizable per
// serial number.
type MemoryFactory struct {
	mu sync.Mutex

	window          uint64
	revokedEntities map[string]bool
	revokedTokens   map[int64]RevocationReason
	revokedUsers    map[int64]bool
	largestSeen     map[int64]int64

	dataDir  string
	saveFile string
	logger   *logrus.Logger
}

// NewMemoryFactory creates a token factory with no persistence.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		window:          NonReplayableWindow,
		revokedEntities: make(map[string]bool),
		revokedTokens:   make(map[int64]RevocationReason),
		revokedUsers:    make(map[int64]bool),
		largestSeen:     make(map[int64]int64),
		logger:          logrus.StandardLogger(),
	}
}

// NewPersistentFactory creates a token factory whose largest-seen
// non-replayable ID state loads from and saves to dataDir.
func NewPersistentFactory(dataDir string) (*MemoryFactory, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	f := NewMemoryFactory()
	f.dataDir = dataDir
	f.saveFile = filepath.Join(dataDir, largestSeenFile)
	if err := f.load(); err != nil {
		f.logger.WithError(err).Warn("Could not load non-replayable ID state, starting fresh")
	}
	return f, nil
}

// SetWindow overrides the acceptance window width. Zero restores the
// default.
func (f *MemoryFactory) SetWindow(width uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if width == 0 {
		width = NonReplayableWindow
	}
	f.window = width
}

// RevokeEntity marks an entity identity revoked.
func (f *MemoryFactory) RevokeEntity(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedEntities[identity] = true
}

// RevokeMasterToken marks a master token serial number revoked with the
// given reason.
func (f *MemoryFactory) RevokeMasterToken(serialNumber int64, reason RevocationReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedTokens[serialNumber] = reason
}

// RevokeUserIDToken marks a user-ID token serial number revoked.
func (f *MemoryFactory) RevokeUserIDToken(serialNumber int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedUsers[serialNumber] = true
}

// SetLargestNonReplayableID seeds the largest-seen value for a serial
// number. Tests and state migration use this.
func (f *MemoryFactory) SetLargestNonReplayableID(serialNumber, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.largestSeen[serialNumber] = id
}

// IsEntityRevoked implements Factory.
func (f *MemoryFactory) IsEntityRevoked(_ context.Context, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedEntities[identity], nil
}

// IsMasterTokenRevoked implements Factory.
func (f *MemoryFactory) IsMasterTokenRevoked(_ context.Context, mt *MasterToken) (RevocationReason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokedEntities[mt.Identity] {
		return IdentityRevoked, nil
	}
	if reason, ok := f.revokedTokens[mt.SerialNumber]; ok {
		return reason, nil
	}
	return NotRevoked, nil
}

// IsUserIDTokenRevoked implements Factory.
func (f *MemoryFactory) IsUserIDTokenRevoked(_ context.Context, _ *MasterToken, ut *UserIDToken) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedUsers[ut.SerialNumber], nil
}

// AcceptNonReplayableID implements Factory. The window is computed modulo
// 2^63 with wrap-around: given largest-seen L, an incoming ID N is accepted
// iff (N - L) mod 2^63 lies in (0, window]. IDs at or below L are replays;
// IDs more than the window ahead are unrecoverable.
func (f *MemoryFactory) AcceptNonReplayableID(_ context.Context, mt *MasterToken, id int64) (Decision, error) {
	if id < 0 {
		return Unrecoverable, fmt.Errorf("negative non-replayable id %d", id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	largest, seen := f.largestSeen[mt.SerialNumber]
	if !seen {
		f.largestSeen[mt.SerialNumber] = id
		return Accept, nil
	}

	d := uint64(id-largest) & sequenceMask
	if d != 0 && d <= f.window {
		f.largestSeen[mt.SerialNumber] = id
		return Accept, nil
	}

	if id <= largest {
		f.logger.WithFields(logrus.Fields{
			"serialnumber": mt.SerialNumber,
			"id":           id,
			"largest_seen": largest,
		}).Warn("Replay detected: non-replayable ID not above largest seen")
		return Replay, nil
	}
	return Unrecoverable, nil
}

// load reads the largest-seen state from disk.
func (f *MemoryFactory) load() error {
	data, err := os.ReadFile(f.saveFile)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.Info("No existing non-replayable ID state found, starting fresh")
			return nil
		}
		return fmt.Errorf("failed to read non-replayable ID state: %w", err)
	}
	if len(data) < 8 {
		return fmt.Errorf("corrupted non-replayable ID state: file too small")
	}

	count := binary.BigEndian.Uint64(data[0:8])
	offset := 8
	loaded := 0
	for i := uint64(0); i < count && offset+16 <= len(data); i++ {
		serial, err := safeUint64ToInt64(binary.BigEndian.Uint64(data[offset : offset+8]))
		if err != nil {
			offset += 16
			continue
		}
		id, err := safeUint64ToInt64(binary.BigEndian.Uint64(data[offset+8 : offset+16]))
		if err != nil {
			offset += 16
			continue
		}
		f.largestSeen[serial] = id
		loaded++
		offset += 16
	}

	f.logger.WithFields(logrus.Fields{
		"total_in_file": count,
		"loaded":        loaded,
	}).Info("Non-replayable ID state loaded")
	return nil
}

// save writes the largest-seen state to disk with an atomic rename.
func (f *MemoryFactory) save() error {
	buf := make([]byte, 8+len(f.largestSeen)*16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(f.largestSeen)))

	offset := 8
	for serial, id := range f.largestSeen {
		serialU, err := safeInt64ToUint64(serial)
		if err != nil {
			continue
		}
		idU, err := safeInt64ToUint64(id)
		if err != nil {
			continue
		}
		binary.BigEndian.PutUint64(buf[offset:offset+8], serialU)
		binary.BigEndian.PutUint64(buf[offset+8:offset+16], idU)
		offset += 16
	}
	buf = buf[:offset]

	tmpFile := f.saveFile + ".tmp"
	if err := os.WriteFile(tmpFile, buf, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary non-replayable ID state: %w", err)
	}
	if err := os.Rename(tmpFile, f.saveFile); err != nil {
		return fmt.Errorf("failed to rename non-replayable ID state: %w", err)
	}
	return nil
}

// Close saves persistent state if a data directory was configured.
func (f *MemoryFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveFile == "" {
		return nil
	}
	return f.save()
}
