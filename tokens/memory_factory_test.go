package tokens

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterToken(t *testing.T, serialNumber int64) *MasterToken {
	t.Helper()
	ctx := context.Background()
	cc := testMslCryptoContext(t)
	now := time.Now()
	mt, _, err := IssueMasterToken(ctx, cc, "entity-a", 1, serialNumber, now, now.Add(time.Hour))
	require.NoError(t, err)
	return mt
}

func TestAcceptNonReplayableIDFirstUse(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	ctx := context.Background()

	d, err := f.AcceptNonReplayableID(ctx, mt, 10)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	// Advanced: same ID is now a replay.
	d, err = f.AcceptNonReplayableID(ctx, mt, 10)
	require.NoError(t, err)
	assert.Equal(t, Replay, d)
}

func TestAcceptNonReplayableIDEqualIsReplay(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	f.SetLargestNonReplayableID(mt.SerialNumber, 1)

	d, err := f.AcceptNonReplayableID(context.Background(), mt, 1)
	require.NoError(t, err)
	assert.Equal(t, Replay, d)
}

func TestAcceptNonReplayableIDBelowIsReplay(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	f.SetLargestNonReplayableID(mt.SerialNumber, 100)

	d, err := f.AcceptNonReplayableID(context.Background(), mt, 50)
	require.NoError(t, err)
	assert.Equal(t, Replay, d)
}

func TestAcceptNonReplayableIDWindow(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	ctx := context.Background()

	f.SetLargestNonReplayableID(mt.SerialNumber, 0)

	// Exactly at the far edge of the window is accepted.
	d, err := f.AcceptNonReplayableID(ctx, mt, NonReplayableWindow)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	// One past the window is unrecoverable.
	f.SetLargestNonReplayableID(mt.SerialNumber, 0)
	d, err = f.AcceptNonReplayableID(ctx, mt, NonReplayableWindow+1)
	require.NoError(t, err)
	assert.Equal(t, Unrecoverable, d)
}

func TestAcceptNonReplayableIDWindowWrap(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	ctx := context.Background()

	// Largest-seen near the top of the range accepts an ID at the top.
	f.SetLargestNonReplayableID(mt.SerialNumber, math.MaxInt64-NonReplayableWindow)
	d, err := f.AcceptNonReplayableID(ctx, mt, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	// Largest-seen at the top wraps around to accept 0.
	d, err = f.AcceptNonReplayableID(ctx, mt, 0)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	// Just outside the window ahead of largest-seen is unrecoverable.
	f.SetLargestNonReplayableID(mt.SerialNumber, math.MaxInt64-NonReplayableWindow-1)
	d, err = f.AcceptNonReplayableID(ctx, mt, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, Unrecoverable, d)
}

func TestAcceptNonReplayableIDPerSerialNumber(t *testing.T) {
	f := NewMemoryFactory()
	mt1 := testMasterToken(t, 1)
	mt2 := testMasterToken(t, 2)
	ctx := context.Background()

	d, err := f.AcceptNonReplayableID(ctx, mt1, 5)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	// A different serial number has its own largest-seen epoch.
	d, err = f.AcceptNonReplayableID(ctx, mt2, 5)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)
}

func TestAcceptNonReplayableIDMonotonicUnderConcurrency(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	ctx := context.Background()
	f.SetLargestNonReplayableID(mt.SerialNumber, 0)

	const goroutines = 16
	var wg sync.WaitGroup
	accepts := make([]int, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := int64(1); i <= 100; i++ {
				d, err := f.AcceptNonReplayableID(ctx, mt, i)
				if err == nil && d == Accept {
					accepts[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	// Each ID is accepted at most once across all goroutines.
	total := 0
	for _, n := range accepts {
		total += n
	}
	assert.LessOrEqual(t, total, 100)
	assert.Greater(t, total, 0)

	// After the race, every ID in the range is a replay.
	for i := int64(1); i <= 100; i++ {
		d, err := f.AcceptNonReplayableID(ctx, mt, i)
		require.NoError(t, err)
		assert.Equal(t, Replay, d)
	}
}

func TestRevocations(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 9)
	ctx := context.Background()

	revoked, err := f.IsEntityRevoked(ctx, "entity-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	f.RevokeEntity("entity-a")
	revoked, err = f.IsEntityRevoked(ctx, "entity-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Entity revocation dominates master token revocation.
	reason, err := f.IsMasterTokenRevoked(ctx, mt)
	require.NoError(t, err)
	assert.Equal(t, IdentityRevoked, reason)

	f2 := NewMemoryFactory()
	f2.RevokeMasterToken(mt.SerialNumber, TokenRevoked)
	reason, err = f2.IsMasterTokenRevoked(ctx, mt)
	require.NoError(t, err)
	assert.Equal(t, TokenRevoked, reason)

	ut := &UserIDToken{User: "user-1", SerialNumber: 4, MasterTokenSerialNumber: mt.SerialNumber}
	revoked, err = f2.IsUserIDTokenRevoked(ctx, mt, ut)
	require.NoError(t, err)
	assert.False(t, revoked)
	f2.RevokeUserIDToken(4)
	revoked, err = f2.IsUserIDTokenRevoked(ctx, mt, ut)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestPersistentFactoryRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	mt := testMasterToken(t, 3)
	ctx := context.Background()

	{
		f, err := NewPersistentFactory(tempDir)
		require.NoError(t, err)

		d, err := f.AcceptNonReplayableID(ctx, mt, 42)
		require.NoError(t, err)
		assert.Equal(t, Accept, d)

		require.NoError(t, f.Close())
	}

	assert.FileExists(t, filepath.Join(tempDir, largestSeenFile))

	{
		f, err := NewPersistentFactory(tempDir)
		require.NoError(t, err)
		defer f.Close()

		// Largest-seen survived the restart: 42 is now a replay.
		d, err := f.AcceptNonReplayableID(ctx, mt, 42)
		require.NoError(t, err)
		assert.Equal(t, Replay, d)

		d, err = f.AcceptNonReplayableID(ctx, mt, 43)
		require.NoError(t, err)
		assert.Equal(t, Accept, d)
	}
}

func TestSetWindowOverride(t *testing.T) {
	f := NewMemoryFactory()
	mt := testMasterToken(t, 1)
	ctx := context.Background()

	f.SetWindow(10)
	f.SetLargestNonReplayableID(mt.SerialNumber, 0)

	d, err := f.AcceptNonReplayableID(ctx, mt, 10)
	require.NoError(t, err)
	assert.Equal(t, Accept, d)

	f.SetLargestNonReplayableID(mt.SerialNumber, 0)
	d, err = f.AcceptNonReplayableID(ctx, mt, 11)
	require.NoError(t, err)
	assert.Equal(t, Unrecoverable, d)
}
