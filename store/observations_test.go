package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testToken(t *testing.T, b byte) crypto.Token {
	t.Helper()
	raw := make([]byte, crypto.TokenSize)
	raw[0] = b
	token, err := crypto.NewTokenFromBytes(raw)
	require.NoError(t, err)
	return token
}

func TestRecordAndLookup(t *testing.T) {
	obs := NewObservations(openTestStore(t))
	token := testToken(t, 1)

	require.NoError(t, obs.Record(token, 1000, 1.5))

	got, found, err := obs.Lookup(token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, token, got.Token)
	assert.Equal(t, uint64(1000), got.FirstSeen)
	assert.Equal(t, uint64(1000), got.LastSeen)
	assert.Equal(t, 1.5, got.MinDistance)
}

func TestRecordMergesInPlace(t *testing.T) {
	obs := NewObservations(openTestStore(t))
	token := testToken(t, 2)

	// Out-of-order timestamps and a tighter distance on the second event.
	require.NoError(t, obs.Record(token, 2000, 3.0))
	require.NoError(t, obs.Record(token, 1000, 1.2))

	got, found, err := obs.Lookup(token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1000), got.FirstSeen)
	assert.Equal(t, uint64(2000), got.LastSeen)
	assert.Equal(t, 1.2, got.MinDistance)

	// A farther re-observation must not loosen the distance.
	require.NoError(t, obs.Record(token, 3000, 9.9))
	got, _, err = obs.Lookup(token)
	require.NoError(t, err)
	assert.Equal(t, 1.2, got.MinDistance)
	assert.Equal(t, uint64(3000), got.LastSeen)
}

func TestRecordValidatesDistance(t *testing.T) {
	obs := NewObservations(openTestStore(t))
	token := testToken(t, 3)

	var verr *protocol.ValidationError
	assert.ErrorAs(t, obs.Record(token, 1000, 0), &verr)
	assert.ErrorAs(t, obs.Record(token, 1000, -1.5), &verr)
	assert.ErrorAs(t, obs.Record(token, 1000, 250), &verr)

	_, found, err := obs.Lookup(token)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupMissingToken(t *testing.T) {
	obs := NewObservations(openTestStore(t))

	_, found, err := obs.Lookup(testToken(t, 4))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPurgeOlderThan(t *testing.T) {
	obs := NewObservations(openTestStore(t))

	old := testToken(t, 5)
	fresh := testToken(t, 6)
	require.NoError(t, obs.Record(old, 1000, 2.0))
	require.NoError(t, obs.Record(fresh, 5000, 2.0))

	removed, err := obs.PurgeOlderThan(2000)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err := obs.Lookup(old)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = obs.Lookup(fresh)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestPurgeKeepsConcurrentlyRefreshedTokens(t *testing.T) {
	obs := NewObservations(openTestStore(t))

	// Every token starts stale, then gets refreshed while purges run. A
	// completed refresh must never be deleted: the purge re-checks
	// staleness under the same stripe lock the write takes.
	const tokens = 64
	const cutoff = uint64(5000)
	for i := 0; i < tokens; i++ {
		require.NoError(t, obs.Record(testToken(t, byte(i)), 1000, 2.0))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < tokens; i++ {
			assert.NoError(t, obs.Record(testToken(t, byte(i)), cutoff+uint64(i), 2.0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 8; i++ {
			_, err := obs.PurgeOlderThan(cutoff)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	for i := 0; i < tokens; i++ {
		got, found, err := obs.Lookup(testToken(t, byte(i)))
		require.NoError(t, err)
		require.True(t, found, "refreshed token %d was purged", i)
		assert.GreaterOrEqual(t, got.LastSeen, cutoff)
	}
}

func TestConcurrentRecordSameToken(t *testing.T) {
	obs := NewObservations(openTestStore(t))
	token := testToken(t, 7)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, obs.Record(token, uint64(1000+i), float64(i%9)+0.5))
		}(i)
	}
	wg.Wait()

	got, found, err := obs.Lookup(token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1000), got.FirstSeen)
	assert.Equal(t, uint64(1031), got.LastSeen)
	assert.Equal(t, 0.5, got.MinDistance)
}
