package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Co-Epi/coepi-core/protocol"
)

func TestBatcherMergesInMemory(t *testing.T) {
	obs := NewObservations(openTestStore(t))
	batcher := NewBatcher(obs)
	token := testToken(t, 0x10)

	require.NoError(t, batcher.Add(token, 100, 2.0))
	require.NoError(t, batcher.Add(token, 200, 1.0))

	// Nothing is durable before the flush.
	_, found, err := obs.Lookup(token)
	require.NoError(t, err)
	assert.False(t, found)

	written, err := batcher.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	got, found, err := obs.Lookup(token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100), got.FirstSeen)
	assert.Equal(t, uint64(200), got.LastSeen)
	assert.Equal(t, 1.0, got.MinDistance)
}

func TestBatcherMergesWithDurableRecord(t *testing.T) {
	obs := NewObservations(openTestStore(t))
	batcher := NewBatcher(obs)
	token := testToken(t, 0x11)

	require.NoError(t, obs.Record(token, 50, 3.0))
	require.NoError(t, batcher.Add(token, 200, 1.0))

	_, err := batcher.Flush()
	require.NoError(t, err)

	got, found, err := obs.Lookup(token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(50), got.FirstSeen)
	assert.Equal(t, uint64(200), got.LastSeen)
	assert.Equal(t, 1.0, got.MinDistance)
}

func TestBatcherValidatesDistance(t *testing.T) {
	batcher := NewBatcher(NewObservations(openTestStore(t)))
	token := testToken(t, 0x12)

	var verr *protocol.ValidationError
	assert.ErrorAs(t, batcher.Add(token, 100, 0), &verr)
	assert.ErrorAs(t, batcher.Add(token, 100, 120), &verr)

	written, err := batcher.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, written, "rejected events must not enter the batch")
}

func TestBatcherFlushIsIdempotent(t *testing.T) {
	batcher := NewBatcher(NewObservations(openTestStore(t)))
	require.NoError(t, batcher.Add(testToken(t, 0x13), 100, 2.0))

	written, err := batcher.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	written, err = batcher.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}
