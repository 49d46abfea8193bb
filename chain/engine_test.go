package chain

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
)

// memStateStore keeps chain state in memory for tests.
type memStateStore struct {
	blob  []byte
	found bool
}

func (m *memStateStore) ChainState() ([]byte, bool, error) { return m.blob, m.found, nil }
func (m *memStateStore) SetChainState(state []byte) error {
	m.blob = append([]byte(nil), state...)
	m.found = true
	return nil
}

var testEpochStart = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *memStateStore) {
	t.Helper()
	store := &memStateStore{}
	engine, err := NewEngine(protocol.DefaultTraceConfig(), store, slog.Default(), testEpochStart)
	require.NoError(t, err)
	return engine, store
}

func TestCurrentTokenIsStableWithinTick(t *testing.T) {
	engine, _ := newTestEngine(t)

	t1, err := engine.CurrentToken(testEpochStart.Add(1 * time.Minute))
	require.NoError(t, err)
	t2, err := engine.CurrentToken(testEpochStart.Add(14 * time.Minute))
	require.NoError(t, err)

	assert.True(t, t1.Equal(t2))
}

func TestTokenRotatesAcrossTicks(t *testing.T) {
	engine, _ := newTestEngine(t)

	t0, err := engine.CurrentToken(testEpochStart)
	require.NoError(t, err)
	t1, err := engine.CurrentToken(testEpochStart.Add(15 * time.Minute))
	require.NoError(t, err)

	assert.False(t, t0.Equal(t1))
}

func TestAdvanceIgnoresBackwardsClock(t *testing.T) {
	engine, _ := newTestEngine(t)

	later := testEpochStart.Add(2 * time.Hour)
	tokenLater, err := engine.CurrentToken(later)
	require.NoError(t, err)

	// A backwards clock must not re-derive an earlier token.
	tokenEarlier, err := engine.CurrentToken(testEpochStart.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.True(t, tokenLater.Equal(tokenEarlier))
}

func TestEngineRestoresPersistedState(t *testing.T) {
	engine, store := newTestEngine(t)

	at := testEpochStart.Add(3 * time.Hour)
	before, err := engine.CurrentToken(at)
	require.NoError(t, err)

	restored, err := NewEngine(protocol.DefaultTraceConfig(), store, slog.Default(), at)
	require.NoError(t, err)
	after, err := restored.CurrentToken(at)
	require.NoError(t, err)

	assert.True(t, before.Equal(after))
	assert.Equal(t, engine.EpochDay(), restored.EpochDay())
}

func TestEngineStartsFreshOnCorruptState(t *testing.T) {
	store := &memStateStore{blob: []byte("not json"), found: true}

	engine, err := NewEngine(protocol.DefaultTraceConfig(), store, slog.Default(), testEpochStart)
	require.NoError(t, err)

	_, err = engine.CurrentToken(testEpochStart)
	require.NoError(t, err)
}

func TestEpochRotationDiscardsOldChain(t *testing.T) {
	engine, _ := newTestEngine(t)

	before, err := engine.CurrentToken(testEpochStart)
	require.NoError(t, err)
	dayBefore := engine.EpochDay()

	// 14 days later the epoch must rotate at the day boundary.
	afterRotation := testEpochStart.AddDate(0, 0, 14).Add(1 * time.Minute)
	after, err := engine.CurrentToken(afterRotation)
	require.NoError(t, err)

	assert.NotEqual(t, dayBefore, engine.EpochDay())
	assert.False(t, before.Equal(after))

	// The old epoch's root is gone.
	_, err = engine.RootOfEpoch(dayBefore)
	assert.Error(t, err)

	_, err = engine.RootOfEpoch(engine.EpochDay())
	assert.NoError(t, err)
}

func TestEpochRotationLandsOnCurrentTick(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.CurrentToken(testEpochStart)
	require.NoError(t, err)

	// First call after the rotation boundary lands mid-day; the rotated
	// chain must be advanced straight to the tick containing now, so a
	// second call within the same tick sees the same token.
	rotated := testEpochStart.AddDate(0, 0, 14).Add(18 * time.Hour)
	first, err := engine.CurrentToken(rotated)
	require.NoError(t, err)
	second, err := engine.CurrentToken(rotated.Add(time.Second))
	require.NoError(t, err)

	assert.True(t, first.Equal(second))

	// The disclosure window addresses the rotated chain correctly.
	segment, err := engine.RevealWindow(rotated.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint32(18*4+1), segment.End)
}

func TestRevealMatchesEmittedTokens(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Emit ten tokens, one per tick.
	emitted := make([]crypto.Token, 10)
	for i := range emitted {
		token, err := engine.CurrentToken(testEpochStart.Add(time.Duration(i) * 15 * time.Minute))
		require.NoError(t, err)
		emitted[i] = token
	}

	segment, err := engine.Reveal(0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), segment.Start)
	assert.Equal(t, uint32(10), segment.End)

	expanded, err := crypto.ExpandSegment(segment.Seed, segment.Start, segment.End)
	require.NoError(t, err)
	require.Len(t, expanded, 10)
	for i, token := range expanded {
		assert.True(t, emitted[i].Equal(token), "tick %d", i)
	}
}

func TestRevealRejectsFutureEnd(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.Advance(testEpochStart))

	var verr *protocol.ValidationError
	_, err := engine.Reveal(0, 50)
	assert.ErrorAs(t, err, &verr)

	_, err = engine.Reveal(7, 3)
	assert.ErrorAs(t, err, &verr)
}

func TestRevealWindowCoversRecentTicks(t *testing.T) {
	engine, _ := newTestEngine(t)

	now := testEpochStart.Add(5 * time.Hour)
	segment, err := engine.RevealWindow(now)
	require.NoError(t, err)

	// Five hours in, the whole epoch so far fits in the window.
	assert.Equal(t, uint32(0), segment.Start)
	assert.Equal(t, uint32(21), segment.End) // tick 20 is current, end is exclusive
}
