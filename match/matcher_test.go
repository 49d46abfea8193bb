package match

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/reporting"
	"github.com/Co-Epi/coepi-core/store"
	"github.com/Co-Epi/coepi-core/testutil"
)

type fixture struct {
	matcher      *Matcher
	observations *store.Observations
	alerts       *store.Alerts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := protocol.DefaultTraceConfig()
	observations := store.NewObservations(s)
	alerts := store.NewAlerts(s)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		matcher:      NewMatcher(cfg, observations, alerts, log),
		observations: observations,
		alerts:       alerts,
	}
}

func testSeed(t *testing.T, label string) crypto.ChainValue {
	t.Helper()
	return testutil.NewTestSeed(label)
}

func signReport(t *testing.T, report *protocol.Report) *protocol.SignedReport {
	t.Helper()
	_, priv, err := crypto.GenerateReportKeyPair()
	require.NoError(t, err)
	signed, err := protocol.NewSigned(priv, report)
	require.NoError(t, err)
	return signed
}

func TestProcessMatchesObservedToken(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	// Reporter's side: the chain that emitted tokens 0 through 9.
	seed := testSeed(t, "reporter chain start")
	tokens, err := crypto.ExpandSegment(seed, 0, 10)
	require.NoError(t, err)
	require.Len(t, tokens, 10)

	// Local side: only the fourth emitted token was ever nearby.
	require.NoError(t, f.observations.Record(tokens[3], uint64(now.Unix())-3600, 1.5))

	signed := signReport(t, &protocol.Report{
		StartIndex:     0,
		EndIndex:       10,
		RevealedSeed:   seed,
		IntervalNumber: protocol.IntervalForTime(now, protocol.DefaultIntervalLength).Number,
	})

	created, err := f.matcher.Process(signed, now)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, tokens[3], created[0].MatchedToken)
	assert.Equal(t, 1.5, created[0].Observation.MinDistance)
	assert.Equal(t, protocol.ReportID(signed), created[0].ReportID)

	listed, err := f.alerts.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created[0].ID, listed[0].ID)
}

func TestProcessDecodesMemoIntoAlert(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	seed := testSeed(t, "symptomatic chain")
	tokens, err := crypto.ExpandSegment(seed, 0, 4)
	require.NoError(t, err)
	require.NoError(t, f.observations.Record(tokens[1], uint64(now.Unix()), 2.0))

	memo := reporting.EncodeMemo(reporting.PublicSymptoms{
		ReportTime:    uint64(now.Unix()),
		CoughSeverity: reporting.CoughDry,
		CoughDays:     reporting.Some(uint16(3)),
	})
	signed := signReport(t, &protocol.Report{StartIndex: 0, EndIndex: 4, RevealedSeed: seed, Memo: memo})

	created, err := f.matcher.Process(signed, now)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.NotNil(t, created[0].Symptoms)
	assert.Equal(t, reporting.CoughDry, created[0].Symptoms.CoughSeverity)
	assert.Equal(t, reporting.Some(uint16(3)), created[0].Symptoms.CoughDays)

	// The decoded summary survives the durable round trip.
	listed, err := f.alerts.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].Symptoms)
	assert.Equal(t, reporting.CoughDry, listed[0].Symptoms.CoughSeverity)
}

func TestProcessToleratesUndecodableMemo(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	seed := testSeed(t, "garbled memo chain")
	tokens, err := crypto.ExpandSegment(seed, 0, 4)
	require.NoError(t, err)
	require.NoError(t, f.observations.Record(tokens[0], uint64(now.Unix()), 2.0))

	signed := signReport(t, &protocol.Report{StartIndex: 0, EndIndex: 4, RevealedSeed: seed, Memo: []byte{0xff, 0x01}})

	created, err := f.matcher.Process(signed, now)
	require.NoError(t, err, "a bad memo must not block the exposure alert")
	require.Len(t, created, 1)
	assert.Nil(t, created[0].Symptoms)
}

func TestProcessNoObservations(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	signed := signReport(t, &protocol.Report{
		StartIndex:   0,
		EndIndex:     5,
		RevealedSeed: testSeed(t, "stranger chain"),
	})

	created, err := f.matcher.Process(signed, now)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	seed := testSeed(t, "replayed chain")
	tokens, err := crypto.ExpandSegment(seed, 0, 6)
	require.NoError(t, err)
	require.NoError(t, f.observations.Record(tokens[2], uint64(now.Unix()), 2.0))

	signed := signReport(t, &protocol.Report{StartIndex: 0, EndIndex: 6, RevealedSeed: seed})

	first, err := f.matcher.Process(signed, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.matcher.Process(signed, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, second)

	listed, err := f.alerts.List()
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestProcessRejectsTamperedReport(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	signed := signReport(t, &protocol.Report{StartIndex: 0, EndIndex: 5, RevealedSeed: testSeed(t, "tampered")})
	signed.Signature[0] ^= 0xff

	_, err := f.matcher.Process(signed, now)
	require.Error(t, err)
	var protoErr *protocol.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestProcessRejectsOversizedSegment(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)
	maxSegment := protocol.DefaultTraceConfig().MaxSegmentLength()

	signed := signReport(t, &protocol.Report{
		StartIndex:   0,
		EndIndex:     maxSegment + 1,
		RevealedSeed: testSeed(t, "oversized"),
	})

	_, err := f.matcher.Process(signed, now)
	require.Error(t, err)
}

func TestProcessEmptySegment(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1591781400, 0)

	signed := signReport(t, &protocol.Report{StartIndex: 5, EndIndex: 5, RevealedSeed: testSeed(t, "empty")})

	created, err := f.matcher.Process(signed, now)
	require.NoError(t, err)
	assert.Empty(t, created)
}
