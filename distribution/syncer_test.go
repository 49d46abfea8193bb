package distribution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/store"
	"github.com/Co-Epi/coepi-core/testutil"
)

// fakeFetcher serves canned reports per interval and records what was asked.
type fakeFetcher struct {
	reports map[uint32][]*protocol.SignedReport
	fetched []uint32
	err     error
}

func (f *fakeFetcher) FetchReports(_ context.Context, interval protocol.Interval) ([]*protocol.SignedReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.fetched = append(f.fetched, interval.Number)
	return f.reports[interval.Number], nil
}

// countingProcessor counts calls and returns a fixed outcome.
type countingProcessor struct {
	calls  int
	alerts []store.Alert
	err    error
}

func (p *countingProcessor) Process(*protocol.SignedReport, time.Time) ([]store.Alert, error) {
	p.calls++
	return p.alerts, p.err
}

type syncFixture struct {
	syncer       *Syncer
	fetcher      *fakeFetcher
	processor    *countingProcessor
	prefs        *store.Preferences
	observations *store.Observations
	batcher      *store.Batcher
	alerts       *store.Alerts
	cfg          *protocol.TraceConfig
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := protocol.DefaultTraceConfig()
	fetcher := &fakeFetcher{reports: make(map[uint32][]*protocol.SignedReport)}
	processor := &countingProcessor{}
	prefs := store.NewPreferences(s)
	observations := store.NewObservations(s)
	batcher := store.NewBatcher(observations)
	alerts := store.NewAlerts(s)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &syncFixture{
		syncer:       NewSyncer(cfg, fetcher, processor, prefs, observations, batcher, alerts, log),
		fetcher:      fetcher,
		processor:    processor,
		prefs:        prefs,
		observations: observations,
		batcher:      batcher,
		alerts:       alerts,
		cfg:          cfg,
	}
}

func TestSyncerResumesFromCheckpoint(t *testing.T) {
	f := newSyncFixture(t)

	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	checkpoint := protocol.Interval{Number: current.Number - 3, Length: f.cfg.IntervalLength}
	require.NoError(t, f.prefs.SetLastCompletedInterval(checkpoint))

	result, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err)

	// Two elapsed intervals plus the one containing now.
	assert.Equal(t, []uint32{checkpoint.Number + 1, checkpoint.Number + 2, current.Number}, f.fetcher.fetched)
	assert.Equal(t, 3, result.IntervalsFetched)

	saved, found, err := f.prefs.LastCompletedInterval()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, current.Number-1, saved.Number, "open interval must not be checkpointed")
}

func TestSyncerFirstRunCoversDisclosureWindow(t *testing.T) {
	f := newSyncFixture(t)

	now := time.Unix(1591790000, 0)
	result, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err)

	windowStart := protocol.IntervalForTime(now.AddDate(0, 0, -f.cfg.DisclosureWindowDays), f.cfg.IntervalLength)
	require.NotEmpty(t, f.fetcher.fetched)
	assert.Equal(t, windowStart.Number, f.fetcher.fetched[0])
	assert.Equal(t, len(f.fetcher.fetched), result.IntervalsFetched)
}

func TestSyncerRefetchesOpenInterval(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(protocol.Interval{Number: current.Number - 1, Length: f.cfg.IntervalLength}))

	_, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err)
	_, err = f.syncer.Run(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)

	// The interval containing now is still open and gets fetched both times.
	assert.Equal(t, []uint32{current.Number, current.Number}, f.fetcher.fetched)
}

func TestSyncerProcessesReports(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(protocol.Interval{Number: current.Number - 1, Length: f.cfg.IntervalLength}))

	f.fetcher.reports[current.Number] = []*protocol.SignedReport{
		testSignedReport(t, "sync a", 0, 4),
		testSignedReport(t, "sync b", 0, 4),
	}
	f.processor.alerts = []store.Alert{{ID: "a1"}}

	result, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReportsProcessed)
	assert.Equal(t, 2, result.AlertsCreated)
	assert.Equal(t, 2, f.processor.calls)
	require.Len(t, result.NewAlerts, 2)
	assert.Equal(t, "a1", result.NewAlerts[0].ID)
}

func TestSyncerSkipsInvalidReports(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(protocol.Interval{Number: current.Number - 1, Length: f.cfg.IntervalLength}))

	f.fetcher.reports[current.Number] = []*protocol.SignedReport{testSignedReport(t, "bad", 0, 4)}
	f.processor.err = protocol.Protocolf("report signature rejected")

	result, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err, "one invalid report must not abort the run")
	assert.Equal(t, 0, result.ReportsProcessed)
}

func TestSyncerAbortsOnStorageError(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(protocol.Interval{Number: current.Number - 1, Length: f.cfg.IntervalLength}))

	f.fetcher.reports[current.Number] = []*protocol.SignedReport{testSignedReport(t, "stored", 0, 4)}
	f.processor.err = protocol.Storagef("save alert", io.ErrClosedPipe)

	_, err := f.syncer.Run(context.Background(), now)
	require.Error(t, err)
}

func TestSyncerFetchFailureKeepsCheckpoint(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	checkpoint := protocol.Interval{Number: current.Number - 2, Length: f.cfg.IntervalLength}
	require.NoError(t, f.prefs.SetLastCompletedInterval(checkpoint))

	f.fetcher.err = protocol.Networkf("fetch reports", io.ErrUnexpectedEOF)
	_, err := f.syncer.Run(context.Background(), now)
	require.Error(t, err)

	saved, found, err := f.prefs.LastCompletedInterval()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, checkpoint.Number, saved.Number, "failed run must not advance the checkpoint")
}

func TestSyncerPurgesExpiredObservations(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(current))

	cutoff := now.AddDate(0, 0, -f.cfg.RetentionDays)
	stale := testutil.NewTestToken(0x01)
	fresh := testutil.NewTestToken(0x02)
	require.NoError(t, f.observations.Record(stale, uint64(cutoff.Unix())-100, 2.0))
	require.NoError(t, f.observations.Record(fresh, uint64(now.Unix()), 2.0))

	result, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ObservationsPurged)

	_, found, err := f.observations.Lookup(stale)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = f.observations.Lookup(fresh)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSyncerFlushesPendingObservations(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(current))

	token := testutil.NewTestToken(0x10)
	require.NoError(t, f.batcher.Add(token, uint64(now.Unix()), 1.0))

	_, err := f.syncer.Run(context.Background(), now)
	require.NoError(t, err)

	// The batched observation is durable before any report is matched.
	got, found, err := f.observations.Lookup(token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.0, got.MinDistance)
}

func TestSyncerPurgesExpiredSeenMarkers(t *testing.T) {
	f := newSyncFixture(t)
	now := time.Unix(1591790000, 0)
	current := protocol.IntervalForTime(now, f.cfg.IntervalLength)
	require.NoError(t, f.prefs.SetLastCompletedInterval(current))

	horizon := now.AddDate(0, 0, -(f.cfg.DisclosureWindowDays + f.cfg.RetentionDays))
	aged := store.Alert{
		ID:           "aged",
		MatchedToken: testutil.NewTestToken(0x20),
		ReportID:     "aged-report",
		CreatedAt:    uint64(horizon.Unix()) - 100,
	}
	saved, err := f.alerts.Save(aged)
	require.NoError(t, err)
	require.True(t, saved)
	_, err = f.alerts.Delete("aged")
	require.NoError(t, err)

	_, err = f.syncer.Run(context.Background(), now)
	require.NoError(t, err)

	// The marker aged out during the run, so the report would alert again.
	saved, err = f.alerts.Save(aged)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestSyncerRunLoop(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.prefs.SetLastCompletedInterval(protocol.IntervalForTime(time.Now(), f.cfg.IntervalLength)))

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	runs := 0
	done := make(chan struct{})
	go func() {
		f.syncer.RunLoop(ctx, 10*time.Millisecond, func(SyncResult) {
			mu.Lock()
			runs++
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancellation")
	}
}
