package distribution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/store"
)

// Fetcher downloads the reports of one interval. Satisfied by *Client.
type Fetcher interface {
	FetchReports(ctx context.Context, interval protocol.Interval) ([]*protocol.SignedReport, error)
}

// ReportProcessor matches one downloaded report against local observations.
// Satisfied by *match.Matcher.
type ReportProcessor interface {
	Process(signed *protocol.SignedReport, now time.Time) ([]store.Alert, error)
}

// Syncer drives periodic report download and matching. Each run resumes from
// the persisted checkpoint, walks every interval up to now, and purges
// observations that fell out of the retention window.
type Syncer struct {
	cfg          *protocol.TraceConfig
	fetcher      Fetcher
	processor    ReportProcessor
	prefs        *store.Preferences
	observations *store.Observations
	batcher      *store.Batcher
	alerts       *store.Alerts
	log          *slog.Logger
}

// NewSyncer creates the sync driver.
func NewSyncer(cfg *protocol.TraceConfig, fetcher Fetcher, processor ReportProcessor,
	prefs *store.Preferences, observations *store.Observations,
	batcher *store.Batcher, alerts *store.Alerts, log *slog.Logger) *Syncer {
	return &Syncer{
		cfg:          cfg,
		fetcher:      fetcher,
		processor:    processor,
		prefs:        prefs,
		observations: observations,
		batcher:      batcher,
		alerts:       alerts,
		log:          log,
	}
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	// IntervalsFetched is how many intervals were downloaded this run.
	IntervalsFetched int

	// ReportsProcessed is how many reports were matched this run.
	ReportsProcessed int

	// AlertsCreated is how many new alerts the run produced.
	AlertsCreated int

	// NewAlerts holds the alerts created this run, in processing order.
	NewAlerts []store.Alert

	// ObservationsPurged is how many expired observations were removed.
	ObservationsPurged int
}

// startInterval picks where a run begins: right after the persisted
// checkpoint, or at the start of the disclosure window on first run. Nothing
// older than the window can still match anything worth alerting on.
func (s *Syncer) startInterval(now time.Time) (protocol.Interval, error) {
	checkpoint, found, err := s.prefs.LastCompletedInterval()
	if err != nil {
		return protocol.Interval{}, err
	}
	if found {
		return checkpoint.Next(), nil
	}
	windowStart := now.AddDate(0, 0, -s.cfg.DisclosureWindowDays)
	return protocol.IntervalForTime(windowStart, s.cfg.IntervalLength), nil
}

// Run performs one full sync pass. Intervals are fetched oldest first; the
// checkpoint only advances past intervals that had fully elapsed before the
// run started, so the interval containing now is re-fetched next time and
// late-posted reports are not skipped. A failure mid-run leaves the
// checkpoint at the last fully processed interval.
func (s *Syncer) Run(ctx context.Context, now time.Time) (SyncResult, error) {
	var result SyncResult

	// Matching reads the durable store, so pending radio observations must
	// land there first.
	if _, err := s.batcher.Flush(); err != nil {
		return result, err
	}

	start, err := s.startInterval(now)
	if err != nil {
		return result, err
	}

	for _, interval := range protocol.IntervalsUntil(start, now) {
		if err := ctx.Err(); err != nil {
			return result, protocol.Networkf("sync", err)
		}

		reports, err := s.fetcher.FetchReports(ctx, interval)
		if err != nil {
			return result, err
		}
		result.IntervalsFetched++

		for _, signed := range reports {
			created, err := s.processor.Process(signed, now)
			if err != nil {
				var protoErr *protocol.ProtocolError
				var valErr *protocol.ValidationError
				if errors.As(err, &protoErr) || errors.As(err, &valErr) {
					// A malformed report from the service must not
					// wedge the sync loop on retry forever.
					s.log.Warn("skipping invalid report", "interval", interval.Number, "err", err)
					continue
				}
				return result, err
			}
			result.ReportsProcessed++
			result.AlertsCreated += len(created)
			result.NewAlerts = append(result.NewAlerts, created...)
		}

		if interval.EndsBefore(now) {
			if err := s.prefs.SetLastCompletedInterval(interval); err != nil {
				return result, err
			}
		}
	}

	purged, err := s.purgeExpired(now)
	if err != nil {
		return result, err
	}
	result.ObservationsPurged = purged

	s.log.Info("sync run finished",
		"intervals", result.IntervalsFetched,
		"reports", result.ReportsProcessed,
		"alerts", result.AlertsCreated,
		"purged", result.ObservationsPurged)
	return result, nil
}

func (s *Syncer) purgeExpired(now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	purged, err := s.observations.PurgeOlderThan(uint64(cutoff.Unix()))
	if err != nil {
		return 0, err
	}

	// Dedup markers outlive their alerts, but a report past the disclosure
	// window plus retention can never produce the same alert again.
	seenHorizon := now.AddDate(0, 0, -(s.cfg.DisclosureWindowDays + s.cfg.RetentionDays))
	if _, err := s.alerts.PurgeSeenOlderThan(uint64(seenHorizon.Unix())); err != nil {
		return purged, err
	}
	return purged, nil
}

// RunLoop calls Run every period until the context is cancelled. One run
// happens immediately. Each successful run's result is handed to onResult
// (may be nil); errors are logged and the loop keeps going, a flaky network
// must not stop matching permanently.
func (s *Syncer) RunLoop(ctx context.Context, period time.Duration, onResult func(SyncResult)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		result, err := s.Run(ctx, time.Now())
		if err != nil {
			s.log.Error("sync run failed", "err", err)
		} else if onResult != nil {
			onResult(result)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
