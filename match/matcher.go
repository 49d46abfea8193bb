package match

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/reporting"
	"github.com/Co-Epi/coepi-core/store"
)

// Matcher expands signed reports and records alerts for tokens the local
// device observed. It holds no per-report state and is safe for concurrent
// use as long as the underlying stores are.
type Matcher struct {
	cfg          *protocol.TraceConfig
	observations *store.Observations
	alerts       *store.Alerts
	log          *slog.Logger
}

// NewMatcher creates a matcher over the local observation and alert stores.
func NewMatcher(cfg *protocol.TraceConfig, observations *store.Observations, alerts *store.Alerts, log *slog.Logger) *Matcher {
	return &Matcher{cfg: cfg, observations: observations, alerts: alerts, log: log}
}

// Process verifies a downloaded report, expands its revealed segment, and
// saves an alert for every token found in the local observations. The
// report's symptom memo is decoded into each alert; an undecodable memo is
// tolerated and matching proceeds without it. It returns the alerts newly
// created by this call; replays of an already-processed report return none.
func (m *Matcher) Process(signed *protocol.SignedReport, now time.Time) ([]store.Alert, error) {
	report, _, err := signed.Recover()
	if err != nil {
		return nil, protocol.Protocolf("report signature rejected: %s", err)
	}
	if err := report.Validate(m.cfg.MaxSegmentLength()); err != nil {
		return nil, err
	}

	tokens, err := crypto.ExpandSegment(report.RevealedSeed, report.StartIndex, report.EndIndex)
	if err != nil {
		return nil, err
	}

	reportID := protocol.ReportID(signed)

	var symptoms *reporting.PublicSymptoms
	if len(report.Memo) > 0 {
		public, err := reporting.DecodeMemo(report.Memo)
		if err != nil {
			m.log.Warn("report memo undecodable, alerting without symptoms",
				"reportID", reportID, "err", err)
		} else {
			symptoms = &public
		}
	}

	var created []store.Alert
	for _, token := range tokens {
		obs, found, err := m.observations.Lookup(token)
		if err != nil {
			return created, err
		}
		if !found {
			continue
		}

		alert := store.Alert{
			ID:           uuid.NewString(),
			MatchedToken: token,
			Observation:  *obs,
			Report:       *report,
			Symptoms:     symptoms,
			ReportID:     reportID,
			CreatedAt:    uint64(now.Unix()),
		}
		saved, err := m.alerts.Save(alert)
		if err != nil {
			return created, err
		}
		if saved {
			m.log.Info("exposure match",
				"matchedToken", token.String(),
				"firstSeen", obs.FirstSeen,
				"minDistance", obs.MinDistance)
			created = append(created, alert)
		}
	}
	return created, nil
}
