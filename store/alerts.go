package store

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/reporting"
)

// Alert is a locally detected intersection between a disclosed report's
// implied tokens and a previously observed token. Alerts are health-relevant
// and never expire; only an explicit user delete removes them.
type Alert struct {
	// ID uniquely identifies the alert for listing and deletion.
	ID string `json:"id"`

	// MatchedToken is the token present both in the report's revealed
	// segment and in the local observations.
	MatchedToken crypto.Token `json:"matched_token"`

	// Observation is the local contact record that matched.
	Observation Observation `json:"observation"`

	// Report is the disclosed report that produced the match.
	Report protocol.Report `json:"report"`

	// Symptoms is the decoded symptom summary from the report's memo, or
	// nil for a pure exposure disclosure or an undecodable memo.
	Symptoms *reporting.PublicSymptoms `json:"symptoms,omitempty"`

	// ReportID identifies the signed report, for deduplication.
	ReportID string `json:"report_id"`

	// CreatedAt is when the match was detected, in unix seconds.
	CreatedAt uint64 `json:"created_at"`
}

// Alerts is the durable store of pending alerts.
type Alerts struct {
	store *Store

	// Serializes save-with-dedup so concurrent matching runs cannot both
	// pass the seen check for the same (report, token) pair.
	mu sync.Mutex
}

// NewAlerts creates the alert store over the shared KV store.
func NewAlerts(store *Store) *Alerts {
	return &Alerts{store: store}
}

func alertKey(id string) string {
	return nsAlert + id
}

func seenKey(reportID string, token crypto.Token) string {
	return nsAlertSeen + reportID + "/" + token.String()
}

// Save stores an alert unless one for the same (report, token) pair was
// already recorded. The dedup marker survives the alert's deletion, so
// reprocessing a report never resurrects a deleted alert. Returns true if
// the alert was stored.
func (a *Alerts) Save(alert Alert) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen, err := a.store.has(seenKey(alert.ReportID, alert.MatchedToken))
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return false, protocol.Storagef("encode alert", err)
	}
	if err := a.store.put(alertKey(alert.ID), payload); err != nil {
		return false, err
	}
	// The marker carries its creation time so expired markers can be
	// purged once the report has aged out of the fetch window.
	marker := binary.LittleEndian.AppendUint64(nil, alert.CreatedAt)
	if err := a.store.put(seenKey(alert.ReportID, alert.MatchedToken), marker); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeSeenOlderThan drops dedup markers created before cutoff (unix
// seconds) and returns how many were removed. A marker is only needed while
// its report can still be re-fetched; callers pass a horizon safely past the
// disclosure window.
func (a *Alerts) PurgeSeenOlderThan(cutoff uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stale []string
	err := a.store.iterate(nsAlertSeen, func(key string, payload []byte) (bool, error) {
		if len(payload) < 8 || binary.LittleEndian.Uint64(payload) < cutoff {
			stale = append(stale, key)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for _, key := range stale {
		if err := a.store.delete(key); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// List returns all pending alerts, most recent first.
func (a *Alerts) List() ([]Alert, error) {
	var alerts []Alert
	err := a.store.iterate(nsAlert, func(key string, payload []byte) (bool, error) {
		var alert Alert
		if err := json.Unmarshal(payload, &alert); err != nil {
			return false, protocol.Storagef("decode alert", err)
		}
		alerts = append(alerts, alert)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt != alerts[j].CreatedAt {
			return alerts[i].CreatedAt > alerts[j].CreatedAt
		}
		return alerts[i].ID > alerts[j].ID
	})
	return alerts, nil
}

// Delete removes an alert by id. Returns found == false if no such alert
// exists; the dedup marker is kept either way.
func (a *Alerts) Delete(id string) (bool, error) {
	found, err := a.store.has(alertKey(id))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return true, a.store.delete(alertKey(id))
}
