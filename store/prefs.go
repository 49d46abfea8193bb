package store

import (
	"encoding/json"

	"github.com/Co-Epi/coepi-core/protocol"
)

// Preference keys.
const (
	prefLastCompletedInterval = "last_completed_interval"
	prefSymptomSnapshot       = "symptom_snapshot"
)

// Preferences holds the small singleton records the core persists outside
// the component stores: the sync checkpoint and the in-progress symptom
// accumulator snapshot.
type Preferences struct {
	store *Store
}

// NewPreferences creates the preferences accessor over the shared KV store.
func NewPreferences(store *Store) *Preferences {
	return &Preferences{store: store}
}

// LastCompletedInterval returns the newest interval the device has fully
// fetched, or found == false if no sync has completed yet.
func (p *Preferences) LastCompletedInterval() (protocol.Interval, bool, error) {
	payload, found, err := p.store.get(nsPref + prefLastCompletedInterval)
	if err != nil || !found {
		return protocol.Interval{}, false, err
	}
	var interval protocol.Interval
	if err := json.Unmarshal(payload, &interval); err != nil {
		return protocol.Interval{}, false, protocol.Storagef("decode interval checkpoint", err)
	}
	return interval, true, nil
}

// SetLastCompletedInterval advances the sync checkpoint. This is written only
// after all reports of the interval were processed, so a crash beforehand
// causes a refetch, never a gap.
func (p *Preferences) SetLastCompletedInterval(interval protocol.Interval) error {
	payload, err := json.Marshal(interval)
	if err != nil {
		return protocol.Storagef("encode interval checkpoint", err)
	}
	return p.store.put(nsPref+prefLastCompletedInterval, payload)
}

// SymptomSnapshot returns the persisted accumulator snapshot, or found ==
// false when the accumulator is empty.
func (p *Preferences) SymptomSnapshot() ([]byte, bool, error) {
	return p.store.get(nsPref + prefSymptomSnapshot)
}

// SetSymptomSnapshot persists the accumulator so in-progress symptom entry
// survives a restart.
func (p *Preferences) SetSymptomSnapshot(snapshot []byte) error {
	return p.store.put(nsPref+prefSymptomSnapshot, snapshot)
}

// ClearSymptomSnapshot removes the persisted accumulator snapshot.
func (p *Preferences) ClearSymptomSnapshot() error {
	return p.store.delete(nsPref + prefSymptomSnapshot)
}

// ChainState returns the persisted chain engine state blob for the chain
// namespace, or found == false on first start.
func (p *Preferences) ChainState() ([]byte, bool, error) {
	return p.store.get(nsChain + "state")
}

// SetChainState persists the chain engine state blob.
func (p *Preferences) SetChainState(state []byte) error {
	return p.store.put(nsChain+"state", state)
}
