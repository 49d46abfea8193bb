package store

import (
	"encoding/json"
	"sync"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
)

// Observation records a token seen from a nearby device. Re-observing the
// same token extends the contact time range and tightens the distance
// estimate in place; observations are only ever removed by retention expiry.
type Observation struct {
	// Token is the observed broadcast token.
	Token crypto.Token `json:"token"`

	// FirstSeen and LastSeen bound the contact in unix seconds.
	FirstSeen uint64 `json:"first_seen"`
	LastSeen  uint64 `json:"last_seen"`

	// MinDistance is the closest proximity estimate over the contact, in
	// meters.
	MinDistance float64 `json:"min_distance"`
}

// observationShards stripes the per-token read-modify-write lock. Writes for
// different tokens must not contend, or radio-scan callbacks would stall.
const observationShards = 64

// Observations is the durable store of tokens observed from other devices.
type Observations struct {
	store *Store
	locks [observationShards]sync.Mutex
}

// NewObservations creates the observation store over the shared KV store.
func NewObservations(store *Store) *Observations {
	return &Observations{store: store}
}

func observationKey(token crypto.Token) string {
	return nsObservation + token.String()
}

func (o *Observations) lockFor(token crypto.Token) *sync.Mutex {
	return &o.locks[int(token[0])%observationShards]
}

func validateDistance(distance float64) error {
	if distance <= 0 || distance >= 100 {
		return protocol.Validationf("distance", "must be in (0, 100) meters, got %g", distance)
	}
	return nil
}

// Record upserts an observation. If the token was seen before, the contact
// range is extended to cover the new timestamp and MinDistance keeps the
// smaller value. The read-modify-write is atomic per token.
func (o *Observations) Record(token crypto.Token, timestamp uint64, distance float64) error {
	if err := validateDistance(distance); err != nil {
		return err
	}
	return o.apply(Observation{
		Token:       token,
		FirstSeen:   timestamp,
		LastSeen:    timestamp,
		MinDistance: distance,
	})
}

// apply merges one observation into the durable record under the token's
// stripe lock.
func (o *Observations) apply(obs Observation) error {
	lock := o.lockFor(obs.Token)
	lock.Lock()
	defer lock.Unlock()

	existing, found, err := o.Lookup(obs.Token)
	if err != nil {
		return err
	}
	if found {
		obs = mergeObservation(*existing, obs)
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		return protocol.Storagef("encode observation", err)
	}
	return o.store.put(observationKey(obs.Token), payload)
}

// mergeObservation widens the contact range and keeps the tightest distance.
func mergeObservation(a, b Observation) Observation {
	merged := a
	if b.FirstSeen < merged.FirstSeen {
		merged.FirstSeen = b.FirstSeen
	}
	if b.LastSeen > merged.LastSeen {
		merged.LastSeen = b.LastSeen
	}
	if b.MinDistance < merged.MinDistance {
		merged.MinDistance = b.MinDistance
	}
	return merged
}

// Lookup returns the observation for a token, or found == false.
func (o *Observations) Lookup(token crypto.Token) (*Observation, bool, error) {
	payload, found, err := o.store.get(observationKey(token))
	if err != nil || !found {
		return nil, false, err
	}
	var obs Observation
	if err := json.Unmarshal(payload, &obs); err != nil {
		return nil, false, protocol.Storagef("decode observation", err)
	}
	return &obs, true, nil
}

// PurgeOlderThan removes observations whose contact ended before cutoff
// (unix seconds) and returns how many were removed. Each delete re-checks
// staleness under the token's stripe lock: a Record landing between the scan
// and the delete refreshes the contact and the token is kept.
func (o *Observations) PurgeOlderThan(cutoff uint64) (int, error) {
	var stale []crypto.Token
	err := o.store.iterate(nsObservation, func(_ string, payload []byte) (bool, error) {
		var obs Observation
		if err := json.Unmarshal(payload, &obs); err != nil {
			return false, protocol.Storagef("decode observation", err)
		}
		if obs.LastSeen < cutoff {
			stale = append(stale, obs.Token)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, token := range stale {
		deleted, err := o.deleteIfStale(token, cutoff)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

func (o *Observations) deleteIfStale(token crypto.Token, cutoff uint64) (bool, error) {
	lock := o.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	obs, found, err := o.Lookup(token)
	if err != nil {
		return false, err
	}
	if !found || obs.LastSeen >= cutoff {
		return false, nil
	}
	return true, o.store.delete(observationKey(token))
}
