package store

import (
	"sync"

	"github.com/Co-Epi/coepi-core/crypto"
)

// Batcher absorbs radio-scan observation events in memory and writes them to
// the durable store in batches, so a burst of callbacks costs one disk write
// per token instead of one per event. Merge semantics are identical at both
// layers: re-observing a token widens the contact range and keeps the
// tightest distance.
type Batcher struct {
	observations *Observations

	mu      sync.Mutex
	pending map[crypto.Token]Observation
}

// NewBatcher creates a batching front for the observation store.
func NewBatcher(observations *Observations) *Batcher {
	return &Batcher{
		observations: observations,
		pending:      make(map[crypto.Token]Observation),
	}
}

// Add validates one observation event and merges it into the in-memory
// batch. Nothing touches the durable store until Flush.
func (b *Batcher) Add(token crypto.Token, timestamp uint64, distance float64) error {
	if err := validateDistance(distance); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obs := Observation{
		Token:       token,
		FirstSeen:   timestamp,
		LastSeen:    timestamp,
		MinDistance: distance,
	}
	if existing, ok := b.pending[token]; ok {
		obs = mergeObservation(existing, obs)
	}
	b.pending[token] = obs
	return nil
}

// Flush writes the batched observations to the durable store and empties the
// batch. On a write failure the unwritten entries are merged back into the
// batch, so the next flush retries them and no event is lost. Returns how
// many tokens were written.
func (b *Batcher) Flush() (int, error) {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[crypto.Token]Observation)
	b.mu.Unlock()

	written := 0
	for token, obs := range batch {
		if err := b.observations.apply(obs); err != nil {
			b.restore(batch)
			return written, err
		}
		delete(batch, token)
		written++
	}
	return written, nil
}

// restore puts failed batch entries back, merging with anything added since
// the flush started.
func (b *Batcher) restore(batch map[crypto.Token]Observation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for token, obs := range batch {
		if newer, ok := b.pending[token]; ok {
			obs = mergeObservation(obs, newer)
		}
		b.pending[token] = obs
	}
}
