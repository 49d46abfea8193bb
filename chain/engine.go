// Package chain implements the token rotation engine: the stateful owner of
// the per-epoch hash chain from which broadcast tokens are derived.
//
// The engine holds exactly one live chain. At a fixed boundary (UTC midnight,
// once the epoch is old enough) the root secret rotates and the chain resets;
// everything not revealed from the prior epoch becomes permanently
// unreveal-able, which bounds the blast radius of a future secret compromise.
// Matching only ever needs revealed segments, so discarding old roots breaks
// nothing.
package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
)

// StateStore persists the engine's chain state across restarts.
type StateStore interface {
	ChainState() ([]byte, bool, error)
	SetChainState(state []byte) error
}

// RevealedSegment is the engine's answer to a reveal request: the seed and
// half-open index range a report will disclose.
type RevealedSegment struct {
	Seed  crypto.ChainValue
	Start uint32
	End   uint32
}

// chainState is the engine's full persisted state. Only the current chain
// value is strictly needed for emission; the chain start is retained so
// reveals can address any index of the live epoch.
type chainState struct {
	EpochDay   uint32 // unix day the epoch started, always a UTC midnight
	Index      uint32 // current tick index within the epoch
	RootSecret crypto.RootSecret
	Start      crypto.ChainValue // v[0]
	Current    crypto.ChainValue // v[Index]
}

// persistedState is the JSON shape of chainState; secrets are hex strings.
type persistedState struct {
	EpochDay   uint32 `json:"epoch_day"`
	Index      uint32 `json:"index"`
	RootSecret string `json:"root_secret"`
	Start      string `json:"start"`
	Current    string `json:"current"`
}

// Engine owns the cryptographic chain state. There is a single logical owner
// of chain state per process; the internal lock only guards against
// accidental concurrent boundary calls.
type Engine struct {
	cfg   *protocol.TraceConfig
	store StateStore
	log   *slog.Logger

	mu    sync.Mutex
	state chainState
}

// NewEngine loads the persisted chain state, or starts a fresh epoch when no
// usable state exists. Missing or corrupt state is never fatal: tokens from
// a lost chain can no longer be revealed anyway.
func NewEngine(cfg *protocol.TraceConfig, store StateStore, log *slog.Logger, now time.Time) (*Engine, error) {
	e := &Engine{cfg: cfg, store: store, log: log}

	blob, found, err := store.ChainState()
	if err != nil {
		return nil, err
	}
	if found {
		if state, err := decodeState(blob); err == nil {
			e.state = *state
			return e, nil
		}
		log.Warn("persisted chain state is corrupt, starting fresh epoch")
	}

	if err := e.startEpochLocked(now); err != nil {
		return nil, err
	}
	return e, nil
}

// unixDay returns the number of whole UTC days since the unix epoch.
func unixDay(t time.Time) uint32 {
	return uint32(t.UTC().Unix() / 86400)
}

// dayStart returns the UTC midnight beginning the given unix day.
func dayStart(day uint32) time.Time {
	return time.Unix(int64(day)*86400, 0).UTC()
}

// startEpochLocked rotates to a fresh root secret with the epoch starting at
// the UTC midnight of now's day. Callers hold e.mu (or own e exclusively).
func (e *Engine) startEpochLocked(now time.Time) error {
	secret, err := crypto.NewRootSecret()
	if err != nil {
		return err
	}
	start, err := crypto.DeriveChainStart(secret)
	if err != nil {
		return err
	}

	e.state = chainState{
		EpochDay:   unixDay(now),
		Index:      0,
		RootSecret: secret,
		Start:      start,
		Current:    start,
	}
	e.log.Info("started new chain epoch", "epochDay", e.state.EpochDay)
	return e.persistLocked()
}

// tickIndexAt maps an instant to its tick index within the current epoch.
func (e *Engine) tickIndexAt(now time.Time) uint32 {
	elapsed := now.UTC().Sub(dayStart(e.state.EpochDay))
	if elapsed < 0 {
		return 0
	}
	return uint32(elapsed / e.cfg.TickInterval)
}

// epochExpired reports whether the epoch must rotate: the configured number
// of days has passed, measured at UTC day granularity.
func (e *Engine) epochExpired(now time.Time) bool {
	return unixDay(now) >= e.state.EpochDay+uint32(e.cfg.EpochDays)
}

// Advance moves the chain to the tick containing now, rotating the epoch
// first if it expired. Calling it repeatedly within the same tick is a no-op;
// a clock that moved backwards leaves the chain where it is (values are only
// ever derived forward).
func (e *Engine) Advance(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(now)
}

func (e *Engine) advanceLocked(now time.Time) error {
	if e.epochExpired(now) {
		// Rotation resets the chain to index 0; fall through so the
		// fresh chain is advanced to the tick containing now.
		if err := e.startEpochLocked(now); err != nil {
			return err
		}
	}

	target := e.tickIndexAt(now)
	if target == e.state.Index {
		return nil
	}
	if target < e.state.Index {
		e.log.Warn("clock moved backwards, keeping current tick",
			"index", e.state.Index, "target", target)
		return nil
	}

	e.state.Current = crypto.ChainValueAt(e.state.Current, target-e.state.Index)
	e.state.Index = target
	return e.persistLocked()
}

// CurrentToken returns the broadcast token for the tick containing now,
// advancing the chain if needed.
func (e *Engine) CurrentToken(now time.Time) (crypto.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.advanceLocked(now); err != nil {
		return crypto.Token{}, err
	}
	return crypto.TokenAt(e.state.Index, e.state.Current), nil
}

// EpochDay returns the unix day the live epoch started.
func (e *Engine) EpochDay() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.EpochDay
}

// RootOfEpoch returns the root secret of the given epoch. Only the live
// epoch's root is retained; requesting any other epoch is an error.
func (e *Engine) RootOfEpoch(epochDay uint32) (crypto.RootSecret, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if epochDay != e.state.EpochDay {
		return crypto.RootSecret{}, protocol.Validationf("epoch",
			"root of epoch %d is not retained (live epoch is %d)", epochDay, e.state.EpochDay)
	}
	return e.state.RootSecret, nil
}

// Reveal discloses the chain segment [start, end). end may address at most
// one past the current tick; anything further is a caller contract violation
// and is reported as an error rather than silently truncated.
func (e *Engine) Reveal(start, end uint32) (RevealedSegment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if end < start {
		return RevealedSegment{}, protocol.Validationf("segment", "end %d precedes start %d", end, start)
	}
	if end > e.state.Index+1 {
		return RevealedSegment{}, protocol.Validationf("segment",
			"end %d is beyond current tick %d", end, e.state.Index)
	}
	if end-start > e.cfg.MaxSegmentLength() {
		return RevealedSegment{}, protocol.Validationf("segment",
			"length %d exceeds disclosure window %d", end-start, e.cfg.MaxSegmentLength())
	}

	return RevealedSegment{
		Seed:  crypto.ChainValueAt(e.state.Start, start),
		Start: start,
		End:   end,
	}, nil
}

// RevealWindow discloses the configured disclosure window ending at the tick
// containing now: the last DisclosureWindowDays of ticks, clamped to the
// epoch start.
func (e *Engine) RevealWindow(now time.Time) (RevealedSegment, error) {
	if err := e.Advance(now); err != nil {
		return RevealedSegment{}, err
	}

	e.mu.Lock()
	end := e.state.Index + 1
	e.mu.Unlock()

	start := uint32(0)
	if window := e.cfg.MaxSegmentLength(); end > window {
		start = end - window
	}
	return e.Reveal(start, end)
}

func (e *Engine) persistLocked() error {
	blob, err := json.Marshal(persistedState{
		EpochDay:   e.state.EpochDay,
		Index:      e.state.Index,
		RootSecret: hex.EncodeToString(e.state.RootSecret.Bytes()),
		Start:      e.state.Start.String(),
		Current:    e.state.Current.String(),
	})
	if err != nil {
		return protocol.Storagef("encode chain state", err)
	}
	return e.store.SetChainState(blob)
}

func decodeState(blob []byte) (*chainState, error) {
	var p persistedState
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, err
	}

	secretBytes, err := hex.DecodeString(p.RootSecret)
	if err != nil {
		return nil, err
	}
	secret, err := crypto.NewRootSecretFromBytes(secretBytes)
	if err != nil {
		return nil, err
	}

	start, err := decodeChainValue(p.Start)
	if err != nil {
		return nil, err
	}
	current, err := decodeChainValue(p.Current)
	if err != nil {
		return nil, err
	}

	return &chainState{
		EpochDay:   p.EpochDay,
		Index:      p.Index,
		RootSecret: secret,
		Start:      start,
		Current:    current,
	}, nil
}

func decodeChainValue(s string) (crypto.ChainValue, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return crypto.ChainValue{}, fmt.Errorf("decoding chain value: %w", err)
	}
	return crypto.NewChainValueFromBytes(raw)
}
