package reporting

import (
	"log/slog"
	"time"

	"github.com/Co-Epi/coepi-core/chain"
	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
)

// Revealer is the slice of the chain engine the builder needs: the segment
// covering the disclosure window at submit time.
type Revealer interface {
	RevealWindow(now time.Time) (chain.RevealedSegment, error)
}

// Builder assembles publishable reports from the accumulator and the chain
// engine's revealed history.
type Builder struct {
	cfg         *protocol.TraceConfig
	accumulator *Accumulator
	revealer    Revealer
	log         *slog.Logger
}

// NewBuilder creates the report builder. The builder owns the accumulator:
// it is the only component that reads or clears it.
func NewBuilder(cfg *protocol.TraceConfig, accumulator *Accumulator, revealer Revealer, log *slog.Logger) *Builder {
	return &Builder{cfg: cfg, accumulator: accumulator, revealer: revealer, log: log}
}

// Accumulator exposes the live accumulator for the boundary setters.
func (b *Builder) Accumulator() *Accumulator {
	return b.accumulator
}

// Submit snapshots the accumulator, distills and encodes the symptom memo
// (omitted entirely when nothing relevant was entered), reveals the chain
// segment covering the disclosure window, and returns an immutable signed
// report. The accumulator is left intact: the caller clears it once the
// report has actually been published, so a failed post loses nothing.
func (b *Builder) Submit(now time.Time) (*protocol.SignedReport, error) {
	public := DistillSymptoms(b.accumulator.Snapshot(), now)

	var memo []byte
	if public.HasContent() {
		memo = EncodeMemo(public)
	} else {
		b.log.Info("no symptom content entered, submitting pure exposure disclosure")
	}

	segment, err := b.revealer.RevealWindow(now)
	if err != nil {
		return nil, err
	}

	report := &protocol.Report{
		StartIndex:     segment.Start,
		EndIndex:       segment.End,
		RevealedSeed:   segment.Seed,
		Memo:           memo,
		IntervalNumber: protocol.IntervalForTime(now, b.cfg.IntervalLength).Number,
	}

	// One ephemeral key per report: signatures authenticate the report
	// without linking it to the device or to other reports.
	_, priv, err := crypto.GenerateReportKeyPair()
	if err != nil {
		return nil, err
	}
	signed, err := protocol.NewSigned(priv, report)
	if err != nil {
		return nil, err
	}

	b.log.Info("built report",
		"segmentStart", report.StartIndex,
		"segmentEnd", report.EndIndex,
		"hasMemo", len(memo) > 0)
	return signed, nil
}
