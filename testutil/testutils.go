package testutil

import (
	"crypto/sha256"

	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/protocol"
)

// NewTestSeed derives a deterministic chain value from a label, so tests can
// name their chains and still get stable token sequences.
func NewTestSeed(label string) crypto.ChainValue {
	sum := sha256.Sum256([]byte(label))
	seed, _ := crypto.NewChainValueFromBytes(sum[:])
	return seed
}

// NewTestToken builds a token filled with the given byte.
func NewTestToken(b byte) crypto.Token {
	raw := make([]byte, crypto.TokenSize)
	for i := range raw {
		raw[i] = b
	}
	token, _ := crypto.NewTokenFromBytes(raw)
	return token
}

// ReportOption customizes a generated report.
type ReportOption func(*protocol.Report)

// WithSeed sets the revealed seed.
func WithSeed(seed crypto.ChainValue) ReportOption {
	return func(r *protocol.Report) {
		r.RevealedSeed = seed
	}
}

// WithSegment sets the revealed index range.
func WithSegment(start, end uint32) ReportOption {
	return func(r *protocol.Report) {
		r.StartIndex = start
		r.EndIndex = end
	}
}

// WithMemo sets the encoded memo bytes.
func WithMemo(memo []byte) ReportOption {
	return func(r *protocol.Report) {
		r.Memo = memo
	}
}

// WithIntervalNumber sets the posting interval number.
func WithIntervalNumber(number uint32) ReportOption {
	return func(r *protocol.Report) {
		r.IntervalNumber = number
	}
}

// GenerateReport creates a report with reasonable defaults, customized by
// the given options.
func GenerateReport(options ...ReportOption) *protocol.Report {
	report := &protocol.Report{
		StartIndex:   0,
		EndIndex:     8,
		RevealedSeed: NewTestSeed("default test chain"),
	}
	for _, option := range options {
		option(report)
	}
	return report
}

// GenerateSignedReport creates a report signed with a fresh ephemeral key.
func GenerateSignedReport(options ...ReportOption) *protocol.SignedReport {
	_, priv, _ := crypto.GenerateReportKeyPair()
	signed, _ := protocol.NewSigned(priv, GenerateReport(options...))
	return signed
}
