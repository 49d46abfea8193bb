package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"github.com/Co-Epi/coepi-core/crypto"
)

// Report is a self-disclosed "I may be contagious" publication. It reveals a
// contiguous hash-chain segment from which any device can recompute the
// tokens the reporting device broadcast during the half-open tick range
// [StartIndex, EndIndex), plus an optional symptom memo. A report is
// immutable once posted.
type Report struct {
	// StartIndex is the first revealed tick index.
	StartIndex uint32 `json:"start_index"`

	// EndIndex is the exclusive end of the revealed tick range.
	// StartIndex == EndIndex denotes an empty segment.
	EndIndex uint32 `json:"end_index"`

	// RevealedSeed is the chain value at StartIndex. Hashing it forward
	// regenerates the rest of the segment.
	RevealedSeed crypto.ChainValue `json:"revealed_seed"`

	// Memo is the encoded symptom payload, empty for a pure exposure
	// disclosure. See the reporting package for the encoding.
	Memo []byte `json:"memo,omitempty"`

	// IntervalNumber is the distribution bucket the report was posted to.
	IntervalNumber uint32 `json:"interval_number"`
}

// SegmentLength returns the number of tokens the report implies.
func (r *Report) SegmentLength() uint32 {
	if r.EndIndex < r.StartIndex {
		return 0
	}
	return r.EndIndex - r.StartIndex
}

// Validate checks the report's structural invariants. maxSegment is the
// longest segment the disclosure window policy permits; anything longer is
// rejected before matching.
func (r *Report) Validate(maxSegment uint32) error {
	if r.EndIndex < r.StartIndex {
		return Protocolf("report end index %d precedes start index %d", r.EndIndex, r.StartIndex)
	}
	if r.EndIndex-r.StartIndex > maxSegment {
		return Protocolf("report segment length %d exceeds maximum %d", r.EndIndex-r.StartIndex, maxSegment)
	}
	return nil
}

// Signed wraps a protocol message with an Ed25519 signature. The signature
// covers the serialized object concatenated with the public key, preventing
// key substitution.
type Signed[T any] struct {
	PublicKey crypto.ReportPublicKey `json:"public_key"`
	Signature crypto.Signature       `json:"signature"`
	Object    *T                     `json:"object"`
}

// NewSigned creates a signed message.
func NewSigned[T any](privkey crypto.ReportPrivateKey, obj *T) (*Signed[T], error) {
	pubkey, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}

	serialized, err := SerializeMessage(obj)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(privkey, append(serialized, pubkey...))
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		PublicKey: pubkey,
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the object without signature verification.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the object and the signer's
// public key.
func (s *Signed[T]) Recover() (*T, crypto.ReportPublicKey, error) {
	serialized, err := SerializeMessage(s.Object)
	if err != nil {
		return nil, nil, err
	}

	if !s.Signature.Verify(s.PublicKey, append(serialized, s.PublicKey...)) {
		return nil, nil, errors.New("signature not valid")
	}

	return s.Object, s.PublicKey, nil
}

// SignedReport is the unit stored by and fetched from the distribution
// service.
type SignedReport = Signed[Report]

// ReportID derives the stable identity of a signed report, used to
// deduplicate alerts across reprocessing. Ed25519 signatures are
// deterministic, so refetching the same report yields the same ID.
func ReportID(r *SignedReport) string {
	sum := sha256.Sum256(r.Signature.Bytes())
	return hex.EncodeToString(sum[:])
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
