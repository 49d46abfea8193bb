package reporting

import (
	"encoding/binary"

	"github.com/Co-Epi/coepi-core/protocol"
)

// Memo wire format, version 1. All integers little-endian:
//
//	[0]    version
//	[1:9]  report time, unix seconds
//	[9]    flag bits
//	[10]   second flag byte
//	[11]   cough severity
//	[12]   fever severity
//	...    optional fields in flag-bit order: cough days (u16),
//	       fever days (u16), earliest symptom time (u64)
const memoVersion byte = 1

const (
	flagEarliest = 1 << iota
	flagCoughDays
	flagFeverDays
	flagBreathlessness
	flagMuscleAches
	flagLossSmellOrTaste
	flagDiarrhea
	flagRunnyNose
)

// The flag byte ran out of bits; version 1 packs the last two booleans into
// a second byte.
const (
	flag2Other = 1 << iota
	flag2NoSymptoms
)

// EncodeMemo serializes a public symptom summary into the compact memo
// carried by a report.
func EncodeMemo(p PublicSymptoms) []byte {
	var flags, flags2 byte
	setFlag := func(cond bool, flag byte, target *byte) {
		if cond {
			*target |= flag
		}
	}
	setFlag(p.EarliestSymptomTime.Set, flagEarliest, &flags)
	setFlag(p.CoughDays.Set, flagCoughDays, &flags)
	setFlag(p.FeverDays.Set, flagFeverDays, &flags)
	setFlag(p.Breathlessness, flagBreathlessness, &flags)
	setFlag(p.MuscleAches, flagMuscleAches, &flags)
	setFlag(p.LossSmellOrTaste, flagLossSmellOrTaste, &flags)
	setFlag(p.Diarrhea, flagDiarrhea, &flags)
	setFlag(p.RunnyNose, flagRunnyNose, &flags)
	setFlag(p.Other, flag2Other, &flags2)
	setFlag(p.NoSymptoms, flag2NoSymptoms, &flags2)

	memo := make([]byte, 0, 32)
	memo = append(memo, memoVersion)
	memo = binary.LittleEndian.AppendUint64(memo, p.ReportTime)
	memo = append(memo, flags, flags2, byte(p.CoughSeverity), byte(p.FeverSeverity))

	if p.CoughDays.Set {
		memo = binary.LittleEndian.AppendUint16(memo, p.CoughDays.Value)
	}
	if p.FeverDays.Set {
		memo = binary.LittleEndian.AppendUint16(memo, p.FeverDays.Value)
	}
	if p.EarliestSymptomTime.Set {
		memo = binary.LittleEndian.AppendUint64(memo, p.EarliestSymptomTime.Value)
	}
	return memo
}

// memoReader consumes the memo byte stream with bounds checking.
type memoReader struct {
	data []byte
	pos  int
}

func (r *memoReader) take(n int) ([]byte, bool) {
	if r.pos+n > len(r.data) {
		return nil, false
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

// DecodeMemo parses a memo back into the public symptom summary. Truncated
// or unversioned memos are rejected as ValidationError; matching proceeds
// without the memo in that case.
func DecodeMemo(memo []byte) (PublicSymptoms, error) {
	r := &memoReader{data: memo}

	header, ok := r.take(13)
	if !ok {
		return PublicSymptoms{}, protocol.Validationf("memo", "truncated header: %d bytes", len(memo))
	}
	if header[0] != memoVersion {
		return PublicSymptoms{}, protocol.Validationf("memo", "unknown version %d", header[0])
	}

	flags, flags2 := header[9], header[10]
	cough, fever := CoughSeverity(header[11]), FeverSeverity(header[12])
	if cough > CoughWet {
		return PublicSymptoms{}, protocol.Validationf("memo", "invalid cough severity %d", cough)
	}
	if fever > FeverSerious {
		return PublicSymptoms{}, protocol.Validationf("memo", "invalid fever severity %d", fever)
	}

	p := PublicSymptoms{
		ReportTime:       binary.LittleEndian.Uint64(header[1:9]),
		CoughSeverity:    cough,
		FeverSeverity:    fever,
		Breathlessness:   flags&flagBreathlessness != 0,
		MuscleAches:      flags&flagMuscleAches != 0,
		LossSmellOrTaste: flags&flagLossSmellOrTaste != 0,
		Diarrhea:         flags&flagDiarrhea != 0,
		RunnyNose:        flags&flagRunnyNose != 0,
		Other:            flags2&flag2Other != 0,
		NoSymptoms:       flags2&flag2NoSymptoms != 0,
	}

	if flags&flagCoughDays != 0 {
		raw, ok := r.take(2)
		if !ok {
			return PublicSymptoms{}, protocol.Validationf("memo", "truncated cough days")
		}
		p.CoughDays = Some(binary.LittleEndian.Uint16(raw))
	}
	if flags&flagFeverDays != 0 {
		raw, ok := r.take(2)
		if !ok {
			return PublicSymptoms{}, protocol.Validationf("memo", "truncated fever days")
		}
		p.FeverDays = Some(binary.LittleEndian.Uint16(raw))
	}
	if flags&flagEarliest != 0 {
		raw, ok := r.take(8)
		if !ok {
			return PublicSymptoms{}, protocol.Validationf("memo", "truncated earliest symptom time")
		}
		p.EarliestSymptomTime = Some(binary.LittleEndian.Uint64(raw))
	}
	return p, nil
}
