package reporting

import (
	"fmt"
	"strings"
	"time"
)

// FeverSeverity is the distilled fever grade shared with other users.
type FeverSeverity uint8

// Fever severities. The wire values are part of the memo format and must not
// be reordered.
const (
	FeverNone FeverSeverity = iota
	FeverMild
	FeverSerious
)

// CoughSeverity is the distilled cough grade shared with other users.
type CoughSeverity uint8

// Cough severities. The wire values are part of the memo format and must not
// be reordered.
const (
	CoughNone CoughSeverity = iota
	CoughExisting
	CoughDry
	CoughWet
)

func (f FeverSeverity) String() string {
	switch f {
	case FeverMild:
		return "mild fever"
	case FeverSerious:
		return "serious fever"
	default:
		return "no fever"
	}
}

func (c CoughSeverity) String() string {
	switch c {
	case CoughExisting:
		return "cough"
	case CoughDry:
		return "dry cough"
	case CoughWet:
		return "wet cough"
	default:
		return "no cough"
	}
}

// Fahrenheit thresholds for the fever grades.
const (
	mildFeverThreshold    = 98.6
	seriousFeverThreshold = 100.6
)

// PublicSymptoms is the distilled symptom summary actually published in a
// report's memo. Raw questionnaire inputs never leave the device.
type PublicSymptoms struct {
	// ReportTime is when the report was built, in unix seconds.
	ReportTime uint64

	// EarliestSymptomTime is when the first symptom appeared, if reported.
	EarliestSymptomTime Input[uint64]

	FeverSeverity FeverSeverity
	CoughSeverity CoughSeverity

	CoughDays Input[uint16]
	FeverDays Input[uint16]

	Breathlessness   bool
	MuscleAches      bool
	LossSmellOrTaste bool
	Diarrhea         bool
	RunnyNose        bool
	Other            bool
	NoSymptoms       bool
}

// DistillSymptoms maps raw inputs to the public summary. now anchors the
// report time and the day-counted earliest-symptom conversion.
func DistillSymptoms(inputs SymptomInputs, now time.Time) PublicSymptoms {
	public := PublicSymptoms{
		ReportTime:       uint64(now.Unix()),
		FeverSeverity:    feverSeverity(inputs),
		CoughSeverity:    coughSeverity(inputs),
		CoughDays:        inputs.Cough.Days,
		FeverDays:        inputs.Fever.Days,
		Breathlessness:   inputs.IDs[SymptomBreathlessness],
		MuscleAches:      inputs.IDs[SymptomMuscleAches],
		LossSmellOrTaste: inputs.IDs[SymptomLossSmellOrTaste],
		Diarrhea:         inputs.IDs[SymptomDiarrhea],
		RunnyNose:        inputs.IDs[SymptomRunnyNose],
		Other:            inputs.IDs[SymptomOther],
		NoSymptoms:       inputs.IDs[SymptomNone],
	}

	if inputs.EarliestSymptomDaysAgo.Set {
		daysAgo := time.Duration(inputs.EarliestSymptomDaysAgo.Value) * 24 * time.Hour
		public.EarliestSymptomTime = Some(uint64(now.Add(-daysAgo).Unix()))
	}
	return public
}

// HasContent reports whether the summary carries anything relevant to other
// users. An all-empty summary is omitted from the report entirely.
func (p PublicSymptoms) HasContent() bool {
	return p.FeverSeverity != FeverNone ||
		p.CoughSeverity != CoughNone ||
		p.CoughDays.Set || p.FeverDays.Set ||
		p.EarliestSymptomTime.Set ||
		p.Breathlessness || p.MuscleAches || p.LossSmellOrTaste ||
		p.Diarrhea || p.RunnyNose || p.Other || p.NoSymptoms
}

// Summary renders the symptom summary for display alongside an exposure
// alert.
func (p PublicSymptoms) Summary() string {
	var parts []string
	appendGraded := func(label string, days Input[uint16]) {
		if days.Set {
			label = fmt.Sprintf("%s (%d days)", label, days.Value)
		}
		parts = append(parts, label)
	}
	if p.CoughSeverity != CoughNone || p.CoughDays.Set {
		label := p.CoughSeverity.String()
		if p.CoughSeverity == CoughNone {
			label = "cough"
		}
		appendGraded(label, p.CoughDays)
	}
	if p.FeverSeverity != FeverNone || p.FeverDays.Set {
		label := p.FeverSeverity.String()
		if p.FeverSeverity == FeverNone {
			label = "fever"
		}
		appendGraded(label, p.FeverDays)
	}
	if p.Breathlessness {
		parts = append(parts, "breathlessness")
	}
	if p.MuscleAches {
		parts = append(parts, "muscle aches")
	}
	if p.LossSmellOrTaste {
		parts = append(parts, "loss of smell or taste")
	}
	if p.Diarrhea {
		parts = append(parts, "diarrhea")
	}
	if p.RunnyNose {
		parts = append(parts, "runny nose")
	}
	if p.Other {
		parts = append(parts, "other symptoms")
	}
	if len(parts) == 0 {
		if p.NoSymptoms {
			return "no symptoms reported"
		}
		return "no symptom details"
	}
	return strings.Join(parts, ", ")
}

func feverSeverity(inputs SymptomInputs) FeverSeverity {
	if !inputs.Fever.HighestTemperature.Set {
		return FeverNone
	}
	switch temp := inputs.Fever.HighestTemperature.Value; {
	case temp > seriousFeverThreshold:
		return FeverSerious
	case temp > mildFeverThreshold:
		return FeverMild
	default:
		return FeverNone
	}
}

func coughSeverity(inputs SymptomInputs) CoughSeverity {
	if inputs.Cough.Type.Set {
		if inputs.Cough.Type.Value == CoughTypeWet {
			return CoughWet
		}
		return CoughDry
	}
	if inputs.IDs[SymptomCough] {
		return CoughExisting
	}
	return CoughNone
}
