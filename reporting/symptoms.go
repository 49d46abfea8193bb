package reporting

import (
	"encoding/json"
	"sync"

	"github.com/Co-Epi/coepi-core/protocol"
)

// Input is a user-provided optional value: symptom fields are tri-state
// (unanswered, answered-no, answered-with-value) and the distinction matters
// to the report consumer.
type Input[T any] struct {
	Set   bool `json:"set"`
	Value T    `json:"value"`
}

// Some wraps a provided value.
func Some[T any](value T) Input[T] {
	return Input[T]{Set: true, Value: value}
}

// None is the unanswered input.
func None[T any]() Input[T] {
	return Input[T]{}
}

// SymptomID is a free-form symptom selection from the questionnaire's
// checklist.
type SymptomID string

// Recognized symptom ids.
const (
	SymptomCough            SymptomID = "cough"
	SymptomBreathlessness   SymptomID = "breathlessness"
	SymptomFever            SymptomID = "fever"
	SymptomMuscleAches      SymptomID = "muscle_aches"
	SymptomLossSmellOrTaste SymptomID = "loss_smell_or_taste"
	SymptomDiarrhea         SymptomID = "diarrhea"
	SymptomRunnyNose        SymptomID = "runny_nose"
	SymptomOther            SymptomID = "other"
	SymptomNone             SymptomID = "none"
)

var validSymptomIDs = map[SymptomID]bool{
	SymptomCough: true, SymptomBreathlessness: true, SymptomFever: true,
	SymptomMuscleAches: true, SymptomLossSmellOrTaste: true, SymptomDiarrhea: true,
	SymptomRunnyNose: true, SymptomOther: true, SymptomNone: true,
}

// CoughType distinguishes the reported cough quality.
type CoughType string

// Cough types.
const (
	CoughTypeWet CoughType = "wet"
	CoughTypeDry CoughType = "dry"
)

// CoughStatus describes the cough's progression.
type CoughStatus string

// Cough statuses.
const (
	CoughStatusBetterAndWorseThroughDay CoughStatus = "better_and_worse"
	CoughStatusWorseWhenOutside         CoughStatus = "worse_outside"
	CoughStatusSameOrSteadilyWorse      CoughStatus = "same_steadily_worse"
)

// BreathlessnessCause is the activity level at which breathlessness occurs.
type BreathlessnessCause string

// Breathlessness causes, ordered by increasing exertion.
const (
	CauseLeavingHouseOrDressing    BreathlessnessCause = "leaving_house_or_dressing"
	CauseWalkingYardsOrMinsOnGround BreathlessnessCause = "walking_yards_or_mins_on_ground"
	CauseGroundOwnPace             BreathlessnessCause = "ground_own_pace"
	CauseHurryOrHill               BreathlessnessCause = "hurry_or_hill"
	CauseExercise                  BreathlessnessCause = "exercise"
)

// TemperatureSpot is where the temperature reading was taken.
type TemperatureSpot string

// Temperature spots.
const (
	SpotMouth  TemperatureSpot = "mouth"
	SpotEar    TemperatureSpot = "ear"
	SpotArmpit TemperatureSpot = "armpit"
	SpotOther  TemperatureSpot = "other"
)

// maxSymptomDays bounds day-count inputs; anything larger is treated as an
// entry mistake rather than silently accepted.
const maxSymptomDays = 90

// Fahrenheit bounds for a plausible body temperature reading.
const (
	minTemperature = 80.0
	maxTemperature = 112.0
)

// SymptomInputs is the raw, in-progress questionnaire state. It is a plain
// data carrier; all validation happens in the accumulator's setters.
type SymptomInputs struct {
	IDs map[SymptomID]bool `json:"ids"`

	Cough struct {
		Type   Input[CoughType]   `json:"type"`
		Days   Input[uint16]      `json:"days"`
		Status Input[CoughStatus] `json:"status"`
	} `json:"cough"`

	Breathlessness struct {
		Cause Input[BreathlessnessCause] `json:"cause"`
	} `json:"breathlessness"`

	Fever struct {
		Days                  Input[uint16]          `json:"days"`
		TakenTemperatureToday Input[bool]            `json:"taken_temperature_today"`
		TemperatureSpot       Input[TemperatureSpot] `json:"temperature_spot"`
		HighestTemperature    Input[float64]         `json:"highest_temperature"`
	} `json:"fever"`

	EarliestSymptomDaysAgo Input[uint16] `json:"earliest_symptom_days_ago"`
}

func emptyInputs() SymptomInputs {
	return SymptomInputs{IDs: make(map[SymptomID]bool)}
}

// SnapshotStore persists the accumulator between mutations.
type SnapshotStore interface {
	SymptomSnapshot() ([]byte, bool, error)
	SetSymptomSnapshot(snapshot []byte) error
	ClearSymptomSnapshot() error
}

// Accumulator is the single live symptom record per device. Setters validate
// their own constraints; last write wins. The accumulator is single-writer
// (one foreground caller at a time), the lock only prevents a torn snapshot.
type Accumulator struct {
	store SnapshotStore

	mu     sync.Mutex
	inputs SymptomInputs
}

// NewAccumulator restores the accumulator from its persisted snapshot, or
// starts empty.
func NewAccumulator(store SnapshotStore) (*Accumulator, error) {
	a := &Accumulator{store: store, inputs: emptyInputs()}

	snapshot, found, err := a.store.SymptomSnapshot()
	if err != nil {
		return nil, err
	}
	if found {
		if err := json.Unmarshal(snapshot, &a.inputs); err != nil {
			return nil, protocol.Storagef("decode symptom snapshot", err)
		}
		if a.inputs.IDs == nil {
			a.inputs.IDs = make(map[SymptomID]bool)
		}
	}
	return a, nil
}

// mutate applies fn under the lock and persists the updated snapshot.
func (a *Accumulator) mutate(fn func(*SymptomInputs)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.inputs)

	snapshot, err := json.Marshal(a.inputs)
	if err != nil {
		return protocol.Storagef("encode symptom snapshot", err)
	}
	return a.store.SetSymptomSnapshot(snapshot)
}

// SetSymptomIDs replaces the symptom checklist selection.
func (a *Accumulator) SetSymptomIDs(ids []SymptomID) error {
	selected := make(map[SymptomID]bool, len(ids))
	for _, id := range ids {
		if !validSymptomIDs[id] {
			return protocol.Validationf("symptom_ids", "unknown symptom id %q", id)
		}
		selected[id] = true
	}
	return a.mutate(func(in *SymptomInputs) { in.IDs = selected })
}

// SetCoughType sets the cough quality; empty string clears it.
func (a *Accumulator) SetCoughType(coughType string) error {
	input, err := parseEnum(coughType, "cough_type", CoughTypeWet, CoughTypeDry)
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.Cough.Type = input })
}

// SetCoughStatus sets the cough progression; empty string clears it.
func (a *Accumulator) SetCoughStatus(status string) error {
	input, err := parseEnum(status, "cough_status",
		CoughStatusBetterAndWorseThroughDay, CoughStatusWorseWhenOutside, CoughStatusSameOrSteadilyWorse)
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.Cough.Status = input })
}

// SetCoughDays sets for how many days the cough has lasted.
func (a *Accumulator) SetCoughDays(isSet bool, days uint16) error {
	input, err := daysInput(isSet, days, "cough_days")
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.Cough.Days = input })
}

// SetBreathlessnessCause sets the exertion level; empty string clears it.
func (a *Accumulator) SetBreathlessnessCause(cause string) error {
	input, err := parseEnum(cause, "breathlessness_cause",
		CauseLeavingHouseOrDressing, CauseWalkingYardsOrMinsOnGround,
		CauseGroundOwnPace, CauseHurryOrHill, CauseExercise)
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.Breathlessness.Cause = input })
}

// SetFeverDays sets for how many days the fever has lasted.
func (a *Accumulator) SetFeverDays(isSet bool, days uint16) error {
	input, err := daysInput(isSet, days, "fever_days")
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.Fever.Days = input })
}

// SetFeverTakenTemperatureToday records whether a temperature was taken today.
func (a *Accumulator) SetFeverTakenTemperatureToday(isSet, taken bool) error {
	input := None[bool]()
	if isSet {
		input = Some(taken)
	}
	return a.mutate(func(in *SymptomInputs) { in.Fever.TakenTemperatureToday = input })
}

// SetFeverTakenTemperatureSpot sets where the reading was taken; empty
// string clears it.
func (a *Accumulator) SetFeverTakenTemperatureSpot(spot string) error {
	input, err := parseEnum(spot, "temperature_spot", SpotMouth, SpotEar, SpotArmpit, SpotOther)
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.Fever.TemperatureSpot = input })
}

// SetFeverHighestTemperatureTaken sets the highest reading, in Fahrenheit.
func (a *Accumulator) SetFeverHighestTemperatureTaken(isSet bool, temperature float64) error {
	input := None[float64]()
	if isSet {
		if temperature < minTemperature || temperature > maxTemperature {
			return protocol.Validationf("highest_temperature",
				"must be in [%g, %g] °F, got %g", minTemperature, maxTemperature, temperature)
		}
		input = Some(temperature)
	}
	return a.mutate(func(in *SymptomInputs) { in.Fever.HighestTemperature = input })
}

// SetEarliestSymptomStartedDaysAgo records when the first symptom appeared.
func (a *Accumulator) SetEarliestSymptomStartedDaysAgo(isSet bool, days uint16) error {
	input, err := daysInput(isSet, days, "earliest_symptom_days_ago")
	if err != nil {
		return err
	}
	return a.mutate(func(in *SymptomInputs) { in.EarliestSymptomDaysAgo = input })
}

// Clear resets the accumulator to empty and drops the persisted snapshot.
func (a *Accumulator) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inputs = emptyInputs()
	return a.store.ClearSymptomSnapshot()
}

// Snapshot returns a copy of the current inputs.
func (a *Accumulator) Snapshot() SymptomInputs {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := a.inputs
	snapshot.IDs = make(map[SymptomID]bool, len(a.inputs.IDs))
	for id := range a.inputs.IDs {
		snapshot.IDs[id] = true
	}
	return snapshot
}

func daysInput(isSet bool, days uint16, field string) (Input[uint16], error) {
	if !isSet {
		return None[uint16](), nil
	}
	if days > maxSymptomDays {
		return Input[uint16]{}, protocol.Validationf(field, "must be at most %d days, got %d", maxSymptomDays, days)
	}
	return Some(days), nil
}

func parseEnum[T ~string](raw, field string, allowed ...T) (Input[T], error) {
	if raw == "" || raw == "none" {
		return None[T](), nil
	}
	for _, v := range allowed {
		if T(raw) == v {
			return Some(v), nil
		}
	}
	return Input[T]{}, protocol.Validationf(field, "not supported: %q", raw)
}
