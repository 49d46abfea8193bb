package protocol

import "time"

// DefaultIntervalLength is the width of a report distribution bucket in
// seconds. Six hours keeps bucket counts small while bounding how much a
// client re-downloads after a checkpoint loss.
const DefaultIntervalLength uint32 = 21600

// Interval addresses one fixed-width time bucket of the report distribution
// service. Buckets are disjoint: interval n covers the half-open range
// [n*Length, (n+1)*Length) in unix seconds.
type Interval struct {
	// Number is the bucket index, unix seconds divided by Length.
	Number uint32 `json:"number"`

	// Length is the bucket width in seconds.
	Length uint32 `json:"length"`
}

// IntervalForTime returns the interval containing the given instant.
func IntervalForTime(t time.Time, length uint32) Interval {
	return Interval{Number: uint32(uint64(t.Unix()) / uint64(length)), Length: length}
}

// Next returns the immediately following interval.
func (i Interval) Next() Interval {
	return Interval{Number: i.Number + 1, Length: i.Length}
}

// Start returns the inclusive start of the interval in unix seconds.
func (i Interval) Start() uint64 {
	return uint64(i.Number) * uint64(i.Length)
}

// End returns the exclusive end of the interval in unix seconds.
func (i Interval) End() uint64 {
	return i.Start() + uint64(i.Length)
}

// StartsBefore reports whether the interval starts strictly before t.
func (i Interval) StartsBefore(t time.Time) bool {
	return i.Start() < uint64(t.Unix())
}

// EndsBefore reports whether the interval ends strictly before t, i.e. the
// bucket can no longer receive reports and is safe to checkpoint.
func (i Interval) EndsBefore(t time.Time) bool {
	return i.End() < uint64(t.Unix())
}

// IntervalsUntil enumerates the intervals from `from` (inclusive) through the
// interval containing t. This is the fetch sequence for a sync run.
func IntervalsUntil(from Interval, t time.Time) []Interval {
	var out []Interval
	for cur := from; cur.StartsBefore(t); cur = cur.Next() {
		out = append(out, cur)
	}
	return out
}
