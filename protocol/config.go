package protocol

import (
	"fmt"
	"time"
)

// TraceConfig provides the protocol parameters shared by all components.
// The zero value is not usable; start from DefaultTraceConfig.
type TraceConfig struct {
	// TickInterval is the token rotation cadence. One token is broadcast
	// per tick.
	TickInterval time.Duration `json:"tick_interval,string" yaml:"tick_interval"`

	// EpochDays is the root secret rotation period in days. Rotation
	// happens at UTC midnight once the epoch is at least this old, which
	// bounds the blast radius of a future secret compromise.
	EpochDays int `json:"epoch_days" yaml:"epoch_days"`

	// DisclosureWindowDays is how many days of chain history a report
	// reveals. It also caps the segment length accepted from the network.
	DisclosureWindowDays int `json:"disclosure_window_days" yaml:"disclosure_window_days"`

	// RetentionDays is the rolling window after which local observations
	// are purged.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// IntervalLength is the report distribution bucket width in seconds.
	IntervalLength uint32 `json:"interval_length" yaml:"interval_length"`
}

// DefaultTraceConfig returns the documented protocol defaults: 15-minute
// ticks, 14-day epochs and disclosure window, 14-day retention, 6-hour
// distribution buckets.
func DefaultTraceConfig() *TraceConfig {
	return &TraceConfig{
		TickInterval:         15 * time.Minute,
		EpochDays:            14,
		DisclosureWindowDays: 14,
		RetentionDays:        14,
		IntervalLength:       DefaultIntervalLength,
	}
}

// Validate checks the configuration for usability. The disclosure window may
// not exceed the epoch length: a report reveals a single segment, and a
// segment cannot cross an epoch rotation.
func (c *TraceConfig) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	}
	if c.EpochDays <= 0 {
		return fmt.Errorf("epoch days must be positive, got %d", c.EpochDays)
	}
	if c.DisclosureWindowDays <= 0 || c.DisclosureWindowDays > c.EpochDays {
		return fmt.Errorf("disclosure window must be in 1..%d days, got %d", c.EpochDays, c.DisclosureWindowDays)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", c.RetentionDays)
	}
	if c.IntervalLength == 0 {
		return fmt.Errorf("interval length must be positive")
	}
	return nil
}

// TicksPerDay returns how many tokens a device emits per day.
func (c *TraceConfig) TicksPerDay() uint32 {
	return uint32(24 * time.Hour / c.TickInterval)
}

// MaxSegmentLength returns the longest chain segment a report may reveal:
// the disclosure window expressed in ticks.
func (c *TraceConfig) MaxSegmentLength() uint32 {
	return uint32(c.DisclosureWindowDays) * c.TicksPerDay()
}
