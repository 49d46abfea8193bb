// Package store provides the device-local durable storage for the tracing
// core, backed by LevelDB.
//
// Each component owns one key namespace (chain state, observations, alerts,
// preferences), keyed by component-local identifiers. Every stored value is
// wrapped in a versioned record envelope so a future schema change can
// migrate without data loss.
//
// Observation writes are atomic per token: concurrent radio-scan callbacks
// for the same token serialize on a striped lock, while writes for different
// tokens proceed independently.
package store
