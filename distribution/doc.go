// Package distribution moves reports between the device and the report
// distribution service.
//
// Reports are addressed by time interval: the service buckets submissions by
// the interval they were posted in, and clients poll interval by interval
// from a persisted checkpoint. The syncer only advances the checkpoint past
// an interval once the interval has fully elapsed and every report in it was
// matched, so a crash mid-run at worst refetches work that alert
// deduplication makes idempotent.
package distribution
