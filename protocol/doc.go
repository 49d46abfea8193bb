// Package protocol defines the wire types and shared contracts of the
// contact tracing protocol.
//
// # Protocol Flow
//
// Devices derive a fresh anonymous token for every time tick from a one-way
// hash chain and broadcast it over short-range radio. Devices record tokens
// they observe nearby, together with contact timing and a proximity estimate.
//
// A device that wants to disclose possible contagiousness builds a Report: a
// contiguous chain segment (revealed seed plus index range) and an optional
// symptom memo, signed with an ephemeral key. Reports are posted to an
// untrusted distribution service that buckets them into fixed-width time
// intervals. Other devices periodically fetch the interval buckets they have
// not yet seen, expand each report's segment into the token sequence it
// implies, and intersect it with their local observations. The distribution
// service never learns who reported or who matched.
//
// # Intervals
//
// Interval numbering is wall-clock seconds divided by the interval length, a
// monotonically increasing integer. Clients persist the highest interval they
// fully fetched and resume from the next one; this is the protocol's only
// ordering guarantee.
package protocol
