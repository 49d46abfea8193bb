// Package reporting builds publishable reports from user symptom input and
// the chain engine's revealed history.
//
// Symptom entry is incremental: the UI calls one validated setter per field
// against a single live accumulator, which persists a snapshot after every
// mutation so in-progress entry survives a restart. On submit the raw inputs
// are distilled into the public symptom summary actually shared with other
// users, encoded into a compact versioned memo, bundled with the chain
// segment covering the disclosure window, and signed with an ephemeral key.
//
// A submit with an empty accumulator is a pure exposure disclosure: the
// report carries no memo at all.
package reporting
