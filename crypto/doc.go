// Package crypto provides the cryptographic primitives for the contact
// tracing protocol.
//
// This package implements the hash-chain construction from which rotating
// broadcast tokens are derived, and the report signing primitives:
//
//   - One-way hash chains seeded from a per-epoch root secret (HKDF-SHA256
//     for the seed derivation, SHA-256 for the chain step)
//   - Token derivation via an independent one-way tag transform (SHA3-256
//     with the tick index bound into the input)
//   - Ephemeral Ed25519 signing keys for report authentication
//
// The chain guarantees forward-only derivation: given a chain value v[i],
// any later value v[j] (j > i) can be recomputed, but no earlier value can.
// A token never reveals the chain value it was derived from, and a pair of
// adjacent tokens reveals nothing about the chain, because the tag transform
// is a distinct one-way function from the chain step.
//
// # Segment Expansion
//
// A report reveals a contiguous chain segment as (revealedSeed, start, end).
// ExpandSegment recomputes the tokens implied by the half-open index range
// [start, end) from the seed alone, which is all a matching device needs.
package crypto
