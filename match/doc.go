// Package match checks downloaded reports against locally observed tokens.
//
// A report reveals a seed and a half-open index range; the matcher expands
// that segment into the tokens the reporter emitted and looks each one up
// in the local observation store. Every hit becomes a persisted alert. The
// matcher is stateless between calls, so reprocessing the same report after
// a crash is safe: alert deduplication lives in the alert store.
package match
