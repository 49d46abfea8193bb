// Package core wires the tracing components into the single surface the host
// application talks to.
//
// Bootstrap opens persistence and builds the chain engine, symptom
// accumulator, report builder, matcher, and sync engine over it. Every
// operation returns an explicit error; nothing in this package panics across
// the boundary. Log and alert sinks registered by the host are served
// asynchronously from a bounded queue, so a slow consumer can never stall
// token recording or matching.
package core
