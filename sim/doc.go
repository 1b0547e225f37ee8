// Package sim provides the discrete-time GPU data centre simulation engine.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - simulator.go: the tick loop, subsystem ordering, and the action surface
//   - state.go: FacilityState, the per-tick snapshot every consumer reads
//   - config.go: facility geometry and tunables, YAML layering over defaults
//
// # Architecture
//
// One tick advances the clock and then steps every subsystem in a fixed
// order: failures, workload, power, thermal, GPU, network, storage, cooling,
// carbon. Each model reads the facility registry and the snapshot sections
// published before it, so heat follows power and cooling follows heat. The
// finished snapshot lands in the telemetry ring and the optional JSONL sink.
//
// All randomness flows through PartitionedRNG: each subsystem draws from its
// own seeded stream, so one subsystem consuming more entropy never perturbs
// another and a Reset replays the run bit for bit.
//
// Mutating operations (job submission, cooling setpoints, GPU throttles,
// failure injection and resolution) validate against the registry, return a
// *DomainError carrying the error kind on rejection, and append to the audit
// log either way.
//
// The evaluation harness in sim/eval drives agents through fixed scenarios
// and scores runs; the HTTP surface in sim/api exposes both the live
// simulator and the harness.
package sim
