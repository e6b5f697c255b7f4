// Package ir provides the data types that flow through the differential
// testing pipeline.
//
// A run moves values through four stages, each owned by a different package:
//
//	SeedProgram -> CandidateProgram -> InstrumentedProgram -> ExecutionRecord
//
// Two ExecutionRecords produced from the same InstrumentedProgram are compared
// into a DiffVerdict. Confirmed mismatches become BugRecords; asymmetric
// crashes and timeouts become StabilityFindings.
//
// This package contains type definitions, canonical JSON and content hashing
// only. All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere. PHP floats travel as strings produced by the
//     probe runtime, so equality never depends on Go float formatting.
//   - Content-addressed IDs (seeds, bugs, divergence signatures) are SHA-256
//     over canonical JSON with a domain prefix.
//   - All JSON tags use snake_case.
//   - Values are immutable once produced. Stages build new values instead of
//     editing the ones they receive.
package ir
