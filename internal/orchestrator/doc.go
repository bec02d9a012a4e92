// Package orchestrator coordinates tenant setup and index maintenance.
//
// Every operation walks a fixed state machine:
//
//	PENDING -> METADATA_WRITTEN -> INDEX_REBUILT -> (DOCUMENTS_INDEXED)
//	        -> VERIFYING -> VERIFIED | DEGRADED
//
// Any failure before VERIFYING ends in ROLLED_BACK. Each transition is
// journaled to the metadata store and published as an event.
//
// The relational store is the only input the structured index is built
// from. Callers write rows first (Setup does it itself), then the
// orchestrator reads them back and derives vectors from what it read.
//
// Operations on one tenant are serialized; different tenants run in
// parallel.
package orchestrator
