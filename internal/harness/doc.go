// Package harness runs YAML scenarios against a fresh store and records a
// deterministic trace for golden comparison.
//
// # Scenario Format
//
//	name: x_then_y
//	description: "A name changes from X to Y"
//	steps:
//	  - transact:
//	      datoms:
//	        - [assert, $a, name, X]
//	    as: t1
//	  - transact:
//	      datoms:
//	        - [retract, $a, name, X]
//	        - [assert, $a, name, Y]
//	  - query:
//	      find: ["?v"]
//	      where:
//	        - ["$a", ":name", "?v"]
//	      as_of: t1
//	    expect:
//	      - "?v": '"X"'
//	  - check: {}
//
// Transactions use the TxDoc format. A "$label" that an earlier step
// resolved names the same entity in later steps; an unknown one is a new
// tempid.
//
// Query terms use the syntax of query.ParseTerm. as_of takes the name a
// transact step gave with "as", or a transaction id; empty means the
// latest basis.
//
// # Expectations
//
//   - expect: the bindings a query returns, in any order
//   - expect_count: the number of bindings
//   - expect_error: the error code a step fails with
//
// A check step fails the scenario when the index families disagree.
//
// # Deterministic Testing
//
// Every run uses testutil.DeterministicClock for db/txInstant and
// testutil.SequenceLabels for anonymous entities, so ids, instants and
// tempids in the trace are stable across runs.
package harness
