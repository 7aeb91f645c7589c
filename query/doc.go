// Package query evaluates datom patterns against the index families.
//
// A query is a conjunction of patterns over the four datom positions
// (entity, attribute, value, transaction). Each position is a literal, a
// variable or a blank. Patterns are joined left to right with a nested
// loop after a greedy reordering that runs the most-bound pattern first;
// variables bound by earlier patterns become literals of later ones.
//
// Every pattern is answered from the index family whose sort order has
// the longest literal-bound prefix. Results honor an as-of transaction:
// only datoms committed at or before it, and not retracted by then, match.
// Cardinality-one attributes additionally match only their current value.
package query
