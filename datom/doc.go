// Package datom defines the data model shared by every layer of the store.
//
// This package contains types only. All other internal packages import datom;
// datom imports nothing internal.
//
// Key design constraints:
//   - Value is a closed variant: Ref, String, Int, Float, Bool, Instant, Bytes
//   - IDs are partitioned (db, tx, user) so allocator spaces never collide
//   - Datoms are values; nothing in the store mutates one after commit
//   - Every error surfaced to callers is an *Error carrying a Code
package datom
