// Package index provides SQLite-backed storage for the datom index families.
//
// The store keeps four redundant sort orders over the same datom set:
//   - EAVT: entity-centric access, complete
//   - AEVT: attribute-centric access, complete
//   - AVET: value lookups, attributes with db/index true only
//   - VAET: reverse references, datoms with a ref value only
//
// Each family is a WITHOUT ROWID table whose primary key is the family
// order followed by the transaction id descending, so the rows for one
// (e, a, v) are contiguous and newest first. A secondary index on the
// transaction id serves per-transaction reads.
//
// # Encoding
//
// A value is stored as a (vt, v) column pair: vt is the datom.Kind tag,
// v is an integer (ref, bool, int, instant nanos), a real (float) or, for
// strings and byte sequences, the surrogate id of a row in the vals
// interning table. A long string repeated across four families and many
// transactions is stored once. Interned content over the configured
// threshold is compressed (zstd or lz4).
//
// # Atomicity
//
// WriteBatch writes every family inside one SQLite transaction. If any
// insert fails the transaction is rolled back, leaving no family written,
// and an INDEX_WRITE error names the failing family.
//
// # Database Configuration
//
//   - WAL mode: readers never block on the writer
//   - One writer connection, a separate read-only pool for scans
//   - busy_timeout: wait for locks instead of failing fast
//
// Scans are lazy iter.Seq2 sequences. Stopping the range loop, or
// cancelling its context, closes the underlying cursor.
package index
