// Package tx implements the transactor: the single serialized writer of
// the datom store.
//
// A transaction request is plain data built with Request's builder
// methods. The transactor resolves tempids and idents, allocates ids,
// stamps every datom with a fresh transaction id, attaches provenance
// datoms to the transaction entity and writes the batch atomically.
//
// Thread-safety: Transactor is safe for concurrent use. Transactions
// queue on a context-aware write lock and commit one at a time.
package tx
