// Package alloc issues entity and transaction ids.
//
// Two spaces are tracked, each mapped to its own id partition so the
// counters are independent yet can never produce the same ID:
//
//   - SpaceTx: transaction entities (partition tx)
//   - SpaceEntity: every other allocated entity (partition user)
//
// Ids are handed out from reserved blocks. The ceiling of a block is
// persisted before any id in it is issued, so after a restart the
// allocator resumes above every id it could have handed out. Unused ids
// in a reserved block are gaps, never reissued.
//
// Thread-safety: Allocator is safe for concurrent use. Each Allocate call
// is linearizable.
package alloc
