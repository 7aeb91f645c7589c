package datom

import (
	"fmt"
	"strconv"
)

// ID identifies an entity. Attributes and transactions are entities too.
//
// The high bits carry the partition, the low partitionShift bits a counter:
//
//	id = partition<<42 | counter
type ID int64

// Partition is the high-bit namespace of an ID.
type Partition int64

const partitionShift = 42

// MaxCounter is the largest counter value a partition can hold.
const MaxCounter = int64(1)<<partitionShift - 1

const (
	// PartDB holds the built-in attributes. Its ids are fixed, never allocated.
	PartDB Partition = iota
	// PartTx holds transaction entities.
	PartTx
	// PartUser holds every other allocated entity.
	PartUser
)

// String returns the partition name.
func (p Partition) String() string {
	switch p {
	case PartDB:
		return "db"
	case PartTx:
		return "tx"
	case PartUser:
		return "user"
	default:
		return "part(" + strconv.FormatInt(int64(p), 10) + ")"
	}
}

// MakeID combines a partition and a counter.
// Panics if counter is out of range; callers own the range check.
func MakeID(p Partition, counter int64) ID {
	if counter < 0 || counter > MaxCounter {
		panic(fmt.Sprintf("datom: counter %d out of range for partition %s", counter, p))
	}
	return ID(int64(p)<<partitionShift | counter)
}

// Partition returns the partition the id belongs to.
func (id ID) Partition() Partition {
	return Partition(int64(id) >> partitionShift)
}

// Counter returns the partition-local counter.
func (id ID) Counter() int64 {
	return int64(id) & MaxCounter
}

// PartitionRange returns the smallest and largest id of a partition.
func PartitionRange(p Partition) (lo, hi ID) {
	return MakeID(p, 0), MakeID(p, MaxCounter)
}

// String returns the decimal form of the id.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}
