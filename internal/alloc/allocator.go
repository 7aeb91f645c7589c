package alloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/polyneme/maggtomic/datom"
)

// Space selects an id counter.
type Space uint8

const (
	// SpaceTx issues transaction ids.
	SpaceTx Space = iota
	// SpaceEntity issues entity ids.
	SpaceEntity
)

// Spaces lists every space.
var Spaces = []Space{SpaceTx, SpaceEntity}

// String returns the persisted name of the space.
func (s Space) String() string {
	if s == SpaceTx {
		return "tx"
	}
	return "entity"
}

// Partition returns the id partition the space allocates in.
func (s Space) Partition() datom.Partition {
	if s == SpaceTx {
		return datom.PartTx
	}
	return datom.PartUser
}

// Persister stores high-water marks durably and reports what is on disk.
// Counters are partition-local (see datom.ID.Counter).
type Persister interface {
	// LoadHighWater returns the persisted mark; ok is false if none exists.
	LoadHighWater(ctx context.Context, space Space) (mark int64, ok bool, err error)

	// StoreHighWater durably records a new mark. Marks only ever grow.
	StoreHighWater(ctx context.Context, space Space, mark int64) error

	// MaxIssued returns the highest counter of the space's partition found
	// in any datom position, or 0 if none.
	MaxIssued(ctx context.Context, space Space) (int64, error)
}

// DefaultBlock is the number of ids reserved per persisted mark.
const DefaultBlock = 64

type counter struct {
	last    int64 // last issued counter
	ceiling int64 // persisted reservation
}

// Allocator hands out fresh ids. Create with Open.
type Allocator struct {
	mu     sync.Mutex
	p      Persister
	block  int64
	spaces [2]counter
}

// Open reads back the persisted high-water marks and checks them against
// the datoms on disk.
//
// Returns an ALLOCATOR_CORRUPTION error if a mark is missing while ids of
// its partition exist, or if a mark is below the highest id present.
func Open(ctx context.Context, p Persister, block int) (*Allocator, error) {
	if block <= 0 {
		block = DefaultBlock
	}
	a := &Allocator{p: p, block: int64(block)}

	for _, s := range Spaces {
		mark, ok, err := p.LoadHighWater(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("open allocator: load %s mark: %w", s, err)
		}
		maxIssued, err := p.MaxIssued(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("open allocator: scan %s ids: %w", s, err)
		}

		if !ok && maxIssued > 0 {
			return nil, datom.NewAllocatorCorruption(
				"no %s high-water mark recorded but ids up to %d exist", s, maxIssued)
		}
		if maxIssued > mark {
			return nil, datom.NewAllocatorCorruption(
				"%s high-water mark %d is below highest stored id %d", s, mark, maxIssued)
		}

		a.spaces[s] = counter{last: mark, ceiling: mark}
	}

	return a, nil
}

// Allocate returns n fresh ids of the space, strictly increasing.
// Nothing is issued if the reservation cannot be persisted.
func (a *Allocator) Allocate(ctx context.Context, space Space, n int) ([]datom.ID, error) {
	if n <= 0 {
		return nil, fmt.Errorf("allocate %s: count must be positive, got %d", space, n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := &a.spaces[space]
	want := c.last + int64(n)
	if want > datom.MaxCounter {
		return nil, fmt.Errorf("allocate %s: partition exhausted", space)
	}

	if want > c.ceiling {
		ceiling := min(max(want, c.last+a.block), datom.MaxCounter)
		if err := a.p.StoreHighWater(ctx, space, ceiling); err != nil {
			return nil, fmt.Errorf("allocate %s: reserve block: %w", space, err)
		}
		c.ceiling = ceiling
	}

	ids := make([]datom.ID, n)
	for i := range ids {
		c.last++
		ids[i] = datom.MakeID(space.Partition(), c.last)
	}
	return ids, nil
}

// AllocateOne is Allocate for a single id.
func (a *Allocator) AllocateOne(ctx context.Context, space Space) (datom.ID, error) {
	ids, err := a.Allocate(ctx, space, 1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// Peek returns the last issued counter without allocating.
func (a *Allocator) Peek(space Space) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spaces[space].last
}

// Reserved returns the persisted ceiling of the space.
func (a *Allocator) Reserved(space Space) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spaces[space].ceiling
}
