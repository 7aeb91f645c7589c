package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/polyneme/maggtomic/datom"
)

// SetStats summarizes a set of index rows independently of their order.
type SetStats struct {
	Rows     int64
	Digest   uint64 // wrapping sum of per-row hashes
	Entities *roaring64.Bitmap
}

func newSetStats() SetStats {
	return SetStats{Entities: roaring64.New()}
}

func (s *SetStats) add(r row, h uint64) {
	s.Rows++
	s.Digest += h
	s.Entities.Add(uint64(r.e))
}

// Equal reports whether two summaries describe the same row set.
func (s SetStats) Equal(o SetStats) bool {
	return s.Rows == o.Rows && s.Digest == o.Digest && s.Entities.Equals(o.Entities)
}

// Report is the result of CheckConsistency.
type Report struct {
	AsOf datom.ID

	// Families holds the rows of each family that the family must contain.
	Families map[datom.Family]SetStats

	// Problems lists every disagreement found. Empty means consistent.
	Problems []string
}

// OK reports whether all families agree.
func (r Report) OK() bool { return len(r.Problems) == 0 }

// CheckConsistency verifies that the four families hold the same committed
// datoms as of asOf: AEVT equals EAVT, AVET equals EAVT restricted to
// indexed attributes, VAET equals EAVT restricted to ref values.
//
// The families are read concurrently from the read pool.
func (s *Store) CheckConsistency(ctx context.Context, attrs AttrView, asOf datom.ID) (Report, error) {
	if err := s.checkOpen(); err != nil {
		return Report{}, err
	}
	var (
		eavtAll, eavtIndexed, eavtRefs = newSetStats(), newSetStats(), newSetStats()
		aevtAll, avetIndexed, vaetAll  = newSetStats(), newSetStats(), newSetStats()
		vaetNonRef                     int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.eachRawRow(gctx, datom.EAVT, asOf, func(r row, h uint64) {
			eavtAll.add(r, h)
			if attrs.Indexed(datom.ID(r.a)) {
				eavtIndexed.add(r, h)
			}
			if r.vt == int64(datom.KindRef) {
				eavtRefs.add(r, h)
			}
		})
	})
	g.Go(func() error {
		return s.eachRawRow(gctx, datom.AEVT, asOf, func(r row, h uint64) {
			aevtAll.add(r, h)
		})
	})
	g.Go(func() error {
		return s.eachRawRow(gctx, datom.AVET, asOf, func(r row, h uint64) {
			// Rows of attributes no longer indexed are left in place and ignored.
			if attrs.Indexed(datom.ID(r.a)) {
				avetIndexed.add(r, h)
			}
		})
	})
	g.Go(func() error {
		return s.eachRawRow(gctx, datom.VAET, asOf, func(r row, h uint64) {
			vaetAll.add(r, h)
			if r.vt != int64(datom.KindRef) {
				vaetNonRef++
			}
		})
	})
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("check consistency: %w", err)
	}

	rep := Report{
		AsOf: asOf,
		Families: map[datom.Family]SetStats{
			datom.EAVT: eavtAll,
			datom.AEVT: aevtAll,
			datom.AVET: avetIndexed,
			datom.VAET: vaetAll,
		},
	}
	compare := func(name string, want, got SetStats) {
		if want.Equal(got) {
			return
		}
		rep.Problems = append(rep.Problems, fmt.Sprintf(
			"%s: expected %d rows over %d entities, found %d rows over %d entities",
			name, want.Rows, want.Entities.GetCardinality(), got.Rows, got.Entities.GetCardinality()))
		if missing := roaring64.AndNot(want.Entities, got.Entities); !missing.IsEmpty() {
			rep.Problems = append(rep.Problems, fmt.Sprintf("%s: %d entities missing", name, missing.GetCardinality()))
		}
	}
	compare("AEVT", eavtAll, aevtAll)
	compare("AVET", eavtIndexed, avetIndexed)
	compare("VAET", eavtRefs, vaetAll)
	if vaetNonRef > 0 {
		rep.Problems = append(rep.Problems, fmt.Sprintf("VAET: %d rows with a non-ref value", vaetNonRef))
	}
	return rep, nil
}

// eachRawRow streams a family's physical rows with t <= asOf, undecoded.
func (s *Store) eachRawRow(ctx context.Context, f datom.Family, asOf datom.ID, fn func(row, uint64)) error {
	rows, err := s.rdb.QueryContext(ctx,
		fmt.Sprintf(`SELECT e, a, vt, v, t, op FROM %s WHERE t <= ?`, f.Table()), int64(asOf))
	if err != nil {
		return fmt.Errorf("read %s: %w", f, err)
	}
	defer rows.Close()

	var buf [48]byte
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.e, &r.a, &r.vt, &r.v, &r.t, &r.op); err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		fn(r, hashRow(&buf, r))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", f, err)
	}
	return nil
}

func hashRow(buf *[48]byte, r row) uint64 {
	var v uint64
	switch x := r.v.(type) {
	case int64:
		v = uint64(x)
	case float64:
		v = math.Float64bits(x)
	}
	binary.LittleEndian.PutUint64(buf[0:], uint64(r.e))
	binary.LittleEndian.PutUint64(buf[8:], uint64(r.a))
	binary.LittleEndian.PutUint64(buf[16:], uint64(r.vt))
	binary.LittleEndian.PutUint64(buf[24:], v)
	binary.LittleEndian.PutUint64(buf[32:], uint64(r.t))
	binary.LittleEndian.PutUint64(buf[40:], uint64(r.op))
	return xxhash.Sum64(buf[:])
}

// Counts reports physical sizes.
type Counts struct {
	Rows        map[datom.Family]int64
	Interned    int64 // rows in vals
	RawBytes    int64 // uncompressed interned content
	StoredBytes int64 // interned content as stored
}

// Counts returns row counts per family and interning statistics.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	if err := s.checkOpen(); err != nil {
		return Counts{}, err
	}
	c := Counts{Rows: make(map[datom.Family]int64, len(datom.Families))}
	for _, f := range datom.Families {
		var n int64
		if err := s.rdb.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, f.Table())).Scan(&n); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", f, err)
		}
		c.Rows[f] = n
	}
	err := s.rdb.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(LENGTH(content)), 0) FROM vals`,
	).Scan(&c.Interned, &c.RawBytes, &c.StoredBytes)
	if err != nil {
		return Counts{}, fmt.Errorf("count vals: %w", err)
	}
	return c, nil
}
