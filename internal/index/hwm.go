package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/alloc"
)

var _ alloc.Persister = (*Store)(nil)

// LoadHighWater implements alloc.Persister.
func (s *Store) LoadHighWater(ctx context.Context, space alloc.Space) (int64, bool, error) {
	var mark int64
	err := s.db.QueryRowContext(ctx, `SELECT mark FROM hwm WHERE space = ?`, space.String()).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load high-water mark: %w", err)
	}
	return mark, true, nil
}

// StoreHighWater implements alloc.Persister. A lower mark never replaces
// a higher one.
func (s *Store) StoreHighWater(ctx context.Context, space alloc.Space, mark int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hwm (space, mark) VALUES (?, ?)
		ON CONFLICT (space) DO UPDATE SET mark = MAX(mark, excluded.mark)
	`, space.String(), mark)
	if err != nil {
		return fmt.Errorf("store high-water mark: %w", err)
	}
	return nil
}

// MaxIssued implements alloc.Persister by scanning every position that
// can hold an id of the space's partition.
func (s *Store) MaxIssued(ctx context.Context, space alloc.Space) (int64, error) {
	lo, hi := datom.PartitionRange(space.Partition())
	queries := []string{
		`SELECT MAX(e) FROM eavt WHERE e BETWEEN ? AND ?`,
		`SELECT MAX(a) FROM aevt WHERE a BETWEEN ? AND ?`,
		`SELECT MAX(v) FROM vaet WHERE vt = 1 AND v BETWEEN ? AND ?`,
		`SELECT MAX(t) FROM eavt WHERE t BETWEEN ? AND ?`,
	}
	var highest datom.ID
	for _, q := range queries {
		var n sql.NullInt64
		if err := s.db.QueryRowContext(ctx, q, int64(lo), int64(hi)).Scan(&n); err != nil {
			return 0, fmt.Errorf("max issued %s: %w", space, err)
		}
		if n.Valid && datom.ID(n.Int64) > highest {
			highest = datom.ID(n.Int64)
		}
	}
	if highest == 0 {
		return 0, nil
	}
	return highest.Counter(), nil
}
