package index

import (
	"context"
	"fmt"

	"github.com/polyneme/maggtomic/datom"
)

// AttrView answers the one schema question the writer needs.
type AttrView interface {
	Indexed(datom.ID) bool
}

// Applies reports whether datom d belongs in family f under attrs.
func Applies(f datom.Family, d datom.Datom, attrs AttrView) bool {
	switch f {
	case datom.AVET:
		return attrs.Indexed(d.A)
	case datom.VAET:
		return d.V.Kind() == datom.KindRef
	default:
		return true
	}
}

// WriteBatch inserts datoms into every applicable index family inside one
// SQLite transaction. attrs must already reflect the batch's own schema
// datoms, so an attribute indexed in this batch lands in AVET.
//
// All-or-nothing: if any insert fails, every family already written is
// rolled back and an INDEX_WRITE error naming the family is returned.
//
// A db/index true assertion backfills AVET with the attribute's existing
// datoms in the same transaction.
func (s *Store) WriteBatch(ctx context.Context, datoms []datom.Datom, attrs AttrView) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write batch: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Error("write batch rollback failed", "error", rbErr)
			} else {
				s.log.Debug("write batch rolled back", "datoms", len(datoms), "error", err)
			}
		}
	}()

	in := s.newInterner(tx)
	rows := make([]row, len(datoms))
	for i, d := range datoms {
		r := row{e: int64(d.E), a: int64(d.A), t: int64(d.T), vt: int64(d.V.Kind()), op: opInt(d.Op)}
		if d.V.Kind().Interned() {
			id, ierr := in.intern(ctx, d.V)
			if ierr != nil {
				return &datom.Error{Code: datom.ErrCodeIndexWrite, Message: "intern value", Err: ierr}
			}
			r.v = id
		} else {
			enc, eerr := encodeInline(d.V)
			if eerr != nil {
				return &datom.Error{Code: datom.ErrCodeIndexWrite, Message: "encode value", Err: eerr}
			}
			r.v = enc
		}
		rows[i] = r
	}

	for _, f := range datom.Families {
		if ferr := s.insertFamily(ctx, tx, f, datoms, rows, attrs); ferr != nil {
			return datom.NewIndexWrite(f, ferr)
		}
	}

	for _, d := range datoms {
		if b, ok := d.V.(datom.Bool); d.A != datom.AttrIndex || d.Op != datom.Assert || !ok || !bool(b) {
			continue
		}
		_, berr := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO avet (e, a, vt, v, t, op)
			SELECT e, a, vt, v, t, op FROM aevt WHERE a = ?
		`, int64(d.E))
		if berr != nil {
			return datom.NewIndexWrite(datom.AVET, fmt.Errorf("backfill attribute %d: %w", d.E, berr))
		}
	}

	if cerr := tx.Commit(); cerr != nil {
		return &datom.Error{Code: datom.ErrCodeIndexWrite, Message: "commit", Err: cerr}
	}
	return nil
}

func (s *Store) insertFamily(ctx context.Context, q querier, f datom.Family, datoms []datom.Datom, rows []row, attrs AttrView) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (e, a, vt, v, t, op) VALUES (?, ?, ?, ?, ?, ?)`, f.Table())
	for i, d := range datoms {
		if !Applies(f, d, attrs) {
			continue
		}
		r := rows[i]
		if _, err := q.ExecContext(ctx, stmt, r.e, r.a, r.vt, r.v, r.t, r.op); err != nil {
			return fmt.Errorf("insert %s: %w", d, err)
		}
	}
	return nil
}
