package index

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/polyneme/maggtomic/datom"
)

// selectFrom returns the common projection over a family table, joined
// with the interning table for string and bytes values.
func selectFrom(table string) string {
	return fmt.Sprintf(`
		SELECT f.e, f.a, f.vt, f.v, f.t, f.op, x.codec, x.size, x.content
		FROM %s f
		LEFT JOIN vals x ON f.vt IN (%d, %d) AND x.id = f.v`,
		table, datom.KindString, datom.KindBytes)
}

// orderBy returns the family's sort order: key columns ascending, then
// transaction descending.
func orderBy(f datom.Family) string {
	cols := make([]string, 0, 5)
	for _, c := range f.Order() {
		cols = append(cols, componentColumns(c)...)
	}
	return "ORDER BY " + strings.Join(cols, ", ") + ", f.t DESC"
}

func componentColumns(c datom.Component) []string {
	switch c {
	case datom.CompE:
		return []string{"f.e"}
	case datom.CompA:
		return []string{"f.a"}
	case datom.CompV:
		return []string{"f.vt", "f.v"}
	default:
		return []string{"f.t"}
	}
}

// rowsSeq runs a read query on the read pool and yields decoded datoms.
// The cursor is closed when iteration ends for any reason.
func (s *Store) rowsSeq(ctx context.Context, query string, args []any) iter.Seq2[datom.Datom, error] {
	return func(yield func(datom.Datom, error) bool) {
		if err := s.checkOpen(); err != nil {
			yield(datom.Datom{}, err)
			return
		}
		rows, err := s.rdb.QueryContext(ctx, query, args...)
		if err != nil {
			yield(datom.Datom{}, fmt.Errorf("query: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			d, err := s.scanDatom(rows)
			if err != nil {
				yield(datom.Datom{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(datom.Datom{}, fmt.Errorf("iterate: %w", err))
		}
	}
}

func (s *Store) scanDatom(rows *sql.Rows) (datom.Datom, error) {
	var (
		r       row
		codec   sql.NullInt64
		size    sql.NullInt64
		content []byte
	)
	if err := rows.Scan(&r.e, &r.a, &r.vt, &r.v, &r.t, &r.op, &codec, &size, &content); err != nil {
		return datom.Datom{}, fmt.Errorf("scan row: %w", err)
	}
	v, err := s.decodeValue(r.vt, r.v, codec, size, content)
	if err != nil {
		return datom.Datom{}, err
	}
	return datom.Datom{
		E:  datom.ID(r.e),
		A:  datom.ID(r.a),
		V:  v,
		T:  datom.ID(r.t),
		Op: datom.Op(r.op != 0),
	}, nil
}

// Scan yields, in family order, every datom with t <= asOf that is
// currently asserted as of asOf: for each (e, a, v) the newest datom at
// or before asOf decides, and only assertions are yielded.
//
// lower and upper are inclusive key prefixes in the family's component
// order; either may be empty. String and bytes values order by their
// interning surrogate, so only equality bounds are meaningful for them.
// The sequence is restartable: each range over it runs a fresh read.
func (s *Store) Scan(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error] {
	return func(yield func(datom.Datom, error) bool) {
		var prev datom.Datom
		first := true
		for d, err := range s.History(ctx, f, lower, upper, asOf) {
			if err != nil {
				yield(datom.Datom{}, err)
				return
			}
			// Rows of one fact are contiguous, newest first.
			if !first && datom.SameFact(prev, d) {
				continue
			}
			first = false
			prev = d
			if d.Op != datom.Assert {
				continue
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// History yields every assertion and retraction with t <= asOf in family
// order, newest first within one (e, a, v).
func (s *Store) History(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error] {
	return func(yield func(datom.Datom, error) bool) {
		if err := s.checkOpen(); err != nil {
			yield(datom.Datom{}, err)
			return
		}
		where, args, empty, err := s.bounds(ctx, f, lower, upper)
		if err != nil {
			yield(datom.Datom{}, err)
			return
		}
		if empty {
			return
		}
		q := fmt.Sprintf("%s\n\t\tWHERE f.t <= ?%s\n\t\t%s", selectFrom(f.Table()), where, orderBy(f))
		for d, err := range s.rowsSeq(ctx, q, append([]any{int64(asOf)}, args...)) {
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

// TxData yields the datoms written by one transaction, in EAVT order.
func (s *Store) TxData(ctx context.Context, t datom.ID) iter.Seq2[datom.Datom, error] {
	q := fmt.Sprintf("%s\n\t\tWHERE f.t = ?\n\t\t%s", selectFrom("eavt"), orderBy(datom.EAVT))
	return s.rowsSeq(ctx, q, []any{int64(t)})
}

// TxRange yields the datoms of transactions in (after, upTo], ordered by
// transaction and then EAVT.
func (s *Store) TxRange(ctx context.Context, after, upTo datom.ID) iter.Seq2[datom.Datom, error] {
	q := fmt.Sprintf(`%s
		WHERE f.t > ? AND f.t <= ?
		ORDER BY f.t ASC, f.e, f.a, f.vt, f.v`, selectFrom("eavt"))
	return s.rowsSeq(ctx, q, []any{int64(after), int64(upTo)})
}

// Current yields every datom of (e, a) with t <= asOf, newest first.
// Within one transaction retractions come before assertions.
func (s *Store) Current(ctx context.Context, e, a datom.ID, asOf datom.ID) iter.Seq2[datom.Datom, error] {
	q := fmt.Sprintf(`%s
		WHERE f.e = ? AND f.a = ? AND f.t <= ?
		ORDER BY f.t DESC, f.op ASC`, selectFrom("eavt"))
	return s.rowsSeq(ctx, q, []any{int64(e), int64(a), int64(asOf)})
}

// LatestTx returns the newest committed transaction id, or 0 for an
// empty store.
func (s *Store) LatestTx(ctx context.Context) (datom.ID, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var t sql.NullInt64
	if err := s.rdb.QueryRowContext(ctx, `SELECT MAX(t) FROM eavt`).Scan(&t); err != nil {
		return 0, fmt.Errorf("latest tx: %w", err)
	}
	return datom.ID(t.Int64), nil
}

// TxAtOrBefore returns the newest transaction whose db/txInstant is not
// after at, or 0 if none.
func (s *Store) TxAtOrBefore(ctx context.Context, at time.Time) (datom.ID, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var t sql.NullInt64
	err := s.rdb.QueryRowContext(ctx, `
		SELECT MAX(e) FROM avet
		WHERE a = ? AND vt = ? AND v <= ? AND op = 1
	`, int64(datom.AttrTxInstant), int64(datom.KindInstant), at.UnixNano()).Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("tx at or before %s: %w", at.Format(time.RFC3339Nano), err)
	}
	return datom.ID(t.Int64), nil
}

// bounds compiles key prefixes into a WHERE fragment (starting with
// " AND ") over the family's columns. empty is true when a bound names an
// interned value that was never stored, so nothing can match.
func (s *Store) bounds(ctx context.Context, f datom.Family, lower, upper datom.Key) (string, []any, bool, error) {
	if len(lower) > 3 || len(upper) > 3 {
		return "", nil, false, datom.NewQueryPattern("%s bound longer than three components", f)
	}
	order := f.Order()

	var clauses []string
	var args []any
	for _, side := range []struct {
		key datom.Key
		op  string
	}{{lower, ">="}, {upper, "<="}} {
		if len(side.key) == 0 {
			continue
		}
		var cols []string
		for i, v := range side.key {
			c := order[i]
			vals, empty, err := s.encodeBound(ctx, f, c, v, i, lower, upper)
			if err != nil {
				return "", nil, false, err
			}
			if empty {
				return "", nil, true, nil
			}
			cols = append(cols, componentColumns(c)...)
			args = append(args, vals...)
		}
		clauses = append(clauses, fmt.Sprintf("(%s) %s (%s)",
			strings.Join(cols, ", "), side.op, placeholders(len(cols))))
	}
	if len(clauses) == 0 {
		return "", nil, false, nil
	}
	return " AND " + strings.Join(clauses, " AND "), args, false, nil
}

func (s *Store) encodeBound(ctx context.Context, f datom.Family, c datom.Component, v datom.Value, i int, lower, upper datom.Key) ([]any, bool, error) {
	if v == nil {
		return nil, false, datom.NewQueryPattern("%s bound component %d is nil", f, i)
	}
	if c != datom.CompV {
		ref, ok := v.(datom.Ref)
		if !ok {
			return nil, false, datom.NewQueryPattern("%s bound component %d must be a ref, got %s", f, i, v.Kind())
		}
		return []any{int64(ref)}, false, nil
	}

	if f == datom.VAET && v.Kind() != datom.KindRef {
		return nil, true, nil
	}
	if !v.Kind().Interned() {
		enc, err := encodeInline(v)
		if err != nil {
			return nil, false, datom.NewQueryPattern("%s bound component %d: %v", f, i, err)
		}
		return []any{int64(v.Kind()), enc}, false, nil
	}

	// Interned values are ordered by surrogate id, so only equality is meaningful.
	if i >= len(lower) || i >= len(upper) || !datom.Equal(lower[i], upper[i]) {
		return nil, false, datom.NewQueryPattern("%s bound on a %s value must be an equality", f, v.Kind())
	}
	id, ok, err := s.lookupInterned(ctx, s.rdb, v)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, true, nil
	}
	return []any{int64(v.Kind()), id}, false, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
