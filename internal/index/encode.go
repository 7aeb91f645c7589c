package index

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/polyneme/maggtomic/datom"
)

// interner resolves interned content to surrogate ids within one write
// transaction. The cache never outlives the transaction, so rolled-back
// ids are never reused by a later batch.
type interner struct {
	s     *Store
	q     querier
	cache map[internKey]int64
}

type internKey struct {
	kind   datom.Kind
	digest [sha256.Size]byte
}

func (s *Store) newInterner(q querier) *interner {
	return &interner{s: s, q: q, cache: make(map[internKey]int64)}
}

// rawContent returns the interned representation of a string or bytes value.
func rawContent(v datom.Value) []byte {
	switch x := v.(type) {
	case datom.String:
		return []byte(x)
	case datom.Bytes:
		return append([]byte{}, x...)
	}
	return nil
}

func digestOf(kind datom.Kind, content []byte) internKey {
	return internKey{kind: kind, digest: sha256.Sum256(content)}
}

// intern returns the surrogate id for content, inserting it if absent.
func (in *interner) intern(ctx context.Context, v datom.Value) (int64, error) {
	content := rawContent(v)
	key := digestOf(v.Kind(), content)
	if id, ok := in.cache[key]; ok {
		return id, nil
	}

	stored, codec, err := in.s.compress(content)
	if err != nil {
		return 0, err
	}

	_, err = in.q.ExecContext(ctx, `
		INSERT INTO vals (kind, digest, codec, size, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, digest) DO NOTHING
	`, int64(key.kind), key.digest[:], int64(codec), len(content), stored)
	if err != nil {
		return 0, fmt.Errorf("insert interned value: %w", err)
	}

	var id int64
	err = in.q.QueryRowContext(ctx,
		`SELECT id FROM vals WHERE kind = ? AND digest = ?`,
		int64(key.kind), key.digest[:],
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("select interned value: %w", err)
	}

	in.cache[key] = id
	return id, nil
}

// lookupInterned finds the surrogate id of content without inserting.
func (s *Store) lookupInterned(ctx context.Context, q querier, v datom.Value) (int64, bool, error) {
	key := digestOf(v.Kind(), rawContent(v))
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM vals WHERE kind = ? AND digest = ?`,
		int64(key.kind), key.digest[:],
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup interned value: %w", err)
	}
	return id, true, nil
}

// encodeInline returns the v column for kinds stored inline.
func encodeInline(v datom.Value) (any, error) {
	switch x := v.(type) {
	case datom.Ref:
		return int64(x), nil
	case datom.Int:
		return int64(x), nil
	case datom.Bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case datom.Instant:
		return x.UnixNano(), nil
	case datom.Float:
		if math.IsNaN(float64(x)) {
			return nil, fmt.Errorf("NaN is not storable")
		}
		return float64(x), nil
	}
	return nil, fmt.Errorf("kind %s is not stored inline", v.Kind())
}

// row is one physical index row.
type row struct {
	e, a, t int64
	vt      int64
	v       any
	op      int64
}

func opInt(op datom.Op) int64 {
	if op == datom.Assert {
		return 1
	}
	return 0
}

// decodeValue rebuilds a Value from its columns. For interned kinds,
// content carries the joined vals row.
func (s *Store) decodeValue(vt int64, v any, codec sql.NullInt64, size sql.NullInt64, content []byte) (datom.Value, error) {
	kind := datom.Kind(vt)
	if kind.Interned() {
		if !codec.Valid {
			return nil, fmt.Errorf("dangling interned value %v", v)
		}
		raw, err := s.decompress(content, Codec(codec.Int64), int(size.Int64))
		if err != nil {
			return nil, err
		}
		if kind == datom.KindString {
			return datom.String(raw), nil
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return datom.Bytes(out), nil
	}

	switch kind {
	case datom.KindFloat:
		switch f := v.(type) {
		case float64:
			return datom.Float(f), nil
		case int64:
			return datom.Float(float64(f)), nil
		}
	default:
		n, ok := v.(int64)
		if !ok {
			break
		}
		switch kind {
		case datom.KindRef:
			return datom.Ref(n), nil
		case datom.KindInt:
			return datom.Int(n), nil
		case datom.KindBool:
			return datom.Bool(n != 0), nil
		case datom.KindInstant:
			return datom.InstantFromNanos(n), nil
		}
	}
	return nil, fmt.Errorf("cannot decode value %v (%T) of kind %s", v, v, kind)
}
