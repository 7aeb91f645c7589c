package index

import (
	"context"
	"iter"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "test.db")
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tx(n int64) datom.ID   { return datom.MakeID(datom.PartTx, n) }
func ent(n int64) datom.ID  { return datom.MakeID(datom.PartUser, n) }
func attr(n int64) datom.ID { return datom.MakeID(datom.PartUser, 1000+n) }

func assertD(e, a datom.ID, v datom.Value, t datom.ID) datom.Datom {
	return datom.Datom{E: e, A: a, V: v, T: t, Op: datom.Assert}
}

func retractD(e, a datom.ID, v datom.Value, t datom.ID) datom.Datom {
	return datom.Datom{E: e, A: a, V: v, T: t, Op: datom.Retract}
}

func collect(t *testing.T, seq iter.Seq2[datom.Datom, error]) []datom.Datom {
	t.Helper()
	var out []datom.Datom
	for d, err := range seq {
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

// indexedAttrs marks the given attributes as indexed.
type indexedAttrs map[datom.ID]bool

func (m indexedAttrs) Indexed(id datom.ID) bool { return m[id] }
