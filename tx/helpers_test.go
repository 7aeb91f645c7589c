package tx

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/alloc"
	"github.com/polyneme/maggtomic/internal/index"
	"github.com/polyneme/maggtomic/internal/testutil"
	"github.com/polyneme/maggtomic/metrics"
)

type fixture struct {
	store   *index.Store
	ids     *alloc.Allocator
	attrs   *index.Attrs
	tr      *Transactor
	metrics *metrics.Basic
}

func newFixture(t *testing.T, wrap func(Store) Store) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := index.Open(ctx, index.Options{Path: filepath.Join(t.TempDir(), "tx.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	attrs, err := s.LoadAttrs(ctx)
	require.NoError(t, err)
	ids, err := alloc.Open(ctx, s, 0)
	require.NoError(t, err)

	var w Store = s
	if wrap != nil {
		w = wrap(s)
	}
	m := &metrics.Basic{}
	tr := New(w, ids, attrs, 0, Options{
		Now:     testutil.NewDeterministicClock(time.Time{}, 0).Now,
		Labels:  testutil.NewSequenceLabels(""),
		Metrics: m,
	})
	_, ok, err := tr.Bootstrap(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	return &fixture{store: s, ids: ids, attrs: attrs, tr: tr, metrics: m}
}

func (f *fixture) transact(t *testing.T, req *Request) Report {
	t.Helper()
	rep, err := f.tr.Transact(context.Background(), req)
	require.NoError(t, err)
	return rep
}

func find(ds []datom.Datom, e, a datom.ID) (datom.Datom, bool) {
	for _, d := range ds {
		if d.E == e && d.A == a {
			return d, true
		}
	}
	return datom.Datom{}, false
}

// failingStore rejects every batch after the first n.
type failingStore struct {
	Store
	allow int
	err   error
}

func (f *failingStore) WriteBatch(ctx context.Context, ds []datom.Datom, attrs index.AttrView) error {
	if f.allow > 0 {
		f.allow--
		return f.Store.WriteBatch(ctx, ds, attrs)
	}
	return f.err
}
