package query

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
	"github.com/polyneme/maggtomic/tx"
)

type fixture struct {
	store *index.Store
	attrs *index.Attrs
	tr    *tx.Transactor
	ev    *Evaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := index.Open(ctx, index.Options{Path: filepath.Join(t.TempDir(), "q.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	attrs, err := s.LoadAttrs(ctx)
	require.NoError(t, err)
	ids, err := alloc.Open(ctx, s, 0)
	require.NoError(t, err)

	tr := tx.New(s, ids, attrs, 0, tx.Options{
		Now:    testutil.NewDeterministicClock(time.Time{}, 0).Now,
		Labels: testutil.NewSequenceLabels(""),
	})
	_, _, err = tr.Bootstrap(ctx)
	require.NoError(t, err)

	return &fixture{store: s, attrs: attrs, tr: tr, ev: New(s, attrs, tr.Basis, Options{})}
}

func (f *fixture) transact(t *testing.T, req *tx.Request) tx.Report {
	t.Helper()
	rep, err := f.tr.Transact(context.Background(), req)
	require.NoError(t, err)
	return rep
}

func (f *fixture) collect(t *testing.T, q Query, asOf datom.ID) []Binding {
	t.Helper()
	out, err := f.ev.Collect(context.Background(), q, asOf)
	require.NoError(t, err)
	return out
}

func (f *fixture) match(t *testing.T, p Pattern, asOf datom.ID) []Binding {
	return f.collect(t, Query{Where: []Pattern{p}}, asOf)
}

func values(bs []Binding, name string) []datom.Value {
	out := make([]datom.Value, len(bs))
	for i, b := range bs {
		out[i] = b[name]
	}
	return out
}

// fakeSchema is a Schema for planning tests.
type fakeSchema struct {
	idents  map[string]datom.ID
	indexed map[datom.ID]bool
	many    map[datom.ID]bool
}

func (s fakeSchema) Lookup(ident string) (datom.ID, bool) {
	id, ok := s.idents[datom.NormalizeIdent(ident)]
	return id, ok
}
func (s fakeSchema) Indexed(id datom.ID) bool { return s.indexed[id] }
func (s fakeSchema) Many(id datom.ID) bool    { return s.many[id] }
