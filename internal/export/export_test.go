package export

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
)

// sliceSource serves fixed datoms regardless of bounds.
type sliceSource struct {
	current []datom.Datom
	history []datom.Datom
	err     error
}

func (s sliceSource) seq(ds []datom.Datom) iter.Seq2[datom.Datom, error] {
	return func(yield func(datom.Datom, error) bool) {
		for _, d := range ds {
			if !yield(d, nil) {
				return
			}
		}
		if s.err != nil {
			yield(datom.Datom{}, s.err)
		}
	}
}

func (s sliceSource) Scan(context.Context, datom.Family, datom.Key, datom.Key, datom.ID) iter.Seq2[datom.Datom, error] {
	return s.seq(s.current)
}

func (s sliceSource) History(context.Context, datom.Family, datom.Key, datom.Key, datom.ID) iter.Seq2[datom.Datom, error] {
	return s.seq(s.history)
}

var (
	e1   = datom.MakeID(datom.PartUser, 1)
	name = datom.MakeID(datom.PartUser, 2)
	t1   = datom.MakeID(datom.PartTx, 2)
	t2   = datom.MakeID(datom.PartTx, 3)
)

func testSource() sliceSource {
	older := datom.Datom{E: e1, A: name, V: datom.String("X"), T: t1, Op: datom.Assert}
	retract := datom.Datom{E: e1, A: name, V: datom.String("X"), T: t2, Op: datom.Retract}
	newer := datom.Datom{E: e1, A: name, V: datom.String("Y"), T: t2, Op: datom.Assert}
	return sliceSource{
		current: []datom.Datom{newer},
		history: []datom.Datom{retract, older, newer},
	}
}

func idents(id datom.ID) string {
	if id == name {
		return "person/name"
	}
	return ""
}

func TestWrite_Current(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Write(context.Background(), &buf, testSource(), Options{Family: datom.EAVT, Ident: idents})
	require.NoError(t, err)

	assert.Equal(t,
		`{"e":8796093022209,"a":8796093022210,"ident":"person/name","kind":"string","v":"Y","t":4398046511107,"op":true}`+"\n",
		buf.String())
	assert.Equal(t, Stats{Datoms: 1, Bytes: int64(buf.Len())}, stats)
}

func TestWrite_History(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Write(context.Background(), &buf, testSource(), Options{Family: datom.EAVT, History: true})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, 3, stats.Datoms)
	assert.Contains(t, lines[0], `"op":false`)
	assert.NotContains(t, lines[0], `"ident"`)
}

func TestNewRecord_Kinds(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		v    datom.Value
		kind string
		want any
	}{
		{datom.Ref(e1), "ref", int64(e1)},
		{datom.Bool(true), "bool", true},
		{datom.Int(-3), "int", int64(-3)},
		{datom.Float(2.5), "float", 2.5},
		{datom.NewInstant(at), "instant", "2024-01-01T00:00:00Z"},
		{datom.String("s"), "string", "s"},
		{datom.Bytes{0x01, 0x02}, "bytes", "AQI="},
	}
	for _, tc := range cases {
		r := NewRecord(datom.Datom{E: e1, A: name, V: tc.v, T: t1, Op: datom.Assert}, nil)
		assert.Equal(t, tc.kind, r.Kind)
		assert.Equal(t, tc.want, r.V)
	}
}

func TestWrite_SourceError(t *testing.T) {
	src := testSource()
	src.err = errors.New("disk gone")

	var buf bytes.Buffer
	stats, err := Write(context.Background(), &buf, src, Options{Family: datom.AEVT})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export AEVT")
	assert.Equal(t, 1, stats.Datoms, "records before the error are flushed")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestWrite_RateLimitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	stats, err := Write(ctx, &buf, testSource(), Options{
		Family:        datom.EAVT,
		History:       true,
		RatePerSecond: 1,
		Burst:         1,
	})
	require.Error(t, err)
	assert.Equal(t, 1, stats.Datoms)
}
