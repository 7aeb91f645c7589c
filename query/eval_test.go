package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/tx"
)

func TestScenario_XThenY(t *testing.T) {
	f := newFixture(t)

	r1 := f.transact(t, tx.NewRequest().
		Assert(tx.Temp("a"), tx.Ident(":name"), tx.Lit(datom.String("X"))))
	a := r1.Tempids["a"]
	t1 := r1.TxID

	r2 := f.transact(t, tx.NewRequest().
		Retract(tx.ID(a), tx.Ident(":name"), tx.Lit(datom.String("X"))).
		Assert(tx.ID(a), tx.Ident(":name"), tx.Lit(datom.String("Y"))))
	t2 := r2.TxID
	require.Greater(t, t2, t1)

	p := Pattern{E: Lit(datom.Ref(a)), A: Ident(":name"), V: Var("?v"), T: Var("?t")}

	at1 := f.match(t, p, t1)
	require.Len(t, at1, 1)
	assert.Equal(t, datom.String("X"), at1[0]["?v"])
	assert.Equal(t, datom.Ref(t1), at1[0]["?t"])

	at2 := f.match(t, p, t2)
	require.Len(t, at2, 1)
	assert.Equal(t, datom.String("Y"), at2[0]["?v"])
	assert.Equal(t, datom.Ref(t2), at2[0]["?t"])
}

func TestAsOf_BoundAndIdempotent(t *testing.T) {
	f := newFixture(t)

	var txs []datom.ID
	for i := range 4 {
		rep := f.transact(t, tx.NewRequest().
			Assert(tx.NewEntity(), tx.Ident("event/n"), tx.Lit(datom.Int(int64(i)))))
		txs = append(txs, rep.TxID)
	}

	p := Pattern{E: Var("?e"), A: Ident("event/n"), V: Var("?n"), T: Var("?t")}
	for i, asOf := range txs {
		first := f.match(t, p, asOf)
		assert.Len(t, first, i+1)
		for _, b := range first {
			assert.LessOrEqual(t, datom.ID(b["?t"].(datom.Ref)), asOf)
		}
		assert.Equal(t, first, f.match(t, p, asOf), "repeatable")
	}
}

func TestAsOf_ClampsToBasis(t *testing.T) {
	f := newFixture(t)
	f.transact(t, tx.NewRequest().
		Assert(tx.Temp("a"), tx.Ident("n"), tx.Lit(datom.Int(1))))

	p := Pattern{E: Var("?e"), A: Ident("n"), V: Var("?v"), T: Blank}
	latest := f.match(t, p, 0)
	assert.Len(t, latest, 1)
	assert.Equal(t, latest, f.match(t, p, f.tr.Basis()+1000))
}

func TestRoundTrip_AssertThenRetract(t *testing.T) {
	f := newFixture(t)

	r1 := f.transact(t, tx.NewRequest().
		Assert(tx.Temp("a"), tx.Ident("tag"), tx.Lit(datom.String("draft"))))
	a := r1.Tempids["a"]
	f.transact(t, tx.NewRequest().
		Assert(tx.ID(a), tx.Ident("other"), tx.Lit(datom.Int(0))))
	r3 := f.transact(t, tx.NewRequest().
		Retract(tx.ID(a), tx.Ident("tag"), tx.Lit(datom.String("draft"))))

	p := Pattern{E: Lit(datom.Ref(a)), A: Ident("tag"), V: Var("?v"), T: Blank}
	assert.Len(t, f.match(t, p, r1.TxID), 1)
	assert.Len(t, f.match(t, p, r3.TxID-1), 1, "between the two transactions")
	assert.Empty(t, f.match(t, p, r3.TxID))
	assert.Empty(t, f.match(t, p, 0))
}

func TestCardinalityOne_MostRecentWins(t *testing.T) {
	f := newFixture(t)

	r1 := f.transact(t, tx.NewRequest().
		Assert(tx.Temp("a"), tx.Ident("status"), tx.Lit(datom.String("open"))))
	a := r1.Tempids["a"]
	r2 := f.transact(t, tx.NewRequest().
		Assert(tx.ID(a), tx.Ident("status"), tx.Lit(datom.String("closed"))))

	p := Pattern{E: Lit(datom.Ref(a)), A: Ident("status"), V: Var("?s"), T: Blank}
	assert.Equal(t, []datom.Value{datom.String("open")}, values(f.match(t, p, r1.TxID), "?s"))
	assert.Equal(t, []datom.Value{datom.String("closed")}, values(f.match(t, p, r2.TxID), "?s"))

	status, _ := f.attrs.Lookup("status")
	v, ok, err := f.ev.CurrentValue(context.Background(), a, status, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, datom.String("closed"), v)

	// Retracting the newest value leaves the newest unretracted one.
	r3 := f.transact(t, tx.NewRequest().
		Retract(tx.ID(a), tx.Ident("status"), tx.Lit(datom.String("closed"))))
	v, ok, err = f.ev.CurrentValue(context.Background(), a, status, r3.TxID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, datom.String("open"), v)
	assert.Equal(t, []datom.Value{datom.String("open")}, values(f.match(t, p, r3.TxID), "?s"))
	assert.Equal(t, []datom.Value{datom.String("closed")}, values(f.match(t, p, r2.TxID), "?s"))

	f.transact(t, tx.NewRequest().
		Retract(tx.ID(a), tx.Ident("status"), tx.Lit(datom.String("open"))))
	_, ok, err = f.ev.CurrentValue(context.Background(), a, status, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.match(t, p, 0))
}

func TestCardinalityMany(t *testing.T) {
	f := newFixture(t)
	rep := f.transact(t, tx.NewRequest().
		Assert(tx.Temp("tag"), tx.ID(datom.AttrIdent), tx.Lit(datom.String("item/tag"))).
		Assert(tx.Temp("tag"), tx.ID(datom.AttrCardinality), tx.Lit(datom.String("many"))).
		Assert(tx.Temp("i"), tx.Ident("item/tag"), tx.Lit(datom.String("red"))).
		Assert(tx.Temp("i"), tx.Ident("item/tag"), tx.Lit(datom.String("blue"))))
	i, tag := rep.Tempids["i"], rep.Tempids["tag"]

	got := f.match(t, Pattern{E: Lit(datom.Ref(i)), A: Ident("item/tag"), V: Var("?v"), T: Blank}, 0)
	assert.ElementsMatch(t, []datom.Value{datom.String("red"), datom.String("blue")}, values(got, "?v"))

	f.transact(t, tx.NewRequest().
		Retract(tx.ID(i), tx.ID(tag), tx.Lit(datom.String("red"))).
		Assert(tx.ID(i), tx.ID(tag), tx.Lit(datom.String("green"))))

	vals, err := f.ev.CurrentValues(context.Background(), i, tag, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []datom.Value{datom.String("blue"), datom.String("green")}, vals)

	vals, err = f.ev.CurrentValues(context.Background(), i, tag, rep.TxID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []datom.Value{datom.String("red"), datom.String("blue")}, vals)
}

func seedPeople(t *testing.T, f *fixture) tx.Report {
	t.Helper()
	return f.transact(t, tx.NewRequest().
		Assert(tx.Temp("name"), tx.ID(datom.AttrIdent), tx.Lit(datom.String("person/name"))).
		Assert(tx.Temp("name"), tx.ID(datom.AttrIndex), tx.Lit(datom.Bool(true))).
		Assert(tx.Temp("alice"), tx.Ident("person/name"), tx.Lit(datom.String("Alice"))).
		Assert(tx.Temp("bob"), tx.Ident("person/name"), tx.Lit(datom.String("Bob"))).
		Assert(tx.Temp("carol"), tx.Ident("person/name"), tx.Lit(datom.String("Carol"))).
		Assert(tx.Temp("alice"), tx.Ident("person/friend"), tx.RefTo(tx.Temp("bob"))).
		Assert(tx.Temp("bob"), tx.Ident("person/friend"), tx.RefTo(tx.Temp("carol"))).
		With("tx/note", datom.String("seed")))
}

func TestJoin_FriendsOfFriends(t *testing.T) {
	f := newFixture(t)
	seedPeople(t, f)

	q := Query{
		Find: []string{"?fofName"},
		Where: []Pattern{
			{E: Var("?f"), A: Ident("person/friend"), V: Var("?fof"), T: Blank},
			{E: Var("?fof"), A: Ident("person/name"), V: Var("?fofName"), T: Blank},
			{E: Var("?p"), A: Ident("person/friend"), V: Var("?f"), T: Blank},
			{E: Var("?p"), A: Ident("person/name"), V: Lit(datom.String("Alice")), T: Blank},
		},
	}
	got := f.collect(t, q, 0)
	require.Len(t, got, 1)
	assert.Equal(t, Binding{"?fofName": datom.String("Carol")}, got[0])
}

func TestJoin_ReverseReference(t *testing.T) {
	f := newFixture(t)
	rep := seedPeople(t, f)

	got := f.collect(t, Query{
		Find: []string{"?who"},
		Where: []Pattern{
			{E: Var("?p"), A: Ident("person/friend"), V: Lit(datom.Ref(rep.Tempids["carol"])), T: Blank},
			{E: Var("?p"), A: Ident("person/name"), V: Var("?who"), T: Blank},
		},
	}, 0)
	assert.Equal(t, []datom.Value{datom.String("Bob")}, values(got, "?who"))
}

func TestJoin_NoFindProjectsEveryVariable(t *testing.T) {
	f := newFixture(t)
	seedPeople(t, f)

	got := f.collect(t, Query{Where: []Pattern{
		{E: Var("?p"), A: Ident("person/name"), V: Lit(datom.String("Bob")), T: Var("?t")},
	}}, 0)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 2)
	assert.Contains(t, got[0], "?p")
	assert.Contains(t, got[0], "?t")
}

func TestMatch_TransactionOnly(t *testing.T) {
	f := newFixture(t)
	rep := seedPeople(t, f)

	got := f.match(t, Pattern{E: Var("?e"), A: Var("?a"), V: Var("?v"), T: Lit(datom.Ref(rep.TxID))}, 0)
	assert.Len(t, got, len(rep.Datoms))

	// Retracted facts of the transaction no longer match.
	f.transact(t, tx.NewRequest().
		Retract(tx.ID(rep.Tempids["alice"]), tx.Ident("person/friend"), tx.RefTo(tx.ID(rep.Tempids["bob"]))))
	got = f.match(t, Pattern{E: Var("?e"), A: Var("?a"), V: Var("?v"), T: Lit(datom.Ref(rep.TxID))}, 0)
	assert.Len(t, got, len(rep.Datoms)-1)

	got = f.match(t, Pattern{E: Var("?e"), A: Var("?a"), V: Var("?v"), T: Lit(datom.Ref(rep.TxID))}, rep.TxID-1)
	assert.Empty(t, got)
}

func TestMatch_RepeatedVariableUnifies(t *testing.T) {
	f := newFixture(t)
	rep := f.transact(t, tx.NewRequest().
		Assert(tx.Temp("a"), tx.Ident("self"), tx.RefTo(tx.Temp("a"))).
		Assert(tx.Temp("b"), tx.Ident("self"), tx.RefTo(tx.Temp("a"))))

	got := f.match(t, Pattern{E: Var("?x"), A: Ident("self"), V: Var("?x"), T: Blank}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, datom.Ref(rep.Tempids["a"]), got[0]["?x"])
}

func TestMatch_Prefixes(t *testing.T) {
	f := newFixture(t)
	f.transact(t, tx.NewRequest().
		Assert(tx.Temp("a"), tx.Ident("http://www.w3.org/ns/prov#generatedAtTime"), tx.Lit(datom.Int(1))))

	got := f.collect(t, Query{
		Where:    []Pattern{{E: Var("?e"), A: Ident("prov:generatedAtTime"), V: Var("?v"), T: Blank}},
		Prefixes: map[string]string{"prov": "http://www.w3.org/ns/prov#"},
	}, 0)
	assert.Len(t, got, 1)
}

func TestMatch_VariableBoundToNonEntityInEntityPosition(t *testing.T) {
	f := newFixture(t)
	seedPeople(t, f)

	got := f.collect(t, Query{Where: []Pattern{
		{E: Var("?p"), A: Ident("person/name"), V: Var("?n"), T: Blank},
		{E: Var("?n"), A: Var("?a"), V: Var("?v"), T: Blank},
	}}, 0)
	assert.Empty(t, got)
}

func TestEvaluate_StopsEarly(t *testing.T) {
	f := newFixture(t)
	seedPeople(t, f)

	n := 0
	for _, err := range f.ev.Evaluate(context.Background(), Query{Where: []Pattern{
		{E: Var("?p"), A: Ident("person/name"), V: Var("?n"), T: Blank},
	}}, 0) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)

	// The store is still usable.
	assert.Len(t, f.match(t, Pattern{E: Var("?p"), A: Ident("person/name"), V: Var("?n"), T: Blank}, 0), 3)
}

func TestQueryPatternErrors(t *testing.T) {
	f := newFixture(t)
	seedPeople(t, f)

	v := Var("?v")
	cases := map[string]Query{
		"empty where":         {},
		"entity literal":      {Where: []Pattern{{E: Lit(datom.String("x")), A: v, V: Var("?w"), T: Blank}}},
		"attribute literal":   {Where: []Pattern{{E: Var("?e"), A: Lit(datom.Int(3)), V: v, T: Blank}}},
		"transaction literal": {Where: []Pattern{{E: Var("?e"), A: Var("?a"), V: v, T: Lit(datom.Int(3))}}},
		"unknown ident":       {Where: []Pattern{{E: Var("?e"), A: Ident("no/such"), V: v, T: Blank}}},
		"malformed variable":  {Where: []Pattern{{E: Var("e"), A: Ident("person/name"), V: v, T: Blank}}},
		"find not in where":   {Find: []string{"?zzz"}, Where: []Pattern{{E: Var("?e"), A: Ident("person/name"), V: v, T: Blank}}},
		"malformed find":      {Find: []string{"v"}, Where: []Pattern{{E: Var("?e"), A: Ident("person/name"), V: v, T: Blank}}},
		"nil literal value":   {Where: []Pattern{{E: Var("?e"), A: Ident("person/name"), V: Lit(nil), T: Blank}}},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ev.Collect(context.Background(), q, 0)
			require.Error(t, err)
			assert.True(t, datom.IsQueryPattern(err), "got %v", err)
		})
	}
}
