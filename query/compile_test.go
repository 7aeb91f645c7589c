package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
)

var (
	attrName   = datom.MakeID(datom.PartUser, 10)
	attrFriend = datom.MakeID(datom.PartUser, 11)
	attrAge    = datom.MakeID(datom.PartUser, 12)
)

func testSchema() fakeSchema {
	return fakeSchema{
		idents: map[string]datom.ID{
			"person/name":   attrName,
			"person/friend": attrFriend,
			"person/age":    attrAge,
		},
		indexed: map[datom.ID]bool{attrName: true},
	}
}

func compileFor(t *testing.T, q Query) ([]clause, []string) {
	t.Helper()
	ev := New(nil, testSchema(), func() datom.ID { return 1 }, Options{})
	cs, find, err := ev.compile(q)
	require.NoError(t, err)
	return cs, find
}

func TestCompile_ProjectsVariablesInFirstAppearanceOrder(t *testing.T) {
	_, find := compileFor(t, Query{Where: []Pattern{
		{E: Var("?p"), A: Ident(":person/friend"), V: Var("?f"), T: Blank},
		{E: Var("?f"), A: Ident("person/name"), V: Var("?n"), T: Var("?t")},
	}})
	assert.Equal(t, []string{"?p", "?f", "?n", "?t"}, find)
}

func TestCompile_ResolvesIdents(t *testing.T) {
	cs, _ := compileFor(t, Query{
		Where:    []Pattern{{E: Var("?p"), A: Ident("ex:name"), V: Var("?n"), T: Blank}},
		Prefixes: map[string]string{"ex": "person/"},
	})
	require.Len(t, cs, 1)
	assert.Equal(t, slotConst, cs[0].slots[posA].kind)
	assert.Equal(t, datom.Ref(attrName), cs[0].slots[posA].val)
}

func TestOrder_MostBoundFirst(t *testing.T) {
	cs, _ := compileFor(t, Query{Where: []Pattern{
		{E: Var("?f"), A: Ident("person/name"), V: Var("?n"), T: Blank},
		{E: Var("?p"), A: Ident("person/friend"), V: Var("?f"), T: Blank},
		{E: Var("?p"), A: Ident("person/name"), V: Lit(datom.String("Alice")), T: Blank},
	}})

	got := order(cs)
	written := make([]int, len(got))
	for i, c := range got {
		written[i] = c.written
	}
	assert.Equal(t, []int{2, 1, 0}, written)
}

func TestOrder_TiesKeepWrittenOrder(t *testing.T) {
	cs, _ := compileFor(t, Query{Where: []Pattern{
		{E: Var("?a"), A: Ident("person/name"), V: Var("?x"), T: Blank},
		{E: Var("?b"), A: Ident("person/age"), V: Var("?y"), T: Blank},
		{E: Var("?c"), A: Ident("person/friend"), V: Var("?z"), T: Blank},
	}})

	got := order(cs)
	for i, c := range got {
		assert.Equal(t, i, c.written)
	}
}

func TestChooseFamily(t *testing.T) {
	s := testSchema()
	e := datom.Ref(datom.MakeID(datom.PartUser, 100))
	tx := datom.Ref(datom.MakeID(datom.PartTx, 7))

	cases := []struct {
		name string
		p    bound
		want datom.Family
		key  datom.Key
		ok   bool
	}{
		{"entity", bound{e, nil, nil, nil}, datom.EAVT, datom.Key{e}, true},
		{"entity and attribute", bound{e, datom.Ref(attrAge), nil, nil}, datom.EAVT, datom.Key{e, datom.Ref(attrAge)}, true},
		{"attribute only", bound{nil, datom.Ref(attrAge), nil, nil}, datom.AEVT, datom.Key{datom.Ref(attrAge)}, true},
		{"indexed attribute and value", bound{nil, datom.Ref(attrName), datom.String("Bob"), nil},
			datom.AVET, datom.Key{datom.Ref(attrName), datom.String("Bob")}, true},
		{"unindexed attribute and value", bound{nil, datom.Ref(attrAge), datom.Int(3), nil},
			datom.AEVT, datom.Key{datom.Ref(attrAge)}, true},
		{"reference value", bound{nil, datom.Ref(attrFriend), e, nil},
			datom.VAET, datom.Key{e, datom.Ref(attrFriend)}, true},
		{"reference value alone", bound{nil, nil, e, nil}, datom.VAET, datom.Key{e}, true},
		{"literal value alone", bound{nil, nil, datom.Int(3), nil}, 0, nil, false},
		{"transaction only", bound{nil, nil, nil, tx}, 0, nil, false},
		{"nothing", bound{}, 0, nil, false},
		{"fully bound", bound{e, datom.Ref(attrName), datom.String("Bob"), tx},
			datom.EAVT, datom.Key{e, datom.Ref(attrName), datom.String("Bob"), tx}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, key, ok := chooseFamily(tc.p, s)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.want, f)
			assert.Equal(t, tc.key, key)
		})
	}
}

func TestParseTerm(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := map[string]Term{
		"_":                     Blank,
		"?who":                  Var("?who"),
		":person/name":          Ident(":person/name"),
		"#4398046511105":        Lit(datom.Ref(4398046511105)),
		`"hello world"`:         Lit(datom.String("hello world")),
		"true":                  Lit(datom.Bool(true)),
		"false":                 Lit(datom.Bool(false)),
		"42":                    Lit(datom.Int(42)),
		"-1.5":                  Lit(datom.Float(-1.5)),
		"@2024-01-02T03:04:05Z": Lit(datom.NewInstant(at)),
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := ParseTerm(in)
			require.NoError(t, err)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.Name, got.Name)
			if want.Value != nil {
				assert.True(t, datom.Equal(want.Value, got.Value), "got %s", got.Value)
			}
		})
	}
}

func TestParseTerm_Errors(t *testing.T) {
	for _, in := range []string{"?", "?1x", ":", "#0", "#abc", `"open`, "@yesterday", "maybe"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTerm(in)
			require.Error(t, err)
			assert.True(t, datom.IsQueryPattern(err))
		})
	}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern([]string{"?e", ":person/name", `"Bob"`})
	require.NoError(t, err)
	assert.Equal(t, TermBlank, p.T.Kind)
	assert.Equal(t, `[?e :person/name "Bob" _]`, p.String())

	p, err = ParsePattern([]string{"?e", "?a", "?v", "#4398046511106"})
	require.NoError(t, err)
	assert.Equal(t, "[?e ?a ?v #4398046511106]", p.String())

	_, err = ParsePattern([]string{"?e", "?a"})
	assert.True(t, datom.IsQueryPattern(err))
}
