package tx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
)

func TestRequest_Builder(t *testing.T) {
	req := NewRequest().
		Assert(Temp("a"), Ident("person/name"), Lit(datom.String("X"))).
		Retract(ID(42), Ident("person/name"), Lit(datom.String("Y"))).
		With("tx/author", datom.String("alice"))

	require.Len(t, req.Datoms, 2)
	assert.Equal(t, datom.Assert, req.Datoms[0].Op)
	assert.Equal(t, datom.Retract, req.Datoms[1].Op)
	assert.Equal(t, datom.String("alice"), req.Metadata["tx/author"])
	assert.NoError(t, req.Validate())
}

func TestRef_String(t *testing.T) {
	assert.Equal(t, "tempid(a)", Temp("a").String())
	assert.Equal(t, ":person/name", Ident(":person/name").String())
	assert.Equal(t, "42", ID(42).String())
	assert.Equal(t, "new", NewEntity().String())
	assert.Equal(t, `"x"`, Lit(datom.String("x")).String())
	assert.Equal(t, "tempid(b)", RefTo(Temp("b")).String())
}

func TestRequest_ValidateReportsPosition(t *testing.T) {
	req := NewRequest().
		Assert(Temp("a"), Ident("n"), Lit(datom.Int(1))).
		Retract(Temp("b"), Ident("n"), Lit(datom.Int(1)))

	err := req.Validate()
	require.Error(t, err)
	assert.True(t, datom.IsTempidConflict(err))
	assert.Contains(t, err.Error(), "datom 1")
	assert.Contains(t, err.Error(), "tempid=b")
}

func TestGenesisRequest(t *testing.T) {
	req := GenesisRequest()
	require.NoError(t, req.Validate())
	assert.Len(t, req.Datoms, 17)
	for _, p := range req.Datoms {
		assert.Equal(t, RefID, p.E.Kind)
		assert.Equal(t, datom.PartDB, p.E.ID.Partition())
	}
}
