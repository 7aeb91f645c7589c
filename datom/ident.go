package datom

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Built-in attributes. Their ids are fixed in the db partition and their
// idents are asserted by the genesis transaction.
var (
	AttrIdent       = MakeID(PartDB, 1)
	AttrCardinality = MakeID(PartDB, 2)
	AttrIndex       = MakeID(PartDB, 3)
	AttrTxInstant   = MakeID(PartDB, 4)
	AttrDoc         = MakeID(PartDB, 5)
)

// Cardinality values of db/cardinality.
const (
	CardinalityOne  = "one"
	CardinalityMany = "many"
)

// Builtin describes one built-in attribute.
type Builtin struct {
	ID          ID
	Ident       string
	Indexed     bool
	Cardinality string
	Doc         string
}

// Builtins lists the built-in attributes in id order.
var Builtins = []Builtin{
	{AttrIdent, "db/ident", true, CardinalityOne, "Unique name of an entity."},
	{AttrCardinality, "db/cardinality", false, CardinalityOne, `"one" or "many"; defaults to "one".`},
	{AttrIndex, "db/index", false, CardinalityOne, "When true the attribute is written to AVET."},
	{AttrTxInstant, "db/txInstant", true, CardinalityOne, "Wall-clock commit time of a transaction."},
	{AttrDoc, "db/doc", false, CardinalityOne, "Documentation string."},
}

// IsBuiltin reports whether id is one of the built-in attributes.
func IsBuiltin(id ID) bool {
	return id.Partition() == PartDB && id.Counter() >= 1 && id.Counter() <= int64(len(Builtins))
}

// NormalizeIdent returns the canonical form of an ident: NFC normalized,
// surrounding space trimmed, leading ':' removed. Returns "" for an
// ident that is empty after normalization.
func NormalizeIdent(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	s = strings.TrimPrefix(s, ":")
	return s
}

// ExpandIdent resolves a "prefix:local" ident against a prefix table.
// Idents whose prefix is not in the table are returned unchanged.
func ExpandIdent(ident string, prefixes map[string]string) string {
	if len(prefixes) == 0 {
		return ident
	}
	prefix, local, ok := strings.Cut(ident, ":")
	if !ok {
		return ident
	}
	if expansion, ok := prefixes[prefix]; ok {
		return expansion + local
	}
	return ident
}
