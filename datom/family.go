package datom

import "strings"

// Family names one persisted sort order over the datom set.
type Family uint8

const (
	EAVT Family = iota // Entity-Attribute-Value-Tx, complete
	AEVT               // Attribute-Entity-Value-Tx, complete
	AVET               // Attribute-Value-Entity-Tx, indexed attributes only
	VAET               // Value-Attribute-Entity-Tx, ref values only
)

// Families lists every index family in write order.
var Families = []Family{EAVT, AEVT, AVET, VAET}

// Component is one position of a datom.
type Component uint8

const (
	CompE Component = iota
	CompA
	CompV
	CompT
)

var familyOrder = map[Family][3]Component{
	EAVT: {CompE, CompA, CompV},
	AEVT: {CompA, CompE, CompV},
	AVET: {CompA, CompV, CompE},
	VAET: {CompV, CompA, CompE},
}

// String returns the family name, e.g. "EAVT".
func (f Family) String() string {
	switch f {
	case EAVT:
		return "EAVT"
	case AEVT:
		return "AEVT"
	case AVET:
		return "AVET"
	case VAET:
		return "VAET"
	}
	return "UNKNOWN"
}

// Table returns the SQL table backing the family.
func (f Family) Table() string {
	return strings.ToLower(f.String())
}

// ParseFamily accepts a family name in any case.
func ParseFamily(s string) (Family, bool) {
	for _, f := range Families {
		if strings.EqualFold(f.String(), s) {
			return f, true
		}
	}
	return 0, false
}

// Order returns the leading components of the family's sort order.
// The transaction component always follows, descending.
func (f Family) Order() [3]Component {
	return familyOrder[f]
}

// Partial reports whether the family holds only a subset of datoms.
func (f Family) Partial() bool {
	return f == AVET || f == VAET
}

// Key is a prefix of a family key: values in the family's component order.
// E, A and T components are Ref values.
type Key []Value

// Component returns the datom component at the given family position.
func (d Datom) Component(c Component) Value {
	switch c {
	case CompE:
		return Ref(d.E)
	case CompA:
		return Ref(d.A)
	case CompV:
		return d.V
	default:
		return Ref(d.T)
	}
}

// KeyOf returns the full (e, a, v) key of a datom in the family's order.
func (f Family) KeyOf(d Datom) Key {
	o := f.Order()
	return Key{d.Component(o[0]), d.Component(o[1]), d.Component(o[2])}
}
