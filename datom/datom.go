package datom

import "fmt"

// Op distinguishes assertions from retractions.
type Op bool

const (
	Assert  Op = true
	Retract Op = false
)

// String returns "assert" or "retract".
func (o Op) String() string {
	if o == Assert {
		return "assert"
	}
	return "retract"
}

// Datom is the atomic fact: entity, attribute, value, transaction, op.
type Datom struct {
	E  ID
	A  ID
	V  Value
	T  ID
	Op Op
}

// String renders the datom as [e a v t op].
func (d Datom) String() string {
	return fmt.Sprintf("[%d %d %s %d %s]", d.E, d.A, d.V, d.T, d.Op)
}

// SameFact reports whether two datoms are about the same (e, a, v),
// regardless of transaction and op.
func SameFact(x, y Datom) bool {
	return x.E == y.E && x.A == y.A && Equal(x.V, y.V)
}

// Format renders d like String but names the attribute by its ident when
// ident knows one.
func (d Datom) Format(ident func(ID) string) string {
	a := d.A.String()
	if ident != nil {
		if s := ident(d.A); s != "" {
			a = ":" + s
		}
	}
	return fmt.Sprintf("[%d %s %s %d %s]", d.E, a, d.V, d.T, d.Op)
}
