package datom

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the type tag of a Value.
//
// The numeric order of kinds defines the order of values of different
// kinds inside an index family. It is persisted; never renumber.
type Kind uint8

const (
	KindRef     Kind = 1
	KindBool    Kind = 2
	KindInt     Kind = 3
	KindFloat   Kind = 4
	KindInstant Kind = 5
	KindString  Kind = 6
	KindBytes   Kind = 7
)

var kindNames = map[Kind]string{
	KindRef:     "ref",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindInstant: "instant",
	KindString:  "string",
	KindBytes:   "bytes",
}

// String returns the kind name used in exports and CLI output.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Interned reports whether values of this kind are stored through the
// interning table rather than inline in index rows.
func (k Kind) Interned() bool {
	return k == KindString || k == KindBytes
}

// Value is a sealed interface over the value kinds a datom may carry.
// Only the types in this file implement it.
type Value interface {
	Kind() Kind
	String() string
	value() // sealed
}

// Ref is a reference to another entity.
type Ref ID

// String is a UTF-8 string value.
type String string

// Int is a 64-bit integer value.
type Int int64

// Float is a 64-bit float value. NaN is not a storable value.
type Float float64

// Bool is a boolean value.
type Bool bool

// Instant is a point in time with nanosecond precision, always UTC.
type Instant struct{ t time.Time }

// Bytes is an opaque byte sequence.
type Bytes []byte

func (Ref) value()     {}
func (String) value()  {}
func (Int) value()     {}
func (Float) value()   {}
func (Bool) value()    {}
func (Instant) value() {}
func (Bytes) value()   {}

func (Ref) Kind() Kind     { return KindRef }
func (String) Kind() Kind  { return KindString }
func (Int) Kind() Kind     { return KindInt }
func (Float) Kind() Kind   { return KindFloat }
func (Bool) Kind() Kind    { return KindBool }
func (Instant) Kind() Kind { return KindInstant }
func (Bytes) Kind() Kind   { return KindBytes }

func (v Ref) String() string    { return "#" + ID(v).String() }
func (v String) String() string { return strconv.Quote(string(v)) }
func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v Instant) String() string {
	return v.t.Format(time.RFC3339Nano)
}
func (v Bytes) String() string { return "b64:" + base64.StdEncoding.EncodeToString(v) }

// NewInstant truncates nothing; it only normalizes the location to UTC.
func NewInstant(t time.Time) Instant {
	return Instant{t: t.UTC()}
}

// InstantFromNanos builds an Instant from Unix nanoseconds.
func InstantFromNanos(n int64) Instant {
	return Instant{t: time.Unix(0, n).UTC()}
}

// Time returns the instant as a time.Time.
func (v Instant) Time() time.Time { return v.t }

// UnixNano returns the instant as Unix nanoseconds.
func (v Instant) UnixNano() int64 { return v.t.UnixNano() }

// Equal reports whether two values have the same kind and content.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Compare orders values by kind first, then by content.
// Strings and byte sequences compare lexically.
func Compare(a, b Value) int {
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	switch av := a.(type) {
	case Ref:
		return cmp.Compare(av, b.(Ref))
	case String:
		return cmp.Compare(av, b.(String))
	case Int:
		return cmp.Compare(av, b.(Int))
	case Float:
		return cmp.Compare(av, b.(Float))
	case Bool:
		return cmp.Compare(boolInt(bool(av)), boolInt(bool(b.(Bool))))
	case Instant:
		return av.t.Compare(b.(Instant).t)
	case Bytes:
		return bytes.Compare(av, b.(Bytes))
	}
	panic(fmt.Sprintf("datom: unknown value type %T", a))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CheckValue rejects values that cannot be stored.
func CheckValue(v Value) error {
	if v == nil {
		return fmt.Errorf("nil value")
	}
	if f, ok := v.(Float); ok && math.IsNaN(float64(f)) {
		return fmt.Errorf("NaN is not a storable value")
	}
	return nil
}

// Normalize returns the canonical form of v: negative zero becomes zero.
// Values that are Equal have the same normalized String form.
func Normalize(v Value) Value {
	if f, ok := v.(Float); ok && f == 0 {
		return Float(0)
	}
	return v
}

// Native returns the value as a plain Go value for JSON encoding.
func Native(v Value) any {
	switch x := v.(type) {
	case Ref:
		return int64(x)
	case String:
		return string(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case Bool:
		return bool(x)
	case Instant:
		return x.t.Format(time.RFC3339Nano)
	case Bytes:
		return base64.StdEncoding.EncodeToString(x)
	}
	return nil
}
