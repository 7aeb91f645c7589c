package query

import (
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/polyneme/maggtomic/datom"
)

// TermKind distinguishes the forms a pattern position can take.
type TermKind uint8

const (
	TermBlank TermKind = iota
	TermVar
	TermLit
	TermIdent
)

// Term is one position of a pattern.
type Term struct {
	Kind  TermKind
	Name  string      // variable name with its '?', or ident
	Value datom.Value // literal
}

// Blank matches anything and binds nothing.
var Blank = Term{Kind: TermBlank}

// Var returns a variable term. Names start with '?'.
func Var(name string) Term { return Term{Kind: TermVar, Name: name} }

// Lit returns a literal term.
func Lit(v datom.Value) Term { return Term{Kind: TermLit, Value: v} }

// Ident returns a term naming an entity by its db/ident. Prefixes of the
// query are expanded before lookup.
func Ident(ident string) Term { return Term{Kind: TermIdent, Name: ident} }

// String renders the term in the syntax ParseTerm accepts.
func (t Term) String() string {
	switch t.Kind {
	case TermVar:
		return t.Name
	case TermIdent:
		return ":" + strings.TrimPrefix(t.Name, ":")
	case TermLit:
		if t.Value == nil {
			return "<nil>"
		}
		switch v := t.Value.(type) {
		case datom.Ref:
			return "#" + datom.ID(v).String()
		case datom.Instant:
			return "@" + v.String()
		}
		return t.Value.String()
	default:
		return "_"
	}
}

var varName = regexp.MustCompile(`^\?[\p{L}_][\p{L}\p{N}_\-./]*$`)

// ValidVar reports whether name is a well-formed variable name.
func ValidVar(name string) bool { return varName.MatchString(name) }

// ParseTerm parses the textual form of a term:
//
//	_            blank
//	?name        variable
//	:ns/name     ident
//	#123         entity id
//	"text"       string
//	true, false  bool
//	42, -1.5     int, float
//	@2024-01-02T03:04:05Z  instant
func ParseTerm(s string) (Term, error) {
	switch {
	case s == "_":
		return Blank, nil
	case strings.HasPrefix(s, "?"):
		if !ValidVar(s) {
			return Term{}, datom.NewQueryPattern("malformed variable %q", s)
		}
		return Var(s), nil
	case strings.HasPrefix(s, ":"):
		if datom.NormalizeIdent(s) == "" {
			return Term{}, datom.NewQueryPattern("empty ident")
		}
		return Ident(s), nil
	case strings.HasPrefix(s, "#"):
		n, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil || n <= 0 {
			return Term{}, datom.NewQueryPattern("malformed entity id %q", s)
		}
		return Lit(datom.Ref(n)), nil
	case strings.HasPrefix(s, `"`):
		text, err := strconv.Unquote(s)
		if err != nil {
			return Term{}, datom.NewQueryPattern("malformed string %s", s)
		}
		return Lit(datom.String(text)), nil
	case strings.HasPrefix(s, "@"):
		at, err := time.Parse(time.RFC3339Nano, s[1:])
		if err != nil {
			return Term{}, datom.NewQueryPattern("malformed instant %q", s)
		}
		return Lit(datom.NewInstant(at)), nil
	case s == "true" || s == "false":
		return Lit(datom.Bool(s == "true")), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Lit(datom.Int(n)), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Lit(datom.Float(f)), nil
	}
	return Term{}, datom.NewQueryPattern("cannot parse term %q", s)
}

// Pattern is a datom template.
type Pattern struct {
	E, A, V, T Term
}

// terms returns the positions in E, A, V, T order.
func (p Pattern) terms() [4]Term { return [4]Term{p.E, p.A, p.V, p.T} }

// String renders the pattern as [e a v t].
func (p Pattern) String() string {
	t := p.terms()
	return fmt.Sprintf("[%s %s %s %s]", t[0], t[1], t[2], t[3])
}

// ParsePattern parses three or four terms; a missing transaction is blank.
func ParsePattern(fields []string) (Pattern, error) {
	if len(fields) != 3 && len(fields) != 4 {
		return Pattern{}, datom.NewQueryPattern("pattern needs 3 or 4 terms, got %d", len(fields))
	}
	var terms [4]Term
	terms[3] = Blank
	for i, f := range fields {
		t, err := ParseTerm(f)
		if err != nil {
			return Pattern{}, err
		}
		terms[i] = t
	}
	return Pattern{E: terms[0], A: terms[1], V: terms[2], T: terms[3]}, nil
}

// Query is a conjunction of patterns with a projection.
type Query struct {
	// Find lists the variables to return. Empty means every variable, in
	// order of first appearance.
	Find []string

	Where []Pattern

	// Prefixes expand "prefix:local" idents.
	Prefixes map[string]string
}

// Binding maps variable names to values.
type Binding map[string]datom.Value

// Clone returns an independent copy.
func (b Binding) Clone() Binding { return maps.Clone(b) }
