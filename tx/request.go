package tx

import (
	"errors"
	"fmt"

	"github.com/polyneme/maggtomic/datom"
)

// RefKind says how a Ref names an entity.
type RefKind uint8

const (
	// RefNew asks for a fresh anonymous entity.
	RefNew RefKind = iota
	// RefID names an existing entity by id.
	RefID
	// RefTemp names a fresh entity by a request-scoped label.
	RefTemp
	// RefIdent names an entity by its db/ident.
	RefIdent
)

// Ref names an entity in a proposed datom.
type Ref struct {
	Kind  RefKind
	ID    datom.ID
	Label string
}

// NewEntity returns a Ref to a fresh entity that is not referenced elsewhere.
func NewEntity() Ref { return Ref{Kind: RefNew} }

// ID returns a Ref to an existing entity.
func ID(id datom.ID) Ref { return Ref{Kind: RefID, ID: id} }

// Temp returns a tempid Ref. Every use of the same label within one
// request resolves to the same fresh entity.
func Temp(label string) Ref { return Ref{Kind: RefTemp, Label: label} }

// Ident returns a Ref to the entity named by ident. In attribute position
// of an assertion an unknown ident is installed as a new attribute.
func Ident(ident string) Ref { return Ref{Kind: RefIdent, Label: ident} }

// String renders the ref for error messages.
func (r Ref) String() string {
	switch r.Kind {
	case RefID:
		return r.ID.String()
	case RefTemp:
		return "tempid(" + r.Label + ")"
	case RefIdent:
		return ":" + datom.NormalizeIdent(r.Label)
	default:
		return "new"
	}
}

// Val is the value position of a proposed datom: a literal or an entity.
type Val struct {
	Lit   datom.Value
	Ref   Ref
	IsRef bool
}

// Lit returns a literal value.
func Lit(v datom.Value) Val { return Val{Lit: v} }

// RefTo returns a value that references an entity.
func RefTo(r Ref) Val { return Val{Ref: r, IsRef: true} }

// String renders the value for error messages.
func (v Val) String() string {
	if v.IsRef {
		return v.Ref.String()
	}
	if v.Lit == nil {
		return "<nil>"
	}
	return v.Lit.String()
}

// Proposed is one datom of a request, before ids are assigned.
type Proposed struct {
	E  Ref
	A  Ref
	V  Val
	Op datom.Op
}

// Request is a transaction request. It is pure data.
type Request struct {
	Datoms []Proposed

	// Metadata is asserted on the transaction entity. Keys are attribute
	// idents; unknown keys are installed as attributes.
	Metadata map[string]datom.Value
}

// NewRequest returns an empty request.
func NewRequest() *Request {
	return &Request{}
}

// Assert appends an assertion.
func (r *Request) Assert(e, a Ref, v Val) *Request {
	r.Datoms = append(r.Datoms, Proposed{E: e, A: a, V: v, Op: datom.Assert})
	return r
}

// Retract appends a retraction.
func (r *Request) Retract(e, a Ref, v Val) *Request {
	r.Datoms = append(r.Datoms, Proposed{E: e, A: a, V: v, Op: datom.Retract})
	return r
}

// With attaches a provenance fact to the transaction entity.
func (r *Request) With(key string, v datom.Value) *Request {
	if r.Metadata == nil {
		r.Metadata = make(map[string]datom.Value)
	}
	r.Metadata[key] = v
	return r
}

// Validate checks everything that does not depend on the store's state.
func (r *Request) Validate() error {
	for i, p := range r.Datoms {
		if err := p.validate(); err != nil {
			var de *datom.Error
			if errors.As(err, &de) {
				de.Message = fmt.Sprintf("datom %d: %s", i, de.Message)
				return de
			}
			return err
		}
	}
	for key, v := range r.Metadata {
		ident := datom.NormalizeIdent(key)
		if ident == "" {
			return datom.Errorf(datom.ErrCodeInvalidRequest, "metadata key %q is empty", key)
		}
		if ident == "db/txInstant" {
			return datom.Errorf(datom.ErrCodeInvalidRequest, "metadata key %q is set by the transactor", key)
		}
		if err := datom.CheckValue(v); err != nil {
			return datom.Errorf(datom.ErrCodeInvalidRequest, "metadata %q: %v", key, err)
		}
		if ref, ok := v.(datom.Ref); ok && ref <= 0 {
			return datom.Errorf(datom.ErrCodeInvalidRequest, "metadata %q: ref %d is not an entity", key, ref)
		}
	}
	return nil
}

type positioned struct {
	pos string
	r   Ref
}

func (p Proposed) validate() error {
	refs := []positioned{{"entity", p.E}, {"attribute", p.A}}
	if p.V.IsRef {
		refs = append(refs, positioned{"value", p.V.Ref})
	} else if err := datom.CheckValue(p.V.Lit); err != nil {
		return datom.Errorf(datom.ErrCodeInvalidRequest, "value: %v", err)
	} else if ref, ok := p.V.Lit.(datom.Ref); ok && ref <= 0 {
		return datom.Errorf(datom.ErrCodeInvalidRequest, "value ref %d is not an entity", ref)
	}

	for _, x := range refs {
		switch x.r.Kind {
		case RefNew:
			if x.pos == "attribute" {
				return datom.Errorf(datom.ErrCodeInvalidRequest, "attribute is required")
			}
			if p.Op == datom.Retract {
				return datom.Errorf(datom.ErrCodeInvalidRequest, "cannot retract a fact about a new %s", x.pos)
			}
		case RefID:
			if x.r.ID <= 0 {
				return datom.Errorf(datom.ErrCodeInvalidRequest, "%s id %d is not an entity", x.pos, x.r.ID)
			}
		case RefTemp:
			if x.r.Label == "" {
				return datom.NewTempidConflict("", "empty tempid label in %s position", x.pos)
			}
			if p.Op == datom.Retract {
				return datom.NewTempidConflict(x.r.Label, "tempid in %s position of a retraction", x.pos)
			}
		case RefIdent:
			if datom.NormalizeIdent(x.r.Label) == "" {
				return datom.Errorf(datom.ErrCodeInvalidRequest, "empty ident in %s position", x.pos)
			}
		default:
			return datom.Errorf(datom.ErrCodeInvalidRequest, "unknown ref kind %d in %s position", x.r.Kind, x.pos)
		}
	}
	return nil
}
