package index

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/polyneme/maggtomic/datom"
)

// AttrInfo is what the store knows about an entity used as an attribute.
type AttrInfo struct {
	ID      datom.ID
	Ident   string
	Indexed bool
	Many    bool
}

// Attrs is the in-memory view of db/ident, db/index and db/cardinality.
// It is derived entirely from datoms and rebuilt on open.
//
// Thread-safety: Attrs is safe for concurrent use.
type Attrs struct {
	mu      sync.RWMutex
	byID    map[datom.ID]AttrInfo
	byIdent map[string]datom.ID
}

// NewAttrs returns a view holding only the built-in attributes.
func NewAttrs() *Attrs {
	a := &Attrs{
		byID:    make(map[datom.ID]AttrInfo),
		byIdent: make(map[string]datom.ID),
	}
	for _, b := range datom.Builtins {
		a.byID[b.ID] = AttrInfo{
			ID:      b.ID,
			Ident:   b.Ident,
			Indexed: b.Indexed,
			Many:    b.Cardinality == datom.CardinalityMany,
		}
		a.byIdent[b.Ident] = b.ID
	}
	return a
}

// Lookup resolves an ident to its entity id.
func (a *Attrs) Lookup(ident string) (datom.ID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byIdent[datom.NormalizeIdent(ident)]
	return id, ok
}

// Info returns what is known about id. Unknown ids get the defaults:
// not indexed, cardinality one.
func (a *Attrs) Info(id datom.ID) AttrInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if info, ok := a.byID[id]; ok {
		return info
	}
	return AttrInfo{ID: id}
}

// Indexed reports whether id is written to AVET.
func (a *Attrs) Indexed(id datom.ID) bool { return a.Info(id).Indexed }

// Many reports whether id has cardinality many.
func (a *Attrs) Many(id datom.ID) bool { return a.Info(id).Many }

// Ident returns the ident of id, or "".
func (a *Attrs) Ident(id datom.ID) string { return a.Info(id).Ident }

// All returns every entity with an ident or attribute flags.
func (a *Attrs) All() []AttrInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AttrInfo, 0, len(a.byID))
	for _, info := range a.byID {
		out = append(out, info)
	}
	return out
}

// Clone returns an independent copy, used as a transaction-local view.
func (a *Attrs) Clone() *Attrs {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &Attrs{
		byID:    maps.Clone(a.byID),
		byIdent: maps.Clone(a.byIdent),
	}
}

// Apply folds schema datoms into the view, in order. Datoms about other
// attributes are ignored. Within one transaction retractions should be
// applied before assertions.
func (a *Attrs) Apply(datoms []datom.Datom) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range datoms {
		a.apply(d)
	}
}

func (a *Attrs) apply(d datom.Datom) {
	switch d.A {
	case datom.AttrIdent, datom.AttrIndex, datom.AttrCardinality:
	default:
		return
	}
	info, ok := a.byID[d.E]
	if !ok {
		info = AttrInfo{ID: d.E}
	}

	switch d.A {
	case datom.AttrIdent:
		s, ok := d.V.(datom.String)
		if !ok {
			return
		}
		ident := datom.NormalizeIdent(string(s))
		if d.Op == datom.Assert {
			if info.Ident != "" {
				delete(a.byIdent, info.Ident)
			}
			info.Ident = ident
			a.byIdent[ident] = d.E
		} else if info.Ident == ident {
			delete(a.byIdent, ident)
			info.Ident = ""
		}
	case datom.AttrIndex:
		b, ok := d.V.(datom.Bool)
		if !ok {
			return
		}
		info.Indexed = d.Op == datom.Assert && bool(b)
	case datom.AttrCardinality:
		s, ok := d.V.(datom.String)
		if !ok {
			return
		}
		info.Many = d.Op == datom.Assert && string(s) == datom.CardinalityMany
	}
	a.byID[d.E] = info
}

// LoadAttrs rebuilds the attribute view from the AEVT family.
func (s *Store) LoadAttrs(ctx context.Context) (*Attrs, error) {
	attrs := NewAttrs()
	q := fmt.Sprintf(`%s
		WHERE f.a IN (?, ?, ?)
		ORDER BY f.t ASC, f.op ASC`, selectFrom("aevt"))

	var batch []datom.Datom
	for d, err := range s.rowsSeq(ctx, q, []any{
		int64(datom.AttrIdent), int64(datom.AttrIndex), int64(datom.AttrCardinality),
	}) {
		if err != nil {
			return nil, fmt.Errorf("load attributes: %w", err)
		}
		batch = append(batch, d)
	}
	attrs.Apply(batch)
	return attrs, nil
}
