package tx

import (
	"fmt"
	"math"
	"slices"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/alloc"
	"github.com/polyneme/maggtomic/internal/index"
)

// pendingTx stands in for the transaction id until it is allocated.
const pendingTx = datom.ID(math.MinInt64)

// plan is a request resolved against the attribute view, with fresh
// entities still represented by provisional ids -1, -2, ... in order of
// first appearance.
type plan struct {
	attrs *index.Attrs
	gen   LabelGenerator

	fresh    int64
	temps    map[string]datom.ID // tempid label -> provisional id
	labels   []string            // labels in first-appearance order
	installs map[string]datom.ID // installed ident -> provisional id
	declared map[string]Ref      // ident asserted by the request itself

	datoms []datom.Datom
}

func newPlan(attrs *index.Attrs, gen LabelGenerator) *plan {
	return &plan{
		attrs:    attrs,
		gen:      gen,
		temps:    make(map[string]datom.ID),
		installs: make(map[string]datom.ID),
		declared: make(map[string]Ref),
	}
}

func (p *plan) next() datom.ID {
	p.fresh++
	return datom.ID(-p.fresh)
}

func (p *plan) temp(label string) datom.ID {
	if id, ok := p.temps[label]; ok {
		return id
	}
	id := p.next()
	p.temps[label] = id
	p.labels = append(p.labels, label)
	return id
}

// lookup resolves an ident to an existing entity, an entity the request
// names with a db/ident assertion, or a just-installed attribute.
func (p *plan) lookup(ident string) (datom.ID, bool) {
	ident = datom.NormalizeIdent(ident)
	if id, ok := p.installs[ident]; ok {
		return id, true
	}
	if id, ok := p.attrs.Lookup(ident); ok {
		return id, true
	}
	if r, ok := p.declared[ident]; ok {
		switch r.Kind {
		case RefTemp:
			return p.temp(r.Label), true
		case RefID:
			return r.ID, true
		}
	}
	return 0, false
}

// declare records idents the request asserts on tempid or id entities,
// so later positions can name those entities by ident.
func (p *plan) declare(req *Request) {
	for _, d := range req.Datoms {
		if d.Op != datom.Assert || d.V.IsRef {
			continue
		}
		s, ok := d.V.Lit.(datom.String)
		if !ok || !isIdentAttr(d.A) {
			continue
		}
		if d.E.Kind != RefTemp && d.E.Kind != RefID {
			continue
		}
		ident := datom.NormalizeIdent(string(s))
		if _, dup := p.declared[ident]; !dup {
			p.declared[ident] = d.E
		}
	}
}

func isIdentAttr(r Ref) bool {
	switch r.Kind {
	case RefID:
		return r.ID == datom.AttrIdent
	case RefIdent:
		return datom.NormalizeIdent(r.Label) == "db/ident"
	}
	return false
}

// install adds a fresh attribute entity named ident.
func (p *plan) install(ident string) datom.ID {
	ident = datom.NormalizeIdent(ident)
	id := p.next()
	p.installs[ident] = id
	p.datoms = append(p.datoms, datom.Datom{
		E: id, A: datom.AttrIdent, V: datom.String(ident), T: pendingTx, Op: datom.Assert,
	})
	return id
}

func (p *plan) entity(r Ref, pos string) (datom.ID, error) {
	switch r.Kind {
	case RefID:
		return r.ID, nil
	case RefTemp:
		return p.temp(r.Label), nil
	case RefNew:
		return p.temp(p.gen.Generate()), nil
	case RefIdent:
		if id, ok := p.lookup(r.Label); ok {
			return id, nil
		}
		return 0, datom.Errorf(datom.ErrCodeInvalidRequest, "unknown ident %s in %s position", r, pos)
	}
	return 0, datom.Errorf(datom.ErrCodeInvalidRequest, "unknown ref kind %d", r.Kind)
}

func (p *plan) attribute(r Ref, op datom.Op) (datom.ID, error) {
	if r.Kind != RefIdent {
		return p.entity(r, "attribute")
	}
	if id, ok := p.lookup(r.Label); ok {
		return id, nil
	}
	if op == datom.Retract {
		return 0, datom.Errorf(datom.ErrCodeInvalidRequest, "cannot retract unknown attribute %s", r)
	}
	return p.install(r.Label), nil
}

// add resolves one proposed datom. Positions resolve in E, A, V order.
func (p *plan) add(d Proposed) error {
	e, err := p.entity(d.E, "entity")
	if err != nil {
		return err
	}
	a, err := p.attribute(d.A, d.Op)
	if err != nil {
		return err
	}
	v := datom.Normalize(d.V.Lit)
	if d.V.IsRef {
		id, err := p.entity(d.V.Ref, "value")
		if err != nil {
			return err
		}
		v = datom.Ref(id)
	}
	p.datoms = append(p.datoms, datom.Datom{E: e, A: a, V: v, T: pendingTx, Op: d.Op})
	return nil
}

// resolve turns a validated request into a plan. The transaction's own
// db/txInstant datom is added at commit time.
func resolve(req *Request, attrs *index.Attrs, gen LabelGenerator) (*plan, error) {
	p := newPlan(attrs, gen)
	p.declare(req)
	for i, d := range req.Datoms {
		if err := p.add(d); err != nil {
			return nil, fmt.Errorf("datom %d: %w", i, err)
		}
	}

	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		a, err := p.attribute(Ident(k), datom.Assert)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		p.datoms = append(p.datoms, datom.Datom{E: pendingTx, A: a, V: datom.Normalize(req.Metadata[k]), T: pendingTx, Op: datom.Assert})
	}

	for _, label := range p.labels {
		if _, ok := p.installs[datom.NormalizeIdent(label)]; ok {
			return nil, datom.NewTempidConflict(label, "label is used both as a tempid and as an installed attribute ident")
		}
	}

	p.datoms = dedupe(p.datoms)
	if err := checkConflicts(p.datoms, attrs); err != nil {
		return nil, err
	}
	return p, nil
}

type factKey struct {
	e, a datom.ID
	kind datom.Kind
	v    string
}

func keyOf(d datom.Datom) factKey {
	return factKey{e: d.E, a: d.A, kind: d.V.Kind(), v: datom.Normalize(d.V).String()}
}

// dedupe drops datoms identical to an earlier one, keeping order.
func dedupe(ds []datom.Datom) []datom.Datom {
	type full struct {
		factKey
		op datom.Op
	}
	seen := make(map[full]bool, len(ds))
	out := ds[:0]
	for _, d := range ds {
		k := full{keyOf(d), d.Op}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}

// checkConflicts rejects a fact both asserted and retracted, and two
// values asserted for one cardinality-one attribute of one entity. The
// cardinality is read from the view as changed by the batch itself.
func checkConflicts(ds []datom.Datom, attrs *index.Attrs) error {
	local := attrs.Clone()
	local.Apply(schemaDatoms(ds))

	ops := make(map[factKey]datom.Op, len(ds))
	type ea struct{ e, a datom.ID }
	values := make(map[ea]datom.Value)
	for _, d := range ds {
		k := keyOf(d)
		if op, ok := ops[k]; ok && op != d.Op {
			return datom.Errorf(datom.ErrCodeDatomConflict,
				"fact [%s %s %s] is both asserted and retracted", describe(d.E), describe(d.A), d.V)
		}
		ops[k] = d.Op

		if d.Op != datom.Assert || local.Many(d.A) {
			continue
		}
		key := ea{d.E, d.A}
		if prev, ok := values[key]; ok && !datom.Equal(prev, d.V) {
			return datom.Errorf(datom.ErrCodeDatomConflict,
				"two values %s and %s for cardinality-one attribute %s of entity %s",
				prev, d.V, describe(d.A), describe(d.E))
		}
		values[key] = d.V
	}
	return nil
}

// checkIssued rejects literal ids the allocator has not issued: a
// built-in id out of range, an unknown partition, or a tx or user counter
// above the last one handed out.
func checkIssued(ds []datom.Datom, issued func(alloc.Space) int64) error {
	check := func(id datom.ID, pos string) error {
		if id <= 0 {
			return nil // provisional
		}
		switch id.Partition() {
		case datom.PartDB:
			if datom.IsBuiltin(id) {
				return nil
			}
		case datom.PartTx:
			if id.Counter() <= issued(alloc.SpaceTx) {
				return nil
			}
		case datom.PartUser:
			if id.Counter() <= issued(alloc.SpaceEntity) {
				return nil
			}
		}
		return datom.Errorf(datom.ErrCodeInvalidRequest,
			"%s id %s (partition %s) was never issued", pos, id, id.Partition())
	}
	for _, d := range ds {
		if err := check(d.E, "entity"); err != nil {
			return err
		}
		if err := check(d.A, "attribute"); err != nil {
			return err
		}
		if r, ok := d.V.(datom.Ref); ok {
			if err := check(datom.ID(r), "value"); err != nil {
				return err
			}
		}
	}
	return nil
}

func describe(id datom.ID) string {
	switch {
	case id == pendingTx:
		return "tx"
	case id < 0:
		return fmt.Sprintf("new#%d", -id)
	default:
		return id.String()
	}
}

// schemaDatoms returns the datoms that change the attribute view,
// retractions before assertions.
func schemaDatoms(ds []datom.Datom) []datom.Datom {
	var retracts, asserts []datom.Datom
	for _, d := range ds {
		switch d.A {
		case datom.AttrIdent, datom.AttrIndex, datom.AttrCardinality:
		default:
			continue
		}
		if d.Op == datom.Retract {
			retracts = append(retracts, d)
		} else {
			asserts = append(asserts, d)
		}
	}
	return append(retracts, asserts...)
}

// substitute replaces provisional ids with allocated ones.
func (p *plan) substitute(txID datom.ID, ids []datom.ID) []datom.Datom {
	fix := func(id datom.ID) datom.ID {
		switch {
		case id == pendingTx:
			return txID
		case id < 0:
			return ids[-id-1]
		}
		return id
	}
	out := make([]datom.Datom, len(p.datoms))
	for i, d := range p.datoms {
		d.E, d.A, d.T = fix(d.E), fix(d.A), txID
		if r, ok := d.V.(datom.Ref); ok {
			d.V = datom.Ref(fix(datom.ID(r)))
		}
		out[i] = d
	}
	return out
}

// tempids maps every label to its allocated id.
func (p *plan) tempids(ids []datom.ID) map[string]datom.ID {
	out := make(map[string]datom.ID, len(p.temps))
	for label, prov := range p.temps {
		out[label] = ids[-prov-1]
	}
	return out
}
