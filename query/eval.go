package query

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/metrics"
)

// Source is the read side of the index manager.
type Source interface {
	Scan(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error]
	History(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error]
	TxData(ctx context.Context, t datom.ID) iter.Seq2[datom.Datom, error]
	Current(ctx context.Context, e, a, asOf datom.ID) iter.Seq2[datom.Datom, error]
}

// Schema answers attribute questions.
type Schema interface {
	Lookup(ident string) (datom.ID, bool)
	Indexed(datom.ID) bool
	Many(datom.ID) bool
}

// Options configures an Evaluator.
type Options struct {
	Metrics metrics.Collector
	Logger  *slog.Logger
}

// Evaluator answers queries. It holds no per-query state and is safe for
// concurrent use.
type Evaluator struct {
	src     Source
	schema  Schema
	basis   func() datom.ID
	metrics metrics.Collector
	log     *slog.Logger
}

// New creates an evaluator. basis reports the latest committed
// transaction and is read once per query.
func New(src Source, schema Schema, basis func() datom.ID, opts Options) *Evaluator {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Evaluator{src: src, schema: schema, basis: basis, metrics: opts.Metrics, log: opts.Logger}
}

// clamp resolves asOf against the basis: 0 and anything newer mean the
// basis itself.
func (ev *Evaluator) clamp(asOf datom.ID) datom.ID {
	basis := ev.basis()
	if asOf <= 0 || asOf > basis {
		return basis
	}
	return asOf
}

// Evaluate runs q as of asOf and yields one projected binding per join
// result. A malformed query yields a single QUERY_PATTERN error.
//
// Each pattern's matches are read completely before the next pattern
// runs, so a query holds at most one read connection at a time.
func (ev *Evaluator) Evaluate(ctx context.Context, q Query, asOf datom.ID) iter.Seq2[Binding, error] {
	return func(yield func(Binding, error) bool) {
		start := time.Now()
		var (
			count int
			qerr  error
		)
		defer func() {
			ev.metrics.RecordQuery(len(q.Where), count, time.Since(start), qerr)
			ev.log.Debug("query evaluated",
				"patterns", len(q.Where),
				"bindings", count,
				"duration", time.Since(start),
			)
		}()

		clauses, find, err := ev.compile(q)
		if err != nil {
			qerr = err
			yield(nil, err)
			return
		}

		r := &run{ev: ev, ctx: ctx, asOf: ev.clamp(asOf), current: make(map[eaKey]currentValue)}
		_, err = r.join(order(clauses), Binding{}, func(b Binding) bool {
			count++
			return yield(project(b, find), nil)
		})
		if err != nil {
			qerr = err
			yield(nil, err)
		}
	}
}

// Match runs a single pattern and yields one binding per matching datom.
func (ev *Evaluator) Match(ctx context.Context, p Pattern, asOf datom.ID) iter.Seq2[Binding, error] {
	return ev.Evaluate(ctx, Query{Where: []Pattern{p}}, asOf)
}

// Collect runs q and gathers every binding.
func (ev *Evaluator) Collect(ctx context.Context, q Query, asOf datom.ID) ([]Binding, error) {
	var out []Binding
	for b, err := range ev.Evaluate(ctx, q, asOf) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func project(b Binding, find []string) Binding {
	out := make(Binding, len(find))
	for _, name := range find {
		out[name] = b[name]
	}
	return out
}

type eaKey struct{ e, a datom.ID }

type currentValue struct {
	v  datom.Value
	ok bool
}

// run is the state of one query evaluation.
type run struct {
	ev      *Evaluator
	ctx     context.Context
	asOf    datom.ID
	current map[eaKey]currentValue
}

// join evaluates clauses[0] under b and recurses. It returns false when
// emit asked to stop.
func (r *run) join(clauses []clause, b Binding, emit func(Binding) bool) (bool, error) {
	if len(clauses) == 0 {
		return emit(b), nil
	}
	c := clauses[0]
	p, ok := substitute(c, b)
	if !ok {
		return true, nil
	}
	matches, err := r.match(p)
	if err != nil {
		return false, err
	}
	for _, d := range matches {
		nb, ok := unify(c, d, b)
		if !ok {
			continue
		}
		cont, err := r.join(clauses[1:], nb, emit)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// bound is a pattern with every constant and bound variable filled in.
// A nil position is unbound.
type bound [4]datom.Value

func (p bound) id(pos int) (datom.ID, bool) {
	if p[pos] == nil {
		return 0, false
	}
	return datom.ID(p[pos].(datom.Ref)), true
}

// substitute fills c's positions from its constants and b. ok is false
// when a variable bound to a non-entity value lands in an entity
// position, so nothing can match.
func substitute(c clause, b Binding) (bound, bool) {
	var p bound
	for pos, s := range c.slots {
		var v datom.Value
		switch s.kind {
		case slotConst:
			v = s.val
		case slotVar:
			v = b[s.name]
		}
		if v == nil {
			continue
		}
		if pos != posV {
			if _, isRef := v.(datom.Ref); !isRef {
				return bound{}, false
			}
		}
		p[pos] = v
	}
	return p, true
}

func component(d datom.Datom, pos int) datom.Value {
	switch pos {
	case posE:
		return datom.Ref(d.E)
	case posA:
		return datom.Ref(d.A)
	case posV:
		return d.V
	default:
		return datom.Ref(d.T)
	}
}

// unify extends b with c's variables as bound by d. A variable repeated
// within c must take one value.
func unify(c clause, d datom.Datom, b Binding) (Binding, bool) {
	var nb Binding
	for pos, s := range c.slots {
		if s.kind != slotVar {
			continue
		}
		v := component(d, pos)
		cur := b
		if nb != nil {
			cur = nb
		}
		if prev, ok := cur[s.name]; ok {
			if !datom.Equal(prev, v) {
				return nil, false
			}
			continue
		}
		if nb == nil {
			nb = b.Clone()
			if nb == nil {
				nb = Binding{}
			}
		}
		nb[s.name] = v
	}
	if nb == nil {
		return b, true
	}
	return nb, true
}

// match returns the datoms matching p as of the run's basis.
func (r *run) match(p bound) ([]datom.Datom, error) {
	f, key, ok := chooseFamily(p, r.ev.schema)

	var seq iter.Seq2[datom.Datom, error]
	switch {
	case ok:
		seq = r.ev.src.Scan(r.ctx, f, key, key, r.asOf)
	case p[posT] != nil:
		return r.matchTx(p)
	default:
		seq = r.ev.src.Scan(r.ctx, datom.EAVT, nil, nil, r.asOf)
	}

	var candidates []datom.Datom
	for d, err := range seq {
		if err != nil {
			return nil, err
		}
		if p.admits(d) {
			candidates = append(candidates, d)
		}
	}
	return r.currentOnly(candidates)
}

// matchTx serves a pattern bound only in transaction position from the
// transaction's own datoms, keeping assertions still in effect as of the
// run's basis.
func (r *run) matchTx(p bound) ([]datom.Datom, error) {
	t, _ := p.id(posT)
	if t > r.asOf {
		return nil, nil
	}
	var asserted []datom.Datom
	for d, err := range r.ev.src.TxData(r.ctx, t) {
		if err != nil {
			return nil, err
		}
		if d.Op == datom.Assert && p.admits(d) {
			asserted = append(asserted, d)
		}
	}

	var live []datom.Datom
	for _, d := range asserted {
		key := datom.EAVT.KeyOf(d)
		latest, found, err := first(r.ev.src.History(r.ctx, datom.EAVT, key, key, r.asOf))
		if err != nil {
			return nil, err
		}
		if found && latest.T == d.T && latest.Op == datom.Assert {
			live = append(live, d)
		}
	}
	return r.currentOnly(live)
}

func first(seq iter.Seq2[datom.Datom, error]) (datom.Datom, bool, error) {
	for d, err := range seq {
		return d, err == nil, err
	}
	return datom.Datom{}, false, nil
}

// admits checks every bound position.
func (p bound) admits(d datom.Datom) bool {
	for pos, v := range p {
		if v != nil && !datom.Equal(v, component(d, pos)) {
			return false
		}
	}
	return true
}

// currentOnly drops datoms of cardinality-one attributes that are not the
// current value of their entity and attribute.
func (r *run) currentOnly(ds []datom.Datom) ([]datom.Datom, error) {
	out := ds[:0]
	for _, d := range ds {
		if r.ev.schema.Many(d.A) {
			out = append(out, d)
			continue
		}
		key := eaKey{d.E, d.A}
		cur, cached := r.current[key]
		if !cached {
			v, ok, err := r.ev.currentValue(r.ctx, d.E, d.A, r.asOf)
			if err != nil {
				return nil, err
			}
			cur = currentValue{v: v, ok: ok}
			r.current[key] = cur
		}
		if cur.ok && datom.Equal(cur.v, d.V) {
			out = append(out, d)
		}
	}
	return out, nil
}

// chooseFamily picks the family whose order has the longest bound prefix
// and returns that prefix as the scan key. Ties prefer EAVT, AEVT, AVET,
// VAET in that order. AVET serves only indexed attributes and VAET only
// entity values. ok is false when no family has a bound prefix.
func chooseFamily(p bound, schema Schema) (datom.Family, datom.Key, bool) {
	var (
		best    datom.Family
		bestKey datom.Key
	)
	for _, f := range datom.Families {
		switch f {
		case datom.AVET:
			a, ok := p.id(posA)
			if !ok || !schema.Indexed(a) {
				continue
			}
		case datom.VAET:
			if _, ok := p[posV].(datom.Ref); !ok {
				continue
			}
		}
		var key datom.Key
		for _, c := range f.Order() {
			v := p[componentPos(c)]
			if v == nil {
				break
			}
			key = append(key, v)
		}
		if len(key) > len(bestKey) {
			best, bestKey = f, key
		}
	}
	return best, bestKey, len(bestKey) > 0
}

func componentPos(c datom.Component) int {
	switch c {
	case datom.CompE:
		return posE
	case datom.CompA:
		return posA
	case datom.CompV:
		return posV
	default:
		return posT
	}
}
