package query

import (
	"context"

	"github.com/polyneme/maggtomic/datom"
)

type valueKey struct {
	kind datom.Kind
	text string
}

func keyOfValue(v datom.Value) valueKey {
	return valueKey{kind: v.Kind(), text: datom.Normalize(v).String()}
}

// currentValue walks (e, a) newest first and returns the first assertion
// whose value no later retraction shadows.
func (ev *Evaluator) currentValue(ctx context.Context, e, a, asOf datom.ID) (datom.Value, bool, error) {
	shadowed := make(map[valueKey]bool)
	for d, err := range ev.src.Current(ctx, e, a, asOf) {
		if err != nil {
			return nil, false, err
		}
		k := keyOfValue(d.V)
		if d.Op == datom.Retract {
			shadowed[k] = true
			continue
		}
		if !shadowed[k] {
			return d.V, true, nil
		}
	}
	return nil, false, nil
}

// CurrentValue returns the value of a cardinality-one attribute of e as
// of asOf. ok is false if there is none.
func (ev *Evaluator) CurrentValue(ctx context.Context, e, a, asOf datom.ID) (datom.Value, bool, error) {
	return ev.currentValue(ctx, e, a, ev.clamp(asOf))
}

// CurrentValues returns every value of a cardinality-many attribute of e
// asserted and not retracted as of asOf, newest first.
func (ev *Evaluator) CurrentValues(ctx context.Context, e, a, asOf datom.ID) ([]datom.Value, error) {
	asOf = ev.clamp(asOf)
	decided := make(map[valueKey]bool)
	var out []datom.Value
	for d, err := range ev.src.Current(ctx, e, a, asOf) {
		if err != nil {
			return nil, err
		}
		k := keyOfValue(d.V)
		if decided[k] {
			continue
		}
		decided[k] = true
		if d.Op == datom.Assert {
			out = append(out, d.V)
		}
	}
	return out, nil
}
