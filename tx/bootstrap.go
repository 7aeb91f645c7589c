package tx

import (
	"context"
	"time"

	"github.com/polyneme/maggtomic/datom"
)

// GenesisRequest asserts the idents, cardinalities, index flags and docs
// of the built-in attributes.
func GenesisRequest() *Request {
	req := NewRequest()
	for _, b := range datom.Builtins {
		e := ID(b.ID)
		req.Assert(e, ID(datom.AttrIdent), Lit(datom.String(b.Ident)))
		req.Assert(e, ID(datom.AttrCardinality), Lit(datom.String(b.Cardinality)))
		if b.Indexed {
			req.Assert(e, ID(datom.AttrIndex), Lit(datom.Bool(true)))
		}
		req.Assert(e, ID(datom.AttrDoc), Lit(datom.String(b.Doc)))
	}
	return req
}

// Bootstrap commits the genesis transaction if nothing has been committed
// yet. ok is false when the store already has a basis.
func (t *Transactor) Bootstrap(ctx context.Context) (rep Report, ok bool, err error) {
	if err := t.lock(ctx); err != nil {
		return Report{}, false, err
	}
	defer t.unlock()

	if t.Basis() != 0 {
		return Report{}, false, nil
	}
	p, err := resolve(GenesisRequest(), t.attrs, t.labels)
	if err != nil {
		return Report{}, false, err
	}
	rep, err = t.commit(ctx, p, time.Now())
	if err != nil {
		return Report{}, false, err
	}
	t.log.Info("genesis transaction committed", "tx", rep.TxID, "datoms", len(rep.Datoms))
	return rep, true, nil
}
