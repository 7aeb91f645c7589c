package tx

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/alloc"
	"github.com/polyneme/maggtomic/internal/index"
	"github.com/polyneme/maggtomic/metrics"
)

// Store is the part of the index manager the transactor writes through.
type Store interface {
	WriteBatch(ctx context.Context, datoms []datom.Datom, attrs index.AttrView) error
}

// Allocator issues fresh ids.
type Allocator interface {
	Allocate(ctx context.Context, space alloc.Space, n int) ([]datom.ID, error)

	// Peek returns the last issued counter of the space.
	Peek(space alloc.Space) int64
}

// Options configures a Transactor. Zero values select defaults.
type Options struct {
	// Now returns the commit time recorded as db/txInstant.
	Now func() time.Time

	// Labels names anonymous entities.
	Labels LabelGenerator

	Metrics metrics.Collector
	Logger  *slog.Logger
}

// Report describes a committed transaction.
type Report struct {
	TxID datom.ID

	// Datoms are the committed datoms, including the transaction's own
	// provenance datoms and any ident installations.
	Datoms []datom.Datom

	// Tempids maps every tempid label, and the generated label of every
	// anonymous entity, to its allocated id.
	Tempids map[string]datom.ID

	// BasisBefore is the basis the transaction was applied on.
	BasisBefore datom.ID

	Instant time.Time
}

// Transactor is the sole writer.
type Transactor struct {
	store Store
	ids   Allocator
	attrs *index.Attrs

	// sem is the write lock: a one-slot semaphore so waiting honors ctx.
	sem    chan struct{}
	basis  atomic.Int64
	closed atomic.Bool

	now     func() time.Time
	labels  LabelGenerator
	metrics metrics.Collector
	log     *slog.Logger
}

// New creates a transactor over store. attrs must reflect every
// committed schema datom and basis the latest committed transaction.
// The transactor updates attrs after each commit.
func New(store Store, ids Allocator, attrs *index.Attrs, basis datom.ID, opts Options) *Transactor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Labels == nil {
		opts.Labels = UUIDv7Labels{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	t := &Transactor{
		store:   store,
		ids:     ids,
		attrs:   attrs,
		sem:     make(chan struct{}, 1),
		now:     opts.Now,
		labels:  opts.Labels,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	t.basis.Store(int64(basis))
	return t
}

// Basis returns the latest committed transaction id, or 0 if none.
func (t *Transactor) Basis() datom.ID {
	return datom.ID(t.basis.Load())
}

func (t *Transactor) lock(ctx context.Context) error {
	start := time.Now()
	select {
	case t.sem <- struct{}{}:
		t.metrics.RecordLockWait(time.Since(start))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transactor) unlock() { <-t.sem }

// Transact commits req as one transaction.
//
// Errors:
//   - INVALID_REQUEST or TEMPID_CONFLICT: the request is malformed or names
//     an id that was never issued; no id is consumed.
//   - DATOM_CONFLICT: the request contradicts itself; no id is consumed.
//   - TRANSACTION_ABORTED: the write failed after ids were allocated. The
//     wrapped cause is usually INDEX_WRITE. Nothing is visible.
//   - the context's error if ctx ends while queued for the write lock.
func (t *Transactor) Transact(ctx context.Context, req *Request) (rep Report, err error) {
	start := time.Now()
	defer func() {
		t.metrics.RecordTransact(len(rep.Datoms), time.Since(start), err)
	}()

	if req == nil {
		req = NewRequest()
	}
	if err := req.Validate(); err != nil {
		return Report{}, err
	}

	if err := t.lock(ctx); err != nil {
		return Report{}, err
	}
	defer t.unlock()

	if t.closed.Load() {
		return Report{}, datom.Errorf(datom.ErrCodeClosed, "transactor is closed")
	}

	p, err := resolve(req, t.attrs, t.labels)
	if err != nil {
		return Report{}, err
	}
	if err := checkIssued(p.datoms, t.ids.Peek); err != nil {
		return Report{}, err
	}
	return t.commit(ctx, p, start)
}

// commit allocates ids for p, writes it and publishes the new basis.
// The caller holds the write lock.
func (t *Transactor) commit(ctx context.Context, p *plan, start time.Time) (Report, error) {
	before := t.Basis()

	txIDs, err := t.ids.Allocate(ctx, alloc.SpaceTx, 1)
	if err != nil {
		return Report{}, datom.NewTransactionAborted(err)
	}
	txID := txIDs[0]

	var ids []datom.ID
	if p.fresh > 0 {
		ids, err = t.ids.Allocate(ctx, alloc.SpaceEntity, int(p.fresh))
		if err != nil {
			return Report{}, datom.NewTransactionAborted(err)
		}
	}

	instant := datom.NewInstant(t.now())
	datoms := append(p.substitute(txID, ids), datom.Datom{
		E: txID, A: datom.AttrTxInstant, V: instant, T: txID, Op: datom.Assert,
	})

	schema := schemaDatoms(datoms)
	view := t.attrs
	if len(schema) > 0 {
		view = t.attrs.Clone()
		view.Apply(schema)
	}

	if err := t.store.WriteBatch(ctx, datoms, view); err != nil {
		t.log.Warn("transaction aborted",
			"tx", txID,
			"datoms", len(datoms),
			"error", err,
		)
		return Report{}, datom.NewTransactionAborted(err)
	}

	if len(schema) > 0 {
		t.attrs.Apply(schema)
	}
	t.basis.Store(int64(txID))

	t.log.Debug("transaction committed",
		"tx", txID,
		"datoms", len(datoms),
		"duration", time.Since(start),
	)

	return Report{
		TxID:        txID,
		Datoms:      datoms,
		Tempids:     p.tempids(ids),
		BasisBefore: before,
		Instant:     instant.Time(),
	}, nil
}

// Close waits for an in-flight transaction and rejects later ones.
func (t *Transactor) Close(ctx context.Context) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.unlock()
	t.closed.Store(true)
	return nil
}
