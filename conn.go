package maggtomic

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/polyneme/maggtomic/config"
	"github.com/polyneme/maggtomic/datom"
	"github.com/polyneme/maggtomic/internal/alloc"
	"github.com/polyneme/maggtomic/internal/index"
	"github.com/polyneme/maggtomic/metrics"
	"github.com/polyneme/maggtomic/query"
	"github.com/polyneme/maggtomic/tx"
)

// Result types of the store, usable without importing its internals.
type (
	// AttrInfo describes one entity with an ident.
	AttrInfo = index.AttrInfo
	// CheckReport is the outcome of Check.
	CheckReport = index.Report
	// Counts holds row counts per family and interning totals.
	Counts = index.Counts
	// Space names an id counter in Reserved.
	Space = alloc.Space
)

// Id spaces reported by Reserved.
const (
	SpaceTx     = alloc.SpaceTx
	SpaceEntity = alloc.SpaceEntity
)

// Options configures Open.
type Options struct {
	// Config holds the store settings. A zero Config means
	// config.Default().
	Config config.Config

	// Logger defaults to one built from Config.Log writing to stderr.
	Logger *slog.Logger

	// Metrics defaults to metrics.Noop.
	Metrics metrics.Collector

	// Now stamps db/txInstant. Defaults to time.Now.
	Now func() time.Time

	// Labels names anonymous new entities in reports. Defaults to UUIDv7.
	Labels tx.LabelGenerator
}

// Conn is an open store. It owns the index, the id allocator, the
// transactor and the query evaluator. Safe for concurrent use.
type Conn struct {
	cfg     config.Config
	log     *slog.Logger
	metrics metrics.Collector
	store   *index.Store
	attrs   *index.Attrs
	ids     *alloc.Allocator
	tr      *tx.Transactor
	ev      *query.Evaluator

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store at opts.Config.Path, restores the
// allocator and attribute view, and commits the genesis transaction on a
// new store.
//
// Returns an ALLOCATOR_CORRUPTION error when the persisted id marks
// disagree with the data; the store must not be written in that state.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		var err error
		if log, err = NewLogger(nil, cfg.Log); err != nil {
			return nil, err
		}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	store, err := index.Open(ctx, index.Options{
		Path:              cfg.Path,
		Synchronous:       cfg.Synchronous,
		BusyTimeout:       cfg.BusyTimeout(),
		ReadPoolSize:      cfg.ReadPoolSize,
		Compression:       cfg.Compression,
		CompressThreshold: cfg.CompressThreshold,
		Logger:            log,
	})
	if err != nil {
		return nil, err
	}

	c, err := open(ctx, store, cfg, log, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func open(ctx context.Context, store *index.Store, cfg config.Config, log *slog.Logger, opts Options) (*Conn, error) {
	attrs, err := store.LoadAttrs(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := alloc.Open(ctx, store, cfg.IDBlock)
	if err != nil {
		return nil, err
	}
	basis, err := store.LatestTx(ctx)
	if err != nil {
		return nil, err
	}

	tr := tx.New(store, ids, attrs, basis, tx.Options{
		Now:     opts.Now,
		Labels:  opts.Labels,
		Metrics: opts.Metrics,
		Logger:  log,
	})
	if _, _, err := tr.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	ev := query.New(store, attrs, tr.Basis, query.Options{
		Metrics: opts.Metrics,
		Logger:  log,
	})

	log.Info("store opened", "path", cfg.Path, "basis", tr.Basis(), "attributes", len(attrs.All()))
	return &Conn{
		cfg:     cfg,
		log:     log,
		metrics: opts.Metrics,
		store:   store,
		attrs:   attrs,
		ids:     ids,
		tr:      tr,
		ev:      ev,
	}, nil
}

// Close waits for an in-flight transaction and closes the store. Safe to
// call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.tr.Close(context.Background()); err != nil {
			c.closeErr = err
		}
		if err := c.store.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// Config returns the configuration the store was opened with.
func (c *Conn) Config() config.Config { return c.cfg }

// Transact commits req atomically. See tx.Transactor.Transact for the
// error codes.
func (c *Conn) Transact(ctx context.Context, req *tx.Request) (tx.Report, error) {
	return c.tr.Transact(ctx, req)
}

// Basis returns the latest committed transaction id.
func (c *Conn) Basis() datom.ID { return c.tr.Basis() }

// asOf resolves 0 and ids past the basis to the basis.
func (c *Conn) asOf(t datom.ID) datom.ID {
	basis := c.tr.Basis()
	if t <= 0 || t > basis {
		return basis
	}
	return t
}

// Query runs q as of asOf (0 for the latest basis) and returns every
// binding.
func (c *Conn) Query(ctx context.Context, q query.Query, asOf datom.ID) ([]query.Binding, error) {
	return c.ev.Collect(ctx, q, asOf)
}

// QuerySeq runs q lazily. Breaking out of the loop stops evaluation.
func (c *Conn) QuerySeq(ctx context.Context, q query.Query, asOf datom.ID) iter.Seq2[query.Binding, error] {
	return c.ev.Evaluate(ctx, q, asOf)
}

// Scan yields the datoms of family f within [lower, upper] that are
// asserted as of asOf, in the family's order. String and bytes values
// sort by interning order, not lexically.
func (c *Conn) Scan(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error] {
	return c.observe(f, c.store.Scan(ctx, f, lower, upper, c.asOf(asOf)))
}

// History yields every datom, assertions and retractions, of family f
// within [lower, upper] up to asOf.
func (c *Conn) History(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error] {
	return c.observe(f, c.store.History(ctx, f, lower, upper, c.asOf(asOf)))
}

// observe records the rows and outcome of a scan once it ends.
func (c *Conn) observe(f datom.Family, seq iter.Seq2[datom.Datom, error]) iter.Seq2[datom.Datom, error] {
	return func(yield func(datom.Datom, error) bool) {
		start := time.Now()
		var (
			rows int
			serr error
		)
		defer func() { c.metrics.RecordScan(f.String(), rows, time.Since(start), serr) }()

		for d, err := range seq {
			if err != nil {
				serr = err
				yield(datom.Datom{}, err)
				return
			}
			rows++
			if !yield(d, nil) {
				return
			}
		}
	}
}

// TxData yields the datoms written by transaction t.
func (c *Conn) TxData(ctx context.Context, t datom.ID) iter.Seq2[datom.Datom, error] {
	return c.store.TxData(ctx, t)
}

// Log yields the datoms of transactions after `after` up to and
// including upTo, oldest first.
func (c *Conn) Log(ctx context.Context, after, upTo datom.ID) iter.Seq2[datom.Datom, error] {
	return c.store.TxRange(ctx, after, c.asOf(upTo))
}

// AsOfTime returns the newest transaction committed at or before at, or
// 0 if there is none.
func (c *Conn) AsOfTime(ctx context.Context, at time.Time) (datom.ID, error) {
	return c.store.TxAtOrBefore(ctx, at)
}

// Entid resolves an ident to its entity id.
func (c *Conn) Entid(ident string) (datom.ID, bool) {
	return c.attrs.Lookup(ident)
}

// Attributes lists every entity with an ident.
func (c *Conn) Attributes() []AttrInfo { return c.attrs.All() }

// CurrentValue returns the value of a cardinality-one attribute of e as
// of asOf.
func (c *Conn) CurrentValue(ctx context.Context, e, a, asOf datom.ID) (datom.Value, bool, error) {
	return c.ev.CurrentValue(ctx, e, a, asOf)
}

// CurrentValues returns the values of a cardinality-many attribute of e
// as of asOf.
func (c *Conn) CurrentValues(ctx context.Context, e, a, asOf datom.ID) ([]datom.Value, error) {
	return c.ev.CurrentValues(ctx, e, a, asOf)
}

// Check verifies that the four index families agree as of asOf.
func (c *Conn) Check(ctx context.Context, asOf datom.ID) (CheckReport, error) {
	rep, err := c.store.CheckConsistency(ctx, c.attrs, c.asOf(asOf))
	if err != nil {
		return CheckReport{}, err
	}
	if !rep.OK() {
		c.log.Warn("index families disagree", "problems", len(rep.Problems), "asOf", rep.AsOf)
	}
	return rep, nil
}

// Counts reports row counts per family and interning totals.
func (c *Conn) Counts(ctx context.Context) (Counts, error) {
	return c.store.Counts(ctx)
}

// Reserved reports the persisted allocator mark of each id space.
func (c *Conn) Reserved() map[Space]int64 {
	out := make(map[Space]int64, len(alloc.Spaces))
	for _, s := range alloc.Spaces {
		out[s] = c.ids.Reserved(s)
	}
	return out
}

// Ident returns the ident of id, or "" if it has none.
func (c *Conn) Ident(id datom.ID) string { return c.attrs.Ident(id) }
