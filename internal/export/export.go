// Package export writes datoms as JSON lines, one object per datom, for
// bulk transfer out of a store.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"golang.org/x/time/rate"

	"github.com/polyneme/maggtomic/datom"
)

// Source is the read side of a store.
type Source interface {
	Scan(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error]
	History(ctx context.Context, f datom.Family, lower, upper datom.Key, asOf datom.ID) iter.Seq2[datom.Datom, error]
}

// IdentFunc names attributes in the output. It returns "" for entities
// without an ident.
type IdentFunc func(datom.ID) string

// Options selects what to export.
type Options struct {
	Family       datom.Family
	Lower, Upper datom.Key
	AsOf         datom.ID

	// History exports retractions and superseded assertions too.
	History bool

	// RatePerSecond caps datoms written per second. 0 means unlimited.
	RatePerSecond float64
	Burst         int

	Ident IdentFunc
}

// Record is the JSON form of a datom.
type Record struct {
	E     int64  `json:"e"`
	A     int64  `json:"a"`
	Ident string `json:"ident,omitempty"`
	Kind  string `json:"kind"`
	V     any    `json:"v"`
	T     int64  `json:"t"`
	Op    bool   `json:"op"`
}

// NewRecord converts d. ident may be nil.
func NewRecord(d datom.Datom, ident IdentFunc) Record {
	r := Record{
		E:    int64(d.E),
		A:    int64(d.A),
		Kind: d.V.Kind().String(),
		V:    datom.Native(d.V),
		T:    int64(d.T),
		Op:   bool(d.Op),
	}
	if ident != nil {
		r.Ident = ident(d.A)
	}
	return r
}

// Stats summarizes a finished export.
type Stats struct {
	Datoms int   `json:"datoms"`
	Bytes  int64 `json:"bytes"`
}

// Write streams the selected datoms to w. On error the output holds every
// record written before it.
func Write(ctx context.Context, w io.Writer, src Source, opts Options) (Stats, error) {
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(opts.RatePerSecond))
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	seq := src.Scan
	if opts.History {
		seq = src.History
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	enc := json.NewEncoder(bw)

	var stats Stats
	for d, err := range seq(ctx, opts.Family, opts.Lower, opts.Upper, opts.AsOf) {
		if err != nil {
			return finish(bw, cw, stats, fmt.Errorf("export %s: %w", opts.Family, err))
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return finish(bw, cw, stats, fmt.Errorf("export %s: %w", opts.Family, err))
			}
		}
		if err := enc.Encode(NewRecord(d, opts.Ident)); err != nil {
			return finish(bw, cw, stats, fmt.Errorf("export %s: encode: %w", opts.Family, err))
		}
		stats.Datoms++
	}
	return finish(bw, cw, stats, nil)
}

func finish(bw *bufio.Writer, cw *countingWriter, stats Stats, err error) (Stats, error) {
	if ferr := bw.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("export: flush: %w", ferr)
	}
	stats.Bytes = cw.n
	return stats, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
