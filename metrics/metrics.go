// Package metrics records operational counters for the store.
//
// Collectors are called on the transactor's commit path and on every
// query, so implementations must be cheap and safe for concurrent use.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector receives one call per completed operation.
type Collector interface {
	// RecordTransact is called after each transaction attempt.
	// datoms is the number committed, zero when err is non-nil.
	RecordTransact(datoms int, duration time.Duration, err error)

	// RecordLockWait is called once the write lock is acquired.
	RecordLockWait(wait time.Duration)

	// RecordQuery is called after a query has been fully consumed or abandoned.
	RecordQuery(patterns, bindings int, duration time.Duration, err error)

	// RecordScan is called after an index scan ends.
	RecordScan(family string, rows int, duration time.Duration, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordTransact(int, time.Duration, error)     {}
func (Noop) RecordLockWait(time.Duration)                 {}
func (Noop) RecordQuery(int, int, time.Duration, error)   {}
func (Noop) RecordScan(string, int, time.Duration, error) {}

// Basic keeps in-memory totals. Useful for tests and the stats command.
type Basic struct {
	TxCount       atomic.Int64
	TxErrors      atomic.Int64
	TxDatoms      atomic.Int64
	TxTotalNanos  atomic.Int64
	LockWaitNanos atomic.Int64
	QueryCount    atomic.Int64
	QueryErrors   atomic.Int64
	QueryBindings atomic.Int64
	ScanCount     atomic.Int64
	ScanRows      atomic.Int64
	ScanErrors    atomic.Int64
}

// RecordTransact implements Collector.
func (b *Basic) RecordTransact(datoms int, duration time.Duration, err error) {
	b.TxCount.Add(1)
	b.TxTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TxErrors.Add(1)
		return
	}
	b.TxDatoms.Add(int64(datoms))
}

// RecordLockWait implements Collector.
func (b *Basic) RecordLockWait(wait time.Duration) {
	b.LockWaitNanos.Add(wait.Nanoseconds())
}

// RecordQuery implements Collector.
func (b *Basic) RecordQuery(patterns, bindings int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryBindings.Add(int64(bindings))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordScan implements Collector.
func (b *Basic) RecordScan(family string, rows int, duration time.Duration, err error) {
	b.ScanCount.Add(1)
	b.ScanRows.Add(int64(rows))
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// Stats is a snapshot of Basic.
type Stats struct {
	TxCount       int64 `json:"tx_count"`
	TxErrors      int64 `json:"tx_errors"`
	TxDatoms      int64 `json:"tx_datoms"`
	TxAvgNanos    int64 `json:"tx_avg_nanos"`
	LockWaitNanos int64 `json:"lock_wait_nanos"`
	QueryCount    int64 `json:"query_count"`
	QueryErrors   int64 `json:"query_errors"`
	QueryBindings int64 `json:"query_bindings"`
	ScanCount     int64 `json:"scan_count"`
	ScanRows      int64 `json:"scan_rows"`
	ScanErrors    int64 `json:"scan_errors"`
}

// Stats returns a snapshot of the current totals.
func (b *Basic) Stats() Stats {
	s := Stats{
		TxCount:       b.TxCount.Load(),
		TxErrors:      b.TxErrors.Load(),
		TxDatoms:      b.TxDatoms.Load(),
		LockWaitNanos: b.LockWaitNanos.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryBindings: b.QueryBindings.Load(),
		ScanCount:     b.ScanCount.Load(),
		ScanRows:      b.ScanRows.Load(),
		ScanErrors:    b.ScanErrors.Load(),
	}
	if s.TxCount > 0 {
		s.TxAvgNanos = b.TxTotalNanos.Load() / s.TxCount
	}
	return s
}

// Multi fans every call out to several collectors.
type Multi []Collector

func (m Multi) RecordTransact(datoms int, duration time.Duration, err error) {
	for _, c := range m {
		c.RecordTransact(datoms, duration, err)
	}
}

func (m Multi) RecordLockWait(wait time.Duration) {
	for _, c := range m {
		c.RecordLockWait(wait)
	}
}

func (m Multi) RecordQuery(patterns, bindings int, duration time.Duration, err error) {
	for _, c := range m {
		c.RecordQuery(patterns, bindings, duration, err)
	}
}

func (m Multi) RecordScan(family string, rows int, duration time.Duration, err error) {
	for _, c := range m {
		c.RecordScan(family, rows, duration, err)
	}
}
