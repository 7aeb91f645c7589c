package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports the collector calls as Prometheus metrics.
type Prometheus struct {
	txLatency    *prometheus.HistogramVec
	txDatoms     prometheus.Counter
	lockWait     prometheus.Histogram
	queryLatency *prometheus.HistogramVec
	bindings     prometheus.Counter
	scanRows     *prometheus.CounterVec
	scans        *prometheus.CounterVec
}

// NewPrometheus creates the metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		txLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maggtomic_transact_duration_seconds",
			Help:    "Latency of transaction attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		txDatoms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maggtomic_datoms_committed_total",
			Help: "Datoms committed, including transaction provenance.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maggtomic_write_lock_wait_seconds",
			Help:    "Time spent queued for the write lock.",
			Buckets: prometheus.DefBuckets,
		}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maggtomic_query_duration_seconds",
			Help:    "Latency of queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		bindings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maggtomic_query_bindings_total",
			Help: "Bindings produced by queries.",
		}),
		scanRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maggtomic_scan_datoms_total",
			Help: "Datoms yielded by index scans.",
		}, []string{"family"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maggtomic_scans_total",
			Help: "Index scans by family and status.",
		}, []string{"family", "status"}),
	}
	for _, c := range []prometheus.Collector{
		p.txLatency, p.txDatoms, p.lockWait, p.queryLatency, p.bindings, p.scanRows, p.scans,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTransact implements Collector.
func (p *Prometheus) RecordTransact(datoms int, duration time.Duration, err error) {
	p.txLatency.WithLabelValues(status(err)).Observe(duration.Seconds())
	if err == nil {
		p.txDatoms.Add(float64(datoms))
	}
}

// RecordLockWait implements Collector.
func (p *Prometheus) RecordLockWait(wait time.Duration) {
	p.lockWait.Observe(wait.Seconds())
}

// RecordQuery implements Collector.
func (p *Prometheus) RecordQuery(patterns, bindings int, duration time.Duration, err error) {
	p.queryLatency.WithLabelValues(status(err)).Observe(duration.Seconds())
	p.bindings.Add(float64(bindings))
}

// RecordScan implements Collector.
func (p *Prometheus) RecordScan(family string, rows int, duration time.Duration, err error) {
	p.scans.WithLabelValues(family, status(err)).Inc()
	p.scanRows.WithLabelValues(family).Add(float64(rows))
}
