package library

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records manager activity. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	inserted   *prometheus.CounterVec
	skipped    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libsync",
			Name:      "operations_total",
			Help:      "Manager operations by name and result reason.",
		}, []string{"op", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "libsync",
			Name:      "operation_duration_seconds",
			Help:      "Manager operation latency including persistence.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		inserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libsync",
			Name:      "sync_inserted_total",
			Help:      "Entities copied into a target library by sync or import.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "libsync",
			Name:      "sync_skipped_records_total",
			Help:      "Borrow records a sync or import could not copy.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.durations, m.inserted, m.skipped)
	}
	return m
}

func (m *Metrics) observe(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, Reason(err)).Inc()
	m.durations.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) merged(rep MergeReport) {
	if m == nil {
		return
	}
	m.inserted.WithLabelValues("person").Add(float64(rep.InsertedPersons))
	m.inserted.WithLabelValues("item").Add(float64(rep.InsertedItems))
	m.inserted.WithLabelValues("borrow_record").Add(float64(rep.InsertedRecords))
	m.skipped.Add(float64(rep.SkippedRecords))
}
