package repository

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusOK      = "ok"
	statusPartial = "partial"
	statusError   = "error"
)

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the data-access collectors with reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webportal_dboperation_total",
				Help: "Total number of data-access operations",
			},
			[]string{"operation", "collection", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webportal_dboperation_duration_seconds",
				Help:    "Duration of data-access operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"operation", "collection"},
		),
	}
}

func (m *Metrics) observe(operation, collection string, start time.Time, status string) {
	m.operations.WithLabelValues(operation, collection, status).Inc()
	m.duration.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
}

func statusOf(res *Result, err error) string {
	switch {
	case err != nil:
		return statusError
	case res != nil && !res.OK():
		return statusPartial
	default:
		return statusOK
	}
}
