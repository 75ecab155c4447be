package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		ingestUploadsTotal,
		ingestEnqueueTotal,
		ingestStatusTransitions,
		ingestBulkDuration,
	)
}

var (
	ingestUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_uploads_total",
			Help: "Audio uploads by source (single/bulk/batch) and result.",
		},
		[]string{"source", "result"},
	)

	ingestEnqueueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_enqueue_total",
			Help: "Job queue submissions by operation (process/retry) and result.",
		},
		[]string{"op", "result"},
	)

	ingestStatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_status_transitions_total",
			Help: "Processing status transitions written for messages.",
		},
		[]string{"from", "to"},
	)

	ingestBulkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_bulk_duration_seconds",
			Help:    "Wall time of bulk ingestion operations.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"op"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func IncUpload(source string, err error) {
	ingestUploadsTotal.WithLabelValues(norm(source), result(err)).Inc()
}

func IncEnqueue(op string, err error) {
	ingestEnqueueTotal.WithLabelValues(norm(op), result(err)).Inc()
}

func IncStatusTransition(from, to string) {
	ingestStatusTransitions.WithLabelValues(norm(from), norm(to)).Inc()
}

// ObserveBulk is meant to be deferred: defer metrics.ObserveBulk("backlog", time.Now())
func ObserveBulk(op string, start time.Time) {
	ingestBulkDuration.WithLabelValues(norm(op)).Observe(time.Since(start).Seconds())
}
