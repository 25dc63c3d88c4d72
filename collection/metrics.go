package collection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collections_imports_total",
		Help: "Sheet imports by result (ok, failed).",
	}, []string{"result"})

	importRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collections_import_rows_total",
		Help: "Imported rows by outcome (read_only, editable, skipped, error).",
	}, []string{"outcome"})

	readOnlyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collections_readonly_violations_total",
		Help: "Mutations refused because the record is read-only.",
	}, []string{"op"})

	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collections_store_op_duration_seconds",
		Help:    "RecordStore operation latency.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"op"})
)
