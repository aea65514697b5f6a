package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labelscan_scans_submitted_total",
			Help: "Total number of scans accepted by Submit",
		},
	)

	scansRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelscan_scans_rejected_total",
			Help: "Total number of scans refused by Submit",
		},
		[]string{"reason"}, // reason: queue_full, closed
	)

	scansFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelscan_scans_finished_total",
			Help: "Total number of scans that reached a terminal status",
		},
		[]string{"status"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labelscan_scan_processing_duration_seconds",
			Help:    "Time from submit to terminal status",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	scanRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labelscan_scan_records",
			Help: "Number of scan records currently retained",
		},
	)

	scanQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labelscan_scan_queue_depth",
			Help: "Number of submitted scans waiting for a worker",
		},
	)

	scanRecorderErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labelscan_scan_recorder_errors_total",
			Help: "Total number of failed Recorder.Record calls",
		},
	)
)
