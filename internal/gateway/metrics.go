package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Upload and download outcomes used as metric labels.
const (
	resultOK       = "ok"
	resultRenamed  = "renamed"
	resultRejected = "rejected"
	resultTooLarge = "too_large"
	resultError    = "error"
	resultNotFound = "not_found"
	resultAborted  = "aborted"
)

type metrics struct {
	uploads       *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	transferBytes *prometheus.HistogramVec
	probeErrors   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_uploads_total",
				Help: "Upload requests by result.",
			},
			[]string{"result"},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_downloads_total",
				Help: "Download requests by result.",
			},
			[]string{"result"},
		),
		transferBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filegate_transfer_bytes",
				Help:    "Size of completed transfers in bytes.",
				Buckets: prometheus.ExponentialBuckets(1024, 8, 9),
			},
			[]string{"direction"},
		),
		probeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filegate_existence_probe_errors_total",
				Help: "Existence checks that failed and were treated as a free key.",
			},
		),
	}

	reg.MustRegister(m.uploads, m.downloads, m.transferBytes, m.probeErrors)
	return m
}

func (m *metrics) upload(result string, n int64) {
	m.uploads.WithLabelValues(result).Inc()
	if result == resultOK || result == resultRenamed {
		m.transferBytes.WithLabelValues("upload").Observe(float64(n))
	}
}

func (m *metrics) download(result string, n int64) {
	m.downloads.WithLabelValues(result).Inc()
	if result == resultOK {
		m.transferBytes.WithLabelValues("download").Observe(float64(n))
	}
}
