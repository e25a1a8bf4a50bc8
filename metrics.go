package blobvault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alexjoedt/blobvault/archive"
)

const metricsNamespace = "blobvault"

type metrics struct {
	uploads         prometheus.Counter
	uploadBytes     prometheus.Counter
	downloads       *prometheus.CounterVec
	downloadBytes   *prometheus.CounterVec
	archiveEntries  *prometheus.CounterVec
	versionsDeleted prometheus.Counter
	failures        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		uploads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_total",
			Help:      "Total number of stored file versions.",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_bytes_total",
			Help:      "Total number of content bytes stored.",
		}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloads_total",
			Help:      "Total number of downloads by kind.",
		}, []string{"kind"}),
		downloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "download_bytes_total",
			Help:      "Total number of uncompressed content bytes sent by kind.",
		}, []string{"kind"}),
		archiveEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "archive_entries_total",
			Help:      "Total number of archive entries by result.",
		}, []string{"result"}),
		versionsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "versions_deleted_total",
			Help:      "Total number of deleted file versions.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operation_failures_total",
			Help:      "Total number of failed operations by operation.",
		}, []string{"operation"}),
	}
}

const (
	kindFile    = "file"
	kindArchive = "archive"
)

func (m *metrics) observeArchive(stats archive.Stats) {
	m.downloads.WithLabelValues(kindArchive).Inc()
	m.downloadBytes.WithLabelValues(kindArchive).Add(float64(stats.Bytes))
	m.archiveEntries.WithLabelValues("written").Add(float64(stats.Entries))
	m.archiveEntries.WithLabelValues("skipped").Add(float64(stats.Skipped))
}

func (m *metrics) fail(op string, err error) error {
	if err != nil {
		m.failures.WithLabelValues(op).Inc()
	}
	return err
}
