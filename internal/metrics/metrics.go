// Package metrics defines the Prometheus collectors exported by assetindex.
// They are registered with the default registry via promauto; mount
// promhttp.Handler() to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan metrics
var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetindex_scans_total",
			Help: "Total number of finished scans by outcome",
		},
		[]string{"outcome"}, // "completed", "cancelled", "failed"
	)

	ScanRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetindex_scan_running",
			Help: "Whether a scan is currently active (1 = active, 0 = idle)",
		},
	)

	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetindex_scan_items_processed_total",
			Help: "Total number of items processed by scan phase",
		},
		[]string{"phase"}, // "metadata", "fingerprint"
	)

	FingerprintErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetindex_fingerprint_errors_total",
			Help: "Total number of candidates that could not be fingerprinted",
		},
	)

	Checkpoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetindex_checkpoints_total",
			Help: "Total number of periodic index checkpoints",
		},
	)
)

// Index metrics
var (
	IndexRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetindex_records",
			Help: "Number of records in the asset index",
		},
		[]string{"kind"}, // "all", "fingerprinted"
	)

	DuplicateGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetindex_duplicate_groups",
			Help: "Number of duplicate groups after the last scan",
		},
	)

	ReclaimableBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetindex_reclaimable_bytes",
			Help: "Bytes freed by deduplicating every group found by the last scan",
		},
	)
)

// Deletion metrics
var (
	Deletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetindex_deletions_total",
			Help: "Total number of duplicate deletions by result",
		},
		[]string{"result"}, // "deleted", "failed"
	)

	TrashPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetindex_trash_purged_total",
			Help: "Total number of trash items permanently removed",
		},
		[]string{"trigger"}, // "user", "auto"
	)
)
