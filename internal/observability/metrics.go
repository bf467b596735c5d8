package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexer and the price
// submission pipeline. All metrics are registered on the default
// registry and served from the metrics listener.
type Metrics struct {
	// --- Scanning ---
	BlocksScanned   prometheus.Counter
	ChainHead       prometheus.Gauge
	CheckpointBlock prometheus.Gauge
	ScanRangeDur    prometheus.Histogram
	ScanRangeErrors prometheus.Counter

	// --- Decode & dispatch ---
	EventsApplied  *prometheus.CounterVec
	DecodeSkipped  prometheus.Counter
	DispatchErrors *prometheus.CounterVec

	// --- Price fetching ---
	PriceFetches     prometheus.Counter
	PriceFetchErrors prometheus.Counter
	FeedsSkipped     *prometheus.CounterVec
	DeviationBps     *prometheus.GaugeVec

	// --- Submission ---
	Submissions         prometheus.Counter
	SubmissionFailures  prometheus.Counter
	SubmissionRetries   prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	SubmissionDur       prometheus.Histogram
	LastSubmitUnix      prometheus.Gauge

	// --- Outbound publishing ---
	EventsPublished prometheus.Counter
	PublishDrops    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	scanBuckets := []float64{
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
	}

	submitBuckets := []float64{
		0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
	}

	return &Metrics{
		// Scanning
		BlocksScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_blocks_scanned_total",
			Help: "Blocks covered by completed scan ranges",
		}),

		ChainHead: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "idx_chain_head_block",
			Help: "Latest chain head observed",
		}),

		CheckpointBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "idx_checkpoint_block",
			Help: "Last fully indexed block",
		}),

		ScanRangeDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "idx_scan_range_duration_seconds",
			Help:    "Time to fetch, decode and apply one block range",
			Buckets: scanBuckets,
		}),

		ScanRangeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_scan_range_errors_total",
			Help: "Block ranges that failed and will be retried",
		}),

		// Decode & dispatch
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idx_events_applied_total",
			Help: "Decoded events successfully projected",
		}, []string{"event"}),

		DecodeSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_decode_skipped_total",
			Help: "Logs that did not match the known event schema",
		}),

		DispatchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idx_dispatch_errors_total",
			Help: "Events whose projection write failed",
		}, []string{"event"}),

		// Price fetching
		PriceFetches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_price_fetches_total",
			Help: "Reference price fetch rounds",
		}),

		PriceFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_price_fetch_errors_total",
			Help: "Reference price fetch rounds that failed entirely",
		}),

		FeedsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idx_price_feeds_skipped_total",
			Help: "Per-market feeds skipped in a fetch round",
		}, []string{"reason"}),

		DeviationBps: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idx_price_deviation_bps",
			Help: "Deviation from last submitted price in basis points",
		}, []string{"market"}),

		// Submission
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_submissions_total",
			Help: "Successful on-chain price submissions",
		}),

		SubmissionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_submission_failures_total",
			Help: "Submissions that exhausted all retries",
		}),

		SubmissionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_submission_retries_total",
			Help: "Individual failed submission attempts",
		}),

		ConsecutiveFailures: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "idx_submission_consecutive_failures",
			Help: "Consecutive failed submissions since last success",
		}),

		SubmissionDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "idx_submission_duration_seconds",
			Help:    "Send to mined receipt duration",
			Buckets: submitBuckets,
		}),

		LastSubmitUnix: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "idx_submission_last_success_timestamp",
			Help: "Unix time of the last successful submission",
		}),

		// Outbound publishing
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_events_published_total",
			Help: "Indexed events published to the outbound stream",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idx_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),
	}
}
