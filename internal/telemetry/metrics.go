package telemetry

import "github.com/prometheus/client_golang/prometheus"

// ChangeFeed metrics (C1).
var (
	ChangeFeedEventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "changefeed",
		Name:      "events_consumed_total",
		Help:      "Change-feed records consumed, by source table.",
	}, []string{"table"})

	ChangeFeedDuplicatesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "changefeed",
		Name:      "duplicates_skipped_total",
		Help:      "Change-feed records skipped because they were already processed.",
	}, []string{"table"})

	ChangeFeedLagSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edi835",
		Subsystem: "changefeed",
		Name:      "lag_seconds",
		Help:      "Seconds between the newest committed change and the consumer checkpoint.",
	})
)

// NCPDP ingestion metrics (C4).
var (
	NCPDPClaimsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "ncpdp",
		Name:      "claims_ingested_total",
		Help:      "Raw NCPDP claims successfully mapped and persisted, by transaction type.",
	}, []string{"transaction_type"})

	NCPDPClaimsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "ncpdp",
		Name:      "claims_failed_total",
		Help:      "Raw NCPDP claims that failed parsing or mapping, by error category.",
	}, []string{"category"})

	NCPDPClaimsStuck = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edi835",
		Subsystem: "ncpdp",
		Name:      "claims_stuck",
		Help:      "Raw NCPDP claims detected stuck in PROCESSING beyond the stuck threshold.",
	})
)

// Bucket aggregation metrics (C5/C6).
var (
	BucketTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "bucket",
		Name:      "transitions_total",
		Help:      "Bucket state machine transitions, by from and to state.",
	}, []string{"from", "to"})

	BucketClaimsAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "bucket",
		Name:      "claims_added_total",
		Help:      "Claims added to buckets, by bucketing rule type.",
	}, []string{"rule_type"})

	BucketsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "bucket",
		Name:      "opened_total",
		Help:      "New buckets created.",
	})

	BucketClaimsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "bucket",
		Name:      "claims_dropped_total",
		Help:      "Claims dropped because no active bucketing rule was configured.",
	})
)

// File generation / delivery metrics (C7).
var (
	FileGenAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "filegen",
		Name:      "attempts_total",
		Help:      "File generation attempts, by outcome.",
	}, []string{"outcome"})

	FileDeliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "filegen",
		Name:      "delivery_attempts_total",
		Help:      "SFTP delivery attempts, by outcome.",
	}, []string{"outcome"})
)

// Check payment metrics (C8).
var (
	CheckAssignmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edi835",
		Subsystem: "checkpay",
		Name:      "assignments_total",
		Help:      "Check number assignments, by method (manual/auto).",
	}, []string{"method"})
)

// All returns every collector this service registers, for use with
// NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ChangeFeedEventsConsumed,
		ChangeFeedDuplicatesSkipped,
		ChangeFeedLagSeconds,
		NCPDPClaimsIngested,
		NCPDPClaimsFailed,
		NCPDPClaimsStuck,
		BucketTransitionsTotal,
		BucketClaimsAdded,
		BucketsOpened,
		BucketClaimsDropped,
		FileGenAttemptsTotal,
		FileDeliveryAttemptsTotal,
		CheckAssignmentsTotal,
	}
}

// HTTPRequestDuration tracks latency of the ops HTTP surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "edi835",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "Ops HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "method", "status"})

// NewMetricsRegistry builds a Prometheus registry with the Go/process
// collectors, the HTTP duration histogram, and any extra collectors
// supplied by the caller.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(HTTPRequestDuration)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
