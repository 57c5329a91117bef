package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "rbt_fleet_"

	ResultSuccess = "success"
	ResultError   = "error"

	// Ingest drop reasons
	DropQueueFull  = "queue_full"
	DropDecode     = "decode"
	DropNoDevice   = "no_device"
	DropNonFinite  = "non_finite"
	DropStoreError = "store_error"
	DropStopping   = "stopping"
)

var (
	registerOnce sync.Once

	uplinksReceived *prometheus.CounterVec
	ingestDropped   *prometheus.CounterVec
	readingsStored  prometheus.Counter
	ingestLatency   *prometheus.HistogramVec
	ingestQueue     prometheus.Gauge

	downlinkRequests *prometheus.CounterVec
	downlinkLatency  *prometheus.HistogramVec

	weatherChecks    *prometheus.CounterVec
	taskTransitions  *prometheus.CounterVec
	scheduledPending prometheus.Gauge
)

// Init registers fleet metrics. db may be nil when readings are kept in memory.
func Init(db *sql.DB) {
	registerOnce.Do(func() {
		uplinksReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "uplinks_received_total",
				Help: "Total device events received by event kind",
			},
			[]string{"kind"},
		)
		ingestDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_dropped_total",
				Help: "Total uplinks dropped by reason",
			},
			[]string{"reason"},
		)
		readingsStored = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_stored_total",
				Help: "Total counter readings persisted",
			},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Time from uplink receipt to reading persisted",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestQueue = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ingest_queue_depth",
				Help: "Uplinks waiting for an ingest worker",
			},
		)

		downlinkRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "downlink_requests_total",
				Help: "Total downlink enqueue calls by target kind, command and result",
			},
			[]string{"target", "command", "result"},
		)
		downlinkLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "downlink_latency_seconds",
				Help:    "Downlink enqueue latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		)

		weatherChecks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "weather_checks_total",
				Help: "Total weather gate evaluations by stage and outcome",
			},
			[]string{"stage", "outcome"},
		)
		taskTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduled_task_transitions_total",
				Help: "Total scheduled task state transitions by status",
			},
			[]string{"status"},
		)
		scheduledPending = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "scheduled_tasks_pending",
				Help: "Scheduled tasks waiting to fire",
			},
		)

		prometheus.MustRegister(
			uplinksReceived,
			ingestDropped,
			readingsStored,
			ingestLatency,
			ingestQueue,
			downlinkRequests,
			downlinkLatency,
			weatherChecks,
			taskTransitions,
			scheduledPending,
		)
		if db != nil {
			registerDBMetrics(db)
		}
	})
}

func registerDBMetrics(db *sql.DB) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open connections in the reading store pool",
		},
		func() float64 {
			return float64(db.Stats().OpenConnections)
		},
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_wait_count",
			Help: "Connections waited for in the reading store pool",
		},
		func() float64 {
			return float64(db.Stats().WaitCount)
		},
	))
}

// IncUplinkReceived counts one inbound device event.
func IncUplinkReceived(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if uplinksReceived != nil {
		uplinksReceived.WithLabelValues(kind).Inc()
	}
}

// IncIngestDropped counts an uplink that produced no reading.
func IncIngestDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestDropped != nil {
		ingestDropped.WithLabelValues(reason).Inc()
	}
}

// ObserveReadingStored records a persisted reading and its end-to-end latency.
func ObserveReadingStored(duration time.Duration) {
	if readingsStored != nil {
		readingsStored.Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(ResultSuccess).Observe(duration.Seconds())
	}
}

// ObserveIngestFailure records the latency of an uplink that failed to persist.
func ObserveIngestFailure(duration time.Duration) {
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(ResultError).Observe(duration.Seconds())
	}
}

func SetIngestQueueDepth(depth int) {
	if ingestQueue != nil {
		ingestQueue.Set(float64(depth))
	}
}

// ObserveDownlink records one enqueue call against a device or multicast group.
func ObserveDownlink(target, command, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if downlinkRequests != nil {
		downlinkRequests.WithLabelValues(target, command, result).Inc()
	}
	if downlinkLatency != nil {
		downlinkLatency.WithLabelValues(target).Observe(duration.Seconds())
	}
}

// IncWeatherCheck counts a gate evaluation. stage is create, fire or view.
func IncWeatherCheck(stage, outcome string) {
	if weatherChecks != nil {
		weatherChecks.WithLabelValues(stage, outcome).Inc()
	}
}

func IncTaskTransition(status string) {
	if taskTransitions != nil {
		taskTransitions.WithLabelValues(status).Inc()
	}
}

func SetScheduledPending(count int) {
	if scheduledPending != nil {
		scheduledPending.Set(float64(count))
	}
}
