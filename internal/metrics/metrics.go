package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Reconciliation metrics
	// ============================================
	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_reconcile_duration_seconds",
			Help:    "Pool account reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain_id"},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_reconcile_runs_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"chain_id", "status"},
	)

	MalformedChainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_malformed_chains_total",
			Help: "Total number of commitment chains rejected by integrity checks",
		},
		[]string{"scope"},
	)

	TimestampResolutionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_timestamp_resolution_failures_total",
			Help: "Total number of block-to-timestamp resolutions that failed",
		},
		[]string{"chain_id"},
	)

	// ============================================
	// Signing session metrics
	// ============================================
	ActiveSigningSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_active_signing_sessions",
		Help: "Number of signing sessions currently owned by orchestrators",
	})

	EstimationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_estimation_runs_total",
			Help: "Total number of gas estimations triggered by the re-estimation loop",
		},
		[]string{"chain_id", "status"},
	)

	// ============================================
	// Proof task metrics
	// ============================================
	ProofTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_proof_tasks_total",
			Help: "Total number of proof tasks by type and terminal status",
		},
		[]string{"task_type", "status"},
	)

	ProverRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_prover_request_duration_seconds",
			Help:    "Prover service request duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	// ============================================
	// NATS connection and message metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"event_type"},
	)

	NATSMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_processed_total",
			Help: "Total number of NATS messages processed successfully",
		},
		[]string{"event_type"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_failed_total",
			Help: "Total number of NATS messages failed to process",
		},
		[]string{"event_type", "error_type"},
	)

	// ============================================
	// Database connection metrics
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// ============================================
	// Websocket metrics
	// ============================================
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_websocket_connections",
		Help: "Number of connected websocket clients",
	})
)
