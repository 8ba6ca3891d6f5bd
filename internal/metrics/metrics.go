package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "nodepool"
)

var (
	// NodeScore tracks the last computed load score per node
	NodeScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_load_score",
			Help:      "Last computed load score of a node",
		},
		[]string{"node"},
	)

	// ReadyNodes tracks nodes accepting sessions
	ReadyNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_nodes",
			Help:      "Number of nodes in ready state",
		},
	)

	// LiveSessions tracks live guild sessions
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Number of live guild sessions",
		},
	)

	// BrokenSnapshots tracks sessions waiting for rebuild
	BrokenSnapshots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broken_snapshots",
			Help:      "Number of broken session snapshots awaiting rebuild",
		},
	)

	// FailoversTotal counts failover runs
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Total number of failover runs",
		},
		[]string{"result"}, // completed/refused
	)

	// MigrationsTotal counts single session migrations
	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total number of session migrations",
		},
		[]string{"result"}, // success/failure
	)

	// RebuildsTotal counts broken session rebuilds
	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Total number of broken session rebuilds",
		},
		[]string{"result"}, // success/failure/expired/skipped
	)

	// NodeReconnects counts reconnect attempts per node
	NodeReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_reconnects_total",
			Help:      "Total number of node reconnect attempts",
		},
		[]string{"node"},
	)

	// CoalescedFlushes counts combined player updates
	CoalescedFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_flushes_total",
			Help:      "Total number of coalesced player update flushes",
		},
	)

	// ControlCalls counts control-plane calls per node
	ControlCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_calls_total",
			Help:      "Total number of control-plane calls",
		},
		[]string{"node", "status"}, // status: success/error
	)
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordMigration records the outcome of one session migration
func RecordMigration(ok bool) {
	MigrationsTotal.WithLabelValues(result(ok)).Inc()
}

// RecordRebuild records a rebuild outcome
func RecordRebuild(outcome string) {
	RebuildsTotal.WithLabelValues(outcome).Inc()
}

// RecordFailover records a failover run
func RecordFailover(completed bool) {
	if completed {
		FailoversTotal.WithLabelValues("completed").Inc()
		return
	}
	FailoversTotal.WithLabelValues("refused").Inc()
}

// RecordControlCall records one control-plane call
func RecordControlCall(node string, err error) {
	ControlCalls.WithLabelValues(node, result(err == nil)).Inc()
}
