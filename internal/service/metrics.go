package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zapbridge/internal/model"
)

var (
	sessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zapbridge_sessions",
		Help: "Number of sessions per lifecycle status.",
	}, []string{"status"})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapbridge_reconnect_attempts_total",
		Help: "Scheduled automatic reconnect attempts.",
	})

	globalBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapbridge_global_blocks_total",
		Help: "Rate-limit blocks that triggered a process-wide teardown.",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapbridge_messages_total",
		Help: "Messages relayed, by direction.",
	}, []string{"direction"})
)

var knownStatuses = []model.SessionStatus{
	model.StatusUninitialized,
	model.StatusConnecting,
	model.StatusQRPending,
	model.StatusReady,
	model.StatusReconnecting,
	model.StatusBlocked,
	model.StatusAuthFailure,
	model.StatusDisconnected,
}

// updateSessionGauge recomputes the per-status gauge from a registry
// snapshot. Cheap enough to run on every transition.
func updateSessionGauge(reg *Registry) {
	counts := make(map[model.SessionStatus]int, len(knownStatuses))
	for _, s := range reg.Snapshot() {
		counts[s.Status()]++
	}
	for _, st := range knownStatuses {
		sessionsByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
