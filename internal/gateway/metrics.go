package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_sessions_active",
		Help: "Number of live session records in the registry.",
	})

	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_session_transitions_total",
		Help: "Session state transitions applied, by target state.",
	}, []string{"state"})

	metricSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_messages_sent_total",
		Help: "Outbound send attempts, by payload kind and outcome.",
	}, []string{"kind", "outcome"})

	metricNotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_notify_failures_total",
		Help: "Webhook notifications dropped or failed to deliver.",
	})

	metricPairingExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_pairing_expired_total",
		Help: "Pairing codes purged by the expiry sweep.",
	})

	metricRestoreResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_restore_sessions_total",
		Help: "Startup restoration outcomes per directory entry.",
	}, []string{"outcome"})
)
