// Package metrics exposes the dispatch engine's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disparo_jobs_processed_total",
		Help: "Dispatch jobs pulled from the queue.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disparo_messages_sent_total",
		Help: "Messages accepted by the gateway.",
	})

	MessagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disparo_messages_failed_total",
		Help: "Send attempts that ended in error.",
	})

	StepsRescheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disparo_steps_rescheduled_total",
		Help: "Jobs re-deferred without an attempt, by reason.",
	}, []string{"reason"})

	RunsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disparo_runs_cancelled_total",
		Help: "Recipient runs cancelled by blacklist or business rules.",
	})
)
