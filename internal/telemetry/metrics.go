package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsEnqueued       = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_events_enqueued_total", Help: "Events accepted onto the job queue"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_rate_limit_rejects_total", Help: "Event submissions rejected by the per-shop rate limiter"})
	AutomationsTriggered = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_runs_total", Help: "Automations whose trigger matched an event"})
	AutomationsSkipped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_runs_skipped_total", Help: "Automation runs skipped because conditions did not hold"})
	AutomationsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_runs_failed_total", Help: "Automation runs that ended in failed status"})
	ActionsExecuted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_actions_total", Help: "Actions dispatched across all automation runs"})
	ActionsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_actions_failed_total", Help: "Actions that returned a failed result"})
	JobsCompleted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_jobs_completed_total", Help: "Queue jobs completed successfully"})
	JobsRetried          = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_jobs_retried_total", Help: "Queue jobs that failed and were scheduled for retry"})
	JobsExhausted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_jobs_exhausted_total", Help: "Queue jobs that exhausted all attempts"})
	JobsReclaimed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_jobs_reclaimed_total", Help: "Expired job leases returned to the waiting list"})
	QueueDepthGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "automation_queue_depth", Help: "Jobs waiting to be picked up"})
	InFlightGauge        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "automation_jobs_inflight", Help: "Jobs currently leased by a worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsEnqueued,
			RateLimitRejects,
			AutomationsTriggered,
			AutomationsSkipped,
			AutomationsFailed,
			ActionsExecuted,
			ActionsFailed,
			JobsCompleted,
			JobsRetried,
			JobsExhausted,
			JobsReclaimed,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
