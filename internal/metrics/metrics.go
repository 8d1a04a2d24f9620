// Package metrics exposes the orchestrator's Prometheus collectors:
// queue depth by priority, dispatch outcomes, selection failures,
// and dropped log batches (spec.md §5, §7's "selection failure ...
// surfaced as a metric").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/casarerpa/orchestrator/internal/domain"
)

// Registry groups every collector behind one struct so callers pass a
// single value into the components that need to record against it,
// instead of reaching for package-level globals.
type Registry struct {
	QueueSize            *prometheus.GaugeVec
	DispatchAttemptsTotal prometheus.Counter
	NoAvailableRobotTotal prometheus.Counter
	JobsAssignedTotal     prometheus.Counter
	JobsRejectedTotal     prometheus.Counter
	JobsCompletedTotal    *prometheus.CounterVec
	RobotsOnline          prometheus.Gauge
	LogsDroppedTotal      prometheus.Counter
}

// New registers every collector against reg and returns the grouped
// handles. Pass prometheus.NewRegistry() in tests to avoid colliding with
// the default registerer across parallel test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "casarerpa",
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of jobs currently queued, by priority bucket.",
		}, []string{"priority"}),
		DispatchAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casarerpa",
			Subsystem: "dispatcher",
			Name:      "attempts_total",
			Help:      "Total dispatch tick attempts to match a queued job to a robot.",
		}),
		NoAvailableRobotTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casarerpa",
			Subsystem: "dispatcher",
			Name:      "no_available_robot_total",
			Help:      "Total selection attempts that found no eligible robot.",
		}),
		JobsAssignedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casarerpa",
			Subsystem: "dispatcher",
			Name:      "jobs_assigned_total",
			Help:      "Total jobs handed off to a robot via job_assign.",
		}),
		JobsRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casarerpa",
			Subsystem: "dispatcher",
			Name:      "jobs_rejected_total",
			Help:      "Total job_reject/ack-timeout outcomes.",
		}),
		JobsCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casarerpa",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total jobs reaching a terminal status, by status.",
		}, []string{"status"}),
		RobotsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "casarerpa",
			Subsystem: "registry",
			Name:      "robots_online",
			Help:      "Number of robots currently Online or Busy.",
		}),
		LogsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casarerpa",
			Subsystem: "logsink",
			Name:      "dropped_total",
			Help:      "Total log batches dropped due to a full ingestion buffer.",
		}),
	}
}

// SampleQueue records queue depth by priority bucket. Intended to be
// called on a periodic ticker from main, since the queue itself has no
// metrics dependency.
func (r *Registry) SampleQueue(counts map[domain.Priority]int) {
	for _, p := range []domain.Priority{domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh, domain.PriorityCritical} {
		r.QueueSize.WithLabelValues(p.String()).Set(float64(counts[p]))
	}
}

// SampleRobots records the count of robots currently able to accept work.
func (r *Registry) SampleRobots(robots []*domain.Robot) {
	online := 0
	for _, rb := range robots {
		if rb.Status == domain.RobotOnline || rb.Status == domain.RobotBusy {
			online++
		}
	}
	r.RobotsOnline.Set(float64(online))
}
