// Package metrics exposes Prometheus instruments for the fleet controller.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AgentRegistrations counts register calls, including re-registrations.
	AgentRegistrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_agent_registrations_total",
		Help: "Total number of agent register calls",
	})

	// Heartbeats counts accepted heartbeats.
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_heartbeats_total",
		Help: "Total number of accepted agent heartbeats",
	})

	// HeartbeatsThrottled counts heartbeats rejected by the rate limiter.
	HeartbeatsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_heartbeats_throttled_total",
		Help: "Heartbeats rejected with 429 by the storm limiter",
	})

	// TasksDispatched counts tasks admitted to the queue.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_tasks_dispatched_total",
		Help: "Tasks created by the dispatcher",
	}, []string{"type"})

	// DispatchRejected counts dispatch attempts that created no task.
	DispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_dispatch_rejected_total",
		Help: "Dispatch attempts rejected before task creation",
	}, []string{"reason"}) // reason: agent_not_found, agent_offline, invalid_payload

	// TaskResults counts applied task outcomes.
	TaskResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_task_results_total",
		Help: "Task results applied by result ingestion",
	}, []string{"status"})

	// DuplicateResults counts results absorbed because the task was already terminal.
	DuplicateResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_task_results_duplicate_total",
		Help: "Late or duplicate results ignored for terminal tasks",
	})

	// TasksPurged counts terminal tasks removed by retention.
	TasksPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_tasks_purged_total",
		Help: "Terminal tasks removed by the retention job",
	})

	// RemoteProxyFailures counts agent API calls that fell back to an empty result.
	RemoteProxyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_remote_proxy_failures_total",
		Help: "Remote stack queries that failed at the transport or decode step",
	}, []string{"reason"})
)

var onlineGaugeOnce sync.Once

// RegisterOnlineAgentsGauge exposes fleet_agents_online, computed by count at scrape time.
// Only the first call registers.
func RegisterOnlineAgentsGauge(count func() float64) {
	onlineGaugeOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fleet_agents_online",
			Help: "Agents whose last heartbeat is within the liveness timeout",
		}, count)
	})
}
