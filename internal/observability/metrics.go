// Package observability is the process's single Prometheus metrics
// registry: package-level promauto vars registered to the default
// registerer, consulted directly by the owning component rather than
// threaded through every constructor.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Workers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_workers",
		Help: "Current number of workers by lifecycle state.",
	}, []string{"state"})

	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_worker_restarts_total",
		Help: "Total number of worker restarts performed by the supervisor.",
	})

	WorkerOutputLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_worker_output_lines_total",
		Help: "Total number of output lines captured from worker subprocesses.",
	})

	SpawnQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_spawn_queue_depth",
		Help: "Current number of spawn queue items by status.",
	}, []string{"status"})

	SpawnQueueReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_spawn_queue_ready",
		Help: "Current number of spawn queue items ready to dispatch.",
	})

	SpawnAdmissionDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_spawn_admission_denied_total",
		Help: "Spawn requests denied at admission, by reason.",
	}, []string{"reason"})

	BlackboardMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_blackboard_messages_total",
		Help: "Total blackboard messages posted, by swarm and type.",
	}, []string{"swarm", "type"})

	BlackboardUnread = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_blackboard_unread",
		Help: "Current number of unread blackboard messages, by swarm.",
	}, []string{"swarm"})

	WorkflowExecutions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_workflow_executions",
		Help: "Current number of workflow executions by status.",
	}, []string{"status"})

	WorkflowStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_workflow_step_duration_seconds",
		Help:    "Step dispatch-to-terminal duration, by step type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	WorkflowDeadlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_workflow_deadlocks_total",
		Help: "Total number of executions forced to failed by deadlock detection.",
	})

	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_triggers_fired_total",
		Help: "Total number of triggers that started a workflow, by type.",
	}, []string{"type"})

	TriggerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_trigger_failures_total",
		Help: "Total number of trigger fire attempts that failed to start a workflow, by trigger.",
	}, []string{"trigger_id"})
)
