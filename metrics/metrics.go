package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gridnode"

// NodeMetrics contains instrumented metrics incremented by the node runtime.
// All methods are safe on a nil receiver so components can run without a
// metrics sink in tests.
type NodeMetrics struct {
	registry *prometheus.Registry

	eventsDelivered *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	stepRetries     *prometheus.CounterVec
	transitions     *prometheus.CounterVec

	lastProcessedBlock prometheus.Gauge
	activeRunners      prometheus.Gauge
}

func New(reg *prometheus.Registry) *NodeMetrics {
	return &NodeMetrics{
		registry: reg,

		eventsDelivered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "The number of chain events delivered to the task system, by event name",
			}, []string{"event"}),

		tasksFinished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "The number of tasks that reached a terminal state, by status",
			}, []string{"status"}),

		stepRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_step_retries_total",
				Help:      "The number of retried runner steps. If it keeps increasing, the relay or chain RPC is flaky",
			}, []string{"step"}),

		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_transitions_total",
				Help:      "The number of node lifecycle transitions, by target status",
			}, []string{"to"}),

		lastProcessedBlock: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_processed_block",
				Help:      "The highest chain height fully processed by the event watcher. If it isn't increasing, the watcher is stuck",
			}),

		activeRunners: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runners",
				Help:      "The number of task runners currently executing",
			}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *NodeMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *NodeMetrics) IncEventsDelivered(event string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(event).Inc()
}

func (m *NodeMetrics) IncTasksFinished(status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(status).Inc()
}

func (m *NodeMetrics) IncStepRetry(step string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(step).Inc()
}

func (m *NodeMetrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *NodeMetrics) SetLastProcessedBlock(height uint64) {
	if m == nil {
		return
	}
	m.lastProcessedBlock.Set(float64(height))
}

func (m *NodeMetrics) AddActiveRunners(delta float64) {
	if m == nil {
		return
	}
	m.activeRunners.Add(delta)
}
