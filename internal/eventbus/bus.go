// Package eventbus is the process-local typed pub/sub every mutating
// component publishes onto. Subscribers get a bounded channel; a slow
// subscriber misses events rather than blocking a publisher.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tag is a closed coordination-event name. Subscribers switch on it
// exhaustively rather than matching on open string patterns.
type Tag string

const (
	WorkerSpawned      Tag = "worker.spawned"
	WorkerDismissed    Tag = "worker.dismissed"
	WorkerStateChanged Tag = "worker.state_changed"
	WorkerOutput       Tag = "worker.output"
	WorkerRestarted    Tag = "worker.restarted"

	SwarmCreated Tag = "swarm.created"
	SwarmKilled  Tag = "swarm.killed"

	BlackboardPosted   Tag = "blackboard.posted"
	BlackboardArchived Tag = "blackboard.archived"

	SpawnEnqueued  Tag = "spawn.enqueued"
	SpawnApproved  Tag = "spawn.approved"
	SpawnRejected  Tag = "spawn.rejected"
	SpawnFulfilled Tag = "spawn.fulfilled"

	WorkflowStarted       Tag = "workflow.started"
	WorkflowStepReady     Tag = "workflow.step_ready"
	WorkflowStepStarted   Tag = "workflow.step_started"
	WorkflowStepCompleted Tag = "workflow.step_completed"
	WorkflowStepFailed    Tag = "workflow.step_failed"
	WorkflowCompleted     Tag = "workflow.completed"
	WorkflowFailed        Tag = "workflow.failed"
	WorkflowPaused        Tag = "workflow.paused"
	WorkflowResumed       Tag = "workflow.resumed"
	WorkflowCancelled     Tag = "workflow.cancelled"
	WorkflowDeadlock      Tag = "workflow.deadlock"

	TriggerFired Tag = "trigger.fired"

	// Lagged is synthesized by the bus itself, never published by a component.
	Lagged Tag = "bus.lagged"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Tag       Tag
	Payload   map[string]any
	Timestamp time.Time
	// SwarmID scopes message.* and blackboard.* delivery for WS fanout
	// filtering; empty for broadcast-class tags.
	SwarmID string
}

// Subscription is an opaque handle returned by Subscribe.
type Subscription struct {
	ch     chan Event
	tags   map[Tag]struct{} // nil means all tags
	lagged atomic.Bool
}

// Events returns the channel to range over.
func (s *Subscription) Events() <-chan Event { return s.ch }

type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	queueSize int
	logger    *slog.Logger

	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

func New(queueSize int, logger *slog.Logger, registerer prometheus.Registerer) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger.With("component", "eventbus"),
	}
	if registerer != nil {
		b.published = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_eventbus_published_total",
			Help: "Events published per tag.",
		}, []string{"tag"})
		b.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_eventbus_dropped_total",
			Help: "Events dropped because a subscriber's queue was full.",
		}, []string{"tag"})
		registerer.MustRegister(b.published, b.dropped)
	}
	return b
}

// Subscribe returns a subscription receiving only the given tags; pass no
// tags to receive everything published on the bus.
func (b *Bus) Subscribe(tags ...Tag) *Subscription {
	sub := &Subscription{ch: make(chan Event, b.queueSize)}
	if len(tags) > 0 {
		sub.tags = make(map[Tag]struct{}, len(tags))
		for _, t := range tags {
			sub.tags[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every matching subscriber. Never blocks:
// when a subscriber's queue is full the event is dropped, the oldest
// queued event is dropped to make room for a single lagged marker, and
// subsequent drops are silent until a normal send succeeds again.
func (b *Bus) Publish(tag Tag, swarmID string, payload map[string]any) {
	ev := Event{Tag: tag, Payload: payload, Timestamp: time.Now(), SwarmID: swarmID}

	if b.published != nil {
		b.published.WithLabelValues(string(tag)).Inc()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.tags != nil {
			if _, want := sub.tags[tag]; !want {
				continue
			}
		}
		select {
		case sub.ch <- ev:
			sub.lagged.Store(false)
		default:
			b.onOverflow(sub, tag)
		}
	}
}

func (b *Bus) onOverflow(sub *Subscription, tag Tag) {
	if b.dropped != nil {
		b.dropped.WithLabelValues(string(tag)).Inc()
	}
	if !sub.lagged.CompareAndSwap(false, true) {
		return
	}
	b.logger.Warn("subscriber queue full, dropping event", "tag", tag)
	marker := Event{Tag: Lagged, Timestamp: time.Now()}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- marker:
	default:
	}
}
