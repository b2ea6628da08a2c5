// Package trigger fires workflow executions off schedules, blackboard
// posts, bus events, and pending webhook deliveries, using an
// admission-counting circuit breaker repurposed from gating task
// admission to disabling a misbehaving trigger after repeated failures.
package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/observability"
	"github.com/sethdford/fleetctl/internal/store"
	"github.com/sethdford/fleetctl/internal/workflow"
)

// maxConsecutiveFailures disables a trigger rather than letting it fire
// into a workflow that will never start successfully.
const maxConsecutiveFailures = 5

// Starter is the subset of *workflow.Engine the dispatcher needs; kept
// as an interface so tests can stub it without a full engine.
type Starter interface {
	StartWorkflow(ctx context.Context, workflowID, createdBy string, inputs map[string]any, swarmID string) (*store.WorkflowExecution, error)
}

var _ Starter = (*workflow.Engine)(nil)

type Dispatcher struct {
	st     store.Store
	bus    *eventbus.Bus
	engine Starter
	logger *slog.Logger

	// seenMu guards eventSeen and blackboardSeen: watch() writes them
	// from the bus-subscription goroutine while ProcessTriggers reads
	// them from the background-tick goroutine.
	seenMu sync.Mutex
	// eventSeen and blackboardSeen are short-lived per-tag/per-swarm
	// "something happened since you last looked" markers fed by bus
	// subscriptions, consulted by ProcessTriggers rather than re-reading
	// the blackboard or replaying the bus on every tick.
	eventSeen      map[eventbus.Tag]time.Time
	blackboardSeen map[string]time.Time // swarmID -> latest post time

	sub *eventbus.Subscription
}

func New(st store.Store, bus *eventbus.Bus, engine Starter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		st:             st,
		bus:            bus,
		engine:         engine,
		logger:         logger.With("component", "trigger"),
		eventSeen:      make(map[eventbus.Tag]time.Time),
		blackboardSeen: make(map[string]time.Time),
	}
	if bus != nil {
		d.sub = bus.Subscribe()
		go d.watch()
	}
	return d
}

// watch records the last-seen timestamp for every tag and, for
// blackboard.posted, the swarm it was posted into. It never calls
// ProcessTriggers itself; the background tick still owns dispatch
// cadence, this only keeps the "has X happened since lastFiredAt"
// state fresh for the next tick.
func (d *Dispatcher) watch() {
	for ev := range d.sub.Events() {
		d.seenMu.Lock()
		d.eventSeen[ev.Tag] = ev.Timestamp
		if ev.Tag == eventbus.BlackboardPosted && ev.SwarmID != "" {
			d.blackboardSeen[ev.SwarmID] = ev.Timestamp
		}
		d.seenMu.Unlock()
	}
}

func (d *Dispatcher) Close() {
	if d.bus != nil && d.sub != nil {
		d.bus.Unsubscribe(d.sub)
	}
}

// ProcessTriggers evaluates every enabled trigger and fires the ones
// whose condition is met. Errors starting a workflow are logged, not
// returned: one misbehaving trigger must never stop the others from
// being evaluated.
func (d *Dispatcher) ProcessTriggers(ctx context.Context) {
	triggers, err := d.st.ListEnabledTriggers(ctx)
	if err != nil {
		d.logger.Error("list enabled triggers", "error", err)
		return
	}
	for _, tr := range triggers {
		if !d.shouldFire(tr) {
			continue
		}
		d.fire(ctx, tr)
	}
}

func (d *Dispatcher) shouldFire(tr *store.Trigger) bool {
	switch tr.TriggerType {
	case store.TriggerSchedule:
		return d.scheduleDue(tr)
	case store.TriggerBlackboard:
		return d.blackboardDue(tr)
	case store.TriggerEvent:
		return d.eventDue(tr)
	case store.TriggerWebhook:
		return d.webhookDue(tr)
	default:
		return false
	}
}

func (d *Dispatcher) scheduleDue(tr *store.Trigger) bool {
	seconds, _ := tr.Config["intervalSeconds"].(float64)
	if seconds <= 0 {
		return false
	}
	if tr.LastFiredAt == nil {
		return true
	}
	return time.Since(*tr.LastFiredAt) >= time.Duration(seconds)*time.Second
}

func (d *Dispatcher) blackboardDue(tr *store.Trigger) bool {
	swarmID, _ := tr.Config["swarmId"].(string)
	d.seenMu.Lock()
	last, ok := d.blackboardSeen[swarmID]
	d.seenMu.Unlock()
	if !ok {
		return false
	}
	if tr.LastFiredAt == nil {
		return true
	}
	return last.After(*tr.LastFiredAt)
}

func (d *Dispatcher) eventDue(tr *store.Trigger) bool {
	tag, _ := tr.Config["eventTag"].(string)
	d.seenMu.Lock()
	last, ok := d.eventSeen[eventbus.Tag(tag)]
	d.seenMu.Unlock()
	if !ok {
		return false
	}
	if tr.LastFiredAt == nil {
		return true
	}
	return last.After(*tr.LastFiredAt)
}

func (d *Dispatcher) webhookDue(tr *store.Trigger) bool {
	pending, _ := tr.Config["webhookPending"].(bool)
	return pending
}

func (d *Dispatcher) fire(ctx context.Context, tr *store.Trigger) {
	inputs, _ := tr.Config["inputs"].(map[string]any)
	createdBy := "trigger:" + string(tr.TriggerType)

	_, err := d.engine.StartWorkflow(ctx, tr.WorkflowID, createdBy, inputs, "")
	now := time.Now()
	tr.LastFiredAt = &now
	if tr.TriggerType == store.TriggerWebhook {
		delete(tr.Config, "webhookPending")
	}

	if err != nil {
		tr.ConsecutiveFailures++
		observability.TriggerFailures.WithLabelValues(tr.ID).Inc()
		d.logger.Warn("trigger failed to start workflow", "trigger_id", tr.ID, "workflow_id", tr.WorkflowID, "error", err)
		if tr.ConsecutiveFailures >= maxConsecutiveFailures {
			tr.IsEnabled = false
			d.logger.Error("trigger disabled after consecutive failures", "trigger_id", tr.ID, "failures", tr.ConsecutiveFailures)
		}
		_ = d.st.SaveTrigger(ctx, tr)
		return
	}

	tr.ConsecutiveFailures = 0
	_ = d.st.SaveTrigger(ctx, tr)
	observability.TriggersFired.WithLabelValues(string(tr.TriggerType)).Inc()
	if d.bus != nil {
		d.bus.Publish(eventbus.TriggerFired, "", map[string]any{
			"trigger_id":  tr.ID,
			"workflow_id": tr.WorkflowID,
			"type":        string(tr.TriggerType),
		})
	}
}

// CreateTrigger validates and persists a new trigger definition.
func (d *Dispatcher) CreateTrigger(ctx context.Context, tr *store.Trigger) error {
	if tr.WorkflowID == "" {
		return apperr.Validation("workflowId is required")
	}
	switch tr.TriggerType {
	case store.TriggerEvent, store.TriggerSchedule, store.TriggerWebhook, store.TriggerBlackboard:
	default:
		return apperr.Validation("unknown trigger type %q", tr.TriggerType)
	}
	if tr.ID == "" {
		return apperr.Validation("id is required")
	}
	if tr.Config == nil {
		tr.Config = map[string]any{}
	}
	return d.st.SaveTrigger(ctx, tr)
}

// DeleteTrigger removes a trigger definition permanently.
func (d *Dispatcher) DeleteTrigger(ctx context.Context, id string) error {
	if tr, err := d.st.GetTrigger(ctx, id); err != nil || tr == nil {
		return apperr.NotFoundf("trigger %s not found", id)
	}
	return d.st.DeleteTrigger(ctx, id)
}

// SetEnabled flips a trigger's enabled flag, resetting its failure
// count so a re-enabled trigger gets a fresh run at the cap.
func (d *Dispatcher) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tr, err := d.st.GetTrigger(ctx, id)
	if err != nil || tr == nil {
		return apperr.NotFoundf("trigger %s not found", id)
	}
	tr.IsEnabled = enabled
	if enabled {
		tr.ConsecutiveFailures = 0
	}
	return d.st.SaveTrigger(ctx, tr)
}
