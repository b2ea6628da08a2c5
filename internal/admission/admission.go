// Package admission is the background loop that turns admitted spawn
// queue items into live workers: a ticker pulls ready work and hands
// it to a bounded dispatch step. A second goroutine bridges
// spawn.fulfilled events back into the workflow engine, since the
// engine has no direct dependency on the supervisor.
package admission

import (
	"context"
	"log/slog"

	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/spawnqueue"
	"github.com/sethdford/fleetctl/internal/store"
	"github.com/sethdford/fleetctl/internal/worker"
)

// FulfillmentNotifier is the subset of *workflow.Engine the bridge
// needs, kept narrow so this package doesn't import workflow.
type FulfillmentNotifier interface {
	OnSpawnFulfilled(ctx context.Context, spawnItemID, workerID string)
}

type Admitter struct {
	queue      *spawnqueue.Manager
	supervisor *worker.Supervisor
	logger     *slog.Logger

	batchSize int
}

func New(queue *spawnqueue.Manager, supervisor *worker.Supervisor, logger *slog.Logger, batchSize int) *Admitter {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Admitter{queue: queue, supervisor: supervisor, logger: logger.With("component", "admission"), batchSize: batchSize}
}

// Tick drains up to batchSize ready spawn items, rate-limits each by
// its target swarm, and spawns a worker for every admitted item. An
// item that is denied or fails to spawn is dropped rather than
// requeued: the requester reads the queue status endpoint and
// re-enqueues, shedding load instead of retrying indefinitely under
// saturation.
func (a *Admitter) Tick(ctx context.Context) {
	for _, item := range a.queue.GetReady(a.batchSize) {
		a.dispatch(ctx, item)
	}
}

func (a *Admitter) dispatch(ctx context.Context, item *store.SpawnQueueItem) {
	swarmID, _ := item.Payload["swarmId"].(string)
	if !a.queue.AllowAdmission(swarmID) {
		a.logger.Warn("spawn item denied admission", "itemId", item.ID, "swarmId", swarmID)
		return
	}

	req := worker.SpawnRequest{
		Handle:        stringField(item.Payload, "handle"),
		TeamName:      item.TargetAgentType,
		SwarmID:       swarmID,
		WorkingDir:    stringField(item.Payload, "workingDir"),
		InitialPrompt: stringField(item.Payload, "initialPrompt"),
		Model:         stringField(item.Payload, "model"),
		SpawnMode:     store.SpawnMode(stringField(item.Payload, "spawnMode")),
		DepthLevel:    item.DepthLevel,
		Command:       stringField(item.Payload, "command"),
	}
	if req.Handle == "" {
		req.Handle = item.RequesterHandle + "-" + item.ID[:8]
	}

	w, err := a.supervisor.SpawnWorker(ctx, req)
	if err != nil {
		a.logger.Warn("spawn from queue failed", "itemId", item.ID, "error", err)
		return
	}
	if _, _, err := a.queue.MarkSpawned(ctx, item.ID, w.ID); err != nil {
		a.logger.Warn("mark spawned failed", "itemId", item.ID, "workerId", w.ID, "error", err)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// BridgeFulfillment subscribes to spawn.fulfilled and forwards every
// event to notifier.OnSpawnFulfilled until ctx is cancelled. Run as
// its own goroutine; blocks until the subscription channel closes.
func BridgeFulfillment(ctx context.Context, bus *eventbus.Bus, notifier FulfillmentNotifier) {
	sub := bus.Subscribe(eventbus.SpawnFulfilled)
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Tag != eventbus.SpawnFulfilled {
				continue
			}
			itemID, _ := ev.Payload["itemId"].(string)
			workerID, _ := ev.Payload["workerId"].(string)
			if itemID == "" || workerID == "" {
				continue
			}
			notifier.OnSpawnFulfilled(ctx, itemID, workerID)
		}
	}
}
