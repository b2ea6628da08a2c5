// Package spawnqueue gates spawn requests through priority and
// dependency admission before they reach the Worker Supervisor. The
// ready queue is a container/heap.Interface wrapped in a mutex, with a
// strict fixed-rank ordering: priority never changes while an item
// waits (no aging).
package spawnqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/observability"
	"github.com/sethdford/fleetctl/internal/store"
)

type EnqueueOptions struct {
	DependsOn []string
}

// Manager owns the canonical SpawnQueueItem set. One mutex serialises
// status changes and dependency-release together so no observer ever
// sees a blockedByCount that disagrees with its dependencies' statuses.
type Manager struct {
	mu    sync.RWMutex
	items map[string]*store.SpawnQueueItem
	ready *readyQueue

	swarmLimiters *requesterLimiter // per-swarm admission rate limit

	store  store.Store
	bus    *eventbus.Bus
	logger *slog.Logger
}

func New(st store.Store, bus *eventbus.Bus, logger *slog.Logger, admitRatePerSec float64, admitBurst int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		items:         make(map[string]*store.SpawnQueueItem),
		ready:         newReadyQueue(),
		swarmLimiters: newRequesterLimiter(admitRatePerSec, admitBurst),
		store:         st,
		bus:           bus,
		logger:        logger.With("component", "spawn_queue"),
	}
}

func (m *Manager) Enqueue(ctx context.Context, requesterHandle, targetAgentType string, depthLevel int, priority store.Priority, task map[string]any, opts EnqueueOptions) (*store.SpawnQueueItem, error) {
	if requesterHandle == "" || targetAgentType == "" {
		return nil, apperr.Validation("requesterHandle and targetAgentType are required")
	}
	if priority == "" {
		priority = store.PriorityNormal
	}

	m.mu.Lock()
	blocked := 0
	for _, dep := range opts.DependsOn {
		if d, ok := m.items[dep]; ok && d.Status != store.SpawnSpawned {
			blocked++
		}
	}
	item := &store.SpawnQueueItem{
		ID:              uuid.NewString(),
		RequesterHandle: requesterHandle,
		TargetAgentType: targetAgentType,
		DepthLevel:      depthLevel,
		Priority:        priority,
		Status:          store.SpawnPending,
		Payload:         task,
		DependsOn:       opts.DependsOn,
		BlockedByCount:  blocked,
		CreatedAt:       time.Now(),
	}
	m.items[item.ID] = item
	if blocked == 0 {
		m.ready.Push(item)
	}
	m.mu.Unlock()

	_ = m.store.SaveSpawnItem(ctx, item)
	m.publishDepthMetrics()
	m.bus.Publish(eventbus.SpawnEnqueued, "", map[string]any{"itemId": item.ID, "requesterHandle": requesterHandle})
	return cloneItem(item), nil
}

// GetReady pops up to limit admissible items (status=pending, blockedByCount=0),
// ordered by fixed priority rank then createdAt.
func (m *Manager) GetReady(limit int) []*store.SpawnQueueItem {
	out := make([]*store.SpawnQueueItem, 0, limit)
	for len(out) < limit {
		item := m.ready.Pop()
		if item == nil {
			break
		}
		m.mu.RLock()
		cur, ok := m.items[item.ID]
		stillReady := ok && cur.Status == store.SpawnPending && cur.BlockedByCount == 0
		m.mu.RUnlock()
		if !stillReady {
			continue
		}
		out = append(out, cloneItem(cur))
	}
	return out
}

func (m *Manager) Approve(ctx context.Context, id string) (*store.SpawnQueueItem, error) {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.NotFoundf("spawn item %q not found", id)
	}
	if item.Status != store.SpawnPending {
		m.mu.Unlock()
		return nil, apperr.WrongStatef("spawn item %q is %s, not pending", id, item.Status)
	}
	item.Status = store.SpawnApproved
	cp := *item
	m.mu.Unlock()

	_ = m.store.SaveSpawnItem(ctx, &cp)
	m.publishDepthMetrics()
	m.bus.Publish(eventbus.SpawnApproved, "", map[string]any{"itemId": id})
	return &cp, nil
}

func (m *Manager) Reject(ctx context.Context, id string) (*store.SpawnQueueItem, error) {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.NotFoundf("spawn item %q not found", id)
	}
	if item.Status != store.SpawnPending {
		m.mu.Unlock()
		return nil, apperr.WrongStatef("spawn item %q is %s, not pending", id, item.Status)
	}
	item.Status = store.SpawnRejected
	released := m.releaseDependents(id)
	cp := *item
	m.mu.Unlock()

	_ = m.store.SaveSpawnItem(ctx, &cp)
	m.publishDepthMetrics()
	m.bus.Publish(eventbus.SpawnRejected, "", map[string]any{"itemId": id, "releasedIds": released})
	return &cp, nil
}

// MarkSpawned transitions an item to spawned and releases its
// dependents, valid from pending or approved.
func (m *Manager) MarkSpawned(ctx context.Context, id, workerID string) (*store.SpawnQueueItem, []string, error) {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, apperr.NotFoundf("spawn item %q not found", id)
	}
	if item.Status != store.SpawnPending && item.Status != store.SpawnApproved {
		m.mu.Unlock()
		return nil, nil, apperr.WrongStatef("spawn item %q is %s, cannot mark spawned", id, item.Status)
	}
	item.Status = store.SpawnSpawned
	item.SpawnedWorkerID = workerID
	now := time.Now()
	item.ProcessedAt = &now
	released := m.releaseDependents(id)
	cp := *item
	m.mu.Unlock()

	_ = m.store.SaveSpawnItem(ctx, &cp)
	m.publishDepthMetrics()
	m.bus.Publish(eventbus.SpawnFulfilled, "", map[string]any{
		"itemId": id, "workerId": workerID, "releasedIds": released,
	})
	return &cp, released, nil
}

// releaseDependents must be called with m.mu held. Decrements
// blockedByCount (floored at 0) for every item depending on id and
// pushes newly-unblocked items onto the ready queue.
func (m *Manager) releaseDependents(id string) []string {
	var released []string
	for _, other := range m.items {
		if other.Status != store.SpawnPending {
			continue
		}
		dependsOnID := false
		for _, dep := range other.DependsOn {
			if dep == id {
				dependsOnID = true
				break
			}
		}
		if !dependsOnID || other.BlockedByCount == 0 {
			continue
		}
		other.BlockedByCount--
		if other.BlockedByCount == 0 {
			m.ready.Push(other)
			released = append(released, other.ID)
		}
	}
	return released
}

type Stats struct {
	ByStatus   map[store.SpawnStatus]int
	ByPriority map[store.Priority]int
	Ready      int
	Blocked    int
}

func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{ByStatus: make(map[store.SpawnStatus]int), ByPriority: make(map[store.Priority]int)}
	for _, item := range m.items {
		s.ByStatus[item.Status]++
		s.ByPriority[item.Priority]++
		if item.Status == store.SpawnPending {
			if item.BlockedByCount == 0 {
				s.Ready++
			} else {
				s.Blocked++
			}
		}
	}
	return s
}

// CancelByRequester bulk-rejects every pending item from handle and
// releases their dependents.
func (m *Manager) CancelByRequester(ctx context.Context, handle string) (int, error) {
	m.mu.Lock()
	var toReject []string
	for _, item := range m.items {
		if item.RequesterHandle == handle && item.Status == store.SpawnPending {
			toReject = append(toReject, item.ID)
		}
	}
	m.mu.Unlock()

	for _, id := range toReject {
		if _, err := m.Reject(ctx, id); err != nil {
			m.logger.Warn("cancel-by-requester reject failed", "itemId", id, "error", err)
		}
	}
	return len(toReject), nil
}

// Cleanup removes terminal items older than maxAge. It runs only when
// called; no background tick invokes it.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, item := range m.items {
		if item.Status == store.SpawnPending || item.Status == store.SpawnApproved {
			continue
		}
		if item.ProcessedAt != nil && item.ProcessedAt.Before(cutoff) {
			delete(m.items, id)
			removed++
		}
	}
	return removed
}

// AllowAdmission gates admission of newly-approved items into the
// Worker Supervisor by a per-swarm token bucket, preventing a burst of
// GetReady approvals from overwhelming supervisor spawn concurrency.
func (m *Manager) AllowAdmission(swarmID string) bool {
	allowed := m.swarmLimiters.Allow(swarmID)
	if !allowed {
		observability.SpawnAdmissionDenied.WithLabelValues("rate_limited").Inc()
	}
	return allowed
}

// publishDepthMetrics recomputes the queue-depth gauges from current
// state; called after every mutation rather than incrementally, since
// a single item can move through several statuses per call
// (e.g. MarkSpawned also releases dependents).
func (m *Manager) publishDepthMetrics() {
	stats := m.GetStats()
	for status, n := range stats.ByStatus {
		observability.SpawnQueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
	observability.SpawnQueueReady.Set(float64(stats.Ready))
}

func cloneItem(item *store.SpawnQueueItem) *store.SpawnQueueItem {
	cp := *item
	return &cp
}
