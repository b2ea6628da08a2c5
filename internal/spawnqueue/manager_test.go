package spawnqueue

import (
	"context"
	"testing"

	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(store.NewMemoryStore(), eventbus.New(32, nil, nil), nil, 100, 10)
}

func TestEnqueueComputesBlockedByCountFromUnspawnedDeps(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	dep, err := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue dep: %v", err)
	}
	item, err := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{DependsOn: []string{dep.ID}})
	if err != nil {
		t.Fatalf("enqueue item: %v", err)
	}
	if item.BlockedByCount != 1 {
		t.Fatalf("expected blockedByCount 1, got %d", item.BlockedByCount)
	}
	if ready := m.GetReady(10); len(ready) != 1 || ready[0].ID != dep.ID {
		t.Fatalf("expected only dep ready, got %+v", ready)
	}
}

func TestMarkSpawnedReleasesDependents(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	dep, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})
	item, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{DependsOn: []string{dep.ID}})

	if _, _, err := m.MarkSpawned(ctx, dep.ID, "worker-1"); err != nil {
		t.Fatalf("mark spawned: %v", err)
	}

	ready := m.GetReady(10)
	if len(ready) != 1 || ready[0].ID != item.ID {
		t.Fatalf("expected dependent released and ready, got %+v", ready)
	}
}

func TestRejectReleasesDependents(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	dep, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})
	item, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{DependsOn: []string{dep.ID}})

	if _, err := m.Reject(ctx, dep.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	ready := m.GetReady(10)
	if len(ready) != 1 || ready[0].ID != item.ID {
		t.Fatalf("expected dependent released after reject, got %+v", ready)
	}
}

func TestGetReadyOrdersByFixedPriorityRankThenCreatedAt(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	low, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityLow, nil, EnqueueOptions{})
	critical, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityCritical, nil, EnqueueOptions{})
	normal, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})

	ready := m.GetReady(10)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready items, got %d", len(ready))
	}
	if ready[0].ID != critical.ID || ready[1].ID != normal.ID || ready[2].ID != low.ID {
		t.Fatalf("expected critical, normal, low order, got %v %v %v", ready[0].Priority, ready[1].Priority, ready[2].Priority)
	}
}

func TestApproveRejectsFromNonPendingState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	item, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})
	if _, err := m.Approve(ctx, item.ID); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := m.Approve(ctx, item.ID); err == nil {
		t.Fatal("expected wrong-state error on second approve")
	}
}

func TestCancelByRequesterRejectsOnlyThatRequestersPendingItems(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	a1, _ := m.Enqueue(ctx, "alice", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})
	_, _ = m.Enqueue(ctx, "bob", "coder", 0, store.PriorityNormal, nil, EnqueueOptions{})

	n, err := m.CancelByRequester(ctx, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cancelled, got %d", n)
	}
	stats := m.GetStats()
	if stats.ByStatus[store.SpawnRejected] != 1 {
		t.Fatalf("expected 1 rejected, got %d", stats.ByStatus[store.SpawnRejected])
	}
	m.mu.RLock()
	got := m.items[a1.ID].Status
	m.mu.RUnlock()
	if got != store.SpawnRejected {
		t.Fatalf("expected alice's item rejected, got %s", got)
	}
}

func TestAllowAdmissionRateLimitsPerSwarm(t *testing.T) {
	m := New(store.NewMemoryStore(), eventbus.New(8, nil, nil), nil, 1, 1)
	if !m.AllowAdmission("swarm-1") {
		t.Fatal("expected first admission to be allowed")
	}
	if m.AllowAdmission("swarm-1") {
		t.Fatal("expected second immediate admission to be denied by burst=1 bucket")
	}
	if !m.AllowAdmission("swarm-2") {
		t.Fatal("expected a different swarm's bucket to be independent")
	}
}
