package store

import (
	"context"
	"sync"
)

// MemoryStore is the in-memory Store used by tests and single-process
// dev runs without a configured embedded database. It never persists
// across restarts; every Save keeps a defensive copy so callers can't
// mutate stored state through a returned pointer.
type MemoryStore struct {
	mu sync.RWMutex

	workers   map[string]*Worker
	spawn     map[string]*SpawnQueueItem
	swarms    map[string]*Swarm
	messages  map[string]*BlackboardMessage
	workflows map[string]*Workflow
	execs     map[string]*WorkflowExecution
	steps     map[string]*ExecutionStep
	triggers  map[string]*Trigger
	checkpoints map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workers:     make(map[string]*Worker),
		spawn:       make(map[string]*SpawnQueueItem),
		swarms:      make(map[string]*Swarm),
		messages:    make(map[string]*BlackboardMessage),
		workflows:   make(map[string]*Workflow),
		execs:       make(map[string]*WorkflowExecution),
		steps:       make(map[string]*ExecutionStep),
		triggers:    make(map[string]*Trigger),
		checkpoints: make(map[string]*Checkpoint),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveWorker(ctx context.Context, w *Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorker(ctx context.Context, id string) (*Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetWorkerByHandle(ctx context.Context, handle string) (*Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		if w.Handle == handle && w.State != WorkerStopped {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListWorkers(ctx context.Context, swarmID string) ([]*Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if swarmID != "" && w.SwarmID != swarmID {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorker(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, id)
	return nil
}

func (s *MemoryStore) SaveSpawnItem(ctx context.Context, item *SpawnQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.spawn[item.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSpawnItem(ctx context.Context, id string) (*SpawnQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.spawn[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) ListSpawnItems(ctx context.Context, status SpawnStatus) ([]*SpawnQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SpawnQueueItem, 0, len(s.spawn))
	for _, it := range s.spawn {
		if status != "" && it.Status != status {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteSpawnItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spawn, id)
	return nil
}

func (s *MemoryStore) SaveSwarm(ctx context.Context, sw *Swarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sw
	s.swarms[sw.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSwarm(ctx context.Context, id string) (*Swarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.swarms[id]
	if !ok {
		return nil, nil
	}
	cp := *sw
	return &cp, nil
}

func (s *MemoryStore) ListSwarms(ctx context.Context) ([]*Swarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Swarm, 0, len(s.swarms))
	for _, sw := range s.swarms {
		cp := *sw
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveBlackboardMessage(ctx context.Context, m *BlackboardMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBlackboardMessage(ctx context.Context, id string) (*BlackboardMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListBlackboardMessages(ctx context.Context, swarmID string) ([]*BlackboardMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BlackboardMessage, 0)
	for _, m := range s.messages {
		if m.SwarmID != swarmID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveWorkflow(ctx context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workflows[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetWorkflowByName(ctx context.Context, name string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workflows {
		if w.Name == name {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveExecution(ctx context.Context, e *WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.execs[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.execs[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, status ExecutionStatus) ([]*WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkflowExecution, 0)
	for _, e := range s.execs {
		if status != "" && e.Status != status {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveStep(ctx context.Context, st *ExecutionStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.steps[st.ID] = &cp
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, id string) (*ExecutionStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListStepsByExecution(ctx context.Context, executionID string) ([]*ExecutionStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ExecutionStep, 0)
	for _, st := range s.steps {
		if st.ExecutionID != executionID {
			continue
		}
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveTrigger(ctx context.Context, t *Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Trigger, 0)
	for _, t := range s.triggers {
		if t.WorkflowID != workflowID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListEnabledTriggers(ctx context.Context) ([]*Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Trigger, 0)
	for _, t := range s.triggers {
		if !t.IsEnabled {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteTrigger(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, id)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.checkpoints[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
