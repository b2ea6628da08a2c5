package store

import "context"

// Store is the durability contract every coordination component persists
// through: get-by-id, list-by-index, insert, update, delete, one family
// per entity. Implementations must survive process restart without
// losing committed rows. Save* overwrites the stored row
// unconditionally; no implementation compares Version.
type Store interface {
	SaveWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id string) (*Worker, error)
	GetWorkerByHandle(ctx context.Context, handle string) (*Worker, error)
	ListWorkers(ctx context.Context, swarmID string) ([]*Worker, error)
	DeleteWorker(ctx context.Context, id string) error

	SaveSpawnItem(ctx context.Context, item *SpawnQueueItem) error
	GetSpawnItem(ctx context.Context, id string) (*SpawnQueueItem, error)
	ListSpawnItems(ctx context.Context, status SpawnStatus) ([]*SpawnQueueItem, error)
	DeleteSpawnItem(ctx context.Context, id string) error

	SaveSwarm(ctx context.Context, s *Swarm) error
	GetSwarm(ctx context.Context, id string) (*Swarm, error)
	ListSwarms(ctx context.Context) ([]*Swarm, error)

	SaveBlackboardMessage(ctx context.Context, m *BlackboardMessage) error
	GetBlackboardMessage(ctx context.Context, id string) (*BlackboardMessage, error)
	ListBlackboardMessages(ctx context.Context, swarmID string) ([]*BlackboardMessage, error)

	SaveWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	GetWorkflowByName(ctx context.Context, name string) (*Workflow, error)
	ListWorkflows(ctx context.Context) ([]*Workflow, error)

	SaveExecution(ctx context.Context, e *WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	ListExecutions(ctx context.Context, status ExecutionStatus) ([]*WorkflowExecution, error)

	SaveStep(ctx context.Context, s *ExecutionStep) error
	GetStep(ctx context.Context, id string) (*ExecutionStep, error)
	ListStepsByExecution(ctx context.Context, executionID string) ([]*ExecutionStep, error)

	SaveTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*Trigger, error)
	ListEnabledTriggers(ctx context.Context) ([]*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	SaveCheckpoint(ctx context.Context, c *Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)

	Close() error
}

// ErrOptimisticLock describes a write that lost to a concurrent write of
// the same row. None of the Store implementations in this package
// compare Version on Save*, so none of them return it.
type ErrOptimisticLock struct{ Entity, ID string }

func (e *ErrOptimisticLock) Error() string {
	return "optimistic lock failure: " + e.Entity + " " + e.ID + " changed concurrently"
}
