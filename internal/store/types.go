// Package store defines the persistence contract the core coordination
// components use for durability across restarts, and the entity types
// that flow through it. Canonical, linearisable state for each entity
// lives in its owning component's in-memory map; the store is the
// durability layer those components write to. No component reloads its
// state from the store at startup.
package store

import "time"

type WorkerState string

const (
	WorkerStarting WorkerState = "starting"
	WorkerReady    WorkerState = "ready"
	WorkerWorking  WorkerState = "working"
	WorkerStopping WorkerState = "stopping"
	WorkerStopped  WorkerState = "stopped"
)

type WorkerHealth string

const (
	HealthHealthy   WorkerHealth = "healthy"
	HealthUnhealthy WorkerHealth = "unhealthy"
	HealthUnknown   WorkerHealth = "unknown"
)

type SpawnMode string

const (
	SpawnModeProcess  SpawnMode = "process"
	SpawnModeTmux     SpawnMode = "tmux"
	SpawnModeExternal SpawnMode = "external"
)

// Worker is a supervised subprocess agent.
type Worker struct {
	ID            string
	Handle        string
	TeamName      string
	SwarmID       string
	DepthLevel    int
	State         WorkerState
	Health        WorkerHealth
	SpawnMode     SpawnMode
	WorkingDir    string
	SessionID     string
	CurrentTaskID string
	RestartCount  int
	SpawnedAt     time.Time
	LastHeartbeat time.Time
	Version       int
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityRank returns the fixed admission rank, higher sorts first.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 0
	}
}

type SpawnStatus string

const (
	SpawnPending  SpawnStatus = "pending"
	SpawnApproved SpawnStatus = "approved"
	SpawnRejected SpawnStatus = "rejected"
	SpawnSpawned  SpawnStatus = "spawned"
)

// SpawnQueueItem is a single admission-controlled spawn request.
type SpawnQueueItem struct {
	ID              string
	RequesterHandle string
	TargetAgentType string
	DepthLevel      int
	Priority        Priority
	Status          SpawnStatus
	Payload         map[string]any
	DependsOn       []string
	BlockedByCount  int
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	SpawnedWorkerID string
	Version         int
}

// Swarm hosts a bounded set of workers sharing a blackboard.
type Swarm struct {
	ID          string
	Name        string
	Description string
	MaxAgents   int
	CreatedAt   time.Time
	KilledAt    *time.Time
}

type MessageType string

const (
	MessageRequest    MessageType = "request"
	MessageResponse   MessageType = "response"
	MessageStatus     MessageType = "status"
	MessageDirective  MessageType = "directive"
	MessageCheckpoint MessageType = "checkpoint"
)

// BlackboardMessage is one append-only entry in a swarm's message log.
type BlackboardMessage struct {
	ID            string
	SwarmID       string
	SenderHandle  string
	MessageType   MessageType
	TargetHandle  string
	Priority      Priority
	Payload       map[string]any
	CreatedAt     time.Time
	ArchivedAt    *time.Time
	ReadBy        map[string]struct{}
}

type StepType string

const (
	StepTask       StepType = "task"
	StepSpawn      StepType = "spawn"
	StepCheckpoint StepType = "checkpoint"
	StepGate       StepType = "gate"
	StepParallel   StepType = "parallel"
	StepScript     StepType = "script"
)

type OnFailure string

const (
	OnFailureFail     OnFailure = "fail"
	OnFailureSkip     OnFailure = "skip"
	OnFailureRetry    OnFailure = "retry"
	OnFailureContinue OnFailure = "continue"
)

// Guard gates a step's dispatch on a boolean expression.
type Guard struct {
	Type      string // expression | script | output_check
	Condition string
	Variables map[string]any
}

// StepDefinition is one node in a Workflow's DAG.
type StepDefinition struct {
	Key        string
	Name       string
	Type       StepType
	DependsOn  []string
	Config     map[string]any
	Guard      *Guard
	OnFailure  OnFailure
	MaxRetries int
	TimeoutMs  int
}

// Workflow is an immutable-by-convention DAG definition.
type Workflow struct {
	ID         string
	Name       string
	Steps      []StepDefinition
	Inputs     map[string]InputSpec
	Outputs    []string
	TimeoutMs  int
	OnComplete map[string]any
	OnFailure  map[string]any
	CreatedAt  time.Time
}

type InputSpec struct {
	Required bool
	Default  any
}

type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecPaused    ExecutionStatus = "paused"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// WorkflowExecution is one run of a Workflow.
type WorkflowExecution struct {
	ID          string
	WorkflowID  string
	CreatedBy   string
	Status      ExecutionStatus
	Context     map[string]any
	SwarmID     string
	StartedAt   time.Time
	CompletedAt *time.Time
	FailReason  string
	LastProgressAt time.Time
	Version     int
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepBlocked   StepStatus = "blocked"
	StepCancelled StepStatus = "cancelled"
)

// ExecutionStep is one StepDefinition materialised for an Execution.
type ExecutionStep struct {
	ID             string
	ExecutionID    string
	StepKey        string
	Status         StepStatus
	BlockedByCount int
	RetryCount     int
	Output         map[string]any
	Error          string
	StartedAt      *time.Time
	EndedAt        *time.Time
	Version        int
}

type TriggerType string

const (
	TriggerEvent      TriggerType = "event"
	TriggerSchedule   TriggerType = "schedule"
	TriggerWebhook    TriggerType = "webhook"
	TriggerBlackboard TriggerType = "blackboard"
)

// Trigger fires a Workflow execution on an external signal.
type Trigger struct {
	ID                  string
	WorkflowID           string
	TriggerType          TriggerType
	Config               map[string]any
	IsEnabled            bool
	LastFiredAt          *time.Time
	ConsecutiveFailures  int
}

type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "pending"
	CheckpointAccepted CheckpointStatus = "accepted"
	CheckpointRejected CheckpointStatus = "rejected"
)

// Checkpoint is a structured session-handoff record between two handles.
type Checkpoint struct {
	ID              string
	FromHandle      string
	ToHandle        string
	Goal            string
	Now             string
	Test            string
	DoneThisSession []string
	Blockers        []string
	Questions       []string
	Next            string
	Files           []string
	Status          CheckpointStatus
	CreatedAt       time.Time
}
