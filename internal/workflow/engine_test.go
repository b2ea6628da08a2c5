package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/spawnqueue"
	"github.com/sethdford/fleetctl/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.New(64, nil, nil)
	sq := spawnqueue.New(st, bus, nil, 100, 10)
	return New(st, bus, sq, time.Minute, nil)
}

func TestRegisterWorkflowRejectsDuplicateStepKeys(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name: "dup",
		Steps: []store.StepDefinition{
			{Key: "a", Type: store.StepTask},
			{Key: "a", Type: store.StepTask},
		},
	}
	if err := e.RegisterWorkflow(context.Background(), wf); err == nil {
		t.Fatal("expected validation error for duplicate step keys")
	}
}

func TestStartWorkflowRejectsMissingRequiredInput(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name:   "needs-input",
		Steps:  []store.StepDefinition{{Key: "a", Type: store.StepTask}},
		Inputs: map[string]store.InputSpec{"target": {Required: true}},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)
	if _, err := e.StartWorkflow(context.Background(), wf.ID, "alice", nil, ""); err == nil {
		t.Fatal("expected validation error for missing required input")
	}
}

func TestTwoStepTaskChainCascadesAndCompletes(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name: "chain",
		Steps: []store.StepDefinition{
			{Key: "first", Type: store.StepTask},
			{Key: "second", Type: store.StepTask, DependsOn: []string{"first"}},
		},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)

	exec, err := e.StartWorkflow(context.Background(), wf.ID, "alice", nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	steps, _ := e.GetSteps(exec.ID)
	byKey := stepsByKey(steps)
	if byKey["first"].Status != store.StepRunning {
		t.Fatalf("expected first step running, got %s", byKey["first"].Status)
	}
	if byKey["second"].Status != store.StepPending {
		t.Fatalf("expected second step pending, got %s", byKey["second"].Status)
	}

	if err := e.CompleteStep(context.Background(), exec.ID, "first", map[string]any{"ok": true}, ""); err != nil {
		t.Fatalf("complete first: %v", err)
	}

	steps, _ = e.GetSteps(exec.ID)
	byKey = stepsByKey(steps)
	if byKey["second"].Status != store.StepRunning {
		t.Fatalf("expected second step released to running, got %s", byKey["second"].Status)
	}

	if err := e.CompleteStep(context.Background(), exec.ID, "second", nil, ""); err != nil {
		t.Fatalf("complete second: %v", err)
	}

	got, _ := e.GetExecution(exec.ID)
	if got.Status != store.ExecCompleted {
		t.Fatalf("expected execution completed, got %s", got.Status)
	}
}

func TestGateStepReleasesOnTrueAndSkipsOnFalse(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name: "gated",
		Steps: []store.StepDefinition{
			{Key: "check", Type: store.StepGate, Guard: &store.Guard{Condition: "inputs.go == true"}, Config: map[string]any{
				"onTrue":  []any{"happy"},
				"onFalse": []any{"sad"},
			}},
			{Key: "happy", Type: store.StepTask, DependsOn: []string{"check"}},
			{Key: "sad", Type: store.StepTask, DependsOn: []string{"check"}},
		},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)

	exec, err := e.StartWorkflow(context.Background(), wf.ID, "alice", map[string]any{"go": true}, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	steps, _ := e.GetSteps(exec.ID)
	byKey := stepsByKey(steps)
	if byKey["happy"].Status != store.StepReady {
		t.Fatalf("expected happy path released to ready, got %s", byKey["happy"].Status)
	}
	if byKey["sad"].Status != store.StepSkipped {
		t.Fatalf("expected sad path skipped, got %s", byKey["sad"].Status)
	}
}

func TestScriptStepWritesContextAndCompletesImmediately(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name: "scripted",
		Steps: []store.StepDefinition{
			{Key: "compute", Type: store.StepScript, Config: map[string]any{
				"expression": "2 + 2",
				"outputKey":  "total",
			}},
		},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)

	exec, err := e.StartWorkflow(context.Background(), wf.ID, "alice", nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	got, _ := e.GetExecution(exec.ID)
	if got.Status != store.ExecCompleted {
		t.Fatalf("expected execution completed, got %s", got.Status)
	}
	if got.Context["total"] != 4.0 {
		t.Fatalf("expected context.total == 4, got %v", got.Context["total"])
	}
}

func TestRetryPolicyRedispatchesUntilBudgetExhausted(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name: "flaky",
		Steps: []store.StepDefinition{
			{Key: "flaky", Type: store.StepTask, OnFailure: store.OnFailureRetry, MaxRetries: 1},
		},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)
	exec, _ := e.StartWorkflow(context.Background(), wf.ID, "alice", nil, "")

	if err := e.CompleteStep(context.Background(), exec.ID, "flaky", nil, "boom"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	steps, _ := e.GetSteps(exec.ID)
	if stepsByKey(steps)["flaky"].Status != store.StepRunning {
		t.Fatalf("expected step re-dispatched after first retry, got %s", stepsByKey(steps)["flaky"].Status)
	}

	if err := e.CompleteStep(context.Background(), exec.ID, "flaky", nil, "boom again"); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	got, _ := e.GetExecution(exec.ID)
	if got.Status != store.ExecFailed {
		t.Fatalf("expected execution failed after retry budget exhausted, got %s", got.Status)
	}
}

func TestCancelWorkflowCancelsNonTerminalSteps(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name:  "cancelme",
		Steps: []store.StepDefinition{{Key: "a", Type: store.StepTask}},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)
	exec, _ := e.StartWorkflow(context.Background(), wf.ID, "alice", nil, "")

	if err := e.CancelWorkflow(context.Background(), exec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := e.GetExecution(exec.ID)
	if got.Status != store.ExecCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if err := e.CancelWorkflow(context.Background(), exec.ID); err != nil {
		t.Fatalf("expected idempotent cancel to succeed, got %v", err)
	}
}

func TestPauseStopsProcessingAndResumeContinues(t *testing.T) {
	e := newTestEngine(t)
	wf := &store.Workflow{
		Name: "pausable",
		Steps: []store.StepDefinition{
			{Key: "first", Type: store.StepTask},
			{Key: "second", Type: store.StepTask, DependsOn: []string{"first"}},
		},
	}
	_ = e.RegisterWorkflow(context.Background(), wf)
	exec, _ := e.StartWorkflow(context.Background(), wf.ID, "alice", nil, "")

	if err := e.PauseWorkflow(context.Background(), exec.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := e.CompleteStep(context.Background(), exec.ID, "first", nil, ""); err != nil {
		t.Fatalf("complete while paused: %v", err)
	}
	steps, _ := e.GetSteps(exec.ID)
	if stepsByKey(steps)["second"].Status != store.StepReady {
		t.Fatalf("expected second step ready but not dispatched while paused, got %s", stepsByKey(steps)["second"].Status)
	}

	if err := e.ResumeWorkflow(context.Background(), exec.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	steps, _ = e.GetSteps(exec.ID)
	if stepsByKey(steps)["second"].Status != store.StepRunning {
		t.Fatalf("expected second step dispatched after resume, got %s", stepsByKey(steps)["second"].Status)
	}
}

func stepsByKey(steps []*store.ExecutionStep) map[string]*store.ExecutionStep {
	out := make(map[string]*store.ExecutionStep, len(steps))
	for _, s := range steps {
		out[s.StepKey] = s
	}
	return out
}
