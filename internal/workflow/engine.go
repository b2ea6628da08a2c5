// Package workflow executes DAGs of steps with heterogeneous dispatch
// semantics (task, spawn, checkpoint, gate, parallel, script). Grounded
// on the other_examples/ DAG engines' Kahn's-algorithm-plus-worker-pool
// pattern (dag_engine.go, dag_scheduler.go, swarm_workflow.go), adapted
// to this repo's tagged-error and eventbus idiom rather than that
// file's OpenTelemetry instrumentation.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/observability"
	"github.com/sethdford/fleetctl/internal/spawnqueue"
	"github.com/sethdford/fleetctl/internal/store"
	"github.com/sethdford/fleetctl/internal/workflow/expr"
)

type stepRef struct {
	executionID string
	stepKey     string
}

type execState struct {
	exec     *store.WorkflowExecution
	workflow *store.Workflow
	steps    map[string]*store.ExecutionStep // by StepKey
}

// Engine owns every non-terminal (and recently terminal) execution in
// memory. One mutex serialises status transitions, cascade, and
// completion detection together so the invariants in dispatch hold
// under concurrent CompleteStep/ProcessExecutions calls.
type Engine struct {
	mu sync.RWMutex

	workflows   map[string]*store.Workflow
	byName      map[string]string
	executions  map[string]*execState
	spawnIndex  map[string]stepRef // spawn queue item id -> step
	checkIndex  map[string]stepRef // checkpoint id -> step

	store        store.Store
	bus          *eventbus.Bus
	spawnQueue   *spawnqueue.Manager
	stuckTimeout time.Duration
	logger       *slog.Logger
}

func New(st store.Store, bus *eventbus.Bus, sq *spawnqueue.Manager, stuckTimeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if stuckTimeout <= 0 {
		stuckTimeout = 30 * time.Minute
	}
	return &Engine{
		workflows:    make(map[string]*store.Workflow),
		byName:       make(map[string]string),
		executions:   make(map[string]*execState),
		spawnIndex:   make(map[string]stepRef),
		checkIndex:   make(map[string]stepRef),
		store:        st,
		bus:          bus,
		spawnQueue:   sq,
		stuckTimeout: stuckTimeout,
		logger:       logger.With("component", "workflow_engine"),
	}
}

// RegisterWorkflow validates and stores a workflow definition. Duplicate
// step keys are rejected outright rather than merged or overwritten.
func (e *Engine) RegisterWorkflow(ctx context.Context, wf *store.Workflow) error {
	seen := make(map[string]struct{}, len(wf.Steps))
	for _, s := range wf.Steps {
		if _, dup := seen[s.Key]; dup {
			return apperr.Validation("duplicate step key %q in workflow %q", s.Key, wf.Name)
		}
		seen[s.Key] = struct{}{}
		if s.Type == store.StepGate && (s.Guard == nil || s.Guard.Condition == "") {
			return apperr.Validation("gate step %q requires a guard condition", s.Key)
		}
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now()
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.byName[wf.Name] = wf.ID
	e.mu.Unlock()

	return e.store.SaveWorkflow(ctx, wf)
}

// StartWorkflow validates required inputs, substitutes templates, and
// materialises one ExecutionStep per definition.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID, createdBy string, inputs map[string]any, swarmID string) (*store.WorkflowExecution, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFoundf("workflow %q not found", workflowID)
	}

	if inputs == nil {
		inputs = map[string]any{}
	}
	for name, spec := range wf.Inputs {
		if _, present := inputs[name]; !present {
			if spec.Required {
				return nil, apperr.Validation("missing required input %q", name)
			}
			if spec.Default != nil {
				inputs[name] = spec.Default
			}
		}
	}

	now := time.Now()
	exec := &store.WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		CreatedBy:      createdBy,
		Status:         store.ExecRunning,
		Context:        map[string]any{"inputs": inputs},
		SwarmID:        swarmID,
		StartedAt:      now,
		LastProgressAt: now,
	}

	steps := make(map[string]*store.ExecutionStep, len(wf.Steps))
	for _, def := range wf.Steps {
		st := &store.ExecutionStep{
			ID:             uuid.NewString(),
			ExecutionID:    exec.ID,
			StepKey:        def.Key,
			BlockedByCount: len(def.DependsOn),
			Status:         store.StepPending,
		}
		if st.BlockedByCount == 0 {
			st.Status = store.StepReady
		}
		steps[def.Key] = st
	}

	es := &execState{exec: exec, workflow: wf, steps: steps}
	e.mu.Lock()
	e.executions[exec.ID] = es
	e.mu.Unlock()

	_ = e.store.SaveExecution(ctx, exec)
	for _, st := range steps {
		_ = e.store.SaveStep(ctx, st)
	}

	observability.WorkflowExecutions.WithLabelValues(string(store.ExecRunning)).Inc()
	e.bus.Publish(eventbus.WorkflowStarted, swarmID, map[string]any{"executionId": exec.ID, "workflowId": workflowID})
	for key, st := range steps {
		if st.Status == store.StepReady {
			e.bus.Publish(eventbus.WorkflowStepReady, swarmID, map[string]any{"executionId": exec.ID, "stepKey": key})
		}
	}

	e.processExecution(ctx, es)
	return cloneExec(exec), nil
}

// ProcessExecutions drives every non-terminal execution forward. Called
// from the workflow background tick and on-demand whenever an external
// signal (spawn.fulfilled, CompleteStep, checkpoint resolution) could
// unblock a step.
func (e *Engine) ProcessExecutions(ctx context.Context) {
	e.mu.RLock()
	var targets []*execState
	for _, es := range e.executions {
		if es.exec.Status == store.ExecRunning {
			targets = append(targets, es)
		}
	}
	e.mu.RUnlock()

	for _, es := range targets {
		e.checkDeadlock(ctx, es)
		e.processExecution(ctx, es)
	}
}

func (e *Engine) checkDeadlock(ctx context.Context, es *execState) {
	e.mu.Lock()
	if es.exec.Status != store.ExecRunning || time.Since(es.exec.LastProgressAt) <= e.stuckTimeout {
		e.mu.Unlock()
		return
	}
	es.exec.Status = store.ExecFailed
	es.exec.FailReason = "deadlock"
	completedAt := time.Now()
	es.exec.CompletedAt = &completedAt
	cp := *es.exec
	e.mu.Unlock()

	_ = e.store.SaveExecution(ctx, &cp)
	observability.WorkflowExecutions.WithLabelValues(string(store.ExecRunning)).Dec()
	observability.WorkflowExecutions.WithLabelValues(string(store.ExecFailed)).Inc()
	observability.WorkflowDeadlocks.Inc()
	e.bus.Publish(eventbus.WorkflowDeadlock, cp.SwarmID, map[string]any{"executionId": cp.ID})
	e.bus.Publish(eventbus.WorkflowFailed, cp.SwarmID, map[string]any{"executionId": cp.ID, "reason": "deadlock"})
}

// processExecution dispatches every ready step of a single execution
// and then runs completion detection.
func (e *Engine) processExecution(ctx context.Context, es *execState) {
	e.mu.Lock()
	if es.exec.Status != store.ExecRunning {
		e.mu.Unlock()
		return
	}
	var toDispatch []*store.ExecutionStep
	for _, st := range es.steps {
		if st.Status == store.StepReady {
			toDispatch = append(toDispatch, st)
		}
	}
	e.mu.Unlock()

	for _, st := range toDispatch {
		e.dispatchStep(ctx, es, st)
	}

	e.evaluateParallelSteps(ctx, es)
	e.detectCompletion(ctx, es)
}

func (e *Engine) stepDef(es *execState, key string) *store.StepDefinition {
	for i := range es.workflow.Steps {
		if es.workflow.Steps[i].Key == key {
			return &es.workflow.Steps[i]
		}
	}
	return nil
}

func (e *Engine) dispatchStep(ctx context.Context, es *execState, st *store.ExecutionStep) {
	def := e.stepDef(es, st.StepKey)
	if def == nil {
		return
	}

	e.mu.Lock()
	view := buildContextView(es.exec, es.steps)
	e.mu.Unlock()

	// A gate step's Guard is its own branching condition, dispatched
	// below; the generic pre-dispatch guard check only applies to
	// every other step type.
	if def.Guard != nil && def.Type != store.StepGate {
		result, err := e.evalGuard(def.Guard, view)
		if err != nil {
			e.failStep(ctx, es, st, "guard_error")
			return
		}
		if !result {
			e.skipStep(ctx, es, st)
			return
		}
	}

	inputs, _ := view["inputs"].(map[string]any)
	cfg := substituteTemplates(def.Config, inputs, func(name string) {
		e.logger.Warn("template variable missing", "name", name, "stepKey", st.StepKey)
	})

	e.mu.Lock()
	st.Status = store.StepRunning
	started := time.Now()
	st.StartedAt = &started
	es.exec.LastProgressAt = started
	e.mu.Unlock()
	_ = e.store.SaveStep(ctx, st)

	e.bus.Publish(eventbus.WorkflowStepStarted, es.exec.SwarmID, map[string]any{
		"executionId": es.exec.ID, "stepKey": st.StepKey, "type": string(def.Type),
	})

	switch def.Type {
	case store.StepTask:
		// Waits for an external CompleteStep call; nothing more to do here.
	case store.StepSpawn:
		e.dispatchSpawn(ctx, es, st, cfg)
	case store.StepCheckpoint:
		e.dispatchCheckpoint(ctx, es, st, cfg)
	case store.StepGate:
		e.dispatchGate(ctx, es, st, def, view)
	case store.StepParallel:
		// Completion is evaluated by evaluateParallelSteps on every cycle.
	case store.StepScript:
		e.dispatchScript(ctx, es, st, def, view)
	default:
		e.failStep(ctx, es, st, fmt.Sprintf("unknown step type %q", def.Type))
	}
}

func (e *Engine) evalGuard(g *store.Guard, view map[string]any) (bool, error) {
	result, err := expr.Eval(g.Condition, view)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("guard condition did not evaluate to a boolean")
	}
	return b, nil
}

func (e *Engine) dispatchSpawn(ctx context.Context, es *execState, st *store.ExecutionStep, cfg map[string]any) {
	requester, _ := cfg["requesterHandle"].(string)
	agentType, _ := cfg["targetAgentType"].(string)
	depth := 0
	if d, ok := cfg["depthLevel"].(float64); ok {
		depth = int(d)
	}
	priority := store.PriorityNormal
	if p, ok := cfg["priority"].(string); ok && p != "" {
		priority = store.Priority(p)
	}

	item, err := e.spawnQueue.Enqueue(ctx, requester, agentType, depth, priority, cfg, spawnqueue.EnqueueOptions{})
	if err != nil {
		e.failStep(ctx, es, st, fmt.Sprintf("spawn enqueue failed: %v", err))
		return
	}

	e.mu.Lock()
	e.spawnIndex[item.ID] = stepRef{executionID: es.exec.ID, stepKey: st.StepKey}
	e.mu.Unlock()
}

// OnSpawnFulfilled is called by the wiring layer on spawn.fulfilled
// events; it completes the spawn step that enqueued this item.
func (e *Engine) OnSpawnFulfilled(ctx context.Context, spawnItemID, workerID string) {
	e.mu.Lock()
	ref, ok := e.spawnIndex[spawnItemID]
	if ok {
		delete(e.spawnIndex, spawnItemID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	_ = e.CompleteStep(ctx, ref.executionID, ref.stepKey, map[string]any{"workerId": workerID}, "")
}

func (e *Engine) dispatchCheckpoint(ctx context.Context, es *execState, st *store.ExecutionStep, cfg map[string]any) {
	toHandle, _ := cfg["toHandle"].(string)
	fromHandle, _ := cfg["fromHandle"].(string)
	goal, _ := cfg["goal"].(string)
	waitForAcceptance, _ := cfg["waitForAcceptance"].(bool)

	cp := &store.Checkpoint{
		ID:         uuid.NewString(),
		FromHandle: fromHandle,
		ToHandle:   toHandle,
		Goal:       goal,
		Status:     store.CheckpointPending,
		CreatedAt:  time.Now(),
	}
	_ = e.store.SaveCheckpoint(ctx, cp)

	if !waitForAcceptance {
		e.completeStepLocked(ctx, es, st, map[string]any{"checkpointId": cp.ID})
		return
	}

	e.mu.Lock()
	e.checkIndex[cp.ID] = stepRef{executionID: es.exec.ID, stepKey: st.StepKey}
	e.mu.Unlock()
}

// ResolveCheckpoint is called by the HTTP surface when toHandle accepts
// or rejects a checkpoint; it unblocks any step waiting on it.
func (e *Engine) ResolveCheckpoint(ctx context.Context, checkpointID string, accepted bool) error {
	cp, err := e.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return apperr.Wrap(apperr.InternalFailure, "lookup checkpoint", err)
	}
	if cp == nil {
		return apperr.NotFoundf("checkpoint %q not found", checkpointID)
	}
	if accepted {
		cp.Status = store.CheckpointAccepted
	} else {
		cp.Status = store.CheckpointRejected
	}
	_ = e.store.SaveCheckpoint(ctx, cp)

	e.mu.Lock()
	ref, ok := e.checkIndex[checkpointID]
	if ok {
		delete(e.checkIndex, checkpointID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if accepted {
		return e.CompleteStep(ctx, ref.executionID, ref.stepKey, map[string]any{"checkpointId": checkpointID}, "")
	}
	return e.CompleteStep(ctx, ref.executionID, ref.stepKey, nil, "checkpoint_rejected")
}

func (e *Engine) dispatchGate(ctx context.Context, es *execState, st *store.ExecutionStep, def *store.StepDefinition, view map[string]any) {
	if def.Guard == nil || def.Guard.Condition == "" {
		e.failStep(ctx, es, st, "gate step has no guard condition")
		return
	}
	result, err := expr.Eval(def.Guard.Condition, view)
	if err != nil {
		e.failStep(ctx, es, st, "guard_error")
		return
	}
	b, _ := result.(bool)

	var onTrue, onFalse []string
	if def.Config != nil {
		onTrue = toStringSlice(def.Config["onTrue"])
		onFalse = toStringSlice(def.Config["onFalse"])
	}

	e.mu.Lock()
	st.Status = store.StepCompleted
	st.Output = map[string]any{"result": b}
	ended := time.Now()
	st.EndedAt = &ended
	es.exec.LastProgressAt = ended
	recordStepOutputLocked(es, st)

	releaseKeys := onFalse
	skipKeys := onTrue
	if b {
		releaseKeys = onTrue
		skipKeys = onFalse
	}
	for _, key := range releaseKeys {
		if dep, ok := es.steps[key]; ok && dep.BlockedByCount > 0 {
			dep.BlockedByCount--
			if dep.BlockedByCount == 0 && dep.Status == store.StepPending {
				dep.Status = store.StepReady
			}
		}
	}
	for _, key := range skipKeys {
		if dep, ok := es.steps[key]; ok && !isTerminal(dep.Status) {
			e.skipStepLocked(es, dep)
		}
	}
	e.mu.Unlock()

	_ = e.store.SaveStep(ctx, st)
	e.bus.Publish(eventbus.WorkflowStepCompleted, es.exec.SwarmID, map[string]any{
		"executionId": es.exec.ID, "stepKey": st.StepKey,
	})
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) dispatchScript(ctx context.Context, es *execState, st *store.ExecutionStep, def *store.StepDefinition, view map[string]any) {
	expression, _ := def.Config["expression"].(string)
	outputKey, _ := def.Config["outputKey"].(string)

	result, err := expr.Eval(expression, view)
	if err != nil {
		e.failStep(ctx, es, st, fmt.Sprintf("script error: %v", err))
		return
	}

	e.mu.Lock()
	if outputKey != "" {
		es.exec.Context[outputKey] = result
	}
	e.mu.Unlock()

	e.completeStepLocked(ctx, es, st, map[string]any{outputKey: result})
}

// CompleteStep is the external entry point for task steps (and the
// internal completion path for spawn/checkpoint steps once their
// external signal arrives).
func (e *Engine) CompleteStep(ctx context.Context, executionID, stepKey string, output map[string]any, failReason string) error {
	e.mu.Lock()
	es, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return apperr.NotFoundf("execution %q not found", executionID)
	}
	st, ok := es.steps[stepKey]
	if !ok {
		e.mu.Unlock()
		return apperr.NotFoundf("step %q not found in execution %q", stepKey, executionID)
	}
	if st.Status != store.StepRunning {
		e.mu.Unlock()
		return apperr.WrongStatef("step %q is %s, not running", stepKey, st.Status)
	}
	e.mu.Unlock()

	if failReason != "" {
		e.applyFailure(ctx, es, st, failReason)
	} else {
		e.completeStepLocked(ctx, es, st, output)
	}
	e.processExecution(ctx, es)
	return nil
}

// RetryStep manually resets a failed step to ready, for operator-driven
// retry outside of the step's own onFailure policy (which only retries
// automatically up to maxRetries). Only valid from failed.
func (e *Engine) RetryStep(ctx context.Context, executionID, stepKey string) error {
	e.mu.Lock()
	es, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return apperr.NotFoundf("execution %q not found", executionID)
	}
	st, ok := es.steps[stepKey]
	if !ok {
		e.mu.Unlock()
		return apperr.NotFoundf("step %q not found in execution %q", stepKey, executionID)
	}
	if st.Status != store.StepFailed {
		e.mu.Unlock()
		return apperr.WrongStatef("step %q is %s, not failed", stepKey, st.Status)
	}
	if es.exec.Status != store.ExecRunning {
		e.mu.Unlock()
		return apperr.WrongStatef("execution %q is %s, cannot retry a step", executionID, es.exec.Status)
	}
	st.Status = store.StepReady
	st.Error = ""
	st.StartedAt = nil
	st.EndedAt = nil
	es.exec.LastProgressAt = time.Now()
	e.mu.Unlock()

	_ = e.store.SaveStep(ctx, st)
	e.processExecution(ctx, es)
	return nil
}

// completeStepLocked transitions a step to completed and cascades.
func (e *Engine) completeStepLocked(ctx context.Context, es *execState, st *store.ExecutionStep, output map[string]any) {
	def := e.stepDef(es, st.StepKey)
	e.mu.Lock()
	st.Status = store.StepCompleted
	st.Output = output
	ended := time.Now()
	st.EndedAt = &ended
	es.exec.LastProgressAt = ended
	recordStepOutputLocked(es, st)
	e.cascadeLocked(es, st.StepKey)
	e.mu.Unlock()

	if def != nil && st.StartedAt != nil {
		observability.WorkflowStepDuration.WithLabelValues(string(def.Type)).Observe(ended.Sub(*st.StartedAt).Seconds())
	}
	_ = e.store.SaveStep(ctx, st)
	e.bus.Publish(eventbus.WorkflowStepCompleted, es.exec.SwarmID, map[string]any{
		"executionId": es.exec.ID, "stepKey": st.StepKey,
	})
}

func (e *Engine) skipStep(ctx context.Context, es *execState, st *store.ExecutionStep) {
	e.mu.Lock()
	e.skipStepLocked(es, st)
	e.mu.Unlock()
	_ = e.store.SaveStep(ctx, st)
}

func (e *Engine) skipStepLocked(es *execState, st *store.ExecutionStep) {
	st.Status = store.StepSkipped
	ended := time.Now()
	st.EndedAt = &ended
	es.exec.LastProgressAt = ended
	recordStepOutputLocked(es, st)
	e.cascadeLocked(es, st.StepKey)
}

func (e *Engine) failStep(ctx context.Context, es *execState, st *store.ExecutionStep, reason string) {
	e.applyFailure(ctx, es, st, reason)
}

// applyFailure consults the step's onFailure policy: fail (default,
// terminal for the execution), skip, retry (bounded by maxRetries), or
// continue (terminal for the step, execution proceeds).
func (e *Engine) applyFailure(ctx context.Context, es *execState, st *store.ExecutionStep, reason string) {
	def := e.stepDef(es, st.StepKey)
	policy := store.OnFailureFail
	maxRetries := 0
	if def != nil {
		if def.OnFailure != "" {
			policy = def.OnFailure
		}
		maxRetries = def.MaxRetries
	}

	e.mu.Lock()
	st.Error = reason

	switch policy {
	case store.OnFailureRetry:
		if st.RetryCount < maxRetries {
			st.RetryCount++
			st.Status = store.StepReady
			st.StartedAt = nil
			es.exec.LastProgressAt = time.Now()
			e.mu.Unlock()
			_ = e.store.SaveStep(ctx, st)
			return
		}
		fallthrough
	case store.OnFailureFail:
		st.Status = store.StepFailed
		ended := time.Now()
		st.EndedAt = &ended
		es.exec.LastProgressAt = ended
		recordStepOutputLocked(es, st)
		e.mu.Unlock()
		_ = e.store.SaveStep(ctx, st)
		e.cancelNonTerminalSteps(ctx, es)
		e.bus.Publish(eventbus.WorkflowStepFailed, es.exec.SwarmID, map[string]any{"executionId": es.exec.ID, "stepKey": st.StepKey, "reason": reason})
		return
	case store.OnFailureSkip:
		e.skipStepLocked(es, st)
		e.mu.Unlock()
		_ = e.store.SaveStep(ctx, st)
		e.bus.Publish(eventbus.WorkflowStepFailed, es.exec.SwarmID, map[string]any{"executionId": es.exec.ID, "stepKey": st.StepKey, "reason": reason})
		return
	case store.OnFailureContinue:
		st.Status = store.StepFailed
		ended := time.Now()
		st.EndedAt = &ended
		es.exec.LastProgressAt = ended
		recordStepOutputLocked(es, st)
		e.cascadeLocked(es, st.StepKey)
		e.mu.Unlock()
		_ = e.store.SaveStep(ctx, st)
		e.bus.Publish(eventbus.WorkflowStepFailed, es.exec.SwarmID, map[string]any{"executionId": es.exec.ID, "stepKey": st.StepKey, "reason": reason})
		return
	default:
		e.mu.Unlock()
	}
}

// recordStepOutputLocked merges a terminal step's output into the
// execution's persisted context at steps.<key>.output, so a later
// guard (through the view's context) or GET /executions/:id sees it without
// reaching into the in-memory step map. Must be called with e.mu held.
func recordStepOutputLocked(es *execState, st *store.ExecutionStep) {
	steps, ok := es.exec.Context["steps"].(map[string]any)
	if !ok {
		steps = make(map[string]any, len(es.steps))
		es.exec.Context["steps"] = steps
	}
	steps[st.StepKey] = map[string]any{"output": st.Output, "status": string(st.Status)}
}

// cascadeLocked must be called with e.mu held. Decrements blockedByCount
// on every dependent of stepKey; any dependent reaching zero flips ready.
func (e *Engine) cascadeLocked(es *execState, stepKey string) {
	for _, other := range es.steps {
		if isTerminal(other.Status) || other.Status == store.StepRunning {
			continue
		}
		def := e.stepDef(es, other.StepKey)
		if def == nil {
			continue
		}
		dependsOnKey := false
		for _, dep := range def.DependsOn {
			if dep == stepKey {
				dependsOnKey = true
				break
			}
		}
		if !dependsOnKey || other.BlockedByCount == 0 {
			continue
		}
		other.BlockedByCount--
		if other.BlockedByCount == 0 {
			other.Status = store.StepReady
		}
	}
}

func (e *Engine) cancelNonTerminalSteps(ctx context.Context, es *execState) {
	e.mu.Lock()
	var cancelled []*store.ExecutionStep
	for _, st := range es.steps {
		if !isTerminal(st.Status) {
			st.Status = store.StepCancelled
			ended := time.Now()
			st.EndedAt = &ended
			recordStepOutputLocked(es, st)
			cancelled = append(cancelled, st)
		}
	}
	e.mu.Unlock()
	for _, st := range cancelled {
		_ = e.store.SaveStep(ctx, st)
	}
}

// evaluateParallelSteps checks every running parallel-type step against
// its configured completion strategy (all/any/race).
func (e *Engine) evaluateParallelSteps(ctx context.Context, es *execState) {
	e.mu.RLock()
	var running []*store.ExecutionStep
	for _, st := range es.steps {
		if st.Status != store.StepRunning {
			continue
		}
		if def := e.stepDef(es, st.StepKey); def != nil && def.Type == store.StepParallel {
			running = append(running, st)
		}
	}
	e.mu.RUnlock()

	for _, st := range running {
		def := e.stepDef(es, st.StepKey)
		refs := toStringSlice(def.Config["steps"])
		strategy, _ := def.Config["strategy"].(string)
		if strategy == "" {
			strategy = "all"
		}

		e.mu.RLock()
		var terminalCount, completedCount int
		var firstTerminalKey string
		for _, key := range refs {
			if ref, ok := es.steps[key]; ok && isTerminal(ref.Status) {
				terminalCount++
				if firstTerminalKey == "" {
					firstTerminalKey = key
				}
				if ref.Status == store.StepCompleted {
					completedCount++
				}
			}
		}
		e.mu.RUnlock()

		satisfied := false
		switch strategy {
		case "all":
			satisfied = terminalCount == len(refs)
		case "any":
			satisfied = completedCount >= 1
		case "race":
			satisfied = terminalCount >= 1
		}
		if satisfied {
			e.completeStepLocked(ctx, es, st, map[string]any{"strategy": strategy})
		}
	}
}

// detectCompletion checks whether every step in an execution is
// terminal and, if so, finalises the execution's status once.
func (e *Engine) detectCompletion(ctx context.Context, es *execState) {
	e.mu.Lock()
	if es.exec.Status != store.ExecRunning {
		e.mu.Unlock()
		return
	}
	allTerminal := true
	anyFailed, anyCancelled := false, false
	for _, st := range es.steps {
		if !isTerminal(st.Status) {
			allTerminal = false
			break
		}
		if st.Status == store.StepFailed {
			anyFailed = true
		}
		if st.Status == store.StepCancelled {
			anyCancelled = true
		}
	}
	if !allTerminal {
		e.mu.Unlock()
		return
	}

	switch {
	case anyCancelled:
		es.exec.Status = store.ExecCancelled
	case anyFailed:
		es.exec.Status = store.ExecFailed
	default:
		es.exec.Status = store.ExecCompleted
	}
	now := time.Now()
	es.exec.CompletedAt = &now
	cp := *es.exec
	e.mu.Unlock()

	observability.WorkflowExecutions.WithLabelValues(string(store.ExecRunning)).Dec()
	observability.WorkflowExecutions.WithLabelValues(string(cp.Status)).Inc()

	_ = e.store.SaveExecution(ctx, &cp)
	switch cp.Status {
	case store.ExecCompleted:
		e.bus.Publish(eventbus.WorkflowCompleted, cp.SwarmID, map[string]any{"executionId": cp.ID})
	case store.ExecFailed:
		e.bus.Publish(eventbus.WorkflowFailed, cp.SwarmID, map[string]any{"executionId": cp.ID})
	case store.ExecCancelled:
		e.bus.Publish(eventbus.WorkflowCancelled, cp.SwarmID, map[string]any{"executionId": cp.ID})
	}
}

func (e *Engine) PauseWorkflow(ctx context.Context, executionID string) error {
	return e.transitionExec(ctx, executionID, store.ExecRunning, store.ExecPaused, eventbus.WorkflowPaused)
}

func (e *Engine) ResumeWorkflow(ctx context.Context, executionID string) error {
	if err := e.transitionExec(ctx, executionID, store.ExecPaused, store.ExecRunning, eventbus.WorkflowResumed); err != nil {
		return err
	}
	e.mu.RLock()
	es := e.executions[executionID]
	e.mu.RUnlock()
	if es != nil {
		e.processExecution(ctx, es)
	}
	return nil
}

// CancelWorkflow is valid from any non-terminal state; all non-terminal
// steps become cancelled.
func (e *Engine) CancelWorkflow(ctx context.Context, executionID string) error {
	e.mu.Lock()
	es, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return apperr.NotFoundf("execution %q not found", executionID)
	}
	if es.exec.Status == store.ExecCancelled {
		e.mu.Unlock()
		return nil // idempotent
	}
	if isExecTerminal(es.exec.Status) {
		e.mu.Unlock()
		return apperr.WrongStatef("execution %q is %s, cannot cancel", executionID, es.exec.Status)
	}
	es.exec.Status = store.ExecCancelled
	now := time.Now()
	es.exec.CompletedAt = &now
	cp := *es.exec
	e.mu.Unlock()

	e.cancelNonTerminalSteps(ctx, es)
	_ = e.store.SaveExecution(ctx, &cp)
	e.bus.Publish(eventbus.WorkflowCancelled, cp.SwarmID, map[string]any{"executionId": cp.ID})
	return nil
}

func (e *Engine) transitionExec(ctx context.Context, executionID string, from, to store.ExecutionStatus, tag eventbus.Tag) error {
	e.mu.Lock()
	es, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return apperr.NotFoundf("execution %q not found", executionID)
	}
	if es.exec.Status == to {
		e.mu.Unlock()
		return nil // idempotent
	}
	if es.exec.Status != from {
		e.mu.Unlock()
		return apperr.WrongStatef("execution %q is %s, expected %s", executionID, es.exec.Status, from)
	}
	es.exec.Status = to
	cp := *es.exec
	e.mu.Unlock()

	observability.WorkflowExecutions.WithLabelValues(string(from)).Dec()
	observability.WorkflowExecutions.WithLabelValues(string(to)).Inc()

	_ = e.store.SaveExecution(ctx, &cp)
	e.bus.Publish(tag, cp.SwarmID, map[string]any{"executionId": cp.ID})
	return nil
}

func isExecTerminal(s store.ExecutionStatus) bool {
	switch s {
	case store.ExecCompleted, store.ExecFailed, store.ExecCancelled:
		return true
	default:
		return false
	}
}

func (e *Engine) GetExecution(executionID string) (*store.WorkflowExecution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	es, ok := e.executions[executionID]
	if !ok {
		return nil, false
	}
	return cloneExec(es.exec), true
}

func (e *Engine) GetSteps(executionID string) ([]*store.ExecutionStep, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	es, ok := e.executions[executionID]
	if !ok {
		return nil, false
	}
	out := make([]*store.ExecutionStep, 0, len(es.steps))
	for _, st := range es.steps {
		cp := *st
		out = append(out, &cp)
	}
	return out, true
}

// GetWorkflow returns a registered workflow definition by id.
func (e *Engine) GetWorkflow(workflowID string) (*store.Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[workflowID]
	return wf, ok
}

// ListExecutions returns every execution currently tracked in memory,
// newest first.
func (e *Engine) ListExecutions() []*store.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*store.WorkflowExecution, 0, len(e.executions))
	for _, es := range e.executions {
		out = append(out, cloneExec(es.exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func cloneExec(exec *store.WorkflowExecution) *store.WorkflowExecution {
	cp := *exec
	cp.Context = make(map[string]any, len(exec.Context))
	for k, v := range exec.Context {
		cp.Context[k] = v
	}
	return &cp
}
