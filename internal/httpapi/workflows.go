package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/store"
)

func (a *API) routeWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.withIdempotency(a.handleCreateWorkflow)(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf store.Workflow
	if err := decodeJSON(r, &wf); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if wf.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if err := a.engine.RegisterWorkflow(r.Context(), &wf); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workflow": wf})
}

// routeWorkflowSub handles GET /workflows/:id and POST /workflows/:id/start
// and POST /workflows/:id/triggers.
func (a *API) routeWorkflowSub(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/workflows/")
	switch {
	case strings.HasSuffix(path, "/start") && r.Method == http.MethodPost:
		a.withIdempotency(a.handleStartWorkflow(strings.TrimSuffix(path, "/start")))(w, r)
	case strings.HasSuffix(path, "/triggers") && r.Method == http.MethodPost:
		a.withIdempotency(a.handleCreateTrigger(strings.TrimSuffix(path, "/triggers")))(w, r)
	case r.Method == http.MethodGet:
		a.handleGetWorkflow(path)(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleGetWorkflow(workflowID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := a.engine.GetWorkflow(workflowID)
		if !ok {
			a.writeError(w, apperr.NotFoundf("workflow %q not found", workflowID))
			return
		}
		writeJSON(w, http.StatusOK, wf)
	}
}

type startWorkflowRequest struct {
	CreatedBy string         `json:"createdBy"`
	Inputs    map[string]any `json:"inputs"`
	SwarmID   string         `json:"swarmId"`
}

func (a *API) handleStartWorkflow(workflowID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startWorkflowRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		exec, err := a.engine.StartWorkflow(r.Context(), workflowID, req.CreatedBy, req.Inputs, req.SwarmID)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"execution": exec})
	}
}

func (a *API) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.ListExecutions())
}

// routeExecutionSub handles POST /executions/:id/{pause,resume,cancel}
// and GET /executions/:id/steps.
func (a *API) routeExecutionSub(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/executions/")
	switch {
	case strings.HasSuffix(path, "/pause") && r.Method == http.MethodPost:
		a.transition(strings.TrimSuffix(path, "/pause"), a.engine.PauseWorkflow)(w, r)
	case strings.HasSuffix(path, "/resume") && r.Method == http.MethodPost:
		a.transition(strings.TrimSuffix(path, "/resume"), a.engine.ResumeWorkflow)(w, r)
	case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		a.transition(strings.TrimSuffix(path, "/cancel"), a.engine.CancelWorkflow)(w, r)
	case strings.HasSuffix(path, "/steps") && r.Method == http.MethodGet:
		a.handleGetSteps(strings.TrimSuffix(path, "/steps"))(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) transition(executionID string, fn func(ctx context.Context, executionID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), executionID); err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (a *API) handleGetSteps(executionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps, ok := a.engine.GetSteps(executionID)
		if !ok {
			a.writeError(w, apperr.NotFoundf("execution %q not found", executionID))
			return
		}
		writeJSON(w, http.StatusOK, steps)
	}
}

type completeStepRequest struct {
	Output     map[string]any `json:"output"`
	FailReason string         `json:"failReason"`
}

// routeStepSub handles POST /steps/:id/complete and POST /steps/:id/retry.
func (a *API) routeStepSub(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/steps/")
	switch {
	case strings.HasSuffix(path, "/complete") && r.Method == http.MethodPost:
		a.handleCompleteStep(strings.TrimSuffix(path, "/complete"))(w, r)
	case strings.HasSuffix(path, "/retry") && r.Method == http.MethodPost:
		a.handleRetryStep(strings.TrimSuffix(path, "/retry"))(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleCompleteStep(stepID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step, err := a.store.GetStep(r.Context(), stepID)
		if err != nil || step == nil {
			a.writeError(w, apperr.NotFoundf("step %q not found", stepID))
			return
		}
		var req completeStepRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		if err := a.engine.CompleteStep(r.Context(), step.ExecutionID, step.StepKey, req.Output, req.FailReason); err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (a *API) handleRetryStep(stepID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step, err := a.store.GetStep(r.Context(), stepID)
		if err != nil || step == nil {
			a.writeError(w, apperr.NotFoundf("step %q not found", stepID))
			return
		}
		if err := a.engine.RetryStep(r.Context(), step.ExecutionID, step.StepKey); err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (a *API) handleCreateTrigger(workflowID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tr store.Trigger
		if err := decodeJSON(r, &tr); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		tr.WorkflowID = workflowID
		tr.IsEnabled = true
		if err := a.dispatcher.CreateTrigger(r.Context(), &tr); err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"trigger": tr})
	}
}

func (a *API) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/triggers/")
	if id == "" {
		writeBadRequest(w, "trigger id is required")
		return
	}
	if err := a.dispatcher.DeleteTrigger(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
