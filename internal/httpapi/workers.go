package httpapi

import (
	"net/http"
	"strings"

	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/store"
	"github.com/sethdford/fleetctl/internal/worker"
)

type spawnWorkerRequest struct {
	Handle        string          `json:"handle"`
	TeamName      string          `json:"teamName"`
	SwarmID       string          `json:"swarmId"`
	WorkingDir    string          `json:"workingDir"`
	InitialPrompt string          `json:"initialPrompt"`
	Model         string          `json:"model"`
	SpawnMode     store.SpawnMode `json:"spawnMode"`
	DepthLevel    int             `json:"depthLevel"`
	Command       string          `json:"command"`
	Args          []string        `json:"args"`
}

func (a *API) handleSpawnWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req spawnWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if !handlePattern.MatchString(req.Handle) {
		writeBadRequest(w, "invalid handle")
		return
	}

	w2, err := a.supervisor.SpawnWorker(r.Context(), worker.SpawnRequest{
		Handle:        req.Handle,
		TeamName:      req.TeamName,
		SwarmID:       req.SwarmID,
		WorkingDir:    req.WorkingDir,
		InitialPrompt: req.InitialPrompt,
		Model:         req.Model,
		SpawnMode:     req.SpawnMode,
		DepthLevel:    req.DepthLevel,
		Command:       req.Command,
		Args:          req.Args,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"worker": w2})
}

func (a *API) handleDismissWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handle := strings.TrimPrefix(r.URL.Path, "/orchestrate/dismiss/")
	if handle == "" {
		writeBadRequest(w, "handle is required")
		return
	}
	if err := a.supervisor.DismissWorkerByHandle(r.Context(), handle); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (a *API) handleSendToWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handle := strings.TrimPrefix(r.URL.Path, "/orchestrate/send/")
	if handle == "" {
		writeBadRequest(w, "handle is required")
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Message == "" {
		a.writeError(w, apperr.Validation("message must not be empty"))
		return
	}
	sent, err := a.supervisor.SendToWorkerByHandle(r.Context(), handle, req.Message)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !sent {
		a.writeError(w, apperr.NotFoundf("worker %q not found", handle))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (a *API) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.supervisor.GetWorkers())
}

func (a *API) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handle := strings.TrimPrefix(r.URL.Path, "/orchestrate/output/")
	lines, ok := a.supervisor.GetOutput(handle)
	if !ok {
		a.writeError(w, apperr.NotFoundf("worker %q not found", handle))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": lines})
}
