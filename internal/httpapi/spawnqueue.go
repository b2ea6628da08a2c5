package httpapi

import (
	"net/http"

	"github.com/sethdford/fleetctl/internal/spawnqueue"
	"github.com/sethdford/fleetctl/internal/store"
)

type enqueueRequest struct {
	RequesterHandle string         `json:"requesterHandle"`
	TargetAgentType string         `json:"targetAgentType"`
	DepthLevel      int            `json:"depthLevel"`
	Priority        store.Priority `json:"priority"`
	Task            map[string]any `json:"task"`
	DependsOn       []string       `json:"dependsOn"`
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if !handlePattern.MatchString(req.RequesterHandle) {
		writeBadRequest(w, "invalid requesterHandle")
		return
	}

	item, err := a.spawnQueue.Enqueue(r.Context(), req.RequesterHandle, req.TargetAgentType, req.DepthLevel, req.Priority, req.Task, spawnqueue.EnqueueOptions{DependsOn: req.DependsOn})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"requestId": item.ID})
}

func (a *API) handleSpawnQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := a.spawnQueue.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":      stats.Ready,
		"blocked":    stats.Blocked,
		"byStatus":   stats.ByStatus,
		"byPriority": stats.ByPriority,
	})
}
