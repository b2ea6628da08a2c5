package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/store"
)

type createSwarmRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxAgents   int    `json:"maxAgents"`
}

func (a *API) routeSwarms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.withIdempotency(a.handleCreateSwarm)(w, r)
	case http.MethodGet:
		a.handleListSwarms(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCreateSwarm validates name uniqueness directly against the
// store rather than through an intervening domain package — a swarm
// has no behaviour beyond its own row, so a package wrapping it would
// be one more indirection with nothing to add.
func (a *API) handleCreateSwarm(w http.ResponseWriter, r *http.Request) {
	var req createSwarmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if req.MaxAgents <= 0 {
		req.MaxAgents = 50
	}

	existing, err := a.store.ListSwarms(r.Context())
	if err != nil {
		a.writeError(w, apperr.Wrap(apperr.InternalFailure, "list swarms", err))
		return
	}
	for _, sw := range existing {
		if sw.Name == req.Name && sw.KilledAt == nil {
			a.writeError(w, apperr.Conflictf("swarm name %q already in use", req.Name))
			return
		}
	}

	sw := &store.Swarm{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		MaxAgents:   req.MaxAgents,
		CreatedAt:   time.Now(),
	}
	if err := a.store.SaveSwarm(r.Context(), sw); err != nil {
		a.writeError(w, apperr.Wrap(apperr.InternalFailure, "save swarm", err))
		return
	}
	a.bus.Publish(eventbus.SwarmCreated, sw.ID, map[string]any{"swarmId": sw.ID, "name": sw.Name})
	writeJSON(w, http.StatusCreated, map[string]any{"swarm": sw})
}

func (a *API) handleListSwarms(w http.ResponseWriter, r *http.Request) {
	swarms, err := a.store.ListSwarms(r.Context())
	if err != nil {
		a.writeError(w, apperr.Wrap(apperr.InternalFailure, "list swarms", err))
		return
	}
	writeJSON(w, http.StatusOK, swarms)
}

// routeSwarmKill handles POST /swarms/:id/kill.
func (a *API) routeSwarmKill(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/swarms/")
	if r.Method != http.MethodPost || !strings.HasSuffix(path, "/kill") {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimSuffix(path, "/kill")
	if id == "" {
		writeBadRequest(w, "swarm id is required")
		return
	}

	sw, err := a.store.GetSwarm(r.Context(), id)
	if err != nil || sw == nil {
		a.writeError(w, apperr.NotFoundf("swarm %q not found", id))
		return
	}
	now := time.Now()
	sw.KilledAt = &now
	if err := a.store.SaveSwarm(r.Context(), sw); err != nil {
		a.writeError(w, apperr.Wrap(apperr.InternalFailure, "save swarm", err))
		return
	}
	a.bus.Publish(eventbus.SwarmKilled, sw.ID, map[string]any{"swarmId": sw.ID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}
