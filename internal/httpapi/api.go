// Package httpapi is the REST+WS surface wiring every core component
// together: one API struct holding constructor-injected collaborators
// (no ambient globals), a single writeError translator from tagged
// apperr.Error to HTTP status, and a withIdempotency response-recorder
// wrapper for replaying cached responses on a repeated request.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/sethdford/fleetctl/internal/authn"
	"github.com/sethdford/fleetctl/internal/blackboard"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/idempotency"
	"github.com/sethdford/fleetctl/internal/middleware"
	"github.com/sethdford/fleetctl/internal/spawnqueue"
	"github.com/sethdford/fleetctl/internal/store"
	"github.com/sethdford/fleetctl/internal/trigger"
	"github.com/sethdford/fleetctl/internal/worker"
	"github.com/sethdford/fleetctl/internal/workflow"
	"github.com/sethdford/fleetctl/internal/wsfanout"
)

var (
	handlePattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
	swarmIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
)

// API holds every collaborator the HTTP surface dispatches into.
type API struct {
	store       store.Store
	bus         *eventbus.Bus
	supervisor  *worker.Supervisor
	spawnQueue  *spawnqueue.Manager
	board       *blackboard.Board
	engine      *workflow.Engine
	dispatcher  *trigger.Dispatcher
	hub         *wsfanout.Hub
	issuer      *authn.Issuer
	idempotency *idempotency.Store
	logger      *slog.Logger
}

func New(
	st store.Store,
	bus *eventbus.Bus,
	supervisor *worker.Supervisor,
	spawnQueue *spawnqueue.Manager,
	board *blackboard.Board,
	engine *workflow.Engine,
	dispatcher *trigger.Dispatcher,
	hub *wsfanout.Hub,
	issuer *authn.Issuer,
	idemStore *idempotency.Store,
	logger *slog.Logger,
) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:       st,
		bus:         bus,
		supervisor:  supervisor,
		spawnQueue:  spawnQueue,
		board:       board,
		engine:      engine,
		dispatcher:  dispatcher,
		hub:         hub,
		issuer:      issuer,
		idempotency: idemStore,
		logger:      logger.With("component", "httpapi"),
	}
}

// Routes builds the full mux, wrapping mutating routes with
// idempotency and every route but /healthz, /auth and /ws with Auth
// (/ws authenticates through the hub's own auth message).
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/auth", a.handleAuth)
	mux.HandleFunc("/ws", a.handleWS)

	auth := middleware.Auth(a.issuer)

	mux.Handle("/swarms", auth(http.HandlerFunc(a.routeSwarms)))
	mux.Handle("/swarms/", auth(http.HandlerFunc(a.routeSwarmKill)))

	mux.Handle("/blackboard", auth(http.HandlerFunc(a.withIdempotency(a.handlePostMessage))))
	mux.Handle("/blackboard/", auth(http.HandlerFunc(a.handleReadMessages)))
	mux.Handle("/blackboard/mark-read", auth(http.HandlerFunc(a.withIdempotency(a.handleMarkRead))))
	mux.Handle("/blackboard/archive", auth(http.HandlerFunc(a.withIdempotency(a.handleArchive))))

	mux.Handle("/spawn-queue", auth(http.HandlerFunc(a.withIdempotency(a.handleEnqueue))))
	mux.Handle("/spawn-queue/status", auth(http.HandlerFunc(a.handleSpawnQueueStatus)))

	mux.Handle("/orchestrate/spawn", auth(http.HandlerFunc(a.withIdempotency(a.handleSpawnWorker))))
	mux.Handle("/orchestrate/dismiss/", auth(http.HandlerFunc(a.handleDismissWorker)))
	mux.Handle("/orchestrate/send/", auth(http.HandlerFunc(a.handleSendToWorker)))
	mux.Handle("/orchestrate/workers", auth(http.HandlerFunc(a.handleListWorkers)))
	mux.Handle("/orchestrate/output/", auth(http.HandlerFunc(a.handleGetOutput)))

	mux.Handle("/workflows", auth(http.HandlerFunc(a.routeWorkflows)))
	mux.Handle("/workflows/", auth(http.HandlerFunc(a.routeWorkflowSub)))
	mux.Handle("/executions", auth(http.HandlerFunc(a.handleListExecutions)))
	mux.Handle("/executions/", auth(http.HandlerFunc(a.routeExecutionSub)))
	mux.Handle("/steps/", auth(http.HandlerFunc(a.routeStepSub)))
	mux.Handle("/triggers/", auth(http.HandlerFunc(a.handleDeleteTrigger)))

	return middleware.CORS(mux)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
