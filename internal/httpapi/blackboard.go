package httpapi

import (
	"net/http"
	"strings"

	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/blackboard"
	"github.com/sethdford/fleetctl/internal/store"
)

type postMessageRequest struct {
	SwarmID      string            `json:"swarmId"`
	SenderHandle string            `json:"senderHandle"`
	MessageType  store.MessageType `json:"messageType"`
	TargetHandle string            `json:"targetHandle"`
	Priority     store.Priority    `json:"priority"`
	Payload      map[string]any    `json:"payload"`
}

func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if !swarmIDPattern.MatchString(req.SwarmID) {
		writeBadRequest(w, "invalid swarmId")
		return
	}

	msg, err := a.board.PostMessage(r.Context(), blackboard.PostRequest{
		SwarmID:      req.SwarmID,
		SenderHandle: req.SenderHandle,
		MessageType:  req.MessageType,
		TargetHandle: req.TargetHandle,
		Priority:     req.Priority,
		Payload:      req.Payload,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID})
}

// handleReadMessages handles GET /blackboard/:swarmId.
func (a *API) handleReadMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	swarmID := strings.TrimPrefix(r.URL.Path, "/blackboard/")
	if !swarmIDPattern.MatchString(swarmID) {
		writeBadRequest(w, "invalid swarmId")
		return
	}

	f := blackboard.ReadFilter{
		MessageType:     store.MessageType(r.URL.Query().Get("type")),
		Priority:        store.Priority(r.URL.Query().Get("priority")),
		ReaderHandle:    r.URL.Query().Get("readerHandle"),
		UnreadOnly:      r.URL.Query().Get("unreadOnly") == "true",
		IncludeArchived: r.URL.Query().Get("includeArchived") == "true",
	}
	writeJSON(w, http.StatusOK, a.board.ReadMessages(swarmID, f))
}

type messageIDsRequest struct {
	MessageIDs   []string `json:"messageIds"`
	ReaderHandle string   `json:"readerHandle"`
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req messageIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if len(req.MessageIDs) == 0 {
		writeBadRequest(w, "messageIds is required")
		return
	}
	if err := a.board.MarkRead(r.Context(), req.MessageIDs, req.ReaderHandle); err != nil {
		a.writeError(w, apperr.Wrap(apperr.InternalFailure, "mark read", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": len(req.MessageIDs)})
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req messageIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if len(req.MessageIDs) == 0 {
		writeBadRequest(w, "messageIds is required")
		return
	}
	if err := a.board.Archive(r.Context(), req.MessageIDs); err != nil {
		a.writeError(w, apperr.Wrap(apperr.InternalFailure, "archive", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"archived": len(req.MessageIDs)})
}
