// Package blackboard is the per-swarm append-only message log workers
// use to coordinate: an in-memory append-only event log with per-id
// filtering, generalized here to multiple swarms, message priority,
// and per-reader read sets.
package blackboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethdford/fleetctl/internal/apperr"
	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/observability"
	"github.com/sethdford/fleetctl/internal/store"
)

type Board struct {
	mu       sync.RWMutex
	messages map[string]*store.BlackboardMessage

	st  store.Store
	bus *eventbus.Bus
}

func New(st store.Store, bus *eventbus.Bus) *Board {
	return &Board{
		messages: make(map[string]*store.BlackboardMessage),
		st:       st,
		bus:      bus,
	}
}

type PostRequest struct {
	SwarmID      string
	SenderHandle string
	MessageType  store.MessageType
	TargetHandle string
	Priority     store.Priority
	Payload      map[string]any
}

func (b *Board) PostMessage(ctx context.Context, req PostRequest) (*store.BlackboardMessage, error) {
	sw, err := b.st.GetSwarm(ctx, req.SwarmID)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalFailure, "lookup swarm", err)
	}
	if sw == nil {
		return nil, apperr.NotFoundf("swarm %q not found", req.SwarmID)
	}
	if req.Priority == "" {
		req.Priority = store.PriorityNormal
	}

	msg := &store.BlackboardMessage{
		ID:           uuid.NewString(),
		SwarmID:      req.SwarmID,
		SenderHandle: req.SenderHandle,
		MessageType:  req.MessageType,
		TargetHandle: req.TargetHandle,
		Priority:     req.Priority,
		Payload:      req.Payload,
		CreatedAt:    time.Now(),
		ReadBy:       make(map[string]struct{}),
	}

	b.mu.Lock()
	b.messages[msg.ID] = msg
	b.mu.Unlock()

	_ = b.st.SaveBlackboardMessage(ctx, msg)
	observability.BlackboardMessages.WithLabelValues(req.SwarmID, string(msg.MessageType)).Inc()
	b.publishUnreadMetric(req.SwarmID)
	b.bus.Publish(eventbus.BlackboardPosted, req.SwarmID, map[string]any{
		"messageId": msg.ID, "messageType": string(msg.MessageType),
	})
	return cloneMessage(msg), nil
}

type ReadFilter struct {
	MessageType     store.MessageType
	Priority        store.Priority
	UnreadOnly      bool
	ReaderHandle    string
	Limit           int
	IncludeArchived bool
}

// ReadMessages returns a swarm's messages in post order, matching
// filter, sorted by priority for display only — ordering within a
// swarm is always post-order for delivery purposes. Archived messages
// are excluded unless f.IncludeArchived is set.
func (b *Board) ReadMessages(swarmID string, f ReadFilter) []*store.BlackboardMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*store.BlackboardMessage
	for _, m := range b.messages {
		if m.SwarmID != swarmID {
			continue
		}
		if m.ArchivedAt != nil && !f.IncludeArchived {
			continue
		}
		if f.MessageType != "" && m.MessageType != f.MessageType {
			continue
		}
		if f.Priority != "" && m.Priority != f.Priority {
			continue
		}
		if f.UnreadOnly && f.ReaderHandle != "" {
			if _, read := m.ReadBy[f.ReaderHandle]; read {
				continue
			}
		}
		out = append(out, m)
	}

	// Post order first (stable delivery within a swarm), then the
	// display-only priority sort layered on top.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	sort.SliceStable(out, func(i, j int) bool {
		return store.PriorityRank(out[i].Priority) > store.PriorityRank(out[j].Priority)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	clones := make([]*store.BlackboardMessage, len(out))
	for i, m := range out {
		clones[i] = cloneMessage(m)
	}
	return clones
}

// MarkRead is idempotent: marking an already-read message by the same
// reader is a no-op, not an error.
func (b *Board) MarkRead(ctx context.Context, messageIDs []string, readerHandle string) error {
	b.mu.Lock()
	var touched []*store.BlackboardMessage
	for _, id := range messageIDs {
		m, ok := b.messages[id]
		if !ok {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]struct{})
		}
		m.ReadBy[readerHandle] = struct{}{}
		touched = append(touched, m)
	}
	b.mu.Unlock()

	swarms := make(map[string]struct{})
	for _, m := range touched {
		_ = b.st.SaveBlackboardMessage(ctx, m)
		swarms[m.SwarmID] = struct{}{}
	}
	for swarmID := range swarms {
		b.publishUnreadMetric(swarmID)
	}
	return nil
}

func (b *Board) Archive(ctx context.Context, messageIDs []string) error {
	now := time.Now()
	b.mu.Lock()
	var touched []*store.BlackboardMessage
	for _, id := range messageIDs {
		m, ok := b.messages[id]
		if !ok || m.ArchivedAt != nil {
			continue
		}
		m.ArchivedAt = &now
		touched = append(touched, m)
	}
	b.mu.Unlock()

	swarms := make(map[string]struct{})
	for _, m := range touched {
		_ = b.st.SaveBlackboardMessage(ctx, m)
		b.bus.Publish(eventbus.BlackboardArchived, m.SwarmID, map[string]any{"messageId": m.ID})
		swarms[m.SwarmID] = struct{}{}
	}
	for swarmID := range swarms {
		b.publishUnreadMetric(swarmID)
	}
	return nil
}

// ArchiveOldMessages archives non-archived messages in swarmID older
// than maxAge. It runs only when called; no background tick invokes it.
func (b *Board) ArchiveOldMessages(ctx context.Context, swarmID string, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	b.mu.RLock()
	var stale []string
	for _, m := range b.messages {
		if m.SwarmID == swarmID && m.ArchivedAt == nil && m.CreatedAt.Before(cutoff) {
			stale = append(stale, m.ID)
		}
	}
	b.mu.RUnlock()

	_ = b.Archive(ctx, stale)
	return len(stale)
}

// publishUnreadMetric recomputes the unread gauge for one swarm.
// Unread means no reader has marked it read yet.
func (b *Board) publishUnreadMetric(swarmID string) {
	b.mu.RLock()
	unread := 0
	for _, m := range b.messages {
		if m.SwarmID == swarmID && m.ArchivedAt == nil && len(m.ReadBy) == 0 {
			unread++
		}
	}
	b.mu.RUnlock()
	observability.BlackboardUnread.WithLabelValues(swarmID).Set(float64(unread))
}

func cloneMessage(m *store.BlackboardMessage) *store.BlackboardMessage {
	cp := *m
	cp.ReadBy = make(map[string]struct{}, len(m.ReadBy))
	for k := range m.ReadBy {
		cp.ReadBy[k] = struct{}{}
	}
	return &cp
}
