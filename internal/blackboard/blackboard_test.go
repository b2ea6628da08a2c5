package blackboard

import (
	"context"
	"testing"
	"time"

	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/store"
)

func newTestBoard(t *testing.T) (*Board, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, eventbus.New(16, nil, nil)), st
}

func mustCreateSwarm(t *testing.T, st store.Store, id string) {
	t.Helper()
	if err := st.SaveSwarm(context.Background(), &store.Swarm{ID: id, Name: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save swarm: %v", err)
	}
}

func TestPostMessageRejectsUnknownSwarm(t *testing.T) {
	b, _ := newTestBoard(t)
	_, err := b.PostMessage(context.Background(), PostRequest{SwarmID: "missing", SenderHandle: "alice"})
	if err == nil {
		t.Fatal("expected error posting to unknown swarm")
	}
}

func TestPostAndReadMessageRoundTrip(t *testing.T) {
	b, st := newTestBoard(t)
	mustCreateSwarm(t, st, "swarm-1")

	msg, err := b.PostMessage(context.Background(), PostRequest{
		SwarmID: "swarm-1", SenderHandle: "alice", MessageType: store.MessageStatus,
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	got := b.ReadMessages("swarm-1", ReadFilter{})
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("expected to read back posted message, got %+v", got)
	}
}

func TestReadMessagesExcludesArchivedByDefault(t *testing.T) {
	b, st := newTestBoard(t)
	mustCreateSwarm(t, st, "swarm-1")
	msg, _ := b.PostMessage(context.Background(), PostRequest{SwarmID: "swarm-1", SenderHandle: "alice"})

	if err := b.Archive(context.Background(), []string{msg.ID}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got := b.ReadMessages("swarm-1", ReadFilter{}); len(got) != 0 {
		t.Fatalf("expected archived message excluded, got %+v", got)
	}
}

func TestReadMessagesOrdersByPriorityDescending(t *testing.T) {
	b, st := newTestBoard(t)
	mustCreateSwarm(t, st, "swarm-1")
	low, _ := b.PostMessage(context.Background(), PostRequest{SwarmID: "swarm-1", SenderHandle: "a", Priority: store.PriorityLow})
	critical, _ := b.PostMessage(context.Background(), PostRequest{SwarmID: "swarm-1", SenderHandle: "a", Priority: store.PriorityCritical})

	got := b.ReadMessages("swarm-1", ReadFilter{})
	if len(got) != 2 || got[0].ID != critical.ID || got[1].ID != low.ID {
		t.Fatalf("expected critical before low, got %+v", got)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	b, st := newTestBoard(t)
	mustCreateSwarm(t, st, "swarm-1")
	msg, _ := b.PostMessage(context.Background(), PostRequest{SwarmID: "swarm-1", SenderHandle: "a"})

	if err := b.MarkRead(context.Background(), []string{msg.ID}, "bob"); err != nil {
		t.Fatalf("first mark read: %v", err)
	}
	if err := b.MarkRead(context.Background(), []string{msg.ID}, "bob"); err != nil {
		t.Fatalf("second mark read: %v", err)
	}

	unread := b.ReadMessages("swarm-1", ReadFilter{UnreadOnly: true, ReaderHandle: "bob"})
	if len(unread) != 0 {
		t.Fatalf("expected no unread messages for bob, got %+v", unread)
	}
}

func TestArchiveOldMessagesOnlyTouchesStaleOnes(t *testing.T) {
	b, st := newTestBoard(t)
	mustCreateSwarm(t, st, "swarm-1")
	fresh, _ := b.PostMessage(context.Background(), PostRequest{SwarmID: "swarm-1", SenderHandle: "a"})

	stale, _ := b.PostMessage(context.Background(), PostRequest{SwarmID: "swarm-1", SenderHandle: "a"})
	b.mu.Lock()
	b.messages[stale.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
	b.mu.Unlock()

	n := b.ArchiveOldMessages(context.Background(), "swarm-1", time.Hour)
	if n != 1 {
		t.Fatalf("expected 1 message archived, got %d", n)
	}
	remaining := b.ReadMessages("swarm-1", ReadFilter{})
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Fatalf("expected only fresh message to remain, got %+v", remaining)
	}
}
