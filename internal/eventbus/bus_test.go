package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToMatchingSubscriberOnly(t *testing.T) {
	b := New(8, nil, nil)
	workerSub := b.Subscribe(WorkerSpawned)
	allSub := b.Subscribe()

	b.Publish(WorkerSpawned, "", map[string]any{"handle": "agent-1"})
	b.Publish(SwarmCreated, "", map[string]any{"id": "swarm-1"})

	select {
	case ev := <-workerSub.Events():
		if ev.Tag != WorkerSpawned {
			t.Fatalf("expected worker.spawned, got %s", ev.Tag)
		}
	default:
		t.Fatal("expected event on workerSub")
	}
	select {
	case ev := <-workerSub.Events():
		t.Fatalf("workerSub should not receive swarm.created, got %v", ev.Tag)
	default:
	}

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Events():
			count++
		default:
		}
	}
	if count != 2 {
		t.Fatalf("expected allSub to receive 2 events, got %d", count)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(2, nil, nil)
	sub := b.Subscribe(WorkerOutput)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(WorkerOutput, "", map[string]any{"line": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	// Queue holds the newest surviving real event plus one lagged marker.
	n := 0
	sawLagged := false
	for {
		select {
		case ev := <-sub.Events():
			n++
			if ev.Tag == Lagged {
				sawLagged = true
			}
		default:
			goto done
		}
	}
done:
	if n == 0 {
		t.Fatal("expected at least one delivered event")
	}
	if !sawLagged {
		t.Fatal("expected a lagged marker after overflow")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4, nil, nil)
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
	_, ok := <-sub.Events()
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	// Unsubscribing twice must not panic.
	b.Unsubscribe(sub)
}
