package spawnqueue

import (
	"container/heap"
	"sync"

	"github.com/sethdford/fleetctl/internal/store"
)

// priorityHeap orders by fixed priority rank, highest first, with
// earliest CreatedAt breaking ties. Unlike an aging-based comparator,
// rank is fixed for the item's lifetime in the queue: a low-priority
// item never overtakes a high-priority one just by waiting longer.
type priorityHeap []*store.SpawnQueueItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	ri, rj := store.PriorityRank(h[i].Priority), store.PriorityRank(h[j].Priority)
	if ri != rj {
		return ri > rj
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*store.SpawnQueueItem))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// readyQueue is a thread-safe wrapper around priorityHeap: a mutex
// guarding a container/heap, the simplest shape that serialises
// concurrent Push/Pop without a separate dispatch goroutine.
type readyQueue struct {
	mu sync.Mutex
	h  priorityHeap
}

func newReadyQueue() *readyQueue {
	return &readyQueue{h: make(priorityHeap, 0)}
}

func (q *readyQueue) Push(item *store.SpawnQueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, item)
}

func (q *readyQueue) Pop() *store.SpawnQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*store.SpawnQueueItem)
}

func (q *readyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
