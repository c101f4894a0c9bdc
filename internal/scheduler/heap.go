package scheduler

import (
	"container/heap"
	"time"
)

// item is one scheduled check. index is maintained by the heap interface.
type item struct {
	targetID string
	dueAt    time.Time
	index    int
}

// dueHeap is a min-heap ordered by dueAt. It is owned exclusively by the
// scheduler's run goroutine; all mutation arrives there as intents.
type dueHeap []*item

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].dueAt.Before(h[j].dueAt) }

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *dueHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// agenda pairs the heap with a per-target index so each target holds at
// most one scheduled entry.
type agenda struct {
	heap    dueHeap
	entries map[string]*item
}

func newAgenda() *agenda {
	return &agenda{entries: make(map[string]*item)}
}

// arm schedules the target at the given time, replacing any existing entry.
func (a *agenda) arm(targetID string, at time.Time) {
	if it, ok := a.entries[targetID]; ok {
		it.dueAt = at
		heap.Fix(&a.heap, it.index)
		return
	}
	it := &item{targetID: targetID, dueAt: at}
	heap.Push(&a.heap, it)
	a.entries[targetID] = it
}

// drop removes the target's entry if present.
func (a *agenda) drop(targetID string) {
	it, ok := a.entries[targetID]
	if !ok {
		return
	}
	heap.Remove(&a.heap, it.index)
	delete(a.entries, targetID)
}

// popDue removes and returns the next entry due at or before now, or nil.
func (a *agenda) popDue(now time.Time) *item {
	if len(a.heap) == 0 || a.heap[0].dueAt.After(now) {
		return nil
	}
	it := heap.Pop(&a.heap).(*item)
	delete(a.entries, it.targetID)
	return it
}

func (a *agenda) size() int {
	return len(a.heap)
}
