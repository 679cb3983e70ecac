package flow

import (
	"container/heap"
	"sync"
)

const queueInitialCap = 256

// LessFunc orders two queue entries. The queue itself does not hard-code
// min-first or max-first behavior; ordering is entirely defined by the
// comparator passed to newWorkQueue.
type LessFunc func(a, b *workItem) bool

// minFirst is the default ordering: smaller priority value first, ties
// broken by submission sequence so equal priorities dequeue FIFO.
func minFirst(a, b *workItem) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

// itemHeap implements heap.Interface over workItems with a pluggable
// comparator. The index field is kept in sync for Fix/Remove support.
type itemHeap struct {
	items []*workItem
	less  LessFunc
}

func (h *itemHeap) Len() int           { return len(h.items) }
func (h *itemHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *itemHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*workItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
}

func (h *itemHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	return it
}

// workQueue is the ready-to-run job queue. Push and Pop are O(log n)
// and safe for concurrent use; every mutation happens under one mutex
// so partial states are never visible.
type workQueue struct {
	mu   sync.Mutex
	h    itemHeap
	nseq uint64
}

func newWorkQueue(less LessFunc) *workQueue {
	if less == nil {
		less = minFirst
	}
	q := &workQueue{}
	q.h.less = less
	q.h.items = make([]*workItem, 0, queueInitialCap)
	heap.Init(&q.h)
	return q
}

// Push inserts an item and stamps its submission sequence number.
func (q *workQueue) Push(it *workItem) {
	q.mu.Lock()
	q.nseq++
	it.seq = q.nseq
	heap.Push(&q.h, it)
	q.mu.Unlock()
}

// Pop removes and returns the first item per the queue's ordering.
// It returns ErrEmptyQueue when no items remain.
func (q *workQueue) Pop() (*workItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h.items) == 0 {
		return nil, ErrEmptyQueue
	}
	return heap.Pop(&q.h).(*workItem), nil
}

// Peek returns the first item without removing it.
func (q *workQueue) Peek() (*workItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h.items) == 0 {
		return nil, ErrEmptyQueue
	}
	return q.h.items[0], nil
}

// Len returns the number of queued items.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h.items)
}
