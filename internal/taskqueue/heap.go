package taskqueue

import (
	"container/heap"

	"github.com/manifold-chat/core/internal/model"
)

// queueItem is one entry in the priority heap: higher model.Priority value
// (urgent=3 ... low=0) pops first; within the same priority, lower seq
// (earlier enqueue) pops first — a stable FIFO within each priority level.
type queueItem struct {
	id       string
	priority model.Priority
	seq      int
	index    int
}

type priorityHeap []*queueItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// removeID drops a pending item from the heap by task id, used when a
// pending task is cancelled before dispatch.
func (h *priorityHeap) removeID(id string) {
	for i, it := range *h {
		if it.id == id {
			heap.Remove(h, i)
			return
		}
	}
}
