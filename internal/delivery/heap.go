package delivery

import "time"

type item struct {
	task  Task
	due   time.Time
	seq   uint64 // assigned once at enqueue and kept across retries
	retry bool
}

// taskHeap orders items by due time, then by enqueue sequence so tasks due
// at the same instant keep FIFO order. Implements container/heap.Interface.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
