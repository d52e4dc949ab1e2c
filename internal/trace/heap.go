package trace

// timed orders values by time, then by arrival.
type timed[T any] struct {
	time  int64
	seq   uint64
	value T
}

// timedHeap is a container/heap min-heap of timed values.
type timedHeap[T any] []timed[T]

func (h timedHeap[T]) Len() int { return len(h) }

func (h timedHeap[T]) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}

func (h timedHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timedHeap[T]) Push(x any) { *h = append(*h, x.(timed[T])) }

func (h *timedHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = timed[T]{}
	*h = old[:n-1]
	return item
}
