package worker

// pendingHeap is the priority heap behind the admission queue
type pendingHeap []*PendingRequest

// Len implements heap.Interface
func (h pendingHeap) Len() int { return len(h) }

// Less implements heap.Interface - higher priority first, FIFO by arrival within a priority
func (h pendingHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

// Swap implements heap.Interface
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push implements heap.Interface
func (h *pendingHeap) Push(x interface{}) {
	p := x.(*PendingRequest)
	p.index = len(*h)
	*h = append(*h, p)
}

// Pop implements heap.Interface
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}
