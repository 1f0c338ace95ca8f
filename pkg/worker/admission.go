package worker

import (
	"container/heap"
	"time"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
)

// QueueStats contains admission queue statistics
type QueueStats struct {
	// Depth is the number of requests waiting for a slot
	Depth int

	// DepthByPriority groups Depth by priority
	DepthByPriority map[types.Priority]int

	TotalEnqueued int64
	TotalDequeued int64 // dispatched after waiting
	TotalRemoved  int64 // cancelled or rejected while waiting

	// wait time of dequeued requests
	AverageWait time.Duration
	MaxWait     time.Duration
}

// admissionQueue holds requests that arrived while the instance was saturated. It is only
// touched under Instance.mu.
type admissionQueue struct {
	heap  pendingHeap
	seq   uint64
	clock types.Clock

	enqueued  int64
	dequeued  int64
	removed   int64
	totalWait time.Duration
	maxWait   time.Duration
}

func newAdmissionQueue(clock types.Clock) *admissionQueue {
	return &admissionQueue{clock: clock}
}

func (q *admissionQueue) Len() int {
	return q.heap.Len()
}

func (q *admissionQueue) push(p *PendingRequest) {
	q.seq++
	p.seq = q.seq
	p.EnqueuedAt = q.clock.Now()
	heap.Push(&q.heap, p)
	q.enqueued++
}

// pop removes the highest priority, earliest request
func (q *admissionQueue) pop() *PendingRequest {
	if q.heap.Len() == 0 {
		return nil
	}
	p := heap.Pop(&q.heap).(*PendingRequest)
	q.dequeued++
	wait := q.clock.Since(p.EnqueuedAt)
	q.totalWait += wait
	if wait > q.maxWait {
		q.maxWait = wait
	}
	return p
}

// remove takes p out of the queue, reporting whether it was queued
func (q *admissionQueue) remove(p *PendingRequest) bool {
	if p.index < 0 || p.index >= q.heap.Len() || q.heap[p.index] != p {
		return false
	}
	heap.Remove(&q.heap, p.index)
	q.removed++
	return true
}

// drainAll empties the queue in dequeue order
func (q *admissionQueue) drainAll() []*PendingRequest {
	out := make([]*PendingRequest, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		out = append(out, heap.Pop(&q.heap).(*PendingRequest))
		q.removed++
	}
	return out
}

func (q *admissionQueue) stats() QueueStats {
	s := QueueStats{
		Depth:           q.heap.Len(),
		DepthByPriority: make(map[types.Priority]int),
		TotalEnqueued:   q.enqueued,
		TotalDequeued:   q.dequeued,
		TotalRemoved:    q.removed,
		MaxWait:         q.maxWait,
	}
	for _, p := range q.heap {
		s.DepthByPriority[p.Priority]++
	}
	if q.dequeued > 0 {
		s.AverageWait = q.totalWait / time.Duration(q.dequeued)
	}
	return s
}

// admitLocked dispatches p immediately when nothing is waiting and a slot is free, otherwise
// queues it. The returned message, if any, must be posted after unlocking.
func (i *Instance) admitLocked(p *PendingRequest) (ops.Message, bool) {
	if i.queue.Len() == 0 && i.busy < i.cfg.MaxBusyCount {
		return i.dispatchLocked(p), true
	}
	i.queue.push(p)
	return ops.Message{}, false
}

// drainLocked dispatches queued requests while slots are free
func (i *Instance) drainLocked() []ops.Message {
	var out []ops.Message
	for i.busy < i.cfg.MaxBusyCount && i.queue.Len() > 0 {
		out = append(out, i.dispatchLocked(i.queue.pop()))
	}
	return out
}
