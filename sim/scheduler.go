package sim

import (
	"container/heap"
	"time"

	"raftcore/raft"
)

// SimEventKind distinguishes the event kinds the scheduler's min-heap
// carries.
type SimEventKind int

const (
	SendOverNetwork SimEventKind = iota
	PartitionNetwork
	HealNetworkPartition
	InjectIOFailureEveryNOps
	RestoreIOFunctioning
)

// SimEvent is one entry in the scheduler's event queue, keyed by the
// virtual time at which it fires.
type SimEvent struct {
	At   time.Time
	Kind SimEventKind
	seq  int // insertion order, used to break time ties FIFO

	Msg         raft.Message      // SendOverNetwork
	Partitions  [][]raft.ServerId // PartitionNetwork
	FaultTarget raft.ServerId     // InjectIOFailureEveryNOps / RestoreIOFunctioning
	FaultEveryN int               // InjectIOFailureEveryNOps
}

// eventHeap is a min-heap over SimEvent ordered by (At, seq).
type eventHeap []*SimEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*SimEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler is the simulator's min-heap event queue, keyed by SimTime.
// Ties are broken by insertion order.
type Scheduler struct {
	heap eventHeap
	seq  int
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.heap)
	return s
}

// Schedule queues ev to fire at ev.At, stamping it with the next
// insertion sequence number for tie-breaking.
func (s *Scheduler) Schedule(ev SimEvent) {
	ev.seq = s.seq
	s.seq++
	heap.Push(&s.heap, &ev)
}

// Peek returns the earliest queued event without removing it, and
// whether the queue is non-empty.
func (s *Scheduler) Peek() (SimEvent, bool) {
	if len(s.heap) == 0 {
		return SimEvent{}, false
	}
	return *s.heap[0], true
}

// Pop removes and returns the earliest queued event.
func (s *Scheduler) Pop() (SimEvent, bool) {
	if len(s.heap) == 0 {
		return SimEvent{}, false
	}
	return *heap.Pop(&s.heap).(*SimEvent), true
}

// Len reports the number of queued events.
func (s *Scheduler) Len() int { return len(s.heap) }
