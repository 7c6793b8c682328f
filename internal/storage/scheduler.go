package storage

import (
	"container/heap"
	"time"
)

// deadlineEvent is one scheduled wake for a blocked waiter. index is
// required for heap.Fix-style O(log n) removal. Adapted from the
// teacher's processmgr.scheduler (container/heap min-heap over
// time.Time), generalized from process-restart scheduling to blocking-
// wait deadlines.
type deadlineEvent struct {
	id    uint64
	when  time.Time
	index int
}

type deadlineScheduler struct {
	h       eventHeap
	entries map[uint64]*deadlineEvent
}

func newDeadlineScheduler() *deadlineScheduler {
	h := eventHeap{}
	heap.Init(&h)
	return &deadlineScheduler{h: h, entries: make(map[uint64]*deadlineEvent)}
}

func (s *deadlineScheduler) push(id uint64, when time.Time) {
	if old, ok := s.entries[id]; ok {
		heap.Remove(&s.h, old.index)
		delete(s.entries, id)
	}
	ev := &deadlineEvent{id: id, when: when}
	s.entries[id] = ev
	heap.Push(&s.h, ev)
}

func (s *deadlineScheduler) next() (id uint64, when time.Time, ok bool) {
	if len(s.h) == 0 {
		return 0, time.Time{}, false
	}
	ev := s.h[0]
	return ev.id, ev.when, true
}

func (s *deadlineScheduler) pop() {
	if len(s.h) == 0 {
		return
	}
	ev := heap.Pop(&s.h).(*deadlineEvent)
	delete(s.entries, ev.id)
}

func (s *deadlineScheduler) remove(id uint64) {
	ev, ok := s.entries[id]
	if !ok {
		return
	}
	heap.Remove(&s.h, ev.index)
	delete(s.entries, id)
}

type eventHeap []*deadlineEvent

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*deadlineEvent)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	ev.index = -1
	*h = old[:n-1]
	return ev
}
