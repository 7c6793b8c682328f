package server

import (
	"fmt"
	"sync"
)

// connIDAllocator hands out client connection IDs (CLIENT ID) from a
// monotonic, wrap-around space, skipping IDs still in use — the same
// increment-and-skip allocation Linux uses for PIDs, reused here
// because it gives small, quickly-recycled, human-legible IDs instead
// of an ever-growing atomic counter.
type connIDAllocator struct {
	mu    sync.Mutex
	next  int64
	inUse map[int64]struct{}
	max   int64
}

func newConnIDAllocator() *connIDAllocator {
	return &connIDAllocator{next: 1, max: 1 << 32, inUse: make(map[int64]struct{})}
}

func (a *connIDAllocator) alloc() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.next
	for {
		id := a.next
		a.next++
		if a.next > a.max {
			a.next = 1
		}
		if _, used := a.inUse[id]; !used {
			a.inUse[id] = struct{}{}
			return id
		}
		if a.next == start {
			panic(fmt.Sprintf("connIDAllocator exhausted: 1..%d fully allocated", a.max))
		}
	}
}

func (a *connIDAllocator) release(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, id)
}
