package storage

import (
	"sync"
	"time"
)

// Direction selects which end of a list a blocked waiter pops from
// (BLPOP vs BRPOP).
type Direction int

const (
	DirLeft Direction = iota
	DirRight
)

// WaitResult is delivered to a waiter on wake: either a popped element
// or a timeout.
type WaitResult struct {
	Key     string
	Elem    []byte
	TimedOut bool
}

// Waiter is one outstanding BLPOP/BRPOP registration. It appears in the
// per-key FIFOs for every key it was registered against and is removed
// from all of them in one shot on serve, deadline, or disconnect —
// by identity, not by a back-pointer cycle: each FIFO entry is a pointer to this same Waiter, and
// cancellation walks w.keys removing the pointer from each.
type Waiter struct {
	id     uint64
	keys   []string
	dir    Direction
	result chan WaitResult
	done   bool // guarded by BlockingRegistry.mu
}

// BlockingRegistry maps each key to a FIFO of waiters, served fairly
// (oldest waiter on a key wins regardless of which session pushed),
// with a shared deadline scheduler standing in for per-waiter timers.
type BlockingRegistry struct {
	mu       sync.Mutex
	byKey    map[string][]*Waiter
	sched    *deadlineScheduler
	nextID   uint64
	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewBlockingRegistry() *BlockingRegistry {
	b := &BlockingRegistry{
		byKey:  make(map[string][]*Waiter),
		sched:  newDeadlineScheduler(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go b.runDeadlines()
	return b
}

func (b *BlockingRegistry) Close() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *BlockingRegistry) kick() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Register parks a new waiter on keys, returning it; the caller reads
// from Waiter.Result() and must not reuse the key set string slice
// afterward.
func (b *BlockingRegistry) Register(keys []string, dir Direction, timeout time.Duration) *Waiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	w := &Waiter{id: b.nextID, keys: append([]string{}, keys...), dir: dir, result: make(chan WaitResult, 1)}
	for _, k := range keys {
		b.byKey[k] = append(b.byKey[k], w)
	}
	if timeout > 0 {
		b.sched.push(w.id, time.Now().Add(timeout))
		b.kick()
	}
	return w
}

// Result exposes the waiter's outcome channel.
func (w *Waiter) Result() <-chan WaitResult { return w.result }

// Serve attempts to dequeue the head waiter on key and hand it an
// element, repeating while pop succeeds and waiters remain: multiple
// elements pushed in one command wake waiters FIFO until either runs
// out. pop is called with the head waiter's own direction and must
// reflect the caller's already-held Keyspace lock on the list at key.
func (b *BlockingRegistry) Serve(key string, pop func(dir Direction) ([]byte, bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.byKey[key]
	for len(queue) > 0 {
		w := queue[0]
		elem, ok := pop(w.dir)
		if !ok {
			break
		}
		queue = queue[1:]
		b.retireLocked(w)
		w.result <- WaitResult{Key: key, Elem: elem}
	}
	if len(queue) == 0 {
		delete(b.byKey, key)
	} else {
		b.byKey[key] = queue
	}
}

// Cancel removes w from every FIFO it is in without delivering a
// result; used on client disconnect.
func (b *BlockingRegistry) Cancel(w *Waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retireLocked(w)
}

// retireLocked removes w from every key FIFO and the deadline
// scheduler. Caller must hold b.mu.
func (b *BlockingRegistry) retireLocked(w *Waiter) {
	if w.done {
		return
	}
	w.done = true
	for _, k := range w.keys {
		queue := b.byKey[k]
		for i, other := range queue {
			if other == w {
				queue = append(queue[:i], queue[i+1:]...)
				break
			}
		}
		if len(queue) == 0 {
			delete(b.byKey, k)
		} else {
			b.byKey[k] = queue
		}
	}
	b.sched.remove(w.id)
}

func (b *BlockingRegistry) runDeadlines() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		b.mu.Lock()
		_, when, ok := b.sched.next()
		b.mu.Unlock()

		var wait time.Duration
		if !ok {
			wait = time.Hour
		} else {
			wait = time.Until(when)
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-b.stopCh:
			return
		case <-b.wake:
			continue
		case <-timer.C:
			b.fireExpired()
		}
	}
}

func (b *BlockingRegistry) fireExpired() {
	now := time.Now()
	var expired []*Waiter
	b.mu.Lock()
	for {
		id, when, ok := b.sched.next()
		if !ok || when.After(now) {
			break
		}
		b.sched.pop()
		// Find the waiter object: scan any of its keys' FIFOs for a
		// matching id. Waiters always carry at least one key.
		var found *Waiter
		for _, k := range allKeysFor(b, id) {
			for _, w := range b.byKey[k] {
				if w.id == id {
					found = w
					break
				}
			}
			if found != nil {
				break
			}
		}
		if found != nil {
			b.retireLocked(found)
			expired = append(expired, found)
		}
	}
	b.mu.Unlock()

	for _, w := range expired {
		w.result <- WaitResult{TimedOut: true}
	}
}

// allKeysFor is a small helper scanning every FIFO for id's keys; the
// registry is small enough in practice (bounded by concurrently blocked
// clients) that this avoids keeping a second id->keys index in sync.
func allKeysFor(b *BlockingRegistry, id uint64) []string {
	var keys []string
	for k, queue := range b.byKey {
		for _, w := range queue {
			if w.id == id {
				keys = append(keys, k)
				break
			}
		}
	}
	return keys
}
