package server

import "testing"

func TestSlotPoolRejectsOverCapacity(t *testing.T) {
	p := newSlotPool(2)

	if !p.tryAcquire(1) || !p.tryAcquire(2) {
		t.Fatal("expected first two acquires to succeed")
	}
	if p.tryAcquire(3) {
		t.Fatal("expected third acquire to be rejected at capacity")
	}

	p.release(1)
	if !p.tryAcquire(3) {
		t.Fatal("expected acquire to succeed after a release freed a slot")
	}
}

func TestSlotPoolReleaseOfUnheldIDIsNoop(t *testing.T) {
	p := newSlotPool(1)
	p.release(99) // never acquired; must not panic or go negative
	if !p.tryAcquire(1) {
		t.Fatal("pool should still have its full capacity available")
	}
}

func TestSlotPoolDoubleAcquirePanics(t *testing.T) {
	p := newSlotPool(2)
	p.tryAcquire(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double-acquire of the same id")
		}
	}()
	p.tryAcquire(1)
}

func TestConnIDAllocatorSkipsInUseAndRecycles(t *testing.T) {
	a := newConnIDAllocator()
	id1 := a.alloc()
	id2 := a.alloc()
	if id1 == id2 {
		t.Fatal("expected distinct ids")
	}
	a.release(id1)
	id3 := a.alloc()
	if id3 == id2 {
		t.Fatal("newly allocated id collided with one still in use")
	}
}
