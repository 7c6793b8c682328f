package value

// List is a doubly-ended sequence of byte strings backed by a ring
// buffer so push/pop at either end stay O(1) amortized, mirroring the
// teacher's O(1)-append ObjectStore/DataStore indices but doubly-ended.
type List struct {
	buf        [][]byte
	head, size int
}

func (*List) Kind() Kind { return KindList }

// NewList returns an empty list.
func NewList() *List {
	return &List{buf: make([][]byte, 8)}
}

func (l *List) Len() int { return l.size }

func (l *List) grow() {
	next := make([][]byte, len(l.buf)*2)
	for i := 0; i < l.size; i++ {
		next[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	l.buf = next
	l.head = 0
}

// PushLeft prepends elements in the given order (so the last element of
// elems ends up closest to the head), matching LPUSH's semantics of
// `LPUSH k a b c` leaving the list as [c, b, a, ...].
func (l *List) PushLeft(elems ...[]byte) {
	for _, e := range elems {
		if l.size == len(l.buf) {
			l.grow()
		}
		l.head = (l.head - 1 + len(l.buf)) % len(l.buf)
		l.buf[l.head] = e
		l.size++
	}
}

// PushRight appends elements in order.
func (l *List) PushRight(elems ...[]byte) {
	for _, e := range elems {
		if l.size == len(l.buf) {
			l.grow()
		}
		idx := (l.head + l.size) % len(l.buf)
		l.buf[idx] = e
		l.size++
	}
}

// PopLeft removes and returns the head element.
func (l *List) PopLeft() ([]byte, bool) {
	if l.size == 0 {
		return nil, false
	}
	v := l.buf[l.head]
	l.buf[l.head] = nil
	l.head = (l.head + 1) % len(l.buf)
	l.size--
	return v, true
}

// PopRight removes and returns the tail element.
func (l *List) PopRight() ([]byte, bool) {
	if l.size == 0 {
		return nil, false
	}
	idx := (l.head + l.size - 1) % len(l.buf)
	v := l.buf[idx]
	l.buf[idx] = nil
	l.size--
	return v, true
}

// index maps a Redis list index (0-based from head, negative from tail)
// to a position within [0, size), returning ok=false when out of range.
func (l *List) index(i int) (int, bool) {
	if i < 0 {
		i = l.size + i
	}
	if i < 0 || i >= l.size {
		return 0, false
	}
	return (l.head + i) % len(l.buf), true
}

// Get returns the element at Redis index i.
func (l *List) Get(i int) ([]byte, bool) {
	pos, ok := l.index(i)
	if !ok {
		return nil, false
	}
	return l.buf[pos], true
}

// Set overwrites the element at Redis index i; ok is false if i is out
// of range.
func (l *List) Set(i int, v []byte) bool {
	pos, ok := l.index(i)
	if !ok {
		return false
	}
	l.buf[pos] = v
	return true
}

// Range materializes elements [start, stop] inclusive (Redis index
// semantics, negative from tail), clamped to the valid range.
func (l *List) Range(start, stop int) [][]byte {
	if start < 0 {
		start = l.size + start
	}
	if stop < 0 {
		stop = l.size + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= l.size {
		stop = l.size - 1
	}
	if start > stop || l.size == 0 {
		return nil
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		pos := (l.head + i) % len(l.buf)
		out = append(out, l.buf[pos])
	}
	return out
}

// Trim keeps only [start, stop] inclusive, discarding everything else.
func (l *List) Trim(start, stop int) {
	kept := l.Range(start, stop)
	l.buf = make([][]byte, max2(8, len(kept)*2))
	l.head = 0
	l.size = 0
	l.PushRight(kept...)
}

// Insert places value before or after the first occurrence of pivot.
// Returns the new length, or -1 if pivot was not found.
func (l *List) Insert(before bool, pivot, val []byte) int {
	out := make([][]byte, 0, l.size+1)
	found := false
	for i := 0; i < l.size; i++ {
		pos := (l.head + i) % len(l.buf)
		cur := l.buf[pos]
		if !found && bytesEqual(cur, pivot) {
			found = true
			if before {
				out = append(out, val, cur)
			} else {
				out = append(out, cur, val)
			}
			continue
		}
		out = append(out, cur)
	}
	if !found {
		return -1
	}
	l.buf = make([][]byte, max2(8, len(out)*2))
	l.head = 0
	l.size = 0
	l.PushRight(out...)
	return l.size
}

// Remove deletes up to count occurrences of value: count>0 scans from
// the head, count<0 from the tail, count==0 removes all occurrences.
// Returns the number removed.
func (l *List) Remove(count int, val []byte) int {
	all := l.Range(0, l.size-1)
	removed := 0
	out := make([][]byte, 0, len(all))

	if count >= 0 {
		limit := count // 0 means unlimited
		for _, e := range all {
			if bytesEqual(e, val) && (limit == 0 || removed < limit) {
				removed++
				continue
			}
			out = append(out, e)
		}
	} else {
		limit := -count
		for i := len(all) - 1; i >= 0; i-- {
			e := all[i]
			if removed < limit && bytesEqual(e, val) {
				removed++
				continue
			}
			out = append([][]byte{e}, out...)
		}
	}

	l.buf = make([][]byte, max2(8, len(out)*2))
	l.head = 0
	l.size = 0
	l.PushRight(out...)
	return removed
}

// Pos returns the indexes of the occurrences of val starting at the
// rank-th match (1-based; negative counts matches from the tail, 0 is
// treated as 1), at most count of them when count > 0, or nil if there
// is no such match.
func (l *List) Pos(val []byte, rank, count int) []int {
	all := l.Range(0, l.size-1)
	var matches []int
	if rank >= 0 {
		for i, e := range all {
			if bytesEqual(e, val) {
				matches = append(matches, i)
			}
		}
		if rank > 0 && rank <= len(matches) {
			matches = matches[rank-1:]
		} else if rank > len(matches) {
			matches = nil
		}
	} else {
		for i := len(all) - 1; i >= 0; i-- {
			if bytesEqual(all[i], val) {
				matches = append(matches, i)
			}
		}
		r := -rank
		if r > 0 && r <= len(matches) {
			matches = matches[r-1:]
		} else if r > len(matches) {
			matches = nil
		}
	}
	if count > 0 && len(matches) > count {
		matches = matches[:count]
	}
	return matches
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}
