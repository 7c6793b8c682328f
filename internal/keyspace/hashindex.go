package keyspace

import "math/bits"

// hashIndex is a chained hash table over key strings, used purely to
// give SCAN a stable, reverse-binary cursor. This is the
// same algorithm Redis's own dict.c uses for dictScan, adapted here
// without incremental rehashing: growth is a one-shot stop-the-world
// rehash, acceptable because the Keyspace already serializes access
// with its own lock.
type hashIndex struct {
	buckets [][]string
	count   int
}

const minBuckets = 8

func newHashIndex() *hashIndex {
	return &hashIndex{buckets: make([][]string, minBuckets)}
}

func fnv64(s string) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

func (h *hashIndex) bucketFor(key string, nbuckets int) int {
	return int(fnv64(key) & uint64(nbuckets-1))
}

func (h *hashIndex) insert(key string) {
	if h.count+1 > len(h.buckets)*3 {
		h.grow()
	}
	idx := h.bucketFor(key, len(h.buckets))
	for _, k := range h.buckets[idx] {
		if k == key {
			return
		}
	}
	h.buckets[idx] = append(h.buckets[idx], key)
	h.count++
}

func (h *hashIndex) remove(key string) {
	idx := h.bucketFor(key, len(h.buckets))
	bucket := h.buckets[idx]
	for i, k := range bucket {
		if k == key {
			bucket[i] = bucket[len(bucket)-1]
			h.buckets[idx] = bucket[:len(bucket)-1]
			h.count--
			return
		}
	}
}

func (h *hashIndex) grow() {
	newBuckets := make([][]string, len(h.buckets)*2)
	for _, bucket := range h.buckets {
		for _, k := range bucket {
			idx := h.bucketFor(k, len(newBuckets))
			newBuckets[idx] = append(newBuckets[idx], k)
		}
	}
	h.buckets = newBuckets
}

// scan visits every key in the bucket addressed by cursor and returns
// the next cursor, using reverse-binary increment so that a full scan
// (cursor 0 -> ... -> 0) visits every bucket exactly once regardless of
// insertions/deletions elsewhere in the table (mutations to the current
// bucket can still cause the at-most-once guarantee to be approximate,
// matching Redis's own documented SCAN guarantees).
func (h *hashIndex) scan(cursor uint64, visit func(key string)) uint64 {
	if len(h.buckets) == 0 {
		return 0
	}
	mask := uint64(len(h.buckets) - 1)
	idx := cursor & mask
	for _, k := range h.buckets[idx] {
		visit(k)
	}

	cursor |= ^mask
	cursor = bits.Reverse64(cursor)
	cursor++
	cursor = bits.Reverse64(cursor)
	return cursor
}
