// Package keyspace implements one logical database: a key -> value-with-
// expiry mapping providing the transactional read-modify-write
// primitives dispatch handlers use. A single mutex serializes every
// operation against one Keyspace, the coarse-grained equivalent of a
// per-store lock guarding an in-memory table.
package keyspace

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ferrousdb/ferrous/internal/value"
)

// Record is one key's stored value plus its expiry metadata. ExpireAt
// is a unix-millisecond absolute time; zero means no expiry.
type Record struct {
	Val      value.Value
	ExpireAt int64
	Version  uint64
}

// Keyspace is one numbered database.
type Keyspace struct {
	mu      sync.Mutex
	data    map[string]*Record
	idx     *hashIndex
	expires map[string]struct{} // keys with ExpireAt != 0, for the active sweep
	clock   func() time.Time
	rng     *rand.Rand
}

// New returns an empty Keyspace. clock is injectable for tests; pass
// nil to use wall-clock time.
func New(clock func() time.Time) *Keyspace {
	if clock == nil {
		clock = time.Now
	}
	return &Keyspace{
		data:    make(map[string]*Record),
		idx:     newHashIndex(),
		expires: make(map[string]struct{}),
		clock:   clock,
		rng:     rand.New(rand.NewSource(1)),
	}
}

func (k *Keyspace) nowMS() int64 { return k.clock().UnixMilli() }

// Lock/Unlock expose the coarse per-database lock directly so dispatch
// handlers can perform multi-step read-modify-write sequences (and
// multi-key transactions) atomically: any two commands against the same
// database admit a total order equivalent to some serial execution.
func (k *Keyspace) Lock()   { k.mu.Lock() }
func (k *Keyspace) Unlock() { k.mu.Unlock() }

// expireIfNeeded deletes key if it has expired, returning true if it
// was removed. Caller must hold the lock. This implements the lazy half
// of the expiry policy: a key read after expiry returns as if absent
// and triggers deletion.
func (k *Keyspace) expireIfNeeded(key string) bool {
	rec, ok := k.data[key]
	if !ok {
		return false
	}
	if rec.ExpireAt == 0 || k.nowMS() < rec.ExpireAt {
		return false
	}
	k.removeLocked(key)
	return true
}

func (k *Keyspace) removeLocked(key string) {
	delete(k.data, key)
	delete(k.expires, key)
	k.idx.remove(key)
}

// Get returns the live value for key, applying lazy expiry first.
// Caller must hold the lock.
func (k *Keyspace) Get(key string) (value.Value, bool) {
	k.expireIfNeeded(key)
	rec, ok := k.data[key]
	if !ok {
		return nil, false
	}
	return rec.Val, true
}

// GetRecord returns the full record (value + expiry + version), for
// callers that need expiry/version metadata alongside the value.
func (k *Keyspace) GetRecord(key string) (*Record, bool) {
	k.expireIfNeeded(key)
	rec, ok := k.data[key]
	return rec, ok
}

// Set stores v at key, preserving no prior expiry (callers that want to
// keep TTL, e.g. SETRANGE/APPEND, must re-apply it explicitly — mirrors
// Redis's own SET-clears-TTL default). Bumps the key's WATCH version.
func (k *Keyspace) Set(key string, v value.Value) {
	k.expireIfNeeded(key)
	rec, existed := k.data[key]
	if !existed {
		rec = &Record{}
		k.data[key] = rec
		k.idx.insert(key)
	}
	rec.Val = v
	if rec.ExpireAt != 0 {
		delete(k.expires, key)
	}
	rec.ExpireAt = 0
	rec.Version++
}

// Ensure returns the existing value at key, or inserts and returns zero
// via make() if absent. Used by handlers that auto-vivify containers
// (LPUSH on a missing key, HSET on a missing hash, ...).
func (k *Keyspace) Ensure(key string, make func() value.Value) value.Value {
	k.expireIfNeeded(key)
	rec, ok := k.data[key]
	if ok {
		return rec.Val
	}
	v := make()
	k.data[key] = &Record{Val: v}
	k.idx.insert(key)
	return v
}

// Touch bumps key's WATCH version without changing its value; callers
// use this after mutating a container in place (LPUSH, HSET, SADD, ...)
// so WATCH observes the change even though Set was never called.
func (k *Keyspace) Touch(key string) {
	if rec, ok := k.data[key]; ok {
		rec.Version++
	}
}

// Version returns key's current WATCH version (0 if absent).
func (k *Keyspace) Version(key string) uint64 {
	k.expireIfNeeded(key)
	if rec, ok := k.data[key]; ok {
		return rec.Version
	}
	return 0
}

// Delete removes key, returning true if it existed (after lazy expiry).
func (k *Keyspace) Delete(key string) bool {
	if k.expireIfNeeded(key) {
		return false
	}
	if _, ok := k.data[key]; !ok {
		return false
	}
	k.removeLocked(key)
	return true
}

// Exists reports whether key is live.
func (k *Keyspace) Exists(key string) bool {
	k.expireIfNeeded(key)
	_, ok := k.data[key]
	return ok
}

// ErrExists is returned by RenameIfAbsent when the destination exists.
var ErrExists = existsErr{}

type existsErr struct{}

func (existsErr) Error() string { return "ERR destination key already exists" }

// ErrNoSuchKey is returned by Rename-family operations when src is
// absent.
var ErrNoSuchKey = noSuchKeyErr{}

type noSuchKeyErr struct{}

func (noSuchKeyErr) Error() string { return "ERR no such key" }

// Rename moves src to dst, overwriting dst if present.
func (k *Keyspace) Rename(src, dst string) error {
	if k.expireIfNeeded(src) {
		return ErrNoSuchKey
	}
	rec, ok := k.data[src]
	if !ok {
		return ErrNoSuchKey
	}
	k.expireIfNeeded(dst)
	k.removeLocked(src)
	rec.Version++
	k.data[dst] = rec
	k.idx.insert(dst)
	if rec.ExpireAt != 0 {
		k.expires[dst] = struct{}{}
	}
	return nil
}

// RenameIfAbsent moves src to dst, failing with ErrExists if dst is
// already present.
func (k *Keyspace) RenameIfAbsent(src, dst string) error {
	if k.expireIfNeeded(src) {
		return ErrNoSuchKey
	}
	if _, ok := k.data[src]; !ok {
		return ErrNoSuchKey
	}
	if !k.expireIfNeeded(dst) {
		if _, ok := k.data[dst]; ok {
			return ErrExists
		}
	}
	return k.Rename(src, dst)
}

// TypeOf returns key's value kind.
func (k *Keyspace) TypeOf(key string) (value.Kind, bool) {
	v, ok := k.Get(key)
	if !ok {
		return 0, false
	}
	return v.Kind(), true
}

// ExpireAt sets key's absolute expiry (unix ms). Returns false if key
// is absent.
func (k *Keyspace) ExpireAt(key string, unixMS int64) bool {
	if k.expireIfNeeded(key) {
		return false
	}
	rec, ok := k.data[key]
	if !ok {
		return false
	}
	rec.ExpireAt = unixMS
	k.expires[key] = struct{}{}
	return true
}

// TTL returns milliseconds remaining: -2 if key is absent, -1 if it has
// no expiry, else the remaining ms (>= 0).
func (k *Keyspace) TTL(key string) int64 {
	if k.expireIfNeeded(key) {
		return -2
	}
	rec, ok := k.data[key]
	if !ok {
		return -2
	}
	if rec.ExpireAt == 0 {
		return -1
	}
	remaining := rec.ExpireAt - k.nowMS()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ExpireTime returns the absolute unix-ms expiry, -2 if absent, -1 if
// no expiry.
func (k *Keyspace) ExpireTime(key string) int64 {
	if k.expireIfNeeded(key) {
		return -2
	}
	rec, ok := k.data[key]
	if !ok {
		return -2
	}
	if rec.ExpireAt == 0 {
		return -1
	}
	return rec.ExpireAt
}

// Persist removes key's expiry, returning true if an expiry was
// actually cleared.
func (k *Keyspace) Persist(key string) bool {
	if k.expireIfNeeded(key) {
		return false
	}
	rec, ok := k.data[key]
	if !ok || rec.ExpireAt == 0 {
		return false
	}
	rec.ExpireAt = 0
	delete(k.expires, key)
	return true
}

// RandomKey returns an arbitrary live key, or ("", false) if empty.
// Go's map iteration order is randomized per runtime, which is exactly
// the property RANDOMKEY needs.
func (k *Keyspace) RandomKey() (string, bool) {
	for key := range k.data {
		if k.expireIfNeeded(key) {
			continue
		}
		return key, true
	}
	return "", false
}

// Len returns the number of live keys (DBSIZE). Expired-but-not-yet-
// swept keys are still counted until accessed or swept, matching
// Redis's own DBSIZE behavior.
func (k *Keyspace) Len() int { return len(k.data) }

// FlushAll removes every key.
func (k *Keyspace) FlushAll() {
	k.data = make(map[string]*Record)
	k.expires = make(map[string]struct{})
	k.idx = newHashIndex()
}

// Scan yields up to ~count keys matching the glob pattern match (empty
// pattern means match-all), returning the cursor to resume from. The
// guarantee: every key alive for the whole scan is returned at least
// once; cursor 0 both starts and ends a full iteration.
func (k *Keyspace) Scan(cursor uint64, match string, count int, matcher func(pattern, key string) bool) ([]string, uint64) {
	if count <= 0 {
		count = 10
	}
	var out []string
	next := cursor
	for {
		next = k.idx.scan(next, func(key string) {
			if k.expireIfNeeded(key) {
				return
			}
			if match == "" || matcher(match, key) {
				out = append(out, key)
			}
		})
		if next == 0 || len(out) >= count {
			break
		}
	}
	return out, next
}

// ForEach invokes fn for every live key, applying lazy expiry first.
// Caller must hold the lock; fn must not call back into the Keyspace.
func (k *Keyspace) ForEach(fn func(key string, rec *Record)) {
	for key, rec := range k.data {
		if k.expireIfNeeded(key) {
			continue
		}
		fn(key, rec)
	}
}

// Restore inserts key with the given value and absolute expiry (0 means
// no expiry), overwriting any existing entry. Used by RDB/AOF loading to
// repopulate a Keyspace without going through the WATCH-version bumping
// Set path.
func (k *Keyspace) Restore(key string, v value.Value, expireAtMS int64) {
	rec := &Record{Val: v, ExpireAt: expireAtMS}
	k.data[key] = rec
	k.idx.insert(key)
	if expireAtMS != 0 {
		k.expires[key] = struct{}{}
	}
}

// ActiveExpireCycle samples up to sampleSize keys with an expiry set and
// removes any that have passed, repeating (within maxRounds) while more
// than 25% of the sample was expired.
func (k *Keyspace) ActiveExpireCycle(sampleSize, maxRounds int) int {
	removed := 0
	for round := 0; round < maxRounds; round++ {
		if len(k.expires) == 0 {
			break
		}
		keys := make([]string, 0, len(k.expires))
		for key := range k.expires {
			keys = append(keys, key)
		}
		k.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		if len(keys) > sampleSize {
			keys = keys[:sampleSize]
		}

		expiredThisRound := 0
		for _, key := range keys {
			if k.expireIfNeeded(key) {
				expiredThisRound++
				removed++
			}
		}
		if len(keys) == 0 || float64(expiredThisRound)/float64(len(keys)) <= 0.25 {
			break
		}
	}
	return removed
}
