package member

import "github.com/opd-ai/callcore/guard"

// MaxCacheEntries bounds each resolver cache.
//
// Ideally this would track the size of the current call so refreshes never
// re-decrypt while departed members age out; 16 covers most calls and large
// calls simply fall back to decrypting again.
const MaxCacheEntries = 16

// mapping pairs one cache key with its decrypted identity. Entries are never
// updated in place.
type mapping[K any] struct {
	key    K
	userID UserID
}

// fifoCache is a bounded, insertion-ordered list searched linearly. At this
// size a scan is as fast as a hash lookup and keeps eviction trivial.
type fifoCache[K any] struct {
	guarded *guard.Mutex[[]mapping[K]]
	equal   func(a, b K) bool
}

func newFIFOCache[K any](name string, equal func(a, b K) bool) *fifoCache[K] {
	return &fifoCache[K]{
		guarded: guard.New[[]mapping[K]](nil, name),
		equal:   equal,
	}
}

func resetEntries[K any](_ []mapping[K]) []mapping[K] {
	return nil
}

// lookup returns the identity cached for key.
func (c *fifoCache[K]) lookup(key K) (id UserID, ok bool) {
	c.guarded.LockOrReset(resetEntries[K], func(entries *[]mapping[K]) {
		for _, m := range *entries {
			if c.equal(m.key, key) {
				id, ok = m.userID, true
				return
			}
		}
	})
	return id, ok
}

// insert appends a mapping, evicting the oldest entry first when full.
// A key that is already present is left untouched.
func (c *fifoCache[K]) insert(key K, id UserID) {
	c.guarded.LockOrReset(resetEntries[K], func(entries *[]mapping[K]) {
		for _, m := range *entries {
			if c.equal(m.key, key) {
				return
			}
		}
		if len(*entries) >= MaxCacheEntries {
			(*entries)[0] = mapping[K]{}
			*entries = (*entries)[1:]
		}
		*entries = append(*entries, mapping[K]{key: key, userID: id})
	})
}

// keys returns the cached keys, oldest first.
func (c *fifoCache[K]) keys() []K {
	var out []K
	c.guarded.LockOrReset(resetEntries[K], func(entries *[]mapping[K]) {
		out = make([]K, 0, len(*entries))
		for _, m := range *entries {
			out = append(out, m.key)
		}
	})
	return out
}

func (c *fifoCache[K]) len() int {
	n := 0
	c.guarded.LockOrReset(resetEntries[K], func(entries *[]mapping[K]) {
		n = len(*entries)
	})
	return n
}
