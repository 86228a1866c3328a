package recordbase

import (
	"hash/fnv"
	"sort"
	"sync"
)

// StripedLocks serializes work per key without one global mutex.
// A key always hashes to the same stripe; unrelated keys usually land on different ones.
type StripedLocks struct {
	stripes []sync.Mutex
	count   uint32
}

// NewStripedLocks creates a new striped lock with the specified number of stripes.
func NewStripedLocks(stripeCount int) *StripedLocks {
	if stripeCount <= 0 {
		stripeCount = 32
	}
	return &StripedLocks{
		stripes: make([]sync.Mutex, stripeCount),
		count:   uint32(stripeCount),
	}
}

// Lock acquires the stripe for key and returns its release function.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (sl *StripedLocks) Lock(key string) func() {
	idx := sl.stripeIndex(key)
	sl.stripes[idx].Lock()
	return func() {
		sl.stripes[idx].Unlock()
	}
}

// LockKeys acquires every stripe touched by keys in ascending stripe order,
// so two batches sharing stripes can't deadlock.
func (sl *StripedLocks) LockKeys(keys []string) func() {
	seen := make(map[uint32]struct{}, len(keys))
	idxs := make([]int, 0, len(keys))
	for _, k := range keys {
		i := sl.stripeIndex(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idxs = append(idxs, int(i))
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		sl.stripes[i].Lock()
	}
	return func() {
		for j := len(idxs) - 1; j >= 0; j-- {
			sl.stripes[idxs[j]].Unlock()
		}
	}
}

// stripeIndex returns the stripe index for a given key using FNV-1a hash
func (sl *StripedLocks) stripeIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % sl.count
}
