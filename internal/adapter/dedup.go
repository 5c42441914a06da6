package adapter

import (
	"hash/fnv"
	"sync"
)

const dedupHistory = 1000

// dedupSet remembers hashes of the most recent messages so replays and
// provider re-deliveries can be dropped. Bounded: once the history is full
// the oldest hash is forgotten first.
type dedupSet struct {
	mu   sync.Mutex
	seen map[uint64]struct{}
	ring []uint64
	head int
	n    int
}

func newDedupSet() *dedupSet {
	return &dedupSet{
		seen: make(map[uint64]struct{}, dedupHistory),
		ring: make([]uint64, dedupHistory),
	}
}

// observe hashes the message and reports whether it was already seen.
// Unseen messages are recorded.
func (d *dedupSet) observe(msg []byte) bool {
	h := fnv.New64a()
	h.Write(msg)
	sum := h.Sum64()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[sum]; ok {
		return true
	}
	if d.n == len(d.ring) {
		delete(d.seen, d.ring[d.head])
	} else {
		d.n++
	}
	d.ring[d.head] = sum
	d.seen[sum] = struct{}{}
	d.head = (d.head + 1) % len(d.ring)
	return false
}
