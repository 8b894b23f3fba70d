package dht

import (
	"sort"
	"sync"
	"time"
)

// BucketSize is k from the Kademlia paper: the maximum number of contacts
// held per bucket, per spec §3.
const BucketSize = 20

// Contact is a known peer in the DHT: its identity and how to reach it.
type Contact struct {
	ID       NodeID
	Address  string // base URL, e.g. "http://10.0.0.5:7946"
	LastSeen time.Time
}

// RoutingTable is a Kademlia k-bucket table. No pack repo implements
// Kademlia, so this structure is built directly from spec §3/§4.1; the
// concurrency idiom (RWMutex-protected slice, copy-on-read) is carried over
// from torua's ShardRegistry.
type RoutingTable struct {
	mu      sync.RWMutex
	self    NodeID
	buckets [idLenBits + 1][]Contact // buckets[i] = contacts with PrefixLen(self^id) == i
}

// NewRoutingTable creates an empty table centered on self.
func NewRoutingTable(self NodeID) *RoutingTable {
	return &RoutingTable{self: self}
}

// bucketIndex returns which bucket a contact with the given ID belongs in.
func (rt *RoutingTable) bucketIndex(id NodeID) int {
	return Distance(rt.self, id).PrefixLen()
}

// Insert adds or refreshes a contact. If the contact's bucket is already at
// BucketSize, the least-recently-seen contact in that bucket is replaced by
// the new one; no liveness check is made before the replacement.
func (rt *RoutingTable) Insert(c Contact) {
	if c.ID == rt.self {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := rt.bucketIndex(c.ID)
	bucket := rt.buckets[idx]

	for i, existing := range bucket {
		if existing.ID == c.ID {
			bucket[i] = c
			return
		}
	}

	if len(bucket) < BucketSize {
		rt.buckets[idx] = append(bucket, c)
		return
	}

	// Bucket full: replace the least-recently-seen contact. A full liveness
	// check (ping-before-evict) belongs to the caller via Remove; the table
	// itself stays a pure data structure.
	oldestIdx := 0
	for i, existing := range bucket {
		if existing.LastSeen.Before(bucket[oldestIdx].LastSeen) {
			oldestIdx = i
		}
	}
	bucket[oldestIdx] = c
}

// Remove deletes a contact by ID, if present.
func (rt *RoutingTable) Remove(id NodeID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := rt.bucketIndex(id)
	bucket := rt.buckets[idx]
	for i, existing := range bucket {
		if existing.ID == id {
			rt.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Closest returns up to n contacts closest to target by XOR distance,
// across all buckets, sorted nearest-first. Used for iterative FIND_NODE.
func (rt *RoutingTable) Closest(target NodeID, n int) []Contact {
	rt.mu.RLock()
	all := make([]Contact, 0)
	for _, bucket := range rt.buckets {
		all = append(all, bucket...)
	}
	rt.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return Less(Distance(all[i].ID, target), Distance(all[j].ID, target))
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// All returns a snapshot of every known contact.
func (rt *RoutingTable) All() []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]Contact, 0)
	for _, bucket := range rt.buckets {
		out = append(out, bucket...)
	}
	return out
}

// Size returns the total number of known contacts.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, bucket := range rt.buckets {
		n += len(bucket)
	}
	return n
}
