package dht

import (
	"testing"
	"time"
)

func TestRoutingTableInsertAndClosest(t *testing.T) {
	self := HashID("node-self")
	rt := NewRoutingTable(self)

	for i := 0; i < 5; i++ {
		id := HashID(string(rune('a' + i)))
		rt.Insert(Contact{ID: id, Address: "http://peer", LastSeen: time.Now()})
	}

	if rt.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", rt.Size())
	}

	target := HashID("c")
	closest := rt.Closest(target, 3)
	if len(closest) != 3 {
		t.Fatalf("Closest() returned %d contacts, want 3", len(closest))
	}
	if closest[0].ID != target {
		t.Fatalf("expected exact match to sort first")
	}
}

func TestRoutingTableIgnoresSelf(t *testing.T) {
	self := HashID("node-self")
	rt := NewRoutingTable(self)
	rt.Insert(Contact{ID: self, Address: "http://self"})
	if rt.Size() != 0 {
		t.Fatalf("expected self-insert to be ignored, got size %d", rt.Size())
	}
}

func TestRoutingTableRemove(t *testing.T) {
	self := HashID("node-self")
	rt := NewRoutingTable(self)
	peer := Contact{ID: HashID("peer-1"), Address: "http://peer-1"}
	rt.Insert(peer)
	rt.Remove(peer.ID)
	if rt.Size() != 0 {
		t.Fatalf("expected contact removed, size = %d", rt.Size())
	}
}

func TestRoutingTableBucketEvictsOldest(t *testing.T) {
	self := HashID("node-self")
	rt := NewRoutingTable(self)

	// Force all contacts into the same bucket: flipping self's top bit gives
	// PrefixLen(self^id) == 0, and the low-byte perturbations below leave
	// that top bit alone, so every contact lands in bucket 0.
	base := self
	base[0] ^= 0x80
	first := Contact{ID: base, Address: "http://first", LastSeen: time.Now().Add(-time.Hour)}
	rt.Insert(first)

	for i := 0; i < BucketSize; i++ {
		id := base
		id[len(id)-2] ^= byte(i + 1)
		rt.Insert(Contact{ID: id, Address: "http://extra", LastSeen: time.Now()})
	}

	if rt.Size() > BucketSize {
		t.Fatalf("bucket exceeded BucketSize: %d", rt.Size())
	}
	for _, c := range rt.All() {
		if c.ID == first.ID {
			t.Fatal("expected the least-recently-seen contact to be evicted")
		}
	}
}
