package dht

import (
	"context"
	"testing"
	"time"
)

func TestRepublisherOwnStoresLocally(t *testing.T) {
	n, _ := newTestNode(t, "solo-node")
	r := NewRepublisher(n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Own(ctx, "worker:solo", []byte("v"), time.Minute, "worker"); err != nil {
		t.Fatalf("Own: %v", err)
	}
	got, err := n.store.Get("worker:solo")
	if err != nil {
		t.Fatalf("expected local store to have the key: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q", got)
	}
}

func TestRepublisherForgetStopsTracking(t *testing.T) {
	n, _ := newTestNode(t, "solo-node-2")
	r := NewRepublisher(n)
	ctx := context.Background()

	_ = r.Own(ctx, "worker:x", []byte("v"), time.Minute, "worker")
	r.Forget("worker:x")

	r.mu.Lock()
	_, tracked := r.owned["worker:x"]
	r.mu.Unlock()
	if tracked {
		t.Fatal("expected key to no longer be tracked after Forget")
	}
}
