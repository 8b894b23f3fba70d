package dht

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/fleet/internal/supervise"
)

// republishEntry is a value this node is responsible for keeping alive in
// the DHT by re-issuing Put before its TTL expires.
type republishEntry struct {
	value     []byte
	ttl       time.Duration
	namespace string
}

// Republisher re-stores owned keys at ttl/3 intervals, per spec §4.1.
type Republisher struct {
	node *Node

	mu      sync.Mutex
	owned   map[string]republishEntry
}

// NewRepublisher creates a Republisher for node.
func NewRepublisher(node *Node) *Republisher {
	return &Republisher{node: node, owned: make(map[string]republishEntry)}
}

// Own registers key as one this node must keep republishing, and performs
// the initial Put.
func (r *Republisher) Own(ctx context.Context, key string, value []byte, ttl time.Duration, namespace string) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r.mu.Lock()
	r.owned[key] = republishEntry{value: value, ttl: ttl, namespace: namespace}
	r.mu.Unlock()
	return r.node.Put(ctx, key, value, ttl, namespace)
}

// Forget stops republishing key.
func (r *Republisher) Forget(key string) {
	r.mu.Lock()
	delete(r.owned, key)
	r.mu.Unlock()
}

// Run starts the republish loop under supervise.Run, firing once every
// min(DefaultTTL, shortest owned TTL)/3 (recomputed each tick, so
// DefaultTTL/3 when nothing is owned yet).
func (r *Republisher) Run(ctx context.Context) {
	supervise.Run(ctx, "dht.republish", func(ctx context.Context) error {
		interval := r.nextInterval()
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
		r.republishAll(ctx)
		return nil
	})
}

func (r *Republisher) nextInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	shortest := DefaultTTL
	for _, e := range r.owned {
		if e.ttl < shortest {
			shortest = e.ttl
		}
	}
	return shortest / 3
}

func (r *Republisher) republishAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[string]republishEntry, len(r.owned))
	for k, v := range r.owned {
		snapshot[k] = v
	}
	r.mu.Unlock()

	for key, entry := range snapshot {
		_ = r.node.Put(ctx, key, entry.value, entry.ttl, entry.namespace)
	}
}
