// Package dht implements the Kademlia-style distributed hash table that
// backs worker and service discovery (spec §4.1): 160-bit node IDs, XOR
// distance, k-buckets, iterative FIND_NODE/FIND_VALUE lookups, and
// replicated, TTL-expiring key storage under the "worker:<id>" and
// "service:<type>" namespaces. Transport is HTTP/JSON rather than raw UDP
// (see DESIGN.md for the rationale); the local value store adapts torua's
// storage.MemoryStore with a TTL dimension.
package dht

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dreamware/fleet/internal/fleeterr"
	"github.com/dreamware/fleet/internal/logging"
)

// DefaultTTL is the default lifetime for a stored record (spec §3).
const DefaultTTL = 300 * time.Second

// Alpha is the concurrency parameter for iterative lookups (Kademlia's
// usual value of 3).
const Alpha = 3

// Node is a single participant in the DHT: it owns a routing table, a local
// value store, and a client for talking to peers.
type Node struct {
	self         NodeID
	address      string
	routingTable *RoutingTable
	store        *Store
	client       *Client
}

// NewNode creates a DHT node identified by selfID and reachable at address.
func NewNode(selfID NodeID, address string) *Node {
	return &Node{
		self:         selfID,
		address:      address,
		routingTable: NewRoutingTable(selfID),
		store:        NewStore(),
		client:       NewClient(selfID, address),
	}
}

// ID returns the node's own 160-bit identifier.
func (n *Node) ID() NodeID { return n.self }

// Address returns the node's reachable base URL.
func (n *Node) Address() string { return n.address }

// RoutingTable exposes the node's routing table for diagnostics and tests.
func (n *Node) RoutingTable() *RoutingTable { return n.routingTable }

// Bootstrap seeds the routing table from a set of known peer addresses,
// then performs a self-lookup so the table converges toward its real
// neighbors (standard Kademlia bootstrap, spec §4.1 "seed list").
func (n *Node) Bootstrap(ctx context.Context, seedAddresses []string) error {
	var lastErr error
	seeded := false
	for _, addr := range seedAddresses {
		reply, err := n.client.Ping(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}
		id, err := parseNodeID(reply.NodeID)
		if err != nil {
			lastErr = err
			continue
		}
		n.routingTable.Insert(Contact{ID: id, Address: reply.Address, LastSeen: time.Now()})
		seeded = true
	}
	if !seeded && len(seedAddresses) > 0 {
		return fleeterr.Wrap(fleeterr.TransientNetwork, "could not reach any seed", lastErr)
	}
	if seeded {
		_, _ = n.iterativeFindNode(ctx, n.self)
	}
	return nil
}

// Put replicates value under key to the k nodes closest to HashID(key),
// including the local node if it is among them. TTL defaults to DefaultTTL
// when ttl <= 0.
func (n *Node) Put(ctx context.Context, key string, value []byte, ttl time.Duration, namespace string) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	target := HashID(key)
	targets, err := n.iterativeFindNode(ctx, target)
	if err != nil {
		return err
	}

	acks := 0
	total := len(targets)
	// The lookup never returns the local node, so it counts as one of the k
	// closest when fewer than k peers came back or it beats the farthest one.
	selfIsTarget := total < BucketSize ||
		Less(Distance(n.self, target), Distance(targets[total-1].ID, target))
	for _, c := range targets {
		if c.ID == n.self {
			selfIsTarget = true
			continue
		}
		if _, err := n.client.Store(ctx, c.Address, StorePayload{
			Key: key, Value: value, TTL: ttl, Namespace: namespace,
		}); err == nil {
			acks++
		}
	}
	if selfIsTarget {
		_ = n.store.PutTTL(key, value, ttl)
		acks++
		total++
	}

	if acks < (BucketSize/2) && acks < total {
		logging.WithComponent("dht.node").Warn().
			Str("key", key).Int("acks", acks).Msg("store under-replicated")
	}
	return nil
}

// Get performs an iterative FIND_VALUE lookup for key, querying the local
// store first.
func (n *Node) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := n.store.Get(key); err == nil {
		return value, nil
	}

	target := HashID(key)
	shortlist := n.routingTable.Closest(target, Alpha)
	queried := map[NodeID]bool{n.self: true}

	for len(shortlist) > 0 {
		c := shortlist[0]
		shortlist = shortlist[1:]
		if queried[c.ID] {
			continue
		}
		queried[c.ID] = true

		reply, err := n.client.FindValue(ctx, c.Address, key, target)
		if err != nil {
			continue
		}
		if reply.Found {
			return reply.Value, nil
		}
		for _, wc := range reply.Contacts {
			contact, err := fromWireContact(wc)
			if err != nil || queried[contact.ID] {
				continue
			}
			n.routingTable.Insert(contact)
			shortlist = append(shortlist, contact)
		}
	}
	return nil, fleeterr.New(fleeterr.ServiceNotFound, "key not found in dht: "+key)
}

// WorkerSnapshot is the decoded contents of a "worker:<id>" record, as
// published by a worker agent and consumed by FindServiceWorkers.
type WorkerSnapshot struct {
	WorkerID  string    `json:"worker_id"`
	Address   string    `json:"address"`
	TunnelURL string    `json:"tunnel_url,omitempty"`
	Load      float64   `json:"load"`
	LastSeen  time.Time `json:"last_seen"`
}

// FindServiceWorkers resolves the worker set currently advertising
// serviceType (spec §4.1): it reads "service:<type>" for the member worker
// IDs, then performs a parallel Get("worker:<id>") for each, dropping
// entries whose last_seen age exceeds DefaultTTL. A missing service record
// is not an error — it yields an empty slice, matching this package's
// best-effort Get semantics.
func (n *Node) FindServiceWorkers(ctx context.Context, serviceType string) ([]WorkerSnapshot, error) {
	raw, err := n.Get(ctx, "service:"+serviceType)
	if err != nil {
		return nil, nil
	}
	var workerIDs []string
	if err := json.Unmarshal(raw, &workerIDs); err != nil {
		return nil, err
	}

	type lookup struct {
		snap WorkerSnapshot
		ok   bool
	}
	results := make([]lookup, len(workerIDs))
	var wg sync.WaitGroup
	for i, id := range workerIDs {
		wg.Add(1)
		go func(i int, workerID string) {
			defer wg.Done()
			raw, err := n.Get(ctx, "worker:"+workerID)
			if err != nil {
				return
			}
			var snap WorkerSnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return
			}
			results[i] = lookup{snap: snap, ok: true}
		}(i, id)
	}
	wg.Wait()

	out := make([]WorkerSnapshot, 0, len(workerIDs))
	for _, r := range results {
		if !r.ok || time.Since(r.snap.LastSeen) > DefaultTTL {
			continue
		}
		out = append(out, r.snap)
	}
	return out, nil
}

// iterativeFindNode implements the standard Kademlia iterative lookup for
// the contacts closest to target, querying Alpha contacts at a time.
func (n *Node) iterativeFindNode(ctx context.Context, target NodeID) ([]Contact, error) {
	shortlist := n.routingTable.Closest(target, BucketSize)
	queried := map[NodeID]bool{n.self: true}
	improved := true

	for improved {
		improved = false
		toQuery := make([]Contact, 0, Alpha)
		for _, c := range shortlist {
			if !queried[c.ID] {
				toQuery = append(toQuery, c)
			}
			if len(toQuery) == Alpha {
				break
			}
		}
		if len(toQuery) == 0 {
			break
		}

		for _, c := range toQuery {
			queried[c.ID] = true
			contacts, err := n.client.FindNode(ctx, c.Address, target)
			if err != nil {
				continue
			}
			for _, nc := range contacts {
				if nc.ID == n.self || queried[nc.ID] {
					continue
				}
				n.routingTable.Insert(nc)
				shortlist = append(shortlist, nc)
				improved = true
			}
		}
		shortlist = closestN(shortlist, target, BucketSize)
	}
	return shortlist, nil
}

func closestN(contacts []Contact, target NodeID, n int) []Contact {
	seen := map[NodeID]bool{}
	unique := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		unique = append(unique, c)
	}
	for i := 1; i < len(unique); i++ {
		for j := i; j > 0 && Less(Distance(unique[j].ID, target), Distance(unique[j-1].ID, target)); j-- {
			unique[j], unique[j-1] = unique[j-1], unique[j]
		}
	}
	if len(unique) > n {
		unique = unique[:n]
	}
	return unique
}
