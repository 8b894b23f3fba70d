// Package registry implements the coordinator-side worker registry (spec
// §4.5): bookkeeping of registered workers, capability-based service
// lookup, and time-based liveness tracking. The map/RWMutex/copy-on-read
// structure is adapted from torua's ShardRegistry
// (internal/coordinator/shard_registry.go); the health-monitor mechanism is
// adapted from HealthMonitor, generalized from a consecutive-failure
// counter to the time-based last_seen-age thresholds this spec requires.
package registry

import (
	"sync"
	"time"

	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/fleeterr"
)

// DefaultHeartbeatIntervalS is the heartbeat interval assigned to newly
// registered workers when the coordinator has not been configured with a
// different value (spec §4.4 step 5: "default 30s").
const DefaultHeartbeatIntervalS = 30

// Registry holds the authoritative, in-memory view of every worker that
// has registered with the coordinator. Persisted state: none (spec §6) —
// the registry is rebuilt entirely from re-registration after a restart.
type Registry struct {
	mu                 sync.RWMutex
	workers            map[string]*fleet.WorkerRecord
	heartbeatIntervalS int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		workers:            make(map[string]*fleet.WorkerRecord),
		heartbeatIntervalS: DefaultHeartbeatIntervalS,
	}
}

// SetHeartbeatInterval overrides the interval assigned to workers on
// register; d <= 0 is ignored.
func (r *Registry) SetHeartbeatInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeatIntervalS = int(d.Seconds())
}

// Register records a new worker or replaces an existing record for the
// same worker_id (re-registration after a restart), assigning its tier
// from its capabilities.
func (r *Registry) Register(rec fleet.WorkerRecord) (fleet.WorkerRecord, error) {
	if err := rec.Capabilities.Validate(); err != nil {
		return fleet.WorkerRecord{}, fleeterr.Wrap(fleeterr.RegistrationFatal, "invalid capabilities", err)
	}
	rec.Tier = fleet.AssignTier(rec.Capabilities)
	rec.Status = fleet.StatusOnline
	now := time.Now()
	rec.RegisteredAt = now
	rec.LastSeen = now

	r.mu.Lock()
	rec.HeartbeatIntervalS = r.heartbeatIntervalS
	r.workers[rec.WorkerID] = &rec
	r.mu.Unlock()

	return rec, nil
}

// Heartbeat refreshes last_seen and the reported telemetry for an existing
// worker, reviving it to online status if it had been marked degraded or
// offline. Returns fleeterr.ErrNotRegistered if the worker is unknown.
func (r *Registry) Heartbeat(workerID string, update fleet.HeartbeatUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return fleeterr.ErrNotRegistered
	}
	w.LastSeen = time.Now()
	w.Load = update.Load
	w.AvailableMemoryGB = update.AvailableMemoryGB
	w.ActiveRequests = update.ActiveRequests
	w.GPUUtilization = update.GPUUtilization
	w.GPUMemoryUsedMB = update.GPUMemoryUsedMB
	if update.LoadedModels != nil {
		w.LoadedModels = update.LoadedModels
	}
	if update.ServicesStatus != nil {
		w.ServicesStatus = update.ServicesStatus
	}
	if w.Status == fleet.StatusDegraded || w.Status == fleet.StatusOffline {
		w.Status = fleet.StatusOnline
	}
	return nil
}

// Unregister removes a worker entirely (graceful shutdown path).
func (r *Registry) Unregister(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[workerID]; !ok {
		return fleeterr.ErrNotRegistered
	}
	delete(r.workers, workerID)
	return nil
}

// Get returns a copy of the worker record for workerID.
func (r *Registry) Get(workerID string) (fleet.WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	if !ok {
		return fleet.WorkerRecord{}, false
	}
	return *w, true
}

// ListWorkers returns a snapshot of every registered worker.
func (r *Registry) ListWorkers() []fleet.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]fleet.WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	return out
}

// FindWorkersForService returns every online worker advertising serviceType
// among its capabilities' service_types (spec §4.5; invariant #3 requires
// the router never be handed a non-online worker).
func (r *Registry) FindWorkersForService(serviceType string) []fleet.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []fleet.WorkerRecord
	for _, w := range r.workers {
		if w.Status != fleet.StatusOnline {
			continue
		}
		for _, st := range w.Capabilities.ServiceTypes {
			if st == serviceType {
				out = append(out, *w)
				break
			}
		}
	}
	return out
}

// GetWorkerCount returns the total number of registered (non-evicted)
// workers.
func (r *Registry) GetWorkerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, w := range r.workers {
		if w.Status != fleet.StatusEvicted {
			n++
		}
	}
	return n
}

// GetWorkerCountByTier returns the count of non-evicted workers per tier.
func (r *Registry) GetWorkerCountByTier() map[fleet.Tier]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[fleet.Tier]int)
	for _, w := range r.workers {
		if w.Status == fleet.StatusEvicted {
			continue
		}
		counts[w.Tier]++
	}
	return counts
}

// GetHealthyWorkerCount returns the number of workers currently online.
func (r *Registry) GetHealthyWorkerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, w := range r.workers {
		if w.Status == fleet.StatusOnline {
			n++
		}
	}
	return n
}

// setStatus is used internally by the health monitor to transition a
// worker's lifecycle state, and by tests.
func (r *Registry) setStatus(workerID string, status fleet.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Status = status
	}
}

// evict removes a worker whose offline grace period has elapsed.
func (r *Registry) evict(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
}

// snapshotForHealthCheck returns (workerID, lastSeen, status) tuples for
// every registered worker, used by HealthMonitor without exposing the
// internal map.
func (r *Registry) snapshotForHealthCheck() []workerLiveness {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]workerLiveness, 0, len(r.workers))
	for id, w := range r.workers {
		out = append(out, workerLiveness{WorkerID: id, LastSeen: w.LastSeen, Status: w.Status})
	}
	return out
}

type workerLiveness struct {
	WorkerID string
	LastSeen time.Time
	Status   fleet.Status
}
