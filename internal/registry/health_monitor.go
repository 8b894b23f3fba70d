package registry

import (
	"context"
	"time"

	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/supervise"
)

// HealthMonitor periodically scans the registry's worker last_seen
// timestamps and drives the lifecycle transitions from spec §3:
// online -> degraded (missed 2 heartbeats) -> offline (missed 4) ->
// evicted (5 minutes with no heartbeat). Adapted from torua's
// HealthMonitor (ticker loop, onTransition callback, SetCheckFunction
// testability hook) with the check mechanism itself replaced: age-of-
// last_seen rather than consecutive HTTP probe failures, since this spec's
// liveness signal is the worker's own heartbeat, not a coordinator-initiated
// probe.
type HealthMonitor struct {
	registry         *Registry
	heartbeatInterval time.Duration
	evictAfter        time.Duration
	scanInterval      time.Duration
	onTransition      func(workerID string, from, to fleet.Status)

	now func() time.Time // overridable for tests
}

// NewHealthMonitor creates a monitor for registry, deriving its degraded/
// offline thresholds from heartbeatInterval (2x / 4x) and using the fixed
// 5-minute eviction grace period from spec §3.
func NewHealthMonitor(registry *Registry, heartbeatInterval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		registry:          registry,
		heartbeatInterval: heartbeatInterval,
		evictAfter:        5 * time.Minute,
		scanInterval:       heartbeatInterval,
		now:               time.Now,
	}
}

// SetOnTransition registers a callback invoked whenever a worker's status
// changes, e.g. to trigger router finger-cache invalidation.
func (h *HealthMonitor) SetOnTransition(fn func(workerID string, from, to fleet.Status)) {
	h.onTransition = fn
}

// Run starts the scan loop under supervise.Run, blocking until ctx is
// canceled.
func (h *HealthMonitor) Run(ctx context.Context) {
	supervise.Run(ctx, "registry.health_monitor", func(ctx context.Context) error {
		h.scanOnce()
		select {
		case <-time.After(h.scanInterval):
			return nil
		case <-ctx.Done():
			return nil
		}
	})
}

func (h *HealthMonitor) scanOnce() {
	now := h.now()
	for _, w := range h.registry.snapshotForHealthCheck() {
		age := now.Sub(w.LastSeen)
		next := h.nextStatus(w.Status, age)
		if next == w.Status {
			continue
		}

		if next == statusEvictedSentinel {
			h.registry.evict(w.WorkerID)
			h.notify(w.WorkerID, w.Status, fleet.StatusEvicted)
			continue
		}

		h.registry.setStatus(w.WorkerID, next)
		h.notify(w.WorkerID, w.Status, next)
	}
}

// statusEvictedSentinel lets nextStatus signal "evict" distinctly from
// "set status to evicted", since eviction removes the record rather than
// updating it in place.
const statusEvictedSentinel = fleet.StatusEvicted

func (h *HealthMonitor) nextStatus(current fleet.Status, age time.Duration) fleet.Status {
	switch {
	case age >= h.evictAfter:
		return fleet.StatusEvicted
	case age >= 4*h.heartbeatInterval:
		return fleet.StatusOffline
	case age >= 2*h.heartbeatInterval:
		return fleet.StatusDegraded
	default:
		return fleet.StatusOnline
	}
}

func (h *HealthMonitor) notify(workerID string, from, to fleet.Status) {
	logging.WithComponent("registry.health_monitor").Info().
		Str("worker_id", workerID).Str("from", string(from)).Str("to", string(to)).
		Msg("worker status transition")
	if h.onTransition != nil {
		go h.onTransition(workerID, from, to)
	}
}
