// Package readiness implements the one-shot readiness orchestrator from
// spec §4.7: poll the coordinator until a predicate over per-service-type
// worker counts is satisfied, then fire a callback exactly once (unless
// AllowRefire is set). Grounded on
// original_source/.../services/rag-orchestrator/orchestrator.py's polling
// loop; the Open Question over refire-on-every-transition is resolved in
// DESIGN.md in favor of spec.md's normative fire-once default.
package readiness

import (
	"context"
	"time"

	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/supervise"
)

// Predicate maps a service type to the minimum number of healthy workers
// required before that service is considered ready, e.g.
// {"llm-inference": 1, "embeddings": 1, "chromadb": 1} from spec §8 E6.
type Predicate map[string]int

// CountsProvider returns the current healthy worker count per service type.
type CountsProvider func(ctx context.Context) (map[string]int, error)

// Config configures an Orchestrator.
type Config struct {
	Predicate    Predicate
	PollInterval time.Duration
	// AllowRefire opts into the original's always-refire behavior: by
	// default (false) OnReady fires at most once for the process lifetime.
	AllowRefire bool
}

// Orchestrator polls until Config.Predicate is satisfied, then invokes
// OnReady.
type Orchestrator struct {
	cfg      Config
	counts   CountsProvider
	onReady  func(ctx context.Context)
	fired    bool
	wasReady bool
}

// New creates an Orchestrator. onReady is invoked (subject to AllowRefire)
// when counts reports every predicate entry satisfied.
func New(cfg Config, counts CountsProvider, onReady func(ctx context.Context)) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Orchestrator{cfg: cfg, counts: counts, onReady: onReady}
}

// Run polls until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	supervise.Run(ctx, "readiness.orchestrator", func(ctx context.Context) error {
		o.pollOnce(ctx)
		select {
		case <-time.After(o.cfg.PollInterval):
			return nil
		case <-ctx.Done():
			return nil
		}
	})
}

func (o *Orchestrator) pollOnce(ctx context.Context) {
	counts, err := o.counts(ctx)
	if err != nil {
		logging.WithComponent("readiness").Warn().Err(err).Msg("failed to poll worker counts")
		return
	}

	ready := satisfies(o.cfg.Predicate, counts)

	// Refire gate: without AllowRefire, OnReady fires at most once ever.
	// With AllowRefire, it fires on every false->true transition, matching
	// the original's ingestion_triggered reset on every false observation.
	if ready && (!o.fired || (o.cfg.AllowRefire && !o.wasReady)) {
		o.fired = true
		logging.WithComponent("readiness").Info().Msg("readiness predicate satisfied, firing callback")
		o.onReady(ctx)
	}
	o.wasReady = ready
}

func satisfies(pred Predicate, counts map[string]int) bool {
	for serviceType, min := range pred {
		if counts[serviceType] < min {
			return false
		}
	}
	return true
}
