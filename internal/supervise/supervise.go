// Package supervise provides the restart-with-backoff wrapper used for
// every long-lived background loop in the fabric: the DHT republish timer,
// the worker heartbeat loop, and the coordinator's health monitor. The
// pattern generalizes torua's HealthMonitor.Start/Stop ticker lifecycle
// (internal/coordinator/health_monitor.go) into a single reusable helper,
// per spec §9 ("background loops -> supervised tasks").
package supervise

import (
	"context"
	"fmt"
	"time"

	"github.com/dreamware/fleet/internal/logging"
)

// MinBackoff and MaxBackoff bound the restart delay after a failing run of
// the supervised function (spec §5: min 1s, max 60s).
const (
	MinBackoff = 1 * time.Second
	MaxBackoff = 60 * time.Second
)

// Func is a supervised unit of work. A nil return while ctx is still live
// makes Run call it again at once; an error or a panic (which Run recovers)
// makes Run call it again after an exponential backoff.
type Func func(ctx context.Context) error

// Run executes fn repeatedly until ctx is canceled, applying exponential
// backoff between failing restarts. It returns when ctx is canceled.
func Run(ctx context.Context, name string, fn Func) {
	log := logging.WithComponent(name)
	backoff := MinBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := runOnce(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = MinBackoff
			continue
		}

		log.Error().Err(err).Dur("backoff", backoff).Msg("supervised task failed, restarting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}

func runOnce(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
