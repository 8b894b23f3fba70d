// Package agent implements the worker-side startup/heartbeat/shutdown
// orchestration from spec §4.4: detect capabilities, optionally stand up a
// tunnel, join the DHT, register with the coordinator, then loop heartbeats
// until shutdown. Adapted from torua's cmd/node/main.go register-with-retry
// sequence, generalized into an Agent type so cmd/worker stays a thin cobra
// entry point.
package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/fleet/internal/capability"
	"github.com/dreamware/fleet/internal/dht"
	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/fleeterr"
	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/supervise"
	"github.com/dreamware/fleet/internal/transport"
	"github.com/dreamware/fleet/internal/tunnel"
)

// registrationRetries/registrationBackoff mirror cmd/node/main.go's
// register-with-retry loop, tightened to the bound spec §4.4 step 3 gives
// ("retry <= 5 with 5s backoff; terminal failure is fatal").
const (
	registrationRetries = 5
	registrationBackoff = 5 * time.Second
)

// tunnelRetries/tunnelBackoff implement spec §4.4 step 2: retry <= 3 with
// 5s backoff, degrading to direct-IP reachability rather than aborting on
// exhaustion.
const (
	tunnelRetries = 3
	tunnelBackoff = 5 * time.Second
)

// maxConsecutiveHeartbeatFailures is spec §4.4 step 5's N: after this many
// heartbeats in a row fail, the agent re-registers instead of just logging.
const maxConsecutiveHeartbeatFailures = 5

// defaultHeartbeatInterval is used when neither Config.HeartbeatInterval nor
// a register response sets an interval.
const defaultHeartbeatInterval = 10 * time.Second

// Config configures an Agent.
type Config struct {
	WorkerID          string
	CoordinatorURL    string
	ListenAddr        string // this worker's own reachable address
	WorkerType        string
	ServiceTypes      []string
	UseTunnel         bool
	TunnelBinary      string
	HeartbeatInterval time.Duration
	DHTSeedAddresses  []string

	// ServiceCommands maps a declared service type to the subprocess that
	// should be launched and supervised locally for it (spec §4.4 "service
	// supervision"). A service type with no entry is assumed to be served
	// in-process by the worker binary itself.
	ServiceCommands map[string]ServiceCommand
}

// Agent owns one worker's lifecycle.
type Agent struct {
	cfg         Config
	workerID    string
	caps        fleet.Capabilities
	tunnelMgr   *tunnel.Manager
	tunnelURL   string
	dhtNode     *dht.Node
	republisher *dht.Republisher
	loadFn      func() float64

	intervalMu        sync.Mutex
	heartbeatInterval time.Duration

	supervisors []*serviceSupervisor
}

// New creates an Agent from cfg. If cfg.WorkerID is empty, a uuid is
// generated, matching the fallback in cmd/node/main.go's ID handling.
func New(cfg Config, loadFn func() float64) *Agent {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	if loadFn == nil {
		loadFn = func() float64 { return 0 }
	}
	return &Agent{
		cfg:               cfg,
		workerID:          workerID,
		loadFn:            loadFn,
		heartbeatInterval: cfg.HeartbeatInterval,
	}
}

// WorkerID returns the agent's resolved worker ID.
func (a *Agent) WorkerID() string { return a.workerID }

// DHTNode returns the agent's joined DHT node, valid after Start.
func (a *Agent) DHTNode() *dht.Node { return a.dhtNode }

// TunnelManager returns the agent's tunnel manager, or nil if tunneling is
// disabled.
func (a *Agent) TunnelManager() *tunnel.Manager { return a.tunnelMgr }

// Start performs the startup sequence from spec §4.4: detect capabilities,
// optionally create a tunnel (retrying before degrading), join the DHT,
// register with the coordinator, publish this worker's records to the DHT,
// launch any assigned service subprocesses, and return the heartbeat loop
// (which runs itself under supervise.Run; the caller starts it alongside
// the HTTP server).
func (a *Agent) Start(ctx context.Context) (heartbeatLoop func(context.Context), err error) {
	log := logging.WithWorkerID(a.workerID)

	caps, err := capability.Detect(ctx, capability.Options{
		WorkerType:   a.cfg.WorkerType,
		ServiceTypes: a.cfg.ServiceTypes,
	})
	if err != nil {
		return nil, fleeterr.Wrap(fleeterr.CapabilityFatal, "capability detection failed", err)
	}
	a.caps = caps
	log.Info().Interface("capabilities", caps).Msg("detected capabilities")

	if a.cfg.UseTunnel {
		a.tunnelMgr = tunnel.NewManager(a.cfg.TunnelBinary)
		url, err := a.createTunnelWithRetry(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("tunnel unavailable after retries, degrading to direct-IP reachability")
		} else {
			a.tunnelURL = url
			log.Info().Str("tunnel_url", url).Msg("tunnel established")
		}
	}

	selfID := dht.HashID(a.workerID)
	a.dhtNode = dht.NewNode(selfID, a.cfg.ListenAddr)
	a.republisher = dht.NewRepublisher(a.dhtNode)
	if err := a.dhtNode.Bootstrap(ctx, a.cfg.DHTSeedAddresses); err != nil {
		log.Warn().Err(err).Msg("dht bootstrap incomplete, continuing with empty routing table")
	}

	if err := a.register(ctx); err != nil {
		return nil, err
	}

	a.publishToDHT(ctx)
	a.startServiceSupervisors()

	return a.heartbeatLoop, nil
}

// createTunnelWithRetry retries tunnel creation up to tunnelRetries times,
// spec §4.4 step 2 ("retry <= 3 with 5s backoff").
func (a *Agent) createTunnelWithRetry(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < tunnelRetries; attempt++ {
		url, err := a.tunnelMgr.CreateTunnel(ctx, a.cfg.ListenAddr)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if attempt == tunnelRetries-1 {
			break
		}
		select {
		case <-time.After(tunnelBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

type registerResponse struct {
	HeartbeatIntervalS int `json:"heartbeat_interval"`
}

func (a *Agent) register(ctx context.Context) error {
	req := map[string]any{
		"worker_id":    a.workerID,
		"address":      a.cfg.ListenAddr,
		"tunnel_url":   a.tunnelURL,
		"capabilities": a.caps,
	}

	var lastErr error
	for attempt := 0; attempt < registrationRetries; attempt++ {
		var resp registerResponse
		err := transport.PostJSON(ctx, a.cfg.CoordinatorURL+"/api/worker/register", req, &resp)
		if err == nil {
			a.adoptHeartbeatInterval(resp.HeartbeatIntervalS)
			return nil
		}
		lastErr = err
		select {
		case <-time.After(registrationBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fleeterr.Wrap(fleeterr.RegistrationFatal, "could not register with coordinator", lastErr)
}

// publishToDHT performs spec §4.4 step 4's publish half: store this
// worker's own "worker:<id>" record and add it to "service:<svc>" for each
// declared service type, then keep both fresh via the republish timer
// (spec §4.1, re-store at ttl/3).
func (a *Agent) publishToDHT(ctx context.Context) {
	log := logging.WithWorkerID(a.workerID)

	snap := dht.WorkerSnapshot{
		WorkerID:  a.workerID,
		Address:   a.cfg.ListenAddr,
		TunnelURL: a.tunnelURL,
		Load:      a.loadFn(),
		LastSeen:  time.Now(),
	}
	value, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Msg("could not marshal worker snapshot")
	} else if err := a.republisher.Own(ctx, "worker:"+a.workerID, value, dht.DefaultTTL, string(fleet.NamespaceWorker)); err != nil {
		log.Warn().Err(err).Msg("dht worker publish failed")
	}

	for _, svc := range a.caps.ServiceTypes {
		key := "service:" + svc
		members := a.addSelfToServiceMembers(ctx, key)
		value, err := json.Marshal(members)
		if err != nil {
			continue
		}
		if err := a.republisher.Own(ctx, key, value, dht.DefaultTTL, string(fleet.NamespaceService)); err != nil {
			log.Warn().Err(err).Str("service_type", svc).Msg("dht service publish failed")
		}
	}

	go a.republisher.Run(ctx)
}

// addSelfToServiceMembers reads the current "service:<type>" member list
// and returns it with this worker ID present, read-merge-write style so
// concurrent publishers don't clobber each other's membership.
func (a *Agent) addSelfToServiceMembers(ctx context.Context, key string) []string {
	var members []string
	if existing, err := a.dhtNode.Get(ctx, key); err == nil {
		_ = json.Unmarshal(existing, &members)
	}
	for _, m := range members {
		if m == a.workerID {
			return members
		}
	}
	return append(members, a.workerID)
}

func (a *Agent) adoptHeartbeatInterval(seconds int) {
	if seconds <= 0 {
		return
	}
	a.intervalMu.Lock()
	a.heartbeatInterval = time.Duration(seconds) * time.Second
	a.intervalMu.Unlock()
}

func (a *Agent) currentHeartbeatInterval() time.Duration {
	a.intervalMu.Lock()
	interval := a.heartbeatInterval
	a.intervalMu.Unlock()
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return interval
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	consecutiveFailures := 0
	supervise.Run(ctx, "agent.heartbeat", func(ctx context.Context) error {
		req := map[string]any{
			"worker_id":    a.workerID,
			"current_load": a.loadFn(),
		}
		if health := a.serviceHealth(); health != nil {
			req["services_status"] = health
		}
		if err := transport.PostJSON(ctx, a.cfg.CoordinatorURL+"/api/worker/heartbeat", req, nil); err != nil {
			consecutiveFailures++
			logging.WithWorkerID(a.workerID).Warn().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("heartbeat failed")
			if consecutiveFailures >= maxConsecutiveHeartbeatFailures {
				if regErr := a.register(ctx); regErr != nil {
					logging.WithWorkerID(a.workerID).Error().Err(regErr).Msg("re-registration after heartbeat failures also failed")
				} else {
					consecutiveFailures = 0
				}
			}
		} else {
			consecutiveFailures = 0
		}

		select {
		case <-time.After(a.currentHeartbeatInterval()):
			return nil
		case <-ctx.Done():
			return nil
		}
	})
}

// Shutdown stops service subprocesses, unregisters the worker from the
// coordinator, and stops the tunnel, in that order (spec §4.4 shutdown
// sequence).
func (a *Agent) Shutdown(ctx context.Context) {
	log := logging.WithWorkerID(a.workerID)

	a.stopServiceSupervisors(ctx)

	if err := transport.DeleteJSON(ctx, a.cfg.CoordinatorURL+"/api/worker/unregister/"+a.workerID, nil); err != nil {
		log.Warn().Err(err).Msg("unregister failed during shutdown")
	}
	if a.tunnelMgr != nil {
		a.tunnelMgr.Stop()
	}
}
