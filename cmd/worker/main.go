// Command worker runs a fabric worker agent: it detects local hardware
// capabilities, optionally stands up a reverse tunnel, joins the DHT,
// registers and heartbeats with the coordinator, and serves its own
// /service/{type} endpoint plus forwarding for every other service type
// (spec §4.4/§6). Entry point structure adapted from
// cuemby-warren/cmd/warren/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleet/internal/agent"
	"github.com/dreamware/fleet/internal/config"
	"github.com/dreamware/fleet/internal/dht"
	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/router"
	"github.com/dreamware/fleet/internal/transport"
	"github.com/dreamware/fleet/internal/workerapi"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Run a fleet worker: capability detection, DHT membership, heartbeating, and request serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	cobra.OnInitialize(func() {})
	return root
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := logging.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = logging.DebugLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	}
	logging.Init(logging.Config{Level: level, JSONOutput: cfg.LogJSON})
	log := logging.WithComponent("worker")

	listenAddr := fmt.Sprintf("http://0.0.0.0:%d", cfg.ServicePort)
	serviceTypes := splitNonEmpty(cfg.ServiceTypesRaw)
	seeds := splitNonEmpty(cfg.DHTSeedsRaw)

	a := agent.New(agent.Config{
		WorkerID:          cfg.WorkerID,
		CoordinatorURL:    cfg.CoordinatorURL,
		ListenAddr:        listenAddr,
		WorkerType:        cfg.WorkerType,
		ServiceTypes:      serviceTypes,
		UseTunnel:         cfg.UseTunnel,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		DHTSeedAddresses:  seeds,
	}, nil)

	heartbeatLoop, err := a.Start(ctx)
	if err != nil {
		return err
	}

	lookup := dhtFirstLookup(a.DHTNode(), coordinatorLookup(cfg.CoordinatorURL))
	var local router.LocalDispatch
	for _, st := range serviceTypes {
		local = combineDispatch(local, workerapi.RouterWithHandler(st, unimplementedHandler))
	}
	r := router.New(lookup, local)

	server := &workerapi.Server{WorkerID: a.WorkerID(), Router: r, Tunnel: a.TunnelManager(), DHTNode: a.DHTNode()}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           server.HTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go heartbeatLoop(runCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Strs("service_types", serviceTypes).Msg("worker listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	a.Shutdown(shutdownCtx)
	return httpServer.Shutdown(shutdownCtx)
}

// dhtFirstLookup implements spec §4.6 step 3's discovery order: prefer the
// DHT when it returns anything, falling back to the coordinator registry
// only when the DHT comes up empty (or is unavailable).
func dhtFirstLookup(node *dht.Node, fallback router.ServiceLookup) router.ServiceLookup {
	return func(ctx context.Context, serviceType string) ([]fleet.WorkerRecord, error) {
		if node != nil {
			if workers, err := node.FindServiceWorkers(ctx, serviceType); err == nil && len(workers) > 0 {
				records := make([]fleet.WorkerRecord, 0, len(workers))
				for _, w := range workers {
					records = append(records, fleet.WorkerRecord{
						WorkerID:  w.WorkerID,
						Address:   w.Address,
						TunnelURL: w.TunnelURL,
						Load:      w.Load,
						Status:    fleet.StatusOnline,
					})
				}
				return records, nil
			}
		}
		return fallback(ctx, serviceType)
	}
}

// coordinatorLookup implements router.ServiceLookup against the
// coordinator's admin worker listing, filtering to workers that advertise
// serviceType in their capabilities. Used as dhtFirstLookup's fallback when
// the DHT has nothing for a service type.
func coordinatorLookup(coordinatorURL string) router.ServiceLookup {
	return func(ctx context.Context, serviceType string) ([]fleet.WorkerRecord, error) {
		var all []fleet.WorkerRecord
		if err := transport.GetJSON(ctx, coordinatorURL+"/api/admin/workers", &all); err != nil {
			return nil, err
		}
		matches := make([]fleet.WorkerRecord, 0, len(all))
		for _, w := range all {
			if w.Status != fleet.StatusOnline && w.Status != fleet.StatusDegraded {
				continue
			}
			for _, st := range w.Capabilities.ServiceTypes {
				if st == serviceType {
					matches = append(matches, w)
					break
				}
			}
		}
		return matches, nil
	}
}

// combineDispatch chains two LocalDispatch hooks, trying first before next.
func combineDispatch(first, next router.LocalDispatch) router.LocalDispatch {
	if first == nil {
		return next
	}
	return func(ctx context.Context, serviceType, path string, body []byte) ([]byte, bool, error) {
		if resp, ok, err := first(ctx, serviceType, path, body); ok {
			return resp, ok, err
		}
		return next(ctx, serviceType, path, body)
	}
}

// unimplementedHandler is the default local handler: it advertises the
// service type it was registered for but leaves the actual work to be
// wired in by whatever process hosts the real model or storage backend.
func unimplementedHandler(serviceType, path string, body []byte) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"service_type":%q,"path":%q,"status":"not_implemented"}`, serviceType, path)), nil
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
