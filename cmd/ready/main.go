// Command ready runs the standalone readiness orchestrator (spec §4.7): it
// polls the coordinator's worker roster until a per-service-type predicate
// is satisfied, then fires a webhook once (or on every transition, if
// configured). Entry point structure adapted from
// cuemby-warren/cmd/warren/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/fleet/internal/config"
	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/readiness"
	"github.com/dreamware/fleet/internal/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ready",
		Short: "Poll the coordinator until a service-readiness predicate is satisfied, then fire a webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	return root
}

func run(ctx context.Context) error {
	cfg, err := config.LoadReadiness()
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
	log := logging.WithComponent("ready")

	predicate, err := loadPredicate(cfg.PredicateFile)
	if err != nil {
		return fmt.Errorf("load predicate: %w", err)
	}

	orch := readiness.New(readiness.Config{
		Predicate:    predicate,
		PollInterval: time.Duration(cfg.PollIntervalS) * time.Second,
		AllowRefire:  cfg.AllowRefire,
	}, coordinatorCounts(cfg.CoordinatorURL), fireWebhook(cfg.WebhookURL))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		orch.Run(runCtx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()
	<-done
	return nil
}

func loadPredicate(path string) (readiness.Predicate, error) {
	if path == "" {
		return readiness.Predicate{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pred readiness.Predicate
	if err := yaml.Unmarshal(data, &pred); err != nil {
		return nil, err
	}
	return pred, nil
}

// coordinatorCounts implements readiness.CountsProvider against the
// coordinator's admin worker listing, tallying online workers per
// advertised service type.
func coordinatorCounts(coordinatorURL string) readiness.CountsProvider {
	return func(ctx context.Context) (map[string]int, error) {
		var workers []fleet.WorkerRecord
		if err := transport.GetJSON(ctx, coordinatorURL+"/api/admin/workers", &workers); err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, w := range workers {
			if w.Status != fleet.StatusOnline {
				continue
			}
			for _, st := range w.Capabilities.ServiceTypes {
				counts[st]++
			}
		}
		return counts, nil
	}
}

// fireWebhook POSTs {"status":"ready"} to webhookURL when the
// predicate is satisfied; a blank webhookURL just logs.
func fireWebhook(webhookURL string) func(ctx context.Context) {
	return func(ctx context.Context) {
		log := logging.WithComponent("ready")
		if webhookURL == "" {
			log.Info().Msg("predicate satisfied (no webhook configured)")
			return
		}
		if err := transport.PostJSON(ctx, webhookURL, map[string]any{"status": "ready"}, nil); err != nil {
			log.Warn().Err(err).Msg("webhook call failed")
		}
	}
}
