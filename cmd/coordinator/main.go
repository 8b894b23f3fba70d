// Command coordinator runs the fabric's coordinator: the worker registry,
// health monitor, and DHT bootstrap node, exposed over HTTP (spec §4.5/§6).
// Entry point structure (root command, persistent flags,
// cobra.OnInitialize(initLogging)) adapted from
// cuemby-warren/cmd/warren/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleet/internal/coordinatorapi"
	"github.com/dreamware/fleet/internal/dht"
	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/registry"
)

var (
	logLevel  string
	logJSON   bool
	listenAddr string
	healthCheckIntervalS int
	authToken string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the fleet coordinator: worker registry, health monitor, and DHT bootstrap node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	root.Flags().StringVar(&listenAddr, "listen", envOr("COORDINATOR_ADDR", ":8080"), "address to listen on")
	root.Flags().IntVar(&healthCheckIntervalS, "health-check-interval", 5, "heartbeat interval in seconds assigned to workers; the health monitor scans at this period and marks workers degraded/offline after 2x/4x of it")
	root.Flags().StringVar(&authToken, "auth-token", os.Getenv("FLEET_AUTH_TOKEN"), "shared bearer token required on worker endpoints (empty disables auth)")

	cobra.OnInitialize(initLogging)
	return root
}

func initLogging() {
	level := logging.InfoLevel
	switch logLevel {
	case "debug":
		level = logging.DebugLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	}
	logging.Init(logging.Config{Level: level, JSONOutput: logJSON})
}

func run(ctx context.Context) error {
	log := logging.WithComponent("coordinator")

	reg := registry.New()
	selfID := dht.HashID("coordinator-bootstrap")
	node := dht.NewNode(selfID, "http://"+trimAddr(listenAddr))

	reg.SetHeartbeatInterval(time.Duration(healthCheckIntervalS) * time.Second)
	hm := registry.NewHealthMonitor(reg, time.Duration(healthCheckIntervalS)*time.Second)

	server := &coordinatorapi.Server{Registry: reg, DHTNode: node, AuthToken: authToken}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hm.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listenAddr).Msg("coordinator listening")
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
	return httpServer.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func trimAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
