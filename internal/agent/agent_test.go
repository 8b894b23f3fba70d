package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreamware/fleet/internal/dht"
)

func TestAgentStartRegistersWithCoordinator(t *testing.T) {
	registered := make(chan map[string]any, 1)
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path == "/api/worker/register" {
			registered <- body
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer coord.Close()

	a := New(Config{
		WorkerID:       "test-worker",
		CoordinatorURL: coord.URL,
		ListenAddr:     "http://127.0.0.1:9999",
		WorkerType:     "generic",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case body := <-registered:
		if body["worker_id"] != "test-worker" {
			t.Fatalf("got worker_id %v", body["worker_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected a registration call")
	}
}

func TestAgentAdoptsHeartbeatIntervalFromRegisterResponse(t *testing.T) {
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"heartbeat_interval": 45})
	}))
	defer coord.Close()

	a := New(Config{WorkerID: "w1", CoordinatorURL: coord.URL, ListenAddr: "http://127.0.0.1:9999"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := a.currentHeartbeatInterval(); got != 45*time.Second {
		t.Fatalf("heartbeat interval = %v, want 45s", got)
	}
}

func TestAgentPublishesWorkerAndServiceRecordsToDHT(t *testing.T) {
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer coord.Close()

	a := New(Config{
		WorkerID:       "w1",
		CoordinatorURL: coord.URL,
		ListenAddr:     "http://127.0.0.1:9999",
		ServiceTypes:   []string{"embeddings"},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	raw, err := a.DHTNode().Get(ctx, "worker:w1")
	if err != nil {
		t.Fatalf("expected own worker record to be published, got: %v", err)
	}
	var snap dht.WorkerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal worker snapshot: %v", err)
	}
	if snap.WorkerID != "w1" {
		t.Fatalf("got %+v", snap)
	}

	svcRaw, err := a.DHTNode().Get(ctx, "service:embeddings")
	if err != nil {
		t.Fatalf("expected service membership to be published, got: %v", err)
	}
	var members []string
	if err := json.Unmarshal(svcRaw, &members); err != nil {
		t.Fatalf("unmarshal members: %v", err)
	}
	if len(members) != 1 || members[0] != "w1" {
		t.Fatalf("got members %+v", members)
	}
}

func TestHeartbeatLoopReregistersAfterConsecutiveFailures(t *testing.T) {
	var registerCount int32
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/worker/register":
			atomic.AddInt32(&registerCount, 1)
			w.WriteHeader(http.StatusOK)
		case "/api/worker/heartbeat":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer coord.Close()

	a := New(Config{
		WorkerID:          "w1",
		CoordinatorURL:    coord.URL,
		ListenAddr:        "http://127.0.0.1:9999",
		HeartbeatInterval: 5 * time.Millisecond,
	}, nil)

	startCtx, startCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer startCancel()
	heartbeatLoop, err := a.Start(startCtx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	initialRegisterCount := atomic.LoadInt32(&registerCount)

	runCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	heartbeatLoop(runCtx)

	if atomic.LoadInt32(&registerCount) <= initialRegisterCount {
		t.Fatalf("expected at least one re-registration after repeated heartbeat failures, got %d total register calls", registerCount)
	}
}

func TestTunnelFailureDegradesRatherThanAborting(t *testing.T) {
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer coord.Close()

	a := New(Config{
		WorkerID:       "w1",
		CoordinatorURL: coord.URL,
		ListenAddr:     "http://127.0.0.1:9999",
		UseTunnel:      true,
		TunnelBinary:   "fleet-test-nonexistent-tunnel-binary",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := a.Start(ctx); err != nil {
		t.Fatalf("Start should degrade to direct-IP reachability rather than fail, got: %v", err)
	}
	if a.TunnelManager().GetTunnelURL() != "" {
		t.Fatalf("expected no tunnel URL after exhausted retries, got %q", a.TunnelManager().GetTunnelURL())
	}
}

func TestAgentGeneratesWorkerIDWhenEmpty(t *testing.T) {
	a := New(Config{CoordinatorURL: "http://unused"}, nil)
	if a.WorkerID() == "" {
		t.Fatal("expected a generated worker ID")
	}
}

func TestAgentShutdownUnregisters(t *testing.T) {
	unregistered := make(chan struct{}, 1)
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			unregistered <- struct{}{}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer coord.Close()

	a := New(Config{WorkerID: "w1", CoordinatorURL: coord.URL}, nil)
	a.Shutdown(context.Background())

	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("expected an unregister call during shutdown")
	}
}
