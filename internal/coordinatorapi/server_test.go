package coordinatorapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/registry"
)

func gpu(mb int) *int { return &mb }

func newTestServer() (*Server, *httptest.Server) {
	s := &Server{Registry: registry.New()}
	srv := httptest.NewServer(s.Router())
	return s, srv
}

func TestHandleRegisterAndHealth(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	body, _ := json.Marshal(registerRequest{
		WorkerID: "w1", Address: "http://w1:9000",
		Capabilities: fleet.Capabilities{HasGPU: true, GPUMemoryMB: gpu(8000), ServiceTypes: []string{"llm-inference"}},
	})
	resp, err := http.Post(srv.URL+"/api/worker/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	healthResp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer healthResp.Body.Close()
	var h healthResponse
	json.NewDecoder(healthResp.Body).Decode(&h)
	if h.Workers.Total != 1 {
		t.Fatalf("Workers.Total = %d, want 1", h.Workers.Total)
	}
	if h.Workers.ByTier["tier1"] != 1 {
		t.Fatalf("ByTier = %+v", h.Workers.ByTier)
	}
}

func TestHandleRegisterReturnsHeartbeatInterval(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	body, _ := json.Marshal(registerRequest{WorkerID: "w1"})
	resp, err := http.Post(srv.URL+"/api/worker/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	var rec fleet.WorkerRecord
	json.NewDecoder(resp.Body).Decode(&rec)
	if rec.HeartbeatIntervalS != registry.DefaultHeartbeatIntervalS {
		t.Fatalf("HeartbeatIntervalS = %d, want %d", rec.HeartbeatIntervalS, registry.DefaultHeartbeatIntervalS)
	}
}

func TestHandleHeartbeatAppliesTelemetry(t *testing.T) {
	s, srv := newTestServer()
	defer srv.Close()
	_, _ = s.Registry.Register(fleet.WorkerRecord{WorkerID: "w1", Capabilities: fleet.Capabilities{}})

	body, _ := json.Marshal(heartbeatRequest{WorkerID: "w1", Load: 0.3, AvailableMemoryGB: 4.5, ActiveRequests: 1})
	resp, err := http.Post(srv.URL+"/api/worker/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	rec, _ := s.Registry.Get("w1")
	if rec.AvailableMemoryGB != 4.5 || rec.ActiveRequests != 1 {
		t.Fatalf("telemetry not applied: %+v", rec)
	}
}

func TestHandleHeartbeatUnknownWorker404(t *testing.T) {
	_, srv := newTestServer()
	defer srv.Close()

	body, _ := json.Marshal(heartbeatRequest{WorkerID: "ghost", Load: 0.1})
	resp, err := http.Post(srv.URL+"/api/worker/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleListWorkers(t *testing.T) {
	s, srv := newTestServer()
	defer srv.Close()
	_, _ = s.Registry.Register(fleet.WorkerRecord{WorkerID: "w1", Capabilities: fleet.Capabilities{}})

	resp, err := http.Get(srv.URL + "/api/admin/workers")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var workers []fleet.WorkerRecord
	json.NewDecoder(resp.Body).Decode(&workers)
	if len(workers) != 1 {
		t.Fatalf("len(workers) = %d, want 1", len(workers))
	}
}

func TestAuthTokenRejectsMissingAuth(t *testing.T) {
	s := &Server{Registry: registry.New(), AuthToken: "secret"}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body, _ := json.Marshal(registerRequest{WorkerID: "w1"})
	resp, err := http.Post(srv.URL+"/api/worker/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
