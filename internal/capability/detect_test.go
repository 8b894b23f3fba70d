package capability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectReportsCPUCores(t *testing.T) {
	caps, err := Detect(context.Background(), Options{WorkerType: "gpu", ServiceTypes: []string{"llm-inference"}})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if caps.CPUCores <= 0 {
		t.Fatalf("CPUCores = %d, want > 0", caps.CPUCores)
	}
	if caps.WorkerType != "gpu" {
		t.Fatalf("WorkerType = %q", caps.WorkerType)
	}
}

func TestDetectGPUAbsentBinaryFallsBackGracefully(t *testing.T) {
	caps, err := Detect(context.Background(), Options{GPUProbeCommand: "definitely-not-a-real-binary"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if caps.HasGPU {
		t.Fatal("expected HasGPU=false when the GPU probe binary is missing")
	}
	if caps.GPUMemoryMB != nil {
		t.Fatal("expected GPUMemoryMB to be nil alongside HasGPU=false")
	}
	// Validate the invariant holds for whatever Detect produces.
	if err := caps.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDetectPublicIPSkipped(t *testing.T) {
	if ip := DetectPublicIP(context.Background(), true); ip != "" {
		t.Fatalf("expected empty IP when skipped, got %q", ip)
	}
}

func TestProbeIPReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.5\n"))
	}))
	defer srv.Close()

	ip, err := probeIP(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("probeIP: %v", err)
	}
	if ip != "203.0.113.5" {
		t.Fatalf("got %q", ip)
	}
}
