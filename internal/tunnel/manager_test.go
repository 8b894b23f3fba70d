package tunnel

import (
	"context"
	"os"
	"testing"
)

func TestCreateTunnelHonorsExternalOverride(t *testing.T) {
	os.Setenv("EXTERNAL_TUNNEL_URL", "https://example.trycloudflare.com")
	defer os.Unsetenv("EXTERNAL_TUNNEL_URL")

	m := NewManager("cloudflared")
	url, err := m.CreateTunnel(context.Background(), "http://localhost:8082")
	if err != nil {
		t.Fatalf("CreateTunnel: %v", err)
	}
	if url != "https://example.trycloudflare.com" {
		t.Fatalf("got %q", url)
	}
	if !m.IsHealthy() {
		t.Fatal("expected healthy after override")
	}
}

func TestCreateTunnelMissingBinaryIsTunnelUnavailable(t *testing.T) {
	os.Unsetenv("EXTERNAL_TUNNEL_URL")
	m := NewManager("definitely-not-a-real-binary-xyz")
	_, err := m.CreateTunnel(context.Background(), "http://localhost:8082")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestURLPatternMatchesCloudflareURL(t *testing.T) {
	line := "2026-07-30T12:00:00Z INF |  https://some-words-here.trycloudflare.com                                      |"
	if urlPattern.FindString(line) == "" {
		t.Fatal("expected to match a trycloudflare.com URL")
	}
}

func TestGetMetricsReflectsState(t *testing.T) {
	os.Setenv("EXTERNAL_TUNNEL_URL", "https://metrics-test.trycloudflare.com")
	defer os.Unsetenv("EXTERNAL_TUNNEL_URL")

	m := NewManager("cloudflared")
	_, _ = m.CreateTunnel(context.Background(), "http://localhost:8082")

	metrics := m.GetMetrics()
	if !metrics.Healthy || metrics.URL == "" {
		t.Fatalf("got %+v", metrics)
	}

	m.Stop()
	if m.IsHealthy() {
		t.Fatal("expected unhealthy after Stop")
	}
}
