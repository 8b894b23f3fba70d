package dht

import (
	"testing"
	"time"

	"github.com/dreamware/fleet/internal/storage"
)

func TestStorePutGet(t *testing.T) {
	s := NewStore()
	if err := s.PutTTL("worker:abc", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("PutTTL: %v", err)
	}
	got, err := s.Get("worker:abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore()
	_ = s.PutTTL("service:llm", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := s.Get("service:llm"); err != storage.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after expiry, got %v", err)
	}
}

func TestStoreSweepReclaimsExpired(t *testing.T) {
	s := NewStore()
	_ = s.PutTTL("a", []byte("1"), time.Millisecond)
	_ = s.PutTTL("b", []byte("2"), time.Hour)
	time.Sleep(5 * time.Millisecond)

	removed := s.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep() removed = %d, want 1", removed)
	}
	stats := s.Stats()
	if stats.Keys != 1 {
		t.Fatalf("Stats().Keys = %d, want 1", stats.Keys)
	}
}

func TestStoreListExcludesExpired(t *testing.T) {
	s := NewStore()
	_ = s.PutTTL("expired", []byte("x"), time.Millisecond)
	_ = s.Put("forever", []byte("y"))
	time.Sleep(5 * time.Millisecond)

	keys := s.List()
	if len(keys) != 1 || keys[0] != "forever" {
		t.Fatalf("List() = %v, want [forever]", keys)
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s := NewStore()
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("Delete on missing key should not error: %v", err)
	}
}
