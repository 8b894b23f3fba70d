package fleeterr

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Wrap(ServiceNotFound, "no worker for embeddings", errors.New("empty manifest"))
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected errors.Is to match on kind")
	}
	if errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected errors.Is not to match a different kind")
	}
}

func TestKindOf(t *testing.T) {
	err := New(TunnelTimeout, "scan deadline exceeded")
	kind, ok := KindOf(err)
	if !ok || kind != TunnelTimeout {
		t.Fatalf("KindOf() = %v, %v, want TunnelTimeout, true", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("KindOf() on plain error should return ok=false")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(TransientNetwork, "register failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to see through Unwrap to cause")
	}
}
