package workerapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dreamware/fleet/internal/dht"
	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/router"
)

func TestHandleHealth(t *testing.T) {
	s := &Server{WorkerID: "w1"}
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHandleServiceDispatchesLocally(t *testing.T) {
	local := RouterWithHandler("llm-inference", func(serviceType, path string, body []byte) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})
	r := router.New(func(ctx context.Context, st string) ([]fleet.WorkerRecord, error) {
		return nil, nil
	}, local)

	s := &Server{WorkerID: "w1", Router: r}
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/service/llm-inference/infer", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHTTPRouterMountsDHTRPCWhenNodeSet(t *testing.T) {
	node := dht.NewNode(dht.HashID("w1"), "")
	s := &Server{WorkerID: "w1", DHTNode: node}
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/dht/rpc", "application/json",
		bytes.NewReader([]byte(`{"sender_node_id":"aa","txn_id":"1","version":1,"type":"PING","payload":{}}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHTTPRouterOmitsDHTRPCWhenNodeNil(t *testing.T) {
	s := &Server{WorkerID: "w1"}
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/dht/rpc", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
