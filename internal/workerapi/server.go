// Package workerapi wires a worker's HTTP surface (spec §6): health
// reporting (including tunnel status) and the /service/{type} endpoint
// that the router forwards requests to. Adapted from torua's
// cmd/node/main.go server-struct/handler shape; routing replaced with chi.
package workerapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dreamware/fleet/internal/dht"
	"github.com/dreamware/fleet/internal/router"
	"github.com/dreamware/fleet/internal/tunnel"
)

// Server holds a worker's dependencies and builds its HTTP router.
type Server struct {
	WorkerID string
	Router   *router.Router
	Tunnel   *tunnel.Manager // nil when USE_TUNNEL=false
	DHTNode  *dht.Node       // nil disables the /dht/rpc endpoint
	Status   func() string
}

// Handler handles a locally-served request for one service type; returning
// this from the worker binary wires whatever process actually performs the
// work (a subprocess, an in-process model, etc.) into the router's
// LocalDispatch hook.
type Handler func(serviceType, path string, body []byte) ([]byte, error)

// RouterWithHandler builds the router-facing LocalDispatch closure for a
// single locally-served service type.
func RouterWithHandler(serviceType string, h Handler) router.LocalDispatch {
	return func(ctx context.Context, st, path string, body []byte) ([]byte, bool, error) {
		if st != serviceType {
			return nil, false, nil
		}
		resp, err := h(st, path, body)
		return resp, true, err
	}
}

func (s *Server) HTTPRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/service/{serviceType}/*", s.handleService)
	if s.DHTNode != nil {
		r.Post("/dht/rpc", dht.NewServer(s.DHTNode).Handler())
	}

	return r
}

type healthResponse struct {
	Status   string          `json:"status"`
	WorkerID string          `json:"worker_id"`
	Tunnel   *tunnel.Metrics `json:"tunnel,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.Status != nil {
		status = s.Status()
	}
	resp := healthResponse{Status: status, WorkerID: s.WorkerID}
	if s.Tunnel != nil {
		m := s.Tunnel.GetMetrics()
		resp.Tunnel = &m
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type serviceEnvelope struct {
	Body json.RawMessage `json:"body"`
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	serviceType := chi.URLParam(r, "serviceType")
	path := chi.URLParam(r, "*")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	var env serviceEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			http.Error(w, "invalid envelope", http.StatusBadRequest)
			return
		}
	}

	resp, err := s.Router.RouteRequest(r.Context(), serviceType, "/"+path, env.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}
