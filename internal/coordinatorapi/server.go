// Package coordinatorapi wires the coordinator's HTTP surface (spec §6):
// worker registration/heartbeat/unregistration, the admin worker listing,
// the aggregate /health endpoint, DHT seed discovery, and Prometheus
// metrics. Handler/server-struct shape adapted from torua's
// cmd/coordinator/main.go (server struct holding injected dependencies,
// graceful shutdown), router replaced with chi per the ambient stack.
package coordinatorapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/fleet/internal/authmiddleware"
	"github.com/dreamware/fleet/internal/dht"
	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/fleeterr"
	"github.com/dreamware/fleet/internal/logging"
	"github.com/dreamware/fleet/internal/registry"
)

// Server holds the coordinator's dependencies and builds its HTTP router.
type Server struct {
	Registry  *registry.Registry
	DHTNode   *dht.Node
	AuthToken string
}

// Router builds the chi router for the coordinator's HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/dht/seeds", s.handleDHTSeeds)
	if s.DHTNode != nil {
		r.Post("/dht/rpc", dht.NewServer(s.DHTNode).Handler())
	}

	r.Group(func(protected chi.Router) {
		protected.Use(authmiddleware.RequireToken(s.AuthToken))
		protected.Post("/api/worker/register", s.handleRegister)
		protected.Post("/api/worker/heartbeat", s.handleHeartbeat)
		protected.Delete("/api/worker/unregister/{workerID}", s.handleUnregister)
		protected.Get("/api/admin/workers", s.handleListWorkers)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	log := logging.WithComponent("coordinatorapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	})
}

type healthResponse struct {
	Status  string      `json:"status"`
	Workers workerTally `json:"workers"`
}

type workerTally struct {
	Total   int            `json:"total"`
	ByTier  map[string]int `json:"by_tier"`
	Healthy int            `json:"healthy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	byTier := make(map[string]int)
	for tier, n := range s.Registry.GetWorkerCountByTier() {
		byTier[tier.String()] = n
	}
	resp := healthResponse{
		Status: "healthy",
		Workers: workerTally{
			Total:   s.Registry.GetWorkerCount(),
			ByTier:  byTier,
			Healthy: s.Registry.GetHealthyWorkerCount(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerRequest struct {
	WorkerID     string             `json:"worker_id"`
	Address      string             `json:"address"`
	TunnelURL    string             `json:"tunnel_url,omitempty"`
	Capabilities fleet.Capabilities `json:"capabilities"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.Registry.Register(fleet.WorkerRecord{
		WorkerID:     req.WorkerID,
		Address:      req.Address,
		TunnelURL:    req.TunnelURL,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type heartbeatRequest struct {
	WorkerID          string          `json:"worker_id"`
	Status            string          `json:"status,omitempty"`
	Load              float64         `json:"current_load"`
	AvailableMemoryGB float64         `json:"available_memory,omitempty"`
	LoadedModels      []string        `json:"loaded_models,omitempty"`
	ActiveRequests    int             `json:"active_requests,omitempty"`
	ServicesStatus    map[string]bool `json:"services_status,omitempty"`
	GPUUtilization    *float64        `json:"gpu_utilization,omitempty"`
	GPUMemoryUsedMB   *int            `json:"gpu_memory_used,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	update := fleet.HeartbeatUpdate{
		Load:              req.Load,
		AvailableMemoryGB: req.AvailableMemoryGB,
		LoadedModels:      req.LoadedModels,
		ActiveRequests:    req.ActiveRequests,
		ServicesStatus:    req.ServicesStatus,
		GPUUtilization:    req.GPUUtilization,
		GPUMemoryUsedMB:   req.GPUMemoryUsedMB,
	}
	if err := s.Registry.Heartbeat(req.WorkerID, update); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if err := s.Registry.Unregister(workerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.ListWorkers())
}

func (s *Server) handleDHTSeeds(w http.ResponseWriter, r *http.Request) {
	if s.DHTNode == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, []string{s.DHTNode.Address()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind, ok := fleeterr.KindOf(err)
	status := http.StatusInternalServerError
	if ok {
		switch kind {
		case fleeterr.NotRegistered, fleeterr.ServiceNotFound:
			status = http.StatusNotFound
		case fleeterr.RegistrationFatal:
			status = http.StatusBadRequest
		case fleeterr.Busy:
			status = http.StatusServiceUnavailable
		}
	}
	http.Error(w, err.Error(), status)
}
