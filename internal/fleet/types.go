// Package fleet defines the shared data model for the worker coordination
// fabric: capability descriptors, worker records, service manifest entries,
// and DHT record envelopes. These types are the wire format for every HTTP
// and DHT interface in the system.
package fleet

import "time"

// Tier identifies the compute class a worker is assigned on registration.
type Tier int

const (
	// TierUnknown is the zero value; never assigned to a real worker.
	TierUnknown Tier = iota
	// Tier1 workers have a GPU with at least 4000MB of memory.
	Tier1
	// Tier2 is the default tier for everything that is neither Tier1 nor Tier3.
	Tier2
	// Tier3 workers are storage-class: either worker_type "storage" or
	// CPU-only with >=16GB RAM and >=100GB disk.
	Tier3
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a worker as tracked by the registry.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusOnline        Status = "online"
	StatusDegraded      Status = "degraded"
	StatusOffline       Status = "offline"
	StatusEvicted       Status = "evicted"
)

// Capabilities describes what a worker can do and how much of it. The
// invariant has_gpu <=> gpu_memory_mb present is enforced by Validate.
type Capabilities struct {
	WorkerType string `json:"worker_type"`
	CPUCores   int    `json:"cpu_cores"`
	RAMGB      int    `json:"ram_gb"`
	StorageGB  int    `json:"storage_gb"`
	HasGPU     bool   `json:"has_gpu"`
	// GPUMemoryMB is present iff HasGPU is true. A pointer distinguishes
	// "no GPU" from "GPU with zero reported memory".
	GPUMemoryMB *int     `json:"gpu_memory_mb,omitempty"`
	GPUModel    string   `json:"gpu_model,omitempty"`
	ServiceTypes []string `json:"service_types"`
}

// Validate enforces the has_gpu <=> gpu_memory_mb invariant from spec §3.
func (c Capabilities) Validate() error {
	if c.HasGPU && c.GPUMemoryMB == nil {
		return errCapabilityInvariant{"has_gpu is true but gpu_memory_mb is absent"}
	}
	if !c.HasGPU && c.GPUMemoryMB != nil {
		return errCapabilityInvariant{"has_gpu is false but gpu_memory_mb is present"}
	}
	return nil
}

type errCapabilityInvariant struct{ msg string }

func (e errCapabilityInvariant) Error() string { return e.msg }

// AssignTier implements the tier-assignment rule from spec §3:
//
//	Tier1: has_gpu AND gpu_memory_mb >= 4000
//	Tier3: worker_type == "storage" OR (ram_gb >= 16 AND !has_gpu AND storage_gb >= 100)
//	Tier2: everything else
func AssignTier(c Capabilities) Tier {
	if c.HasGPU && c.GPUMemoryMB != nil && *c.GPUMemoryMB >= 4000 {
		return Tier1
	}
	if c.WorkerType == "storage" || (c.RAMGB >= 16 && !c.HasGPU && c.StorageGB >= 100) {
		return Tier3
	}
	return Tier2
}

// WorkerRecord is the canonical, coordinator-side view of a registered
// worker. The DHT's "worker:<id>" keys hold a smaller dht.WorkerSnapshot
// instead, not this type.
type WorkerRecord struct {
	WorkerID     string       `json:"worker_id"`
	Address      string       `json:"address"`
	TunnelURL    string       `json:"tunnel_url,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	Tier         Tier         `json:"tier"`
	Status       Status       `json:"status"`
	Load         float64      `json:"load"`

	// Telemetry fields accepted from the heartbeat payload (spec §6); all
	// are optional on the wire and zero-valued until the first heartbeat.
	AvailableMemoryGB float64         `json:"available_memory,omitempty"`
	LoadedModels       []string       `json:"loaded_models,omitempty"`
	ActiveRequests     int            `json:"active_requests,omitempty"`
	ServicesStatus     map[string]bool `json:"services_status,omitempty"`
	GPUUtilization     *float64       `json:"gpu_utilization,omitempty"`
	GPUMemoryUsedMB    *int           `json:"gpu_memory_used,omitempty"`

	// HeartbeatIntervalS is the coordinator-assigned heartbeat interval in
	// seconds, returned from register and adopted by the worker agent
	// (spec §4.4 step 5, default 30s).
	HeartbeatIntervalS int `json:"heartbeat_interval"`

	LastSeen     time.Time `json:"last_seen"`
	RegisteredAt time.Time `json:"registered_at"`
}

// HeartbeatUpdate carries the telemetry a worker reports on each heartbeat
// (spec §6's POST /api/worker/heartbeat body), applied to a WorkerRecord by
// Registry.Heartbeat.
type HeartbeatUpdate struct {
	Load               float64
	AvailableMemoryGB  float64
	LoadedModels       []string
	ActiveRequests     int
	ServicesStatus     map[string]bool
	GPUUtilization     *float64
	GPUMemoryUsedMB    *int
}

// ServiceManifestEntry records that a given worker serves a given service
// type. The (WorkerID, Name) pair is unique within a manifest.
type ServiceManifestEntry struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Healthy  bool   `json:"healthy"`
}

// DHTRecord is the envelope stored for either a "worker:<id>" or
// "service:<type>" key, carrying the TTL the value was stored with.
type DHTRecord struct {
	Key       string          `json:"key"`
	Value     []byte          `json:"value"`
	StoredAt  time.Time       `json:"stored_at"`
	TTL       time.Duration   `json:"ttl"`
	Namespace RecordNamespace `json:"namespace"`
}

// RecordNamespace distinguishes the two DHT key namespaces from spec §3.
type RecordNamespace string

const (
	NamespaceWorker  RecordNamespace = "worker"
	NamespaceService RecordNamespace = "service"
)

// Expired reports whether the record has outlived its TTL as of now.
func (r DHTRecord) Expired(now time.Time) bool {
	if r.TTL <= 0 {
		return false
	}
	return now.After(r.StoredAt.Add(r.TTL))
}

// FingerCacheEntry is a router-side cache entry mapping a service type to a
// worker address, valid for 60s per spec §3.
type FingerCacheEntry struct {
	ServiceType string
	WorkerID    string
	Address     string
	TunnelURL   string
	CachedAt    time.Time
}

// Expired reports whether the finger cache entry has outlived its 60s TTL.
func (f FingerCacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.After(f.CachedAt.Add(ttl))
}
