// Package config defines the env-driven configuration structs for each
// fabric binary (spec §6), replacing torua's getenv/mustGetenv free
// functions with validated, struct-tag-bound configuration per field.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// WorkerConfig configures the worker agent binary (cmd/worker).
type WorkerConfig struct {
	WorkerID            string        `env:"WORKER_ID"`
	CoordinatorURL      string        `env:"COORDINATOR_URL,required"`
	ServicePort         int           `env:"SERVICE_PORT" envDefault:"8082"`
	UseTunnel           bool          `env:"USE_TUNNEL" envDefault:"false"`
	HeartbeatIntervalS  int           `env:"HEARTBEAT_INTERVAL_S" envDefault:"10"`
	WorkerType          string        `env:"WORKER_TYPE" envDefault:"generic"`
	ServiceTypesRaw     string        `env:"SERVICE_TYPES"`
	DHTSeedsRaw         string        `env:"DHT_SEEDS"`
	AuthToken           string        `env:"FLEET_AUTH_TOKEN"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON             bool          `env:"LOG_JSON" envDefault:"false"`
}

// HeartbeatInterval returns the configured heartbeat interval as a Duration.
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalS) * time.Second
}

// CoordinatorConfig configures the coordinator binary (cmd/coordinator).
type CoordinatorConfig struct {
	ListenAddr          string `env:"COORDINATOR_ADDR" envDefault:":8080"`
	HealthCheckInterval int    `env:"HEALTH_CHECK_INTERVAL_S" envDefault:"5"`
	AuthToken           string `env:"FLEET_AUTH_TOKEN"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON             bool   `env:"LOG_JSON" envDefault:"false"`
}

// ReadinessConfig configures the standalone readiness-orchestrator binary
// (cmd/ready).
type ReadinessConfig struct {
	CoordinatorURL  string `env:"COORDINATOR_URL,required"`
	PredicateFile   string `env:"READINESS_PREDICATE_FILE"`
	PollIntervalS   int    `env:"READINESS_POLL_INTERVAL_S" envDefault:"5"`
	AllowRefire     bool   `env:"READINESS_ALLOW_REFIRE" envDefault:"false"`
	WebhookURL      string `env:"READINESS_WEBHOOK_URL"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON         bool   `env:"LOG_JSON" envDefault:"false"`
}

// LoadWorker parses a WorkerConfig from the process environment.
func LoadWorker() (WorkerConfig, error) {
	var c WorkerConfig
	err := env.Parse(&c)
	return c, err
}

// LoadCoordinator parses a CoordinatorConfig from the process environment.
func LoadCoordinator() (CoordinatorConfig, error) {
	var c CoordinatorConfig
	err := env.Parse(&c)
	return c, err
}

// LoadReadiness parses a ReadinessConfig from the process environment.
func LoadReadiness() (ReadinessConfig, error) {
	var c ReadinessConfig
	err := env.Parse(&c)
	return c, err
}
