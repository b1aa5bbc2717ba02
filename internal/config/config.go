// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/YaganovValera/collab-monolith/common/configloader"
	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/telemetry"
	"github.com/YaganovValera/collab-monolith/internal/broker"
	"github.com/YaganovValera/collab-monolith/internal/collab"
	"github.com/YaganovValera/collab-monolith/internal/gateway"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

// EnvPrefix — префикс переменных окружения: MONOLITH_GATEWAY_PORT и т.п.
const EnvPrefix = "MONOLITH"

// -----------------------------------------------------------------------------
// Структуры
// -----------------------------------------------------------------------------

type Config struct {
	ServiceName     string        `mapstructure:"service_name"`
	ServiceVersion  string        `mapstructure:"service_version"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Logging     logger.Config      `mapstructure:"logging"`
	Telemetry   telemetry.Config   `mapstructure:"telemetry"`
	Gateway     gateway.Config     `mapstructure:"gateway"`
	Broker      broker.Config      `mapstructure:"broker"`
	Collab      collab.Config      `mapstructure:"collab"`
	Persistence persistence.Config `mapstructure:"persistence"`
}

func init() {
	configloader.RegisterDefaultsMap(map[string]interface{}{
		"service_name":     "collab-monolith",
		"service_version":  "v0.1.0",
		"shutdown_timeout": "15s",

		"logging.level":    "info",
		"logging.dev_mode": false,

		"telemetry.otel_endpoint": "",
		"telemetry.insecure":      true,
		"telemetry.sampler_ratio": 1.0,

		"gateway.port":             8080,
		"gateway.read_timeout":     "10s",
		"gateway.write_timeout":    "15s",
		"gateway.idle_timeout":     "60s",
		"gateway.shutdown_timeout": "5s",
		"gateway.metrics_path":     "/metrics",
		"gateway.healthz_path":     "/healthz",
		"gateway.readyz_path":      "/readyz",
		"gateway.allowed_origins":  []string{"*"},
		"gateway.max_body_bytes":   2 << 20,
		"gateway.retry_after":      "1s",
		"gateway.ws_read_timeout":  "60s",
		"gateway.ws_write_timeout": "10s",

		"broker.storage_dir":        "./data",
		"broker.backend":            broker.BackendFile,
		"broker.queue_size":         1000,
		"broker.max_payload_bytes":  1 << 20,
		"broker.publish_timeout":    "5s",
		"broker.drain_timeout":      "10s",
		"broker.segment_max_bytes":  64 << 20,
		"broker.sync_mode":          "batch",
		"broker.cache_size":         256,
		"broker.topics":             []string{"collab.commands"},
		"broker.auto_create_topics": true,
		"broker.degrade_after":      3,

		"collab.topic":                    "collab.commands",
		"collab.group":                    "collab",
		"collab.max_document_size":        10 << 20,
		"collab.timeout":                  "30s",
		"collab.backoff.initial_interval": "200ms",
		"collab.backoff.max_interval":     "10s",

		"persistence.postgres.dsn":                      "",
		"persistence.postgres.connect_timeout":          "5s",
		"persistence.postgres.backoff.max_elapsed_time": "30s",
		"persistence.redis.addr":                        "",
		"persistence.redis.password":                    "",
		"persistence.redis.db":                          0,
		"persistence.redis.backoff.max_elapsed_time":    "30s",
		"persistence.snapshot_ttl":                      "0s",
	})
}

// -----------------------------------------------------------------------------
// Load
// -----------------------------------------------------------------------------

// Load читает конфиг: defaults → ENV (MONOLITH_*) → YAML-файл, если path задан.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults прокидывает сквозные значения в подсекции.
func (c *Config) ApplyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.ServiceName
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = c.ServiceVersion
	}
	c.Gateway.ApplyDefaults()
	c.Broker.ApplyDefaults()
	c.Collab.ApplyDefaults()
}

func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("config: service_name is required")
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("config: gateway: %w", err)
	}
	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is invalid", c.Logging.Level)
	}
	if c.Collab.MaxDocumentSize > 64<<20 {
		return fmt.Errorf("config: collab.max_document_size must be ≤ 64MiB")
	}
	return nil
}

// Print выводит итоговый конфиг с замаскированными секретами.
func (c *Config) Print(w io.Writer) error {
	return configloader.PrintConfig(w, c)
}
