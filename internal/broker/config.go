// internal/broker/config.go
package broker

import (
	"fmt"
	"time"

	"github.com/YaganovValera/collab-monolith/internal/broker/wal"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Config — параметры брокера (секция broker.* конфига).
type Config struct {
	StorageDir       string            `mapstructure:"storage_dir"`
	Backend          string            `mapstructure:"backend"` // file | memory
	QueueSize        int               `mapstructure:"queue_size"`
	MaxPayloadBytes  int               `mapstructure:"max_payload_bytes"`
	PublishTimeout   time.Duration     `mapstructure:"publish_timeout"`
	DrainTimeout     time.Duration     `mapstructure:"drain_timeout"`
	SegmentMaxBytes  int64             `mapstructure:"segment_max_bytes"`
	SyncMode         string            `mapstructure:"sync_mode"` // always | batch
	CacheSize        int               `mapstructure:"cache_size"`
	Topics           []string          `mapstructure:"topics"`
	AutoCreateTopics *bool             `mapstructure:"auto_create_topics"`
	DegradeAfter     int               `mapstructure:"degrade_after"`
	Schemas          map[string]string `mapstructure:"schemas"` // topic → путь к JSON Schema
}

// ApplyDefaults заполняет незаданные поля.
func (c *Config) ApplyDefaults() {
	if c.StorageDir == "" {
		c.StorageDir = "./data"
	}
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 1 << 20
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 64 << 20
	}
	if c.SyncMode == "" {
		c.SyncMode = string(wal.SyncBatch)
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.AutoCreateTopics == nil {
		v := true
		c.AutoCreateTopics = &v
	}
	if c.DegradeAfter <= 0 {
		c.DegradeAfter = 3
	}
}

// Validate проверяет корректность конфигурации.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.StorageDir == "" {
			return fmt.Errorf("broker: storage_dir is required for file backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("broker: unknown backend %q", c.Backend)
	}
	if _, err := wal.ParseSyncMode(c.SyncMode); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if c.MaxPayloadBytes > 32<<20 {
		return fmt.Errorf("broker: max_payload_bytes must be ≤ 32MiB, got %d", c.MaxPayloadBytes)
	}
	for _, t := range c.Topics {
		if err := validateName("topic", t); err != nil {
			return err
		}
	}
	for t := range c.Schemas {
		if err := validateName("topic", t); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) autoCreate() bool {
	return c.AutoCreateTopics == nil || *c.AutoCreateTopics
}
