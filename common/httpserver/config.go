// common/httpserver/config.go
package httpserver

import (
	"fmt"
	"time"
)

// Config определяет настройки HTTP-сервера.
type Config struct {
	Port            int           `mapstructure:"port"`             // порт для Listen, например 8080
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // максимальное время чтения запроса
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // максимальное время записи ответа
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`     // максимальное время простоя соединения
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // таймаут для graceful shutdown
	MetricsPath     string        `mapstructure:"metrics_path"`     // путь для /metrics
	HealthzPath     string        `mapstructure:"healthz_path"`     // путь для /healthz
	ReadyzPath      string        `mapstructure:"readyz_path"`      // путь для /readyz
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`  // CORS; пусто → "*"
}

// ApplyDefaults заполняет незаданные поля.
func (c *Config) ApplyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthzPath == "" {
		c.HealthzPath = "/healthz"
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = "/readyz"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
}

// Validate проверяет корректность конфигурации.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("httpserver: port must be in 1..65535, got %d", c.Port)
	}
	return nil
}

// Addr возвращает адрес для Listen.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
