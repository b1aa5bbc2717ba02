// common/configloader/configloader.go
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load загружает конфиг в cfgPtr: defaults → ENV → YAML (если задан путь).
// envPrefix — префикс ENV переменных, например: "MONOLITH".
//
// Если cfgPtr реализует ApplyDefaults() — он вызывается после decode,
// если реализует Validate() error — после ApplyDefaults.
func Load(path, envPrefix string, cfgPtr interface{}) error {
	v := viper.New()

	// Шаг 1: apply registered defaults
	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}

	// Шаг 2: environment override
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Шаг 3: read file (if provided)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	// Шаг 4: decode
	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Шаг 5: defaults + validate if possible
	if d, ok := cfgPtr.(interface{ ApplyDefaults() }); ok {
		d.ApplyDefaults()
	}
	if val, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}
