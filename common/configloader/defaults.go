// common/configloader/defaults.go
package configloader

import "sync"

var (
	defaultsMu sync.RWMutex
	defaults   = make(map[string]interface{})
)

// RegisterDefaults глобально регистрирует дефолт для ключа.
// Ключи без дефолта не видны AutomaticEnv, поэтому каждый ENV-переопределяемый
// параметр должен быть зарегистрирован.
func RegisterDefaults(k string, v interface{}) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults[k] = v
}

// RegisterDefaultsMap регистрирует сразу набор дефолтов.
func RegisterDefaultsMap(m map[string]interface{}) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	for k, v := range m {
		defaults[k] = v
	}
}

func getDefaults() map[string]interface{} {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()

	cp := make(map[string]interface{}, len(defaults))
	for k, v := range defaults {
		cp[k] = v
	}
	return cp
}
