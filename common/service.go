// common/service.go
package common

import (
	"sync"

	"github.com/YaganovValera/collab-monolith/common/backoff"
)

// ServiceNameKey — ключ лейбла для метрик всех подсистем.
const ServiceNameKey = "service"

var (
	settersMu sync.Mutex
	setters   = []func(string){backoff.SetServiceLabel}
)

// RegisterServiceLabelSetter подключает ещё одну подсистему к InitServiceName.
// Обычно вызывается из init() пакета с метриками.
func RegisterServiceLabelSetter(fn func(string)) {
	settersMu.Lock()
	defer settersMu.Unlock()
	setters = append(setters, fn)
}

// InitServiceName задаёт единое имя сервиса для всех зарегистрированных подсистем.
// Нужно вызывать в main() до любых попыток логирования или отправки метрик.
func InitServiceName(name string) {
	settersMu.Lock()
	defer settersMu.Unlock()
	for _, set := range setters {
		set(name)
	}
}
