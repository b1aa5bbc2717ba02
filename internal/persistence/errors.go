// internal/persistence/errors.go
package persistence

import "errors"

// Доменные ошибки хранилищ. Проверяются через errors.Is.
var (
	ErrNotFound    = errors.New("persistence: not found")
	ErrValidation  = errors.New("persistence: validation failed")
	ErrPersistence = errors.New("persistence: storage failure")
)
