// internal/broker/schema.go
package broker

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// compileSchema компилирует JSON Schema полезной нагрузки топика.
func compileSchema(raw []byte) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrValidation, err)
	}
	return schema, nil
}

func loadSchemaFile(path string) (*gojsonschema.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("broker: read schema %s: %w", path, err)
	}
	return compileSchema(raw)
}

// validatePayload проверяет payload против схемы; nil-схема пропускает всё.
func validatePayload(schema *gojsonschema.Schema, payload []byte) error {
	if schema == nil {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: payload is not valid JSON: %v", ErrValidation, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: payload does not match schema: %s", ErrValidation, strings.Join(msgs, "; "))
}
