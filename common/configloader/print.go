// common/configloader/print.go
package configloader

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// secretKeys — подстроки JSON-ключей, значения которых не печатаются.
var secretKeys = []string{"password", "dsn", "secret", "token"}

// PrintConfig выводит конфиг в читаемом виде, маскируя секреты.
func PrintConfig(w io.Writer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("configloader: marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("configloader: unmarshal: %w", err)
	}
	b, err := json.MarshalIndent(mask(generic), "", "  ")
	if err != nil {
		return fmt.Errorf("configloader: marshal: %w", err)
	}
	_, err = fmt.Fprintln(w, "Loaded configuration:\n", string(b))
	return err
}

func mask(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if isSecret(k) {
				if s, ok := val.(string); ok && s != "" {
					t[k] = "***"
				}
				continue
			}
			t[k] = mask(val)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = mask(t[i])
		}
		return t
	default:
		return v
	}
}

func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
