package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// openAPIDocument returns the embedded API description as JSON. The YAML is
// converted on first use.
var openAPIDocument = sync.OnceValues(func() ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(openAPIYAML, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi.yaml: %w", err)
	}
	return json.MarshalIndent(jsonValue(doc), "", "  ")
})

// jsonValue rewrites decoded YAML into values encoding/json accepts.
// Non-string mapping keys, such as unquoted status codes, become strings.
func jsonValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for key, child := range v {
			v[key] = jsonValue(child)
		}
		return v
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			out[fmt.Sprint(key)] = jsonValue(child)
		}
		return out
	case []interface{}:
		for i, child := range v {
			v[i] = jsonValue(child)
		}
		return v
	default:
		return v
	}
}
