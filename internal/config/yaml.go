package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FromYAMLFile reads a flat map of the same keys the environment uses.
//
//	RPC_URL: http://127.0.0.1:8545
//	TRACE_CALLS: true
//	CHAIN_IDS: "1,10"
func FromYAMLFile(path string) (EnvSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseYAML(raw)
}

func parseYAML(raw []byte) (EnvSource, error) {
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	env := make(EnvMap, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			env[key] = v
		case bool:
			env[key] = strconv.FormatBool(v)
		case int:
			env[key] = strconv.Itoa(v)
		case float64:
			env[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case []any:
			list := ""
			for i, item := range v {
				if i > 0 {
					list += ","
				}
				list += fmt.Sprint(item)
			}
			env[key] = list
		default:
			return nil, fmt.Errorf("config key %s: unsupported value %T", key, value)
		}
	}
	return env, nil
}
