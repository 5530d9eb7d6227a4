package handlers

import (
	"fmt"
	"time"
)

func configString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func requireString(handlerType, id string, cfg map[string]any, key string) (string, error) {
	s := configString(cfg, key)
	if s == "" {
		return "", fmt.Errorf("%s handler %q: '%s' is required", handlerType, id, key)
	}
	return s, nil
}

func configBool(cfg map[string]any, key string) bool {
	b, _ := cfg[key].(bool)
	return b
}

// configFloat accepts the numeric types produced by YAML and JSON decoding.
func configFloat(cfg map[string]any, key string, def float64) (float64, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("'%s' must be a number, got %T", key, v)
	}
}

func configDuration(cfg map[string]any, key string) (time.Duration, error) {
	switch v := cfg[key].(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("'%s' must be a duration, got %T", key, v)
	}
}

func configMap(cfg map[string]any, key string) (map[string]any, error) {
	switch v := cfg[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("'%s' must be a mapping, got %T", key, v)
	}
}
