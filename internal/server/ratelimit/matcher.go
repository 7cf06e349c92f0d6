package ratelimit

import "strings"

// MatchEndpoint finds the policy for a request path and method. Exact
// matches win over prefix matches; nil means use the default limit.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	// Liveness probes are never limited.
	if path == "/health" && method == "GET" {
		return &EndpointConfig{Limit: 0}
	}

	for i := range configs {
		cfg := &configs[i]
		if cfg.Path == path && cfg.Method == method {
			return cfg
		}
	}

	for i := range configs {
		cfg := &configs[i]
		if cfg.Method == method && strings.HasSuffix(cfg.Path, "/") && strings.HasPrefix(path, cfg.Path) {
			return cfg
		}
	}

	return nil
}
