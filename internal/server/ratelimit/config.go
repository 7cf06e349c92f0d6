package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the rate-limit policy for a single endpoint. A Path
// ending in "/" matches by prefix.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int
	Window time.Duration
	Burst  int // defaults to Limit if 0
}

// Config holds the limiter's global settings plus per-endpoint policies.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// LoadConfig reads rate-limit settings from environment variables.
func LoadConfig() *Config {
	enabled := getEnvBool("RATE_LIMIT_ENABLED", true)
	if !enabled {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", 600),
		DefaultWindow:   getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		Whitelist:       parseIPList(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-endpoint policies. Browser jobs
// hold a Chrome session for up to minutes; conversions are cheaper but
// still pull remote files and shell out to a renderer.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Browser automation: strictest.
		{Path: "/generate-report", Method: "POST", Limit: 20, Window: time.Hour, Burst: 3},
		{Path: "/generate-report-direct", Method: "POST", Limit: 20, Window: time.Hour, Burst: 3},
		{Path: "/get-report-default", Method: "GET", Limit: 20, Window: time.Hour, Burst: 3},
		{Path: "/get-report-default-direct", Method: "GET", Limit: 20, Window: time.Hour, Burst: 3},
		{Path: "/get-vollna-cookies", Method: "GET", Limit: 20, Window: time.Hour, Burst: 3},

		// Conversions: moderate.
		{Path: "/pdf-to-png", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/extract-text", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},

		// Downloads and debug listings fall through to the default limit.
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
