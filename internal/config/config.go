// Package config provides configuration loading for the service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults applied when neither the environment nor a config file sets a
// value.
const (
	DefaultPort           = 8000
	DefaultStoreDir       = "generated_reports"
	DefaultScratchDir     = "scratch"
	DefaultDebugDir       = "debug_sessions"
	DefaultArtifactTTL    = time.Hour
	DefaultConversionTTL  = time.Hour
	DefaultMaxSessions    = 2
	DefaultPortalURL      = "https://cloud.sekure-id.com"
	DefaultVollnaLoginURL = "https://www.vollna.com/login"
	DefaultCompanyCode    = "85"
	DefaultUsername       = "hisham.octacer"
)

// Config holds everything the server needs. Values can come from a JSON
// file, the environment, or defaults, in increasing precedence.
type Config struct {
	// Server
	Port int `json:"port,omitempty"`

	// Directories
	StoreDir   string `json:"store_dir,omitempty"`   // stable artifact store
	ScratchDir string `json:"scratch_dir,omitempty"` // per-job workspaces
	DebugDir   string `json:"debug_dir,omitempty"`   // failure diagnostics

	// Lifecycle
	ArtifactTTLSeconds   int `json:"artifact_ttl_seconds,omitempty"`
	ConversionTTLSeconds int `json:"conversion_ttl_seconds,omitempty"`
	MaxDebugSessions     int `json:"max_debug_sessions,omitempty"`

	// Browser
	MaxBrowserSessions int    `json:"max_browser_sessions,omitempty"`
	PortalURL          string `json:"portal_url,omitempty"`
	VollnaLoginURL     string `json:"vollna_login_url,omitempty"`
	Headless           *bool  `json:"headless,omitempty"`

	// Default portal credentials, used when a request omits them. The
	// password is never read from a config file, only the environment.
	DefaultCompanyCode string `json:"default_company_code,omitempty"`
	DefaultUsername    string `json:"default_username,omitempty"`
	DefaultPassword    string `json:"-"`

	// OCR
	GeminiAPIKey string `json:"-"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv returns a Config populated from environment variables. Unset
// variables leave the zero value so defaults apply later.
func FromEnv() *Config {
	cfg := &Config{
		StoreDir:           os.Getenv("STORE_DIR"),
		ScratchDir:         os.Getenv("SCRATCH_DIR"),
		DebugDir:           os.Getenv("DEBUG_DIR"),
		PortalURL:          os.Getenv("PORTAL_URL"),
		VollnaLoginURL:     os.Getenv("VOLLNA_LOGIN_URL"),
		DefaultCompanyCode: os.Getenv("PORTAL_DEFAULT_COMPANY_CODE"),
		DefaultUsername:    os.Getenv("PORTAL_DEFAULT_USERNAME"),
		DefaultPassword:    os.Getenv("PORTAL_DEFAULT_PASSWORD"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
	}
	cfg.Port = envInt("PORT")
	cfg.ArtifactTTLSeconds = envInt("ARTIFACT_TTL_SECONDS")
	cfg.ConversionTTLSeconds = envInt("CONVERSION_TTL_SECONDS")
	cfg.MaxDebugSessions = envInt("MAX_DEBUG_SESSIONS")
	cfg.MaxBrowserSessions = envInt("MAX_BROWSER_SESSIONS")
	if v, ok := os.LookupEnv("HEADLESS"); ok {
		headless := v != "false" && v != "0"
		cfg.Headless = &headless
	}
	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.ArtifactTTLSeconds < 0 {
		return fmt.Errorf("config error: 'artifact_ttl_seconds' must be non-negative")
	}
	if c.ConversionTTLSeconds < 0 {
		return fmt.Errorf("config error: 'conversion_ttl_seconds' must be non-negative")
	}
	if c.MaxDebugSessions < 0 {
		return fmt.Errorf("config error: 'max_debug_sessions' must be non-negative")
	}
	if c.MaxBrowserSessions < 0 {
		return fmt.Errorf("config error: 'max_browser_sessions' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from
// defaults. Environment values are produced by FromEnv and win over the
// file-derived defaults passed here.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.StoreDir == "" {
		result.StoreDir = defaults.StoreDir
	}
	if result.ScratchDir == "" {
		result.ScratchDir = defaults.ScratchDir
	}
	if result.DebugDir == "" {
		result.DebugDir = defaults.DebugDir
	}
	if result.ArtifactTTLSeconds == 0 {
		result.ArtifactTTLSeconds = defaults.ArtifactTTLSeconds
	}
	if result.ConversionTTLSeconds == 0 {
		result.ConversionTTLSeconds = defaults.ConversionTTLSeconds
	}
	if result.MaxDebugSessions == 0 {
		result.MaxDebugSessions = defaults.MaxDebugSessions
	}
	if result.MaxBrowserSessions == 0 {
		result.MaxBrowserSessions = defaults.MaxBrowserSessions
	}
	if result.PortalURL == "" {
		result.PortalURL = defaults.PortalURL
	}
	if result.VollnaLoginURL == "" {
		result.VollnaLoginURL = defaults.VollnaLoginURL
	}
	if result.Headless == nil {
		result.Headless = defaults.Headless
	}
	if result.DefaultCompanyCode == "" {
		result.DefaultCompanyCode = defaults.DefaultCompanyCode
	}
	if result.DefaultUsername == "" {
		result.DefaultUsername = defaults.DefaultUsername
	}
	if result.DefaultPassword == "" {
		result.DefaultPassword = defaults.DefaultPassword
	}
	if result.GeminiAPIKey == "" {
		result.GeminiAPIKey = defaults.GeminiAPIKey
	}

	return result
}

// Finalize fills any remaining zero values with the package defaults and
// returns the completed Config.
func (c *Config) Finalize() Config {
	headless := true
	return c.MergeWithDefaults(Config{
		Port:                 DefaultPort,
		StoreDir:             DefaultStoreDir,
		ScratchDir:           DefaultScratchDir,
		DebugDir:             DefaultDebugDir,
		ArtifactTTLSeconds:   int(DefaultArtifactTTL.Seconds()),
		ConversionTTLSeconds: int(DefaultConversionTTL.Seconds()),
		MaxBrowserSessions:   DefaultMaxSessions,
		PortalURL:            DefaultPortalURL,
		VollnaLoginURL:       DefaultVollnaLoginURL,
		Headless:             &headless,
		DefaultCompanyCode:   DefaultCompanyCode,
		DefaultUsername:      DefaultUsername,
	})
}

// ArtifactTTL returns the configured artifact TTL as a duration.
func (c *Config) ArtifactTTL() time.Duration {
	return time.Duration(c.ArtifactTTLSeconds) * time.Second
}

// ConversionTTL returns the configured conversion TTL as a duration.
func (c *Config) ConversionTTL() time.Duration {
	return time.Duration(c.ConversionTTLSeconds) * time.Second
}
