package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the runtime configuration for the console gateway.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// Backend platform API
	BackendURL   string `json:"backend_url,omitempty"`
	BackendToken string `json:"backend_token,omitempty"`

	// Span stream WebSocket endpoint (empty disables the stream source)
	StreamURL string `json:"stream_url,omitempty"`

	// Gateway HTTP server
	ListenHost string `json:"listen_host,omitempty"`
	ListenPort int    `json:"listen_port,omitempty"`

	// OTLP gRPC ingest (disabled unless OTLPEnabled)
	OTLPEnabled bool   `json:"otlp_enabled,omitempty"`
	OTLPHost    string `json:"otlp_host,omitempty"`
	OTLPPort    int    `json:"otlp_port,omitempty"`

	// Directory of .jsonl span files to tail (empty disables)
	SpanDir string `json:"span_dir,omitempty"`

	// Live session buffer sizes
	VisibleCap int `json:"visible_cap,omitempty"`
	SampleCap  int `json:"sample_cap,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// localhost binding for the gateway, 200 visible entries, and
// 10,000 retained samples for charting and view rebuilds.
func DefaultConfig() *Config {
	return &Config{
		BackendURL: "http://127.0.0.1:8080",
		ListenHost: "127.0.0.1",
		ListenPort: 4390,
		OTLPHost:   "127.0.0.1",
		OTLPPort:   0, // 0 means ephemeral port assignment
		VisibleCap: 200,
		SampleCap:  10_000,
		Verbose:    false,
	}
}

// ListenAddr returns the host:port the gateway binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// LoadConfigFromFile loads configuration from a JSON file at the given path.
// It returns an error if the file cannot be read or parsed.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .bud-console.json config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		configPath := filepath.Join(dir, ".bud-console.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at a git repo root even if no config was found
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file,
// ~/.config/bud-console/config.json.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bud-console", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.BackendURL != "" {
		merged.BackendURL = overlay.BackendURL
	}
	if overlay.BackendToken != "" {
		merged.BackendToken = overlay.BackendToken
	}
	if overlay.StreamURL != "" {
		merged.StreamURL = overlay.StreamURL
	}
	if overlay.ListenHost != "" {
		merged.ListenHost = overlay.ListenHost
	}
	if overlay.ListenPort > 0 {
		merged.ListenPort = overlay.ListenPort
	}
	if overlay.OTLPEnabled {
		merged.OTLPEnabled = true
	}
	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort > 0 {
		merged.OTLPPort = overlay.OTLPPort
	}
	if overlay.SpanDir != "" {
		merged.SpanDir = overlay.SpanDir
	}
	if overlay.VisibleCap > 0 {
		merged.VisibleCap = overlay.VisibleCap
	}
	if overlay.SampleCap > 0 {
		merged.SampleCap = overlay.SampleCap
	}
	if overlay.Verbose {
		merged.Verbose = true
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists, or the explicit path when given)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	globalPath := GlobalConfigPath()
	if globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
		// The global config is optional; ignore errors.
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}
