// ABOUTME: Configuration loading and parsing for the leadflow server
// ABOUTME: YAML with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the file leaves a field unset.
const (
	defaultHTTPAddr         = "0.0.0.0:8000"
	defaultStatePath        = "state.json"
	defaultUploadsDir       = "uploads"
	defaultAutoSaveInterval = 30 * time.Second
	defaultRequestTimeout   = 2 * time.Minute
)

// Config represents the complete leadflow server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	State     StateConfig     `yaml:"state"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Agents    AgentsConfig    `yaml:"agents"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// StateConfig holds the persisted snapshot configuration
type StateConfig struct {
	Path             string        `yaml:"path"`
	AutoSaveInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	AutoSaveIntervalRaw string `yaml:"auto_save_interval"`
}

// UploadsConfig holds owner document upload configuration
type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

// AgentsConfig identifies the two hosted agents and bounds query time
type AgentsConfig struct {
	Project        string        `yaml:"project"`
	Location       string        `yaml:"location"`
	PipelineAgent  string        `yaml:"pipeline_agent"`
	LeadAgent      string        `yaml:"lead_agent"`
	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// IngestConfig holds the document ingestion service configuration.
// An empty base_url disables ingestion; uploads are still saved locally.
type IngestConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds admin authentication configuration.
// An empty secret leaves the admin endpoints ungated.
type AuthConfig struct {
	AdminSecret string `yaml:"admin_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load resolves the config path (LEADFLOW_CONFIG, then ./leadflow.yaml,
// then the user config dir) and loads it.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads a configuration file from the given path and returns a
// parsed Config. Environment variables in the format ${VAR_NAME} are
// expanded. Duration strings are parsed into time.Duration values.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file path.
// Priority: LEADFLOW_CONFIG env var > ./leadflow.yaml (when present) >
// XDG_CONFIG_HOME/leadflow/leadflow.yaml > ~/.config/leadflow/leadflow.yaml
func DefaultPath() string {
	if path := os.Getenv("LEADFLOW_CONFIG"); path != "" {
		return path
	}

	if _, err := os.Stat("leadflow.yaml"); err == nil {
		return "leadflow.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "leadflow.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "leadflow", "leadflow.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills fields the file left empty.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = defaultHTTPAddr
	}
	if c.State.Path == "" {
		c.State.Path = defaultStatePath
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = defaultUploadsDir
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale carries the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Agents.Project == "" {
		return fmt.Errorf("agents.project is required")
	}
	if c.Agents.Location == "" {
		return fmt.Errorf("agents.location is required")
	}
	if c.Agents.PipelineAgent == "" {
		return fmt.Errorf("agents.pipeline_agent is required")
	}
	if c.Agents.LeadAgent == "" {
		return fmt.Errorf("agents.lead_agent is required")
	}

	if c.State.AutoSaveInterval < 0 {
		return fmt.Errorf("state.auto_save_interval must not be negative")
	}
	if c.Agents.RequestTimeout < 0 {
		return fmt.Errorf("agents.request_timeout must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.State.AutoSaveInterval = defaultAutoSaveInterval
	if cfg.State.AutoSaveIntervalRaw != "" {
		cfg.State.AutoSaveInterval, err = time.ParseDuration(cfg.State.AutoSaveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing auto_save_interval %q: %w", cfg.State.AutoSaveIntervalRaw, err)
		}
	}

	cfg.Agents.RequestTimeout = defaultRequestTimeout
	if cfg.Agents.RequestTimeoutRaw != "" {
		cfg.Agents.RequestTimeout, err = time.ParseDuration(cfg.Agents.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Agents.RequestTimeoutRaw, err)
		}
	}

	return nil
}
