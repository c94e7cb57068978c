// ABOUTME: Configuration loading for the leadflow-admin CLI
// ABOUTME: TOML config from the XDG path with environment variable fallbacks

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token       string `toml:"token"`
	AdminSecret string `toml:"admin_secret"`
}

// configPath returns the CLI config file path.
// Priority: LEADFLOW_ADMIN_CONFIG env var > XDG_CONFIG_HOME/leadflow/admin.toml
// > ~/.config/leadflow/admin.toml
func configPath() string {
	if envPath := os.Getenv("LEADFLOW_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "leadflow", "admin.toml")
}

// loadConfig reads the TOML config when present, expands ${VAR} references,
// and applies environment fallbacks. A missing file is fine; the CLI can run
// on environment variables alone.
func loadConfig() (*Config, error) {
	cfg := &Config{}

	path := configPath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if v := os.Getenv("LEADFLOW_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("LEADFLOW_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("LEADFLOW_ADMIN_SECRET"); v != "" {
		cfg.Auth.AdminSecret = v
	}

	if cfg.Auth.Token == "" {
		cfg.Auth.Token = readTokenFile()
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = "http://localhost:8000"
	}

	u, err := url.Parse(cfg.Server.URL)
	if err != nil {
		return nil, fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server.url must use http or https scheme")
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// readTokenFile returns the bearer token saved next to the config file, or
// empty when none exists.
func readTokenFile() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "leadflow", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
