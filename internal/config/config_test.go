// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leadflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadFromPath_ValidConfig(t *testing.T) {
	configContent := `
server:
  http_addr: "127.0.0.1:9000"

state:
  path: "./data/state.json"
  auto_save_interval: "45s"

uploads:
  dir: "./data/uploads"

agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "1111111111111111111"
  lead_agent: "2222222222222222222"
  request_timeout: "90s"

ingest:
  base_url: "http://ingest:8090"

auth:
  admin_secret: "s3cret"

logging:
  level: "debug"
  format: "json"
`
	cfg, err := LoadFromPath(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9000")
	}

	if cfg.State.Path != "./data/state.json" {
		t.Errorf("State.Path = %q, want %q", cfg.State.Path, "./data/state.json")
	}
	if cfg.State.AutoSaveInterval != 45*time.Second {
		t.Errorf("State.AutoSaveInterval = %v, want %v", cfg.State.AutoSaveInterval, 45*time.Second)
	}

	if cfg.Uploads.Dir != "./data/uploads" {
		t.Errorf("Uploads.Dir = %q, want %q", cfg.Uploads.Dir, "./data/uploads")
	}

	if cfg.Agents.Project != "acme-crm" {
		t.Errorf("Agents.Project = %q, want %q", cfg.Agents.Project, "acme-crm")
	}
	if cfg.Agents.Location != "us-central1" {
		t.Errorf("Agents.Location = %q, want %q", cfg.Agents.Location, "us-central1")
	}
	if cfg.Agents.PipelineAgent != "1111111111111111111" {
		t.Errorf("Agents.PipelineAgent = %q, want %q", cfg.Agents.PipelineAgent, "1111111111111111111")
	}
	if cfg.Agents.LeadAgent != "2222222222222222222" {
		t.Errorf("Agents.LeadAgent = %q, want %q", cfg.Agents.LeadAgent, "2222222222222222222")
	}
	if cfg.Agents.RequestTimeout != 90*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want %v", cfg.Agents.RequestTimeout, 90*time.Second)
	}

	if cfg.Ingest.BaseURL != "http://ingest:8090" {
		t.Errorf("Ingest.BaseURL = %q, want %q", cfg.Ingest.BaseURL, "http://ingest:8090")
	}

	if cfg.Auth.AdminSecret != "s3cret" {
		t.Errorf("Auth.AdminSecret = %q, want %q", cfg.Auth.AdminSecret, "s3cret")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadFromPath_Defaults(t *testing.T) {
	configContent := `
agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "111"
  lead_agent: "222"
`
	cfg, err := LoadFromPath(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8000" {
		t.Errorf("Server.HTTPAddr = %q, want default %q", cfg.Server.HTTPAddr, "0.0.0.0:8000")
	}
	if cfg.State.Path != "state.json" {
		t.Errorf("State.Path = %q, want default %q", cfg.State.Path, "state.json")
	}
	if cfg.Uploads.Dir != "uploads" {
		t.Errorf("Uploads.Dir = %q, want default %q", cfg.Uploads.Dir, "uploads")
	}
	if cfg.State.AutoSaveInterval != 30*time.Second {
		t.Errorf("State.AutoSaveInterval = %v, want default %v", cfg.State.AutoSaveInterval, 30*time.Second)
	}
	if cfg.Agents.RequestTimeout != 2*time.Minute {
		t.Errorf("Agents.RequestTimeout = %v, want default %v", cfg.Agents.RequestTimeout, 2*time.Minute)
	}
	if cfg.Ingest.BaseURL != "" {
		t.Errorf("Ingest.BaseURL = %q, want empty (ingestion disabled)", cfg.Ingest.BaseURL)
	}
	if cfg.Auth.AdminSecret != "" {
		t.Errorf("Auth.AdminSecret = %q, want empty (admin gate open)", cfg.Auth.AdminSecret)
	}
	if cfg.Tailscale.Enabled {
		t.Error("Tailscale.Enabled = true, want false by default")
	}
}

func TestLoadFromPath_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_GCP_PROJECT", "proj-from-env")
	t.Setenv("TEST_PIPELINE_AGENT", "333")
	t.Setenv("TEST_ADMIN_SECRET", "secret-from-env")

	configContent := `
agents:
  project: "${TEST_GCP_PROJECT}"
  location: "us-central1"
  pipeline_agent: "${TEST_PIPELINE_AGENT}"
  lead_agent: "222"

auth:
  admin_secret: "${TEST_ADMIN_SECRET}"
`
	cfg, err := LoadFromPath(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Agents.Project != "proj-from-env" {
		t.Errorf("Agents.Project = %q, want %q", cfg.Agents.Project, "proj-from-env")
	}
	if cfg.Agents.PipelineAgent != "333" {
		t.Errorf("Agents.PipelineAgent = %q, want %q", cfg.Agents.PipelineAgent, "333")
	}
	if cfg.Auth.AdminSecret != "secret-from-env" {
		t.Errorf("Auth.AdminSecret = %q, want %q", cfg.Auth.AdminSecret, "secret-from-env")
	}
}

func TestLoadFromPath_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configContent := `
agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "111"
  lead_agent: "222"

auth:
  admin_secret: "${UNSET_VAR_FOR_TEST}"
`
	cfg, err := LoadFromPath(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	// Unset env vars expand to empty string
	if cfg.Auth.AdminSecret != "" {
		t.Errorf("Auth.AdminSecret = %q, want empty string for unset env var", cfg.Auth.AdminSecret)
	}
}

func TestLoadFromPath_DurationParsing(t *testing.T) {
	configContent := `
state:
  auto_save_interval: "1m30s"

agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "111"
  lead_agent: "222"
  request_timeout: "3m"
`
	cfg, err := LoadFromPath(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	expectedInterval := 1*time.Minute + 30*time.Second
	if cfg.State.AutoSaveInterval != expectedInterval {
		t.Errorf("State.AutoSaveInterval = %v, want %v", cfg.State.AutoSaveInterval, expectedInterval)
	}
	if cfg.Agents.RequestTimeout != 3*time.Minute {
		t.Errorf("Agents.RequestTimeout = %v, want %v", cfg.Agents.RequestTimeout, 3*time.Minute)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/path/leadflow.yaml")
	if err == nil {
		t.Error("LoadFromPath() expected error for missing file, got nil")
	}
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	configContent := `
server:
  http_addr "missing colon"
`
	_, err := LoadFromPath(writeConfig(t, configContent))
	if err == nil {
		t.Error("LoadFromPath() expected error for invalid YAML, got nil")
	}
}

func TestLoadFromPath_InvalidDuration(t *testing.T) {
	configContent := `
state:
  auto_save_interval: "not-a-duration"

agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "111"
  lead_agent: "222"
`
	_, err := LoadFromPath(writeConfig(t, configContent))
	if err == nil {
		t.Error("LoadFromPath() expected error for invalid duration, got nil")
	}
}

func TestLoadFromPath_NegativeDuration(t *testing.T) {
	configContent := `
state:
  auto_save_interval: "-10s"

agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "111"
  lead_agent: "222"
`
	_, err := LoadFromPath(writeConfig(t, configContent))
	if err == nil {
		t.Error("LoadFromPath() expected error for negative duration, got nil")
	}
	if !strings.Contains(err.Error(), "must not be negative") {
		t.Errorf("LoadFromPath() error = %q, want negative-duration validation error", err.Error())
	}
}

func TestLoadFromPath_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing project",
			configContent: `
agents:
  location: "us-central1"
  pipeline_agent: "111"
  lead_agent: "222"
`,
			wantErrSubstr: "agents.project is required",
		},
		{
			name: "missing location",
			configContent: `
agents:
  project: "acme-crm"
  pipeline_agent: "111"
  lead_agent: "222"
`,
			wantErrSubstr: "agents.location is required",
		},
		{
			name: "missing pipeline agent",
			configContent: `
agents:
  project: "acme-crm"
  location: "us-central1"
  lead_agent: "222"
`,
			wantErrSubstr: "agents.pipeline_agent is required",
		},
		{
			name: "missing lead agent",
			configContent: `
agents:
  project: "acme-crm"
  location: "us-central1"
  pipeline_agent: "111"
`,
			wantErrSubstr: "agents.lead_agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, tt.configContent))
			if err == nil {
				t.Errorf("LoadFromPath() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("LoadFromPath() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	agents := AgentsConfig{
		Project:       "acme-crm",
		Location:      "us-central1",
		PipelineAgent: "111",
		LeadAgent:     "222",
	}

	tests := []struct {
		name          string
		cfg           Config
		wantErr       bool
		wantErrSubstr string
	}{
		{
			name: "tailscale enabled allows empty http_addr",
			cfg: Config{
				Server:    ServerConfig{HTTPAddr: ""},
				Tailscale: TailscaleConfig{Enabled: true, Hostname: "leadflow"},
				Agents:    agents,
			},
			wantErr: false,
		},
		{
			name: "tailscale enabled requires hostname",
			cfg: Config{
				Server:    ServerConfig{HTTPAddr: ""},
				Tailscale: TailscaleConfig{Enabled: true, Hostname: ""},
				Agents:    agents,
			},
			wantErr:       true,
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name: "tailscale disabled requires http_addr",
			cfg: Config{
				Server:    ServerConfig{HTTPAddr: ""},
				Tailscale: TailscaleConfig{Enabled: false, Hostname: "leadflow"},
				Agents:    agents,
			},
			wantErr:       true,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "tailscale with all options set",
			cfg: Config{
				Server: ServerConfig{HTTPAddr: ""},
				Tailscale: TailscaleConfig{
					Enabled:   true,
					Hostname:  "leadflow",
					AuthKey:   "tskey-auth-xxx",
					StateDir:  "/tmp/ts-state",
					Ephemeral: true,
					Funnel:    true,
				},
				Agents: agents,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
					return
				}
				if !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv("LEADFLOW_CONFIG", "/etc/leadflow/custom.yaml")
	if got := DefaultPath(); got != "/etc/leadflow/custom.yaml" {
		t.Errorf("DefaultPath() = %q, want LEADFLOW_CONFIG value", got)
	}
}
