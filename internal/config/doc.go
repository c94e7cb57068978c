// Package config handles configuration loading for the leadflow server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LEADFLOW_CONFIG environment variable
//  2. ./leadflow.yaml (current directory)
//  3. ~/.config/leadflow/leadflow.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	agents:
//	  project: "${GOOGLE_CLOUD_PROJECT}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	state:
//	  auto_save_interval: "30s"
//	agents:
//	  request_timeout: "2m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8000"   # API and websocket
//
// Persisted snapshot:
//
//	state:
//	  path: "state.json"
//	  auto_save_interval: "30s"   # "0s" disables the auto-save loop
//
// Uploads:
//
//	uploads:
//	  dir: "uploads"
//
// Hosted agents:
//
//	agents:
//	  project: "${GOOGLE_CLOUD_PROJECT}"
//	  location: "${GOOGLE_CLOUD_LOCATION}"
//	  pipeline_agent: "${PIPELINE_AGENT_ID}"
//	  lead_agent: "${LEAD_AGENT_ID}"
//	  request_timeout: "2m"
//
// Document ingestion (optional; empty base_url disables it):
//
//	ingest:
//	  base_url: "http://ingest.internal:8090"
//
// Admin authentication (optional; empty secret leaves admin routes open):
//
//	auth:
//	  admin_secret: "${LEADFLOW_ADMIN_SECRET}"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "leadflow"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Load from specific path:
//
//	cfg, err := config.LoadFromPath("/etc/leadflow/leadflow.yaml")
package config
