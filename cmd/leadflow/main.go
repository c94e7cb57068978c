// ABOUTME: Entry point for the leadflow CRM backend server
// ABOUTME: Connects the chat UI to hosted agents, state, and dashboards

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/leadflow/internal/auth"
	"github.com/2389/leadflow/internal/config"
	"github.com/2389/leadflow/internal/ingest"
	"github.com/2389/leadflow/internal/server"
	"github.com/2389/leadflow/internal/session"
	"github.com/2389/leadflow/internal/state"
	"github.com/2389/leadflow/internal/vertexai"
	"github.com/2389/leadflow/internal/ws"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                _  __ _
| | ___  __ _  __| |/ _| | _____      __
| |/ _ \/ _' |/ _' | |_| |/ _ \ \ /\ / /
| |  __/ (_| | (_| |  _| | (_) \ V  V /
|_|\___|\__,_|\__,_|_| |_|\___/ \_/\_/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: leadflow <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the CRM backend server")
		fmt.Println("  init                        Create a new config file interactively")
		fmt.Println("  health                      Check server health")
		fmt.Println("  token --operator NAME       Mint an admin bearer token")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("State:     %s\n", cfg.State.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %s/%s (pipeline %s, lead %s)\n",
		cfg.Agents.Project, cfg.Agents.Location,
		cfg.Agents.PipelineAgent, cfg.Agents.LeadAgent,
	)

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.AdminSecret == "" {
		yellow.Print("    ▶ ")
		fmt.Printf("Admin:     open (no admin_secret)\n")
	}

	fmt.Println()

	logger.Info("starting leadflow",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"state_path", cfg.State.Path,
	)

	// Load the persisted snapshot before anything can touch the store.
	store := state.New(cfg.State.Path, logger.With("component", "state"))
	store.Load()

	agents, err := vertexai.New(ctx, vertexai.Config{
		Project:  cfg.Agents.Project,
		Location: cfg.Agents.Location,
	}, logger.With("component", "vertexai"))
	if err != nil {
		return fmt.Errorf("creating agent client: %w", err)
	}

	sessions := session.NewManager(agents,
		cfg.Agents.PipelineAgent, cfg.Agents.LeadAgent,
		logger.With("component", "session"),
	)
	sessions.Restore(store.ActiveSessions())

	hub := ws.NewHub(logger)

	var ingestClient *ingest.Client
	if cfg.Ingest.BaseURL != "" {
		ingestClient, err = ingest.New(ingest.Config{BaseURL: cfg.Ingest.BaseURL}, logger)
		if err != nil {
			return fmt.Errorf("creating ingest client: %w", err)
		}
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.AdminSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.AdminSecret))
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Sessions: sessions,
		Hub:      hub,
		Ingest:   ingestClient,
		Verifier: verifier,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.State.AutoSaveInterval > 0 {
		go store.RunAutoSave(ctx, cfg.State.AutoSaveInterval)
	}

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runToken mints an admin bearer token from the configured admin secret.
// Supports both "--operator value" and "--operator=value" formats.
func runToken() error {
	var operator string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--operator" || arg == "-o":
			if i+1 >= len(args) {
				return fmt.Errorf("--operator requires a value")
			}
			operator = args[i+1]
			i++
		case strings.HasPrefix(arg, "--operator="):
			operator = strings.TrimPrefix(arg, "--operator=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("--operator flag is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.AdminSecret == "" {
		return fmt.Errorf("auth.admin_secret not configured in %s", config.DefaultPath())
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.AdminSecret))
	token, err := verifier.Generate(operator, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	expiresAt := time.Now().Add(ttl).UTC()

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for %s (expires %s)\n\n", operator, expiresAt.Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("leadflow configuration setup")
	fmt.Println("============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := config.DefaultPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "0.0.0.0:8000")

	// State
	fmt.Println("\n--- State Configuration ---")
	statePath := prompt(reader, "Snapshot path", "state.json")
	uploadsDir := prompt(reader, "Uploads directory", "uploads")

	// Agents
	fmt.Println("\n--- Agent Configuration ---")
	project := prompt(reader, "Google Cloud project", "")
	location := prompt(reader, "Region", "us-central1")
	pipelineAgent := prompt(reader, "Pipeline designer engine id", "")
	leadAgent := prompt(reader, "Lead conversation engine id", "")

	// Ingestion
	fmt.Println("\n--- Document Ingestion ---")
	ingestURL := prompt(reader, "Ingestion service URL (leave empty to disable)", "")

	// Admin auth
	fmt.Println("\n--- Admin Authentication ---")
	adminSecret := prompt(reader, "Admin secret (leave empty to generate)", "")
	if adminSecret == "" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating admin secret: %w", err)
		}
		adminSecret = base64.StdEncoding.EncodeToString(secretBytes)
		fmt.Println("Generated a random admin secret.")
	}

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "leadflow")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "no")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# leadflow configuration\n")
	cfg.WriteString("# Generated by leadflow init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("state:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", statePath))
	cfg.WriteString("  auto_save_interval: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("uploads:\n")
	cfg.WriteString(fmt.Sprintf("  dir: \"%s\"\n", uploadsDir))
	cfg.WriteString("\n")

	cfg.WriteString("agents:\n")
	cfg.WriteString(fmt.Sprintf("  project: \"%s\"\n", project))
	cfg.WriteString(fmt.Sprintf("  location: \"%s\"\n", location))
	cfg.WriteString(fmt.Sprintf("  pipeline_agent: \"%s\"\n", pipelineAgent))
	cfg.WriteString(fmt.Sprintf("  lead_agent: \"%s\"\n", leadAgent))
	cfg.WriteString("  request_timeout: \"2m\"\n")
	cfg.WriteString("\n")

	if ingestURL != "" {
		cfg.WriteString("ingest:\n")
		cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", ingestURL))
		cfg.WriteString("\n")
	}

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  admin_secret: \"%s\"\n", adminSecret))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  leadflow serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
