// ABOUTME: HTTP server wiring the chat UI to agents, state, and realtime push
// ABOUTME: Owns route registration, listeners, and graceful shutdown

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/leadflow/internal/auth"
	"github.com/2389/leadflow/internal/config"
	"github.com/2389/leadflow/internal/ingest"
	"github.com/2389/leadflow/internal/session"
	"github.com/2389/leadflow/internal/state"
	"github.com/2389/leadflow/internal/ws"
)

// Options carries the collaborators the server wires together. Config,
// Store, Sessions, and Hub are required; Ingest and Verifier are optional
// and nil disables the feature they power.
type Options struct {
	Config   *config.Config
	Store    *state.Store
	Sessions *session.Manager
	Hub      *ws.Hub
	Ingest   *ingest.Client
	Verifier auth.TokenVerifier
	Logger   *slog.Logger
}

// Server serves the CRM API over HTTP and WebSocket.
type Server struct {
	config   *config.Config
	store    *state.Store
	sessions *session.Manager
	hub      *ws.Hub
	ingest   *ingest.Client
	verifier auth.TokenVerifier
	logger   *slog.Logger

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New builds a server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("server: session manager is required")
	}
	if opts.Hub == nil {
		return nil, errors.New("server: hub is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   opts.Config,
		store:    opts.Store,
		sessions: opts.Sessions,
		hub:      opts.Hub,
		ingest:   opts.Ingest,
		verifier: opts.Verifier,
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpServer = &http.Server{
		Addr:              opts.Config.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler, mainly so tests can drive the full
// routing table through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// routes registers every endpoint on the mux. Admin routes go through the
// bearer-token middleware; a nil verifier leaves them open.
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/owner/chat", s.handleOwnerChat)
	mux.HandleFunc("/owner/upload", s.handleOwnerUpload)

	mux.HandleFunc("/state/pipeline", s.handlePipelineState)
	mux.HandleFunc("/state/leads", s.handleLeads)
	mux.HandleFunc("/state/business", s.handleBusiness)

	mux.HandleFunc("/lead/create", s.handleLeadCreate)
	mux.HandleFunc("/lead/chat", s.handleLeadChat)
	mux.HandleFunc("/lead/data/", s.handleLeadData)

	mux.HandleFunc("/ws/", s.handleWebSocket)

	admin := auth.RequireAdmin(s.verifier)
	mux.Handle("/admin/pipeline/activate", admin(http.HandlerFunc(s.handleActivatePipeline)))
	mux.Handle("/admin/state/rederive", admin(http.HandlerFunc(s.handleRederiveState)))
	mux.Handle("/admin/reset", admin(http.HandlerFunc(s.handleReset)))

	if s.verifier == nil {
		s.logger.Warn("admin auth disabled - no admin_secret configured")
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := s.waitForShutdownSignal(ctx, errCh)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes realtime connections, and flushes
// the state snapshot to disk.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.hub.Close()

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "state save", s.store.Save())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "leadflow", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener:
// a public Funnel listener, a TLS listener when cert files are configured,
// or plain :80 inside the tailnet.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		return s.setupTailscaleTLSListener(tsCfg)
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// setupTailscaleTLSListener serves HTTPS with certs provisioned via
// `tailscale cert <hostname>`.
func (s *Server) setupTailscaleTLSListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("loading tailscale TLS cert: %w", err)
	}

	s.logger.Info("enabling HTTPS with tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// healthResponse is the JSON body for GET / and GET /health.
type healthResponse struct {
	Message   string `json:"message"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// handleRoot answers health probes on /. Anything else under / is an
// unrouted path and gets a 404.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleHealth(w, r)
}

// handleHealth returns the health JSON the dashboard polls.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Message:   "LeadFlow CRM backend",
		Status:    "running",
		Timestamp: apiTimestamp(),
	})
}

// handlePipelineState returns the active pipeline, or null when none has
// been activated yet.
func (s *Server) handlePipelineState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Pipeline())
}

// handleLeads returns every tracked lead.
func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Leads())
}

// handleBusiness returns the standing business configuration.
func (s *Server) handleBusiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Business())
}

// handleWebSocket upgrades /ws/{client_id} and hands the connection to the
// hub, which owns it from then on.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if clientID == "" || strings.Contains(clientID, "/") {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	s.hub.ServeWS(w, r, clientID)
}
