// ABOUTME: Admin CLI for the leadflow CRM backend
// ABOUTME: Inspects state, smoke-tests the owner chat, and drives admin endpoints

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/leadflow/internal/auth"
)

const banner = `
 _                _  __ _                                           _           _
| | ___  __ _  __| |/ _| | _____      __          __ _  __| |_ __ ___ (_)_ __
| |/ _ \/ _' |/ _' | |_| |/ _ \ \ /\ / /  _____  / _' |/ _' | '_ ' _ \| | '_ \
| |  __/ (_| | (_| |  _| | (_) \ V  V /  |_____|| (_| | (_| | | | | | | | | | |
|_|\___|\__,_|\__,_|_| |_|\___/ \_/\_/           \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	api := newAPIClient(cfg.Server.URL, cfg.Auth.Token)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "health":
		err = cmdHealth(ctx, api)
	case "status":
		err = cmdStatus(ctx, api, cfg)
	case "pipeline":
		err = cmdPipeline(ctx, api)
	case "leads":
		err = cmdLeads(ctx, api)
	case "chat":
		err = cmdChat(ctx, api, args)
	case "activate":
		err = cmdActivate(ctx, api)
	case "rederive":
		err = cmdRederive(ctx, api, args)
	case "reset":
		err = cmdReset(ctx, api)
	case "token":
		err = cmdToken(cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: leadflow-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Show server status, pipeline, and lead count")
	fmt.Println("  health                  Check server health")
	fmt.Println("  pipeline                Show the active pipeline stages")
	fmt.Println("  leads                   List tracked leads")
	fmt.Println("  chat [message]          Owner design chat (REPL if no message)")
	fmt.Println("  activate                Force pipeline activation from stored state")
	fmt.Println("  rederive [--session id] Re-derive pipeline and business state")
	fmt.Println("  reset                   Wipe all state and clean up remote sessions")
	fmt.Println("  token --operator NAME   Mint an admin bearer token locally")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  LEADFLOW_URL            Server URL (default: http://localhost:8000)")
	fmt.Println("  LEADFLOW_TOKEN          Admin bearer token for /admin endpoints")
	fmt.Println("  LEADFLOW_ADMIN_SECRET   Secret for local token minting")
	fmt.Println("  LEADFLOW_ADMIN_CONFIG   Config file path (default: ~/.config/leadflow/admin.toml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  leadflow-admin status")
	fmt.Println("  leadflow-admin chat \"I run a boutique gym, help me design a pipeline\"")
	fmt.Println("  leadflow-admin token --operator nadia --ttl 30")
	fmt.Println("  LEADFLOW_TOKEN=\"eyJhbG...\" leadflow-admin reset")
	fmt.Println()
}

// cmdHealth checks the health endpoint
func cmdHealth(ctx context.Context, api *apiClient) error {
	info, err := api.Health(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ %s\n", info.Status)
	fmt.Printf("  %s\n", info.Message)
	return nil
}

// cmdStatus shows server reachability, the active pipeline, and lead count
func cmdStatus(ctx context.Context, api *apiClient, cfg *Config) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	info, err := api.Health(ctx)
	if err != nil {
		yellow.Printf("  Server:    ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Server:    ")
	fmt.Printf("%s at %s\n", info.Status, cfg.Server.URL)

	pipeline, err := api.Pipeline(ctx)
	if err != nil {
		return err
	}
	green.Printf("  Pipeline:  ")
	if pipeline == nil {
		fmt.Println("(none activated)")
	} else {
		fmt.Printf("%s, %d stages\n", pipeline.BizName, pipeline.TotalStages)
	}

	leads, err := api.Leads(ctx)
	if err != nil {
		return err
	}
	green.Printf("  Leads:     ")
	fmt.Printf("%d\n", len(leads))

	if cfg.Auth.Token == "" {
		yellow.Printf("  Token:     ")
		fmt.Println("(none - set LEADFLOW_TOKEN for admin commands)")
	}

	fmt.Println()
	return nil
}

// cmdPipeline prints the active pipeline stages
func cmdPipeline(ctx context.Context, api *apiClient) error {
	pipeline, err := api.Pipeline(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Active Pipeline")
	cyan.Println("  ---------------")

	if pipeline == nil {
		fmt.Println("  (no pipeline activated)")
		fmt.Println()
		return nil
	}

	fmt.Printf("  Business:  %s\n", pipeline.BizName)
	fmt.Printf("  Goal:      %s\n", pipeline.Goal)
	fmt.Printf("  Stages:    %d\n", pipeline.TotalStages)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  N\tNAME\tGOAL\tFIELDS")
	fmt.Fprintln(w, "  -\t----\t----\t------")
	for _, st := range pipeline.Stages {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n",
			st.StageNumber,
			truncate(st.StageName, 20),
			truncate(st.BriefStageGoal, 32),
			truncate(strings.Join(st.Fields, ","), 28),
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdLeads lists tracked leads
func cmdLeads(ctx context.Context, api *apiClient) error {
	leads, err := api.Leads(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Leads")
	cyan.Println("  -----")

	if len(leads) == 0 {
		fmt.Println("  (no leads)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SESSION\tNAME\tSTAGE\tEMAIL\tUPDATED")
	fmt.Fprintln(w, "  -------\t----\t-----\t-----\t-------")
	for _, l := range leads {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\n",
			truncate(l.SessionID, 12),
			truncate(l.DisplayName(), 24),
			l.Stage,
			truncate(l.Email, 24),
			l.UpdatedAt.Format("Jan 02 15:04"),
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdChat provides one-shot or interactive owner design chat
func cmdChat(ctx context.Context, api *apiClient, args []string) error {
	if len(args) >= 1 {
		message := strings.Join(args, " ")
		resp, err := api.OwnerChat(ctx, message, "")
		if err != nil {
			return err
		}
		printChatResponse(resp)
		return nil
	}

	// Interactive REPL mode, carrying the session across turns.
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	cyan.Printf("Owner design chat (Ctrl+D to exit)\n\n")

	var sessionID string
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
	for {
		green.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, err := api.OwnerChat(ctx, line, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		sessionID = resp.SessionID
		printChatResponse(resp)
		fmt.Println()
	}
}

func printChatResponse(resp *chatResponse) {
	fmt.Println(resp.Response)
	if resp.PipelineComplete && resp.Pipeline != nil {
		green := color.New(color.FgGreen)
		green.Printf("\n✓ Pipeline activated: %s, %d stages\n",
			resp.Pipeline.BizName, resp.Pipeline.TotalStages)
	}
}

// cmdActivate forces pipeline activation from stored session state
func cmdActivate(ctx context.Context, api *apiClient) error {
	resp, err := api.Activate(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Pipeline %s\n", resp.Status)
	if resp.Pipeline != nil {
		fmt.Printf("  Business:  %s\n", resp.Pipeline.BizName)
		fmt.Printf("  Stages:    %d\n", resp.Pipeline.TotalStages)
	}
	return nil
}

// cmdRederive re-derives pipeline and business state
func cmdRederive(ctx context.Context, api *apiClient, args []string) error {
	var sessionID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--session", "-s":
			if i+1 < len(args) {
				sessionID = args[i+1]
				i++
			}
		}
	}

	resp, err := api.Rederive(ctx, sessionID)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ State %s\n", resp.Status)
	fmt.Printf("  Stages:    %d\n", resp.TotalStages)
	fmt.Printf("  Complete:  %t\n", resp.PipelineComplete)
	return nil
}

// cmdReset wipes all state
func cmdReset(ctx context.Context, api *apiClient) error {
	resp, err := api.Reset(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ State %s\n", resp.Status)
	fmt.Printf("  Sessions cleaned: %d\n", resp.SessionsCleaned)
	return nil
}

// cmdToken mints an admin bearer token locally from the configured secret
func cmdToken(cfg *Config, args []string) error {
	var operator string
	var ttlDays int64 = 30

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--operator", "-o":
			if i+1 < len(args) {
				operator = args[i+1]
				i++
			}
		case "--ttl", "-t":
			if i+1 < len(args) {
				days, err := parseIntArg(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid ttl: %w", err)
				}
				ttlDays = days
				i++
			}
		}
	}

	if operator == "" {
		return fmt.Errorf("usage: token --operator <name> [--ttl <days>]")
	}
	if cfg.Auth.AdminSecret == "" {
		return fmt.Errorf("admin secret required: set auth.admin_secret in %s or LEADFLOW_ADMIN_SECRET", configPath())
	}

	ttl := time.Duration(ttlDays) * 24 * time.Hour
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.AdminSecret))
	token, err := verifier.Generate(operator, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Token created successfully")
	fmt.Println()
	cyan.Println("  Operator:   " + operator)
	cyan.Println("  Expires:    " + time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()

	return nil
}

// parseIntArg parses a string to int64
func parseIntArg(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
