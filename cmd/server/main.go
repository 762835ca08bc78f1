package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/config"
	"github.com/ConclaveHQ/conclave/internal/instance"
	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/server"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			cmdToken(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("conclave %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	runServer()
}

func printUsage() {
	fmt.Printf(`Conclave %s - Multi-client collaboration server

Usage: conclave [command] [options]

Commands:
  (default)    Start the collaboration server
  token        Manage authentication tokens

Server Options:
  --config <path>    Config file (JSON or YAML); MCP_* env vars override

Examples:
  conclave                               Start with defaults (localhost:3001)
  conclave --config conclave.yaml       Start with a config file
  MCP_SERVER_PORT=4001 conclave          Override the listen port
  conclave token create --name dev --scope admin
`, Version)
}

func runServer() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "Config file path")
	flag.Parse()

	if *showVersion {
		fmt.Printf("conclave %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	var authStore *auth.Store
	if cfg.Auth.Enabled {
		authStore, err = auth.NewStore(cfg.Auth.DBPath)
		if err != nil {
			logger.Fatalf("Failed to open auth store: %v", err)
		}
	}

	var provisioner instance.Provisioner
	if docker, derr := instance.NewDockerProvisioner(); derr != nil {
		logger.Printf("Instance provisioning disabled: %v", derr)
	} else {
		provisioner = docker
	}

	srv := server.New(cfg, authStore, provisioner)

	logger.Println("🚀 Starting Conclave collaboration server...")
	logger.Printf("📡 Protocol address: %s", cfg.ListenAddr())
	if cfg.Admin.Enabled {
		logger.Printf("📊 Admin surface: http://%s (health, metrics, MCP tools)", cfg.AdminAddr())
		go func() {
			if aerr := srv.ServeAdmin(); aerr != nil {
				logger.Error("admin surface failed: %v", aerr)
			}
		}()
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve()
	}()

	select {
	case err := <-serverErr:
		logger.Fatalf("Server error: %v", err)
	case sig := <-shutdownChan:
		logger.Printf("⚠️  Received signal %v, initiating graceful shutdown...", sig)

		srv.Shutdown("server shutdown", false, 0)

		if provisioner != nil {
			logger.Println("   Closing container runtime...")
			_ = provisioner.Close()
		}
		if authStore != nil {
			logger.Println("   Closing auth database...")
			_ = authStore.Close()
		}

		logger.Println("✅ Shutdown complete")
		_ = logger.Close()
	}
}

func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	store, err := auth.NewStore(cfg.Auth.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing auth store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	switch args[0] {
	case "create":
		tokenCreate(store, cfg, args[1:])
	case "list":
		tokenList(store)
	case "revoke":
		tokenRevoke(store, args[1:])
	case "help", "-h", "--help":
		printTokenUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown token command: %s\n", args[0])
		printTokenUsage()
		os.Exit(1)
	}
}

func printTokenUsage() {
	fmt.Println(`Token Management

Usage: conclave token <command> [options]

Commands:
  create    Create a new access token
  list      List all tokens
  revoke    Revoke a token
  help      Show this help

Scope Formats:
  admin              Full access including the admin surface
  client             Access to every workspace
  workspace:<id>     Access to a single workspace

Examples:
  conclave token create --name "Local Dev" --scope admin
  conclave token create --name "Team W1" --scope workspace:W1
  conclave token list
  conclave token revoke <token-or-hash>`)
}

func tokenCreate(store *auth.Store, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	name := fs.String("name", "", "Human-readable token name (required)")
	scope := fs.String("scope", "", "Token scope: admin, client, or workspace:<id> (required)")
	noExpiry := fs.Bool("no-expiry", false, "Create a non-expiring token")
	_ = fs.Parse(args)

	if *name == "" || *scope == "" {
		fmt.Fprintln(os.Stderr, "Error: --name and --scope are required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	if *scope != auth.ScopeAdmin && *scope != auth.ScopeClient && !auth.IsWorkspaceScope(*scope) {
		fmt.Fprintf(os.Stderr, "Error: invalid scope '%s'\n", *scope)
		fmt.Fprintln(os.Stderr, "Valid scopes: admin, client, workspace:<id>")
		os.Exit(1)
	}

	var accessTTL, refreshTTL *time.Duration
	if !*noExpiry {
		a := cfg.TokenTTL()
		r := cfg.RefreshTokenTTL()
		accessTTL, refreshTTL = &a, &r
	}

	token, err := store.CreateToken(*name, *scope, accessTTL, refreshTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token created successfully!")
	fmt.Println()
	fmt.Printf("Token:         %s\n", token.ID)
	fmt.Printf("Refresh token: %s\n", token.RefreshToken)
	fmt.Printf("Hash:          %s\n", token.Hash)
	fmt.Printf("Name:          %s\n", token.Name)
	fmt.Printf("Scope:         %s\n", token.Scope)
	if token.ExpiresAt != nil {
		fmt.Printf("Expires:       %s\n", token.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("IMPORTANT: Save these now. Only the hash is kept on the server.")
}

func tokenList(store *auth.Store) {
	tokens, err := store.ListTokens()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tokens: %v\n", err)
		os.Exit(1)
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tHASH\tNAME\tSCOPE\tCREATED\tEXPIRES")
	for _, t := range tokens {
		expires := "never"
		if t.ExpiresAt != nil {
			expires = t.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Display, t.Hash, t.Name, t.Scope, t.CreatedAt.Format("2006-01-02 15:04"), expires)
	}
	_ = w.Flush()
}

func tokenRevoke(store *auth.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: conclave token revoke <token-or-hash>")
		os.Exit(1)
	}
	if err := store.RevokeToken(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error revoking token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Token revoked.")
}
