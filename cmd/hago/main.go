// ABOUTME: Entry point for the hago chat server and terminal client
// ABOUTME: Dispatches subcommands: serve, chat, history, health, token, init

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/hago/internal/config"
	"github.com/2389/hago/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _
 | |__   __ _  __ _  ___
 | '_ \ / _' |/ _' |/ _ \
 | | | | (_| | (_| | (_) |
 |_| |_|\__,_|\__, |\___/
              |___/
`

// getConfigPath returns the path to the config file.
// Priority: HAGO_CONFIG env var > XDG_CONFIG_HOME/hago/config.yaml > ~/.config/hago/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HAGO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hago", "config.yaml")
}

func usage() {
	fmt.Println("Usage: hago <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the HTTP and gRPC server")
	fmt.Println("  chat [conversation-id]       Chat in the terminal")
	fmt.Println("  history <conversation-id>    Show the latest committed transcript")
	fmt.Println("  health                       Check server health")
	fmt.Println("  token --sub NAME [--ttl 24h] Mint an API token")
	fmt.Println("  init [--force]               Write a starter config file")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "chat":
		err = runChat(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(args)
	case "init":
		err = runInit(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("Replies:   %s", cfg.Reply.Provider)
	if cfg.Reply.Model != "" {
		gray.Printf(" (%s)", cfg.Reply.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Chats:     %d\n", len(cfg.Conversations))
	if cfg.Database.Path == "" {
		yellow.Println("    ! ledger disabled (no database.path)")
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API auth disabled (no auth.jwt_secret)")
	}
	fmt.Println()

	logger.Info("starting hago",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}
