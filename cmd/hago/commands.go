// ABOUTME: One-shot subcommands: history, health, token and init
// ABOUTME: Each loads the config file and talks to the ledger, the server, or the filesystem

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/hago/internal/auth"
	"github.com/2389/hago/internal/config"
	"github.com/2389/hago/internal/store"
)

// parseFlags parses "--name value" and "--name=value" forms. Names listed in
// boolFlags take no value. Remaining positional arguments are returned in order.
func parseFlags(args []string, valueFlags, boolFlags []string) (map[string]string, []string, error) {
	isValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		isValue[f] = true
	}
	isBool := make(map[string]bool, len(boolFlags))
	for _, f := range boolFlags {
		isBool[f] = true
	}

	flags := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isBool[name]:
			if hasValue {
				return nil, nil, fmt.Errorf("--%s does not take a value", name)
			}
			flags[name] = "true"
		case isValue[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			flags[name] = value
		default:
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return flags, positional, nil
}

func runHistory(ctx context.Context, args []string) error {
	_, positional, err := parseFlags(args, nil, nil)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("usage: hago history <conversation-id>")
	}
	conversationID := positional[0]

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is not configured; the ledger is disabled")
	}

	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	commit, err := ledger.LatestCommit(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("No committed sends for %s yet.\n", conversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	names := map[string]string{cfg.User.ID: cfg.User.Name}
	for _, conv := range cfg.Conversations {
		if conv.ID == conversationID {
			names[conv.Participant.ID] = conv.Participant.Name
		}
	}

	printTranscript(os.Stdout, commit, names)
	return nil
}

func printTranscript(w io.Writer, commit *store.Commit, names map[string]string) {
	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)

	gray.Fprintf(w, "%s  committed %s\n\n", commit.ConversationID, commit.CommittedAt.Local().Format(time.RFC1123))
	for _, m := range commit.Messages {
		name := names[m.SenderID]
		if name == "" {
			name = m.SenderID
		}
		gray.Fprintf(w, "[%s] ", m.Timestamp)
		cyan.Fprintf(w, "%s: ", name)
		fmt.Fprint(w, m.Text)
		switch m.Status {
		case store.StatusError:
			color.New(color.FgRed).Fprint(w, "  ✗ not delivered")
		case store.StatusSending:
			gray.Fprint(w, "  …")
		}
		fmt.Fprintln(w)
	}
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

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
		return fmt.Errorf("unhealthy: HTTP status %d", resp.StatusCode)
	}

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to gRPC: %w", err)
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	check, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("gRPC health check failed: %w", err)
	}
	if check.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: gRPC status %s", check.GetStatus())
	}

	fmt.Println("healthy")
	return nil
}

func runToken(args []string) error {
	flags, positional, err := parseFlags(args, []string{"sub", "ttl"}, nil)
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	subject := strings.TrimSpace(flags["sub"])
	if subject == "" {
		return errors.New("--sub flag is required")
	}
	ttl := 24 * time.Hour
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
		if ttl <= 0 {
			return errors.New("--ttl must be positive")
		}
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runInit(args []string) error {
	flags, positional, err := parseFlags(args, []string{"path"}, []string{"force"})
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	outputFile := flags["path"]
	if outputFile == "" {
		outputFile = getConfigPath()
	}
	if err := writeStarterConfig(outputFile, flags["force"] == "true"); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Config written to %s\n", outputFile)
	fmt.Println("\nTo start chatting:")
	fmt.Println("  hago chat        # terminal chat")
	fmt.Println("  hago serve       # HTTP + gRPC server")
	return nil
}

func writeStarterConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.StarterYAML), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
