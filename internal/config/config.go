// ABOUTME: Configuration loading and parsing for hago
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/hago/internal/store"
)

// Config represents the complete hago configuration
type Config struct {
	Server        ServerConfig         `yaml:"server" toml:"server"`
	Database      DatabaseConfig       `yaml:"database" toml:"database"`
	Auth          AuthConfig           `yaml:"auth" toml:"auth"`
	Reply         ReplyConfig          `yaml:"reply" toml:"reply"`
	User          UserConfig           `yaml:"user" toml:"user"`
	Conversations []ConversationConfig `yaml:"conversations" toml:"conversations"`
	Logging       LoggingConfig        `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds the audit ledger location. An empty path disables the ledger.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret disables API auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ReplyConfig selects and tunes the reply source
type ReplyConfig struct {
	Provider string `yaml:"provider" toml:"provider"` // "echo" or "gemini"
	Model    string `yaml:"model" toml:"model"`
	APIKey   string `yaml:"api_key" toml:"api_key"`

	FragmentDelay time.Duration `yaml:"-" toml:"-"`
	Timeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	FragmentDelayRaw string `yaml:"fragment_delay" toml:"fragment_delay"`
	TimeoutRaw       string `yaml:"timeout" toml:"timeout"`
}

// UserConfig describes the local user
type UserConfig struct {
	ID        string `yaml:"id" toml:"id"`
	Name      string `yaml:"name" toml:"name"`
	AvatarURL string `yaml:"avatar_url" toml:"avatar_url"`
}

// ConversationConfig seeds one conversation into the directory at startup
type ConversationConfig struct {
	ID          string            `yaml:"id" toml:"id"`
	Participant store.Participant `yaml:"participant" toml:"participant"`
	Messages    []SeedMessage     `yaml:"messages" toml:"messages"`
}

// SeedMessage is a pre-existing message in a seeded conversation
type SeedMessage struct {
	ID        string `yaml:"id" toml:"id"`
	Text      string `yaml:"text" toml:"text"`
	Timestamp string `yaml:"timestamp" toml:"timestamp"`
	SenderID  string `yaml:"sender_id" toml:"sender_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Provider names accepted by reply.provider
const (
	ProviderEcho   = "echo"
	ProviderGemini = "gemini"
)

// Defaults applied to unset fields
const (
	DefaultHTTPAddr      = "127.0.0.1:8080"
	DefaultGRPCAddr      = "127.0.0.1:50051"
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultFragmentDelay = 60 * time.Millisecond
	DefaultUserName      = "You"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration content, applies defaults and validates it.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
	if c.Reply.Provider == "" {
		c.Reply.Provider = ProviderEcho
	}
	c.Reply.Provider = strings.ToLower(c.Reply.Provider)
	if c.Reply.Provider == ProviderGemini && c.Reply.Model == "" {
		c.Reply.Model = DefaultGeminiModel
	}
	if c.Reply.FragmentDelayRaw == "" {
		c.Reply.FragmentDelay = DefaultFragmentDelay
	}
	if c.User.ID == "" {
		c.User.ID = store.LocalUserID
	}
	if c.User.Name == "" {
		c.User.Name = DefaultUserName
	}
	c.Database.Path = expandHome(c.Database.Path)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Reply.Provider {
	case ProviderEcho:
	case ProviderGemini:
		if c.Reply.APIKey == "" {
			return fmt.Errorf("reply.api_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("reply.provider %q is not supported (use %q or %q)", c.Reply.Provider, ProviderEcho, ProviderGemini)
	}

	if c.Reply.FragmentDelay < 0 || c.Reply.Timeout < 0 {
		return fmt.Errorf("reply durations must not be negative")
	}

	if len(c.Conversations) == 0 {
		return fmt.Errorf("at least one conversation is required")
	}

	seen := make(map[string]bool, len(c.Conversations))
	for i, conv := range c.Conversations {
		if conv.ID == "" {
			return fmt.Errorf("conversations[%d].id is required", i)
		}
		if seen[conv.ID] {
			return fmt.Errorf("conversations[%d].id %q is duplicated", i, conv.ID)
		}
		seen[conv.ID] = true

		if conv.Participant.ID == "" || conv.Participant.Name == "" {
			return fmt.Errorf("conversation %q: participant id and name are required", conv.ID)
		}
		if conv.Participant.ID == c.User.ID {
			return fmt.Errorf("conversation %q: participant id %q is reserved for the local user", conv.ID, c.User.ID)
		}
		ids := make(map[string]bool, len(conv.Messages))
		for j, m := range conv.Messages {
			if m.SenderID != c.User.ID && m.SenderID != conv.Participant.ID {
				return fmt.Errorf("conversation %q: messages[%d].sender_id %q is not a member", conv.ID, j, m.SenderID)
			}
			id := seedMessageID(conv.ID, j, m.ID)
			if ids[id] {
				return fmt.Errorf("conversation %q: messages[%d].id %q is duplicated", conv.ID, j, id)
			}
			ids[id] = true
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use text or json)", c.Logging.Format)
	}

	return nil
}

// Seed converts the configured conversations into store values. Seeded
// messages from the local user are already delivered.
func (c *Config) Seed() []store.Conversation {
	out := make([]store.Conversation, 0, len(c.Conversations))
	for _, conv := range c.Conversations {
		msgs := make([]store.Message, 0, len(conv.Messages))
		for i, m := range conv.Messages {
			id := seedMessageID(conv.ID, i, m.ID)
			status := store.StatusNone
			if m.SenderID == c.User.ID {
				status = store.StatusSent
			}
			msgs = append(msgs, store.Message{
				ID:        id,
				Text:      m.Text,
				Timestamp: m.Timestamp,
				SenderID:  m.SenderID,
				Status:    status,
			})
		}
		out = append(out, store.Conversation{
			ID:          conv.ID,
			Participant: conv.Participant,
			Messages:    msgs,
		})
	}
	return out
}

// seedMessageID returns the configured id, or a positional one when unset.
func seedMessageID(conversationID string, index int, id string) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s-seed-%d", conversationID, index+1)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Reply.FragmentDelayRaw != "" {
		cfg.Reply.FragmentDelay, err = time.ParseDuration(cfg.Reply.FragmentDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing fragment_delay %q: %w", cfg.Reply.FragmentDelayRaw, err)
		}
	}

	if cfg.Reply.TimeoutRaw != "" {
		cfg.Reply.Timeout, err = time.ParseDuration(cfg.Reply.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Reply.TimeoutRaw, err)
		}
	}

	return nil
}
