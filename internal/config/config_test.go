// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hago/internal/store"
)

const minimalYAML = `
conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "Aisha" }
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  grpc_addr: "0.0.0.0:9091"
database:
  path: "/tmp/ledger.db"
reply:
  provider: "Gemini"
  api_key: "key-123"
  fragment_delay: "10ms"
  timeout: "30s"
user:
  id: "me"
  name: "Sam"
conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "Aisha", avatar_url: "https://example.com/a.png" }
    messages:
      - { id: "m1", text: "hi", timestamp: "10:30 AM", sender_id: "user-2" }
      - { id: "m2", text: "hello", timestamp: "10:31 AM", sender_id: "me" }
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "0.0.0.0:9091", cfg.Server.GRPCAddr)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, ProviderGemini, cfg.Reply.Provider)
	assert.Equal(t, DefaultGeminiModel, cfg.Reply.Model)
	assert.Equal(t, 10*time.Millisecond, cfg.Reply.FragmentDelay)
	assert.Equal(t, 30*time.Second, cfg.Reply.Timeout)
	assert.Equal(t, "me", cfg.User.ID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Conversations, 1)
	assert.Equal(t, "https://example.com/a.png", cfg.Conversations[0].Participant.AvatarURL)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultGRPCAddr, cfg.Server.GRPCAddr)
	assert.Equal(t, ProviderEcho, cfg.Reply.Provider)
	assert.Equal(t, DefaultFragmentDelay, cfg.Reply.FragmentDelay)
	assert.Zero(t, cfg.Reply.Timeout)
	assert.Equal(t, store.LocalUserID, cfg.User.ID)
	assert.Equal(t, DefaultUserName, cfg.User.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Database.Path)
}

func TestLoad_ExplicitZeroFragmentDelay(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
reply:
  fragment_delay: "0s"
`))
	require.NoError(t, err)
	assert.Zero(t, cfg.Reply.FragmentDelay)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:7000"

[reply]
provider = "echo"
fragment_delay = "5ms"

[[conversations]]
id = "chat-1"
[conversations.participant]
id = "user-2"
name = "Aisha"

[[conversations.messages]]
text = "hi"
timestamp = "Yesterday"
sender_id = "user-2"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Millisecond, cfg.Reply.FragmentDelay)
	require.Len(t, cfg.Conversations, 1)
	assert.Equal(t, "Aisha", cfg.Conversations[0].Participant.Name)
	require.Len(t, cfg.Conversations[0].Messages, 1)
	assert.Equal(t, "Yesterday", cfg.Conversations[0].Messages[0].Timestamp)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HAGO_TEST_SECRET", "s3cret")
	t.Setenv("HAGO_TEST_KEY", "gem-key")

	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
auth:
  jwt_secret: "${HAGO_TEST_SECRET}"
reply:
  provider: gemini
  api_key: "${HAGO_TEST_KEY}"
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "gem-key", cfg.Reply.APIKey)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
auth:
  jwt_secret: "${HAGO_TEST_DEFINITELY_UNSET}"
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_ExpandsHomeInDatabasePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
database:
  path: "~/hago/ledger.db"
`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "hago", "ledger.db"), cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
reply:
  timeout: "soon"
`))
	assert.ErrorContains(t, err, "parsing timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no conversations",
			content: "reply: { provider: echo }\n",
			wantErr: "at least one conversation",
		},
		{
			name:    "unknown provider",
			content: minimalYAML + "reply: { provider: carrier-pigeon }\n",
			wantErr: "not supported",
		},
		{
			name:    "gemini without key",
			content: minimalYAML + "reply: { provider: gemini }\n",
			wantErr: "api_key is required",
		},
		{
			name: "participant uses local user id",
			content: `
conversations:
  - id: "chat-1"
    participant: { id: "user-1", name: "Me Again" }
`,
			wantErr: "reserved for the local user",
		},
		{
			name: "duplicate conversation",
			content: `
conversations:
  - { id: "chat-1", participant: { id: "user-2", name: "A" } }
  - { id: "chat-1", participant: { id: "user-3", name: "B" } }
`,
			wantErr: "duplicated",
		},
		{
			name: "foreign sender",
			content: `
conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "A" }
    messages:
      - { text: "hi", sender_id: "user-9" }
`,
			wantErr: "not a member",
		},
		{
			name: "duplicate message id",
			content: `
conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "A" }
    messages:
      - { id: "m1", text: "hi", sender_id: "user-2" }
      - { id: "m1", text: "again", sender_id: "user-1" }
`,
			wantErr: `messages[1].id "m1" is duplicated`,
		},
		{
			name: "explicit id collides with generated id",
			content: `
conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "A" }
    messages:
      - { text: "hi", sender_id: "user-2" }
      - { id: "chat-1-seed-1", text: "again", sender_id: "user-2" }
`,
			wantErr: "is duplicated",
		},
		{
			name:    "bad log format",
			content: minimalYAML + "logging: { format: xml }\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSeed(t *testing.T) {
	cfg, err := Parse([]byte(`
conversations:
  - id: "chat-1"
    participant: { id: "user-2", name: "Aisha" }
    messages:
      - { id: "msg-1", text: "Hey", timestamp: "10:30 AM", sender_id: "user-2" }
      - { text: "Yes", timestamp: "10:31 AM", sender_id: "user-1" }
`), false)
	require.NoError(t, err)

	seeded := cfg.Seed()
	require.Len(t, seeded, 1)
	conv := seeded[0]
	assert.Equal(t, "chat-1", conv.ID)
	assert.Equal(t, "Aisha", conv.Participant.Name)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "msg-1", conv.Messages[0].ID)
	assert.Equal(t, store.StatusNone, conv.Messages[0].Status)
	assert.Equal(t, "chat-1-seed-2", conv.Messages[1].ID)
	assert.Equal(t, store.StatusSent, conv.Messages[1].Status)
}

func TestStarterYAMLIsValid(t *testing.T) {
	t.Setenv("HAGO_JWT_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Parse([]byte(StarterYAML), false)
	require.NoError(t, err)
	assert.Len(t, cfg.Conversations, 4)
	assert.Equal(t, ProviderEcho, cfg.Reply.Provider)
	assert.Empty(t, cfg.Auth.JWTSecret)
}
