// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, durations, defaults, validation and team building

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-council/internal/roster"
)

const secret32 = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "council.yaml", `
council:
  max_rounds: 8
  max_service_turns: 4
  turn_timeout: "45s"

llm:
  base_url: "https://llm.example.com/v1"
  api_key: "key"
  model: "gpt-4o-mini"
  temperature: 0.3
  max_tokens: 2000
  headers:
    x-folder-id: "folder"

sandbox:
  url: "http://127.0.0.1:8090"

matrix:
  enabled: true
  homeserver: "https://matrix.org"
  user_id: "@council:matrix.org"
  access_token: "tok"
  allowed_rooms:
    - "!room1:matrix.org"

http:
  enabled: true
  addr: "0.0.0.0:9000"

auth:
  jwt_secret: "`+secret32+`"
  token_ttl: "2h"

redis:
  addr: "127.0.0.1:6379"
  lease_ttl: "10m"

database:
  path: "./council.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Council.MaxRounds != 8 || cfg.Council.MaxServiceTurns != 4 {
		t.Errorf("Council = %+v", cfg.Council)
	}
	if cfg.Council.TurnTimeout != 45*time.Second {
		t.Errorf("Council.TurnTimeout = %v, want 45s", cfg.Council.TurnTimeout)
	}
	if cfg.LLM.Headers["x-folder-id"] != "folder" {
		t.Errorf("LLM.Headers = %v", cfg.LLM.Headers)
	}
	if cfg.LLM.Temperature != 0.3 || cfg.LLM.MaxTokens != 2000 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if !cfg.Matrix.Enabled || len(cfg.Matrix.AllowedRooms) != 1 {
		t.Errorf("Matrix = %+v", cfg.Matrix)
	}
	if cfg.Matrix.CommandPrefix != "!" {
		t.Errorf("Matrix.CommandPrefix = %q, want default !", cfg.Matrix.CommandPrefix)
	}
	if cfg.HTTP.Addr != "0.0.0.0:9000" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth.TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Redis.LeaseTTL != 10*time.Minute || cfg.Redis.Prefix != DefaultRedisPrefix {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "council.toml", `
[council]
max_rounds = 5
turn_timeout = "30s"

[llm]
model = "local-model"
base_url = "http://localhost:11434/v1"

[llm.headers]
Authorization = "Api-Key abc"

[classifier]
termination_token = "DONE"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Council.MaxRounds != 5 || cfg.Council.TurnTimeout != 30*time.Second {
		t.Errorf("Council = %+v", cfg.Council)
	}
	if cfg.LLM.Headers["Authorization"] != "Api-Key abc" {
		t.Errorf("LLM.Headers = %v", cfg.LLM.Headers)
	}
	if got := cfg.ClassifierRules().TerminationToken; got != "DONE" {
		t.Errorf("TerminationToken = %q", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "council.yaml", "llm:\n  model: m\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Council.MaxRounds != DefaultMaxRounds {
		t.Errorf("MaxRounds = %d, want %d", cfg.Council.MaxRounds, DefaultMaxRounds)
	}
	if cfg.Council.TurnTimeout != DefaultTurnTimeout {
		t.Errorf("TurnTimeout = %v, want %v", cfg.Council.TurnTimeout, DefaultTurnTimeout)
	}
	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_COUNCIL_MODEL", "expanded-model")
	t.Setenv("TEST_COUNCIL_KEY", "secret-key")

	path := writeConfig(t, "council.yaml", `
llm:
  model: "${TEST_COUNCIL_MODEL}"
  api_key: "${TEST_COUNCIL_KEY}"
  base_url: "${TEST_COUNCIL_UNSET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "expanded-model" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "secret-key" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "" {
		t.Errorf("unset variable should expand to empty, got %q", cfg.LLM.BaseURL)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "alpha")
	got := expandEnvVars("x=${A_VAR} y=${NOPE_NOT_SET} z=$A_VAR")
	if got != "x=alpha y= z=$A_VAR" {
		t.Errorf("expandEnvVars = %q", got)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "council.yaml", "llm:\n  model: m\ncouncil:\n  turn_timeout: \"soon\"\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "council.turn_timeout") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing model", "council:\n  max_rounds: 3\n", "llm.model is required"},
		{"negative rounds", "llm:\n  model: m\ncouncil:\n  max_rounds: -1\n", "max_rounds"},
		{"bad llm url", "llm:\n  model: m\n  base_url: \"ftp://x\"\n", "llm.base_url"},
		{"bad temperature", "llm:\n  model: m\n  temperature: 3\n", "temperature"},
		{"bad sandbox url", "llm:\n  model: m\nsandbox:\n  url: \"not a url\"\n", "sandbox.url"},
		{"matrix without homeserver", "llm:\n  model: m\nmatrix:\n  enabled: true\n", "matrix.homeserver"},
		{"matrix without credentials", "llm:\n  model: m\nmatrix:\n  enabled: true\n  homeserver: \"https://m.org\"\n", "access_token"},
		{"matrix token without user", "llm:\n  model: m\nmatrix:\n  enabled: true\n  homeserver: \"https://m.org\"\n  access_token: t\n", "matrix.user_id"},
		{"http without secret", "llm:\n  model: m\nhttp:\n  enabled: true\n", "jwt_secret is required"},
		{"short secret", "llm:\n  model: m\nauth:\n  jwt_secret: short\n", "at least 32"},
		{"short lease", "llm:\n  model: m\nredis:\n  lease_ttl: \"1s\"\n", "redis.lease_ttl"},
		{"bad log format", "llm:\n  model: m\nlogging:\n  format: xml\n", "logging.format"},
		{"unknown capability", "llm:\n  model: m\nroles:\n  - id: analyst\n    capability: wizard\n", "unknown capability"},
		{"unreachable role", "llm:\n  model: m\nedges:\n  - from: user_proxy\n    to: [analyst]\n  - from: coder\n    to: [analyst]\n", "unreachable"},
		{"coordinator in graph", "llm:\n  model: m\nedges:\n  - from: user_proxy\n    to: [manager]\n  - from: manager\n    to: [user_proxy]\n", "coordinator"},
		{"dead end role", "llm:\n  model: m\nedges:\n  - from: user_proxy\n    to: [analyst]\n  - from: analyst\n    to: [coder]\n", "no successor: coder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), false)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildTeam_Default(t *testing.T) {
	cfg, err := Parse([]byte("llm:\n  model: m\n"), false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	team, graph, err := cfg.BuildTeam()
	if err != nil {
		t.Fatalf("BuildTeam() error = %v", err)
	}
	if len(team.Roles()) != 5 {
		t.Errorf("roles = %d, want 5", len(team.Roles()))
	}
	if graph.Entry() != roster.UserProxy {
		t.Errorf("entry = %s", graph.Entry())
	}
	if !graph.IsAllowed(roster.Coder, roster.Executor) {
		t.Error("default edge coder->executor missing")
	}
}

func TestBuildTeam_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
llm:
  model: m
roles:
  - id: analyst
    label: "Lead"
  - id: reviewer
    label: "Reviewer"
    capability: assistant
    system_prompt: "Review the plan."
edges:
  - from: user_proxy
    to: [analyst]
  - from: analyst
    to: [reviewer, user_proxy]
  - from: reviewer
    to: [analyst]
`), false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	team, graph, err := cfg.BuildTeam()
	if err != nil {
		t.Fatalf("BuildTeam() error = %v", err)
	}

	analyst, _ := team.Role(roster.Analyst)
	if analyst.Label != "Lead" {
		t.Errorf("analyst label = %q", analyst.Label)
	}
	if analyst.SystemPrompt == "" {
		t.Error("patching the label must keep the default prompt")
	}
	reviewer, ok := team.Role("reviewer")
	if !ok || reviewer.Capability != roster.CapabilityAssistant {
		t.Errorf("reviewer = %+v", reviewer)
	}
	if !graph.IsAllowed(roster.Analyst, "reviewer") || graph.IsAllowed(roster.Analyst, roster.Coder) {
		t.Error("custom edges should replace the default table")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got := ResolvePath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("flag: got %q", got)
	}
	if got := ResolvePath(""); got != filepath.Join("/xdg", "coven", "council.yaml") {
		t.Errorf("xdg: got %q", got)
	}

	t.Setenv(EnvConfigPath, "/env.toml")
	if got := ResolvePath(""); got != "/env.toml" {
		t.Errorf("env: got %q", got)
	}
}
