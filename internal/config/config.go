// ABOUTME: Configuration loading and parsing for coven-council
// ABOUTME: Supports YAML or TOML files with environment variable expansion, durations and defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "COVEN_COUNCIL_CONFIG"

// Defaults applied before validation.
const (
	DefaultMaxRounds   = 20
	DefaultTurnTimeout = 120 * time.Second
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultRedisPrefix = "coven-council:"
	DefaultLeaseTTL    = time.Minute
	DefaultTokenTTL    = 24 * time.Hour
)

// MinLeaseTTL is the shortest lease the renewal loop can keep alive.
const MinLeaseTTL = 3 * time.Second

// Config represents the complete coven-council configuration
type Config struct {
	Council    CouncilConfig    `yaml:"council" toml:"council"`
	Classifier ClassifierConfig `yaml:"classifier" toml:"classifier"`
	Roles      []RoleConfig     `yaml:"roles" toml:"roles"`
	Edges      []EdgeConfig     `yaml:"edges" toml:"edges"`
	LLM        LLMConfig        `yaml:"llm" toml:"llm"`
	Sandbox    SandboxConfig    `yaml:"sandbox" toml:"sandbox"`
	Matrix     MatrixConfig     `yaml:"matrix" toml:"matrix"`
	HTTP       HTTPConfig       `yaml:"http" toml:"http"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Redis      RedisConfig      `yaml:"redis" toml:"redis"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// CouncilConfig holds the conversation limits
type CouncilConfig struct {
	MaxRounds       int    `yaml:"max_rounds" toml:"max_rounds"`
	MaxServiceTurns int    `yaml:"max_service_turns" toml:"max_service_turns"`
	FinalAnswer     string `yaml:"final_answer" toml:"final_answer"`

	TurnTimeout    time.Duration `yaml:"-" toml:"-"`
	TurnTimeoutRaw string        `yaml:"turn_timeout" toml:"turn_timeout"`
}

// ClassifierConfig overrides the classifier rules. Empty fields keep the defaults.
type ClassifierConfig struct {
	TerminationToken  string   `yaml:"termination_token" toml:"termination_token"`
	TurnAnnouncements []string `yaml:"turn_announcements" toml:"turn_announcements"`
	RoutingMarker     string   `yaml:"routing_marker" toml:"routing_marker"`
	ExecutionMarkers  []string `yaml:"execution_markers" toml:"execution_markers"`
}

// RoleConfig declares or overrides one team member.
type RoleConfig struct {
	ID           string `yaml:"id" toml:"id"`
	Label        string `yaml:"label" toml:"label"`
	Capability   string `yaml:"capability" toml:"capability"`
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
}

// EdgeConfig declares the allowed successors of one role.
type EdgeConfig struct {
	From string   `yaml:"from" toml:"from"`
	To   []string `yaml:"to" toml:"to"`
}

// LLMConfig holds the OpenAI-compatible backend settings
type LLMConfig struct {
	BaseURL     string            `yaml:"base_url" toml:"base_url"`
	APIKey      string            `yaml:"api_key" toml:"api_key"`
	Model       string            `yaml:"model" toml:"model"`
	Temperature float32           `yaml:"temperature" toml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens" toml:"max_tokens"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
}

// SandboxConfig holds the code execution service settings
type SandboxConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	UserID          string   `yaml:"user_id" toml:"user_id"`
	AccessToken     string   `yaml:"access_token" toml:"access_token"`
	Username        string   `yaml:"username" toml:"username"`
	Password        string   `yaml:"password" toml:"password"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix   string   `yaml:"command_prefix" toml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// HTTPConfig holds the API listener configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// RedisConfig enables the cross-replica session lease when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`

	LeaseTTL    time.Duration `yaml:"-" toml:"-"`
	LeaseTTLRaw string        `yaml:"lease_ttl" toml:"lease_ttl"`
}

// DatabaseConfig holds the ledger configuration. An empty path disables the ledger.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, defaults and validates raw configuration content.
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

// ResolvePath picks the config file: explicit flag, then $COVEN_COUNCIL_CONFIG,
// then $XDG_CONFIG_HOME/coven/council.yaml (~/.config when unset).
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "coven", "council.yaml")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "coven", "council.yaml")
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Council.MaxRounds == 0 {
		c.Council.MaxRounds = DefaultMaxRounds
	}
	if c.Council.TurnTimeout == 0 {
		c.Council.TurnTimeout = DefaultTurnTimeout
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Redis.LeaseTTL == 0 {
		c.Redis.LeaseTTL = DefaultLeaseTTL
	}
	if c.Matrix.CommandPrefix == "" {
		c.Matrix.CommandPrefix = "!"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
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
	if c.Council.MaxRounds < 1 {
		return fmt.Errorf("council.max_rounds must be at least 1")
	}
	if c.Council.MaxServiceTurns < 0 {
		return fmt.Errorf("council.max_service_turns must not be negative")
	}
	if c.Council.TurnTimeout < 0 {
		return fmt.Errorf("council.turn_timeout must not be negative")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.BaseURL != "" {
		if err := checkHTTPURL(c.LLM.BaseURL); err != nil {
			return fmt.Errorf("llm.base_url %w", err)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	if c.Sandbox.URL != "" {
		if err := checkHTTPURL(c.Sandbox.URL); err != nil {
			return fmt.Errorf("sandbox.url %w", err)
		}
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if err := checkHTTPURL(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver %w", err)
		}
		if c.Matrix.AccessToken == "" && (c.Matrix.Username == "" || c.Matrix.Password == "") {
			return fmt.Errorf("matrix needs access_token or username and password")
		}
		if c.Matrix.AccessToken != "" && c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required with access_token")
		}
	}

	if c.HTTP.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when http is enabled")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Redis.LeaseTTL < MinLeaseTTL {
		return fmt.Errorf("redis.lease_ttl must be at least %s", MinLeaseTTL)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if _, _, err := c.BuildTeam(); err != nil {
		return fmt.Errorf("team: %w", err)
	}

	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("has no host")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"council.turn_timeout", cfg.Council.TurnTimeoutRaw, &cfg.Council.TurnTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"redis.lease_ttl", cfg.Redis.LeaseTTLRaw, &cfg.Redis.LeaseTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
